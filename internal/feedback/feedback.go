// Package feedback maintains the per-handler score table fed by execution
// telemetry and read during service selection.
package feedback

import (
	"log"
	"sync"
	"time"

	dirigent "github.com/kestrelworks/dirigent"
)

// defaultAlpha is the EWMA smoothing factor: recent samples weigh 20%.
const defaultAlpha = 0.2

// handlerStats holds the smoothed success rate and latency for one handler.
type handlerStats struct {
	successEWMA float64
	latencyEWMA float64 // seconds
	samples     int64
	lastSample  time.Time
}

// Loop is the in-memory feedback loop. Record folds telemetry samples into
// exponentially weighted moving averages; Score exposes the combined value
// consulted during provider selection.
type Loop struct {
	mu    sync.RWMutex
	alpha float64
	stats map[string]*handlerStats
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithAlpha overrides the EWMA smoothing factor. Values outside (0, 1] are
// ignored.
func WithAlpha(alpha float64) LoopOption {
	return func(l *Loop) {
		if alpha > 0 && alpha <= 1 {
			l.alpha = alpha
		}
	}
}

// NewLoop creates an empty feedback loop.
func NewLoop(options ...LoopOption) *Loop {
	l := &Loop{
		alpha: defaultAlpha,
		stats: make(map[string]*handlerStats),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Record folds one sample into the handler's averages. The first sample
// seeds the averages directly; later samples blend in at the alpha weight.
func (l *Loop) Record(sample dirigent.TelemetrySample) {
	if sample.Handler == "" {
		return
	}

	success := 0.0
	if sample.Succeeded {
		success = 1.0
	}
	latency := sample.Latency.Seconds()

	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.stats[sample.Handler]
	if !ok {
		l.stats[sample.Handler] = &handlerStats{
			successEWMA: success,
			latencyEWMA: latency,
			samples:     1,
			lastSample:  time.Now(),
		}
		return
	}
	st.successEWMA = l.alpha*success + (1-l.alpha)*st.successEWMA
	st.latencyEWMA = l.alpha*latency + (1-l.alpha)*st.latencyEWMA
	st.samples++
	st.lastSample = time.Now()
}

// Score returns successEWMA / (1 + latencyEWMA) for the handler: a fast,
// reliable handler approaches 1, a slow or failing one approaches 0.
// Handlers with no samples score 0.
func (l *Loop) Score(handlerName string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.stats[handlerName]
	if !ok {
		return 0
	}
	return st.successEWMA / (1 + st.latencyEWMA)
}

// Snapshot returns a copy of the score table for inspection.
func (l *Loop) Snapshot() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]float64, len(l.stats))
	for name, st := range l.stats {
		out[name] = st.successEWMA / (1 + st.latencyEWMA)
	}
	return out
}

// Samples returns how many observations a handler has accumulated.
func (l *Loop) Samples(handlerName string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.stats[handlerName]
	if !ok {
		return 0
	}
	return st.samples
}

// LogScores writes the current table to the log, one line per handler.
func (l *Loop) LogScores() {
	for name, score := range l.Snapshot() {
		log.Printf("Handler score (handler: %s, score: %.3f)", name, score)
	}
}
