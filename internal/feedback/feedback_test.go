package feedback

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	dirigent "github.com/kestrelworks/dirigent"
)

func TestLoop_FirstSampleSeedsAverages(t *testing.T) {
	l := NewLoop()
	l.Record(dirigent.TelemetrySample{Handler: "echo", Succeeded: true, Latency: time.Second})

	// successEWMA=1, latencyEWMA=1s -> 1/(1+1)
	assert.InDelta(t, 0.5, l.Score("echo"), 1e-9)
	assert.Equal(t, int64(1), l.Samples("echo"))
}

func TestLoop_FailuresDragScoreDown(t *testing.T) {
	l := NewLoop()
	l.Record(dirigent.TelemetrySample{Handler: "flaky", Succeeded: true, Latency: 10 * time.Millisecond})
	before := l.Score("flaky")

	for i := 0; i < 10; i++ {
		l.Record(dirigent.TelemetrySample{Handler: "flaky", Succeeded: false, Latency: 10 * time.Millisecond})
	}
	after := l.Score("flaky")
	assert.Less(t, after, before)
	// alpha=0.2 over 10 failures: success EWMA decays to ~0.107
	assert.Less(t, after, 0.15)
}

func TestLoop_SlowHandlersScoreLower(t *testing.T) {
	l := NewLoop()
	l.Record(dirigent.TelemetrySample{Handler: "fast", Succeeded: true, Latency: 5 * time.Millisecond})
	l.Record(dirigent.TelemetrySample{Handler: "slow", Succeeded: true, Latency: 3 * time.Second})

	assert.Greater(t, l.Score("fast"), l.Score("slow"))
}

func TestLoop_UnknownHandlerScoresZero(t *testing.T) {
	l := NewLoop()
	assert.Zero(t, l.Score("never-seen"))
}

func TestLoop_IgnoresUnnamedSamples(t *testing.T) {
	l := NewLoop()
	l.Record(dirigent.TelemetrySample{Succeeded: true, Latency: time.Millisecond})
	assert.Empty(t, l.Snapshot())
}

func TestLoop_ConcurrentRecord(t *testing.T) {
	l := NewLoop()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Record(dirigent.TelemetrySample{Handler: "echo", Succeeded: true, Latency: time.Millisecond})
				_ = l.Score("echo")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), l.Samples("echo"))
}
