package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dirigent "github.com/kestrelworks/dirigent"
	"github.com/kestrelworks/dirigent/internal/registry"
)

type fakeHandler struct{ name string }

func (h *fakeHandler) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"ok": true}, nil
}
func (h *fakeHandler) Schema() map[string]interface{} {
	return map[string]interface{}{"description": "generated"}
}
func (h *fakeHandler) Validate(params map[string]interface{}) error { return nil }
func (h *fakeHandler) Name() string                                 { return h.name }

type fakeGenerator struct {
	handler  *dirigent.GeneratedHandler
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (g *fakeGenerator) Generate(ctx context.Context, description, name string) (*dirigent.GeneratedHandler, error) {
	g.calls++
	if g.failures > 0 {
		g.failures--
		return nil, errors.New("generation failed")
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.handler, nil
}

func generated(name string) *dirigent.GeneratedHandler {
	return &dirigent.GeneratedHandler{
		Name:           name,
		Description:    "a generated capability",
		Implementation: &fakeHandler{name: name},
	}
}

func TestGateway_SynthesizeAndIntegrate(t *testing.T) {
	reg := registry.NewHandlerRegistry()
	gw := NewGateway(&fakeGenerator{handler: generated("summarize")}, reg)

	desc, err := gw.Synthesize(context.Background(), "summarize text", "summarize", true)
	require.NoError(t, err)
	assert.Equal(t, "summarize", desc.Name)
	assert.True(t, desc.Registered)

	h, err := reg.Lookup("summarize")
	require.NoError(t, err)
	assert.Equal(t, "summarize", h.Name())
}

func TestGateway_SynthesizeWithoutIntegration(t *testing.T) {
	reg := registry.NewHandlerRegistry()
	gw := NewGateway(&fakeGenerator{handler: generated("preview")}, reg)

	desc, err := gw.Synthesize(context.Background(), "preview only", "preview", false)
	require.NoError(t, err)
	assert.False(t, desc.Registered)

	_, err = reg.Lookup("preview")
	assert.Error(t, err, "non-integrated handler must not be registered")
}

func TestGateway_RejectsEmptyImplementation(t *testing.T) {
	reg := registry.NewHandlerRegistry()
	gw := NewGateway(&fakeGenerator{handler: &dirigent.GeneratedHandler{Name: "hollow"}}, reg)

	_, err := gw.Synthesize(context.Background(), "do a thing", "hollow", true)
	assert.True(t, dirigent.IsCode(err, dirigent.ErrCodeSynthesis))
	_, lookupErr := reg.Lookup("hollow")
	assert.Error(t, lookupErr, "rejected synthesis must not mutate the registry")
}

func TestGateway_RejectsDuplicateName(t *testing.T) {
	reg := registry.NewHandlerRegistry()
	require.NoError(t, reg.Register("taken", &fakeHandler{name: "taken"}))
	gw := NewGateway(&fakeGenerator{handler: generated("taken")}, reg)

	_, err := gw.Synthesize(context.Background(), "duplicate", "taken", true)
	assert.True(t, dirigent.IsCode(err, dirigent.ErrCodeSynthesis))
}

func TestGateway_RetriesTransientFailures(t *testing.T) {
	gen := &fakeGenerator{handler: generated("resilient"), failures: 1}
	gw := NewGateway(gen, registry.NewHandlerRegistry(), WithRetries(2, time.Millisecond))

	desc, err := gw.Synthesize(context.Background(), "flaky generation", "resilient", false)
	require.NoError(t, err)
	assert.Equal(t, "resilient", desc.Name)
	assert.Equal(t, 2, gen.calls)
}

func TestGateway_ExhaustedRetriesFail(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model is down")}
	gw := NewGateway(gen, registry.NewHandlerRegistry(), WithRetries(1, time.Millisecond))

	_, err := gw.Synthesize(context.Background(), "hopeless", "nope", false)
	assert.True(t, dirigent.IsCode(err, dirigent.ErrCodeSynthesis))
	assert.Equal(t, 2, gen.calls)
}

func TestGateway_EmptyDescriptionRejected(t *testing.T) {
	gw := NewGateway(&fakeGenerator{}, registry.NewHandlerRegistry())
	_, err := gw.Synthesize(context.Background(), "", "x", false)
	assert.True(t, dirigent.IsCode(err, dirigent.ErrCodeSynthesis))
}
