package chitrace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInstrumentor_ActivateTwice(t *testing.T) {
	inst, err := NewInstrumentor(WithoutMetrics())
	require.NoError(t, err)

	require.NoError(t, inst.Activate())
	err = inst.Activate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyActivated))
	assert.True(t, inst.Active())
}

func TestInstrumentor_DeactivateIdempotent(t *testing.T) {
	inst, err := NewInstrumentor(WithoutMetrics())
	require.NoError(t, err)

	// Deactivating an inactive instrumentor is a no-op.
	inst.Deactivate()
	assert.False(t, inst.Active())

	require.NoError(t, inst.Activate())
	inst.Deactivate()
	inst.Deactivate()
	assert.False(t, inst.Active())

	// Reactivation after deactivate is allowed.
	require.NoError(t, inst.Activate())
	assert.True(t, inst.Active())
	inst.Deactivate()
}

func TestInstrumentor_DoubleActivationNoDuplicateSpans(t *testing.T) {
	inst, sr := newTestInstrumentor(t)
	require.ErrorIs(t, inst.Activate(), ErrAlreadyActivated)

	r := chi.NewRouter()
	_, err := inst.Instrument(r)
	require.NoError(t, err)
	r.Get("/x", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	assert.Len(t, sr.Ended(), 1, "one request must yield exactly one span")
}

func TestInstrumentor_InvalidExcludedPattern(t *testing.T) {
	_, err := NewInstrumentor(WithExcludedURLs(`([`), WithoutMetrics())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid excluded URL pattern")
}

func TestInstrumentor_NilRouter(t *testing.T) {
	inst, err := NewInstrumentor(WithoutMetrics())
	require.NoError(t, err)

	_, err = inst.Instrument(nil)
	require.Error(t, err)
}

func TestGlobalActivateDeactivate(t *testing.T) {
	t.Cleanup(Deactivate)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	require.NoError(t, Activate(WithTracerProvider(tp), WithoutMetrics()))
	require.NotNil(t, Default())
	require.ErrorIs(t, Activate(), ErrAlreadyActivated)

	r := chi.NewRouter()
	_, err := Default().Instrument(r)
	require.NoError(t, err)
	r.Get("/x", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	assert.Len(t, sr.Ended(), 1)

	Deactivate()
	assert.Nil(t, Default())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	assert.Len(t, sr.Ended(), 1, "no spans after deactivation")

	// Fresh activation after deactivate succeeds.
	require.NoError(t, Activate(WithTracerProvider(tp), WithoutMetrics()))
}

func TestStandaloneMiddleware(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	mw, err := Middleware(WithTracerProvider(tp), WithoutMetrics())
	require.NoError(t, err)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	// Outside chi there is no route pattern; the name stays generic.
	assert.Equal(t, "GET", spans[0].Name())
}
