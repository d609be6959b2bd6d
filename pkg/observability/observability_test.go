package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "botnode", config.ServiceName)
	require.Equal(t, "0.1.0", config.ServiceVersion)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.Equal(t, 15*time.Second, config.MetricInterval)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, p)

	// Should not fail even when disabled
	tracer := p.Tracer()
	require.NotNil(t, tracer)

	meter := p.Meter()
	require.NotNil(t, meter)
}

func TestTrackOperation(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	attrs := []attribute.KeyValue{
		AttrSkillID.String("csv_parser"),
	}

	newCtx, finish := p.TrackOperation(ctx, "gateway.execute", attrs...)
	require.NotNil(t, newCtx)

	// Simulate some work
	time.Sleep(1 * time.Millisecond)

	// Call finish without error
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	_, finish := p.TrackOperation(ctx, "gateway.execute")

	// Call finish with error
	testErr := errors.New("test error")
	finish(testErr)

	// Should not panic
}

func TestRecordMetrics_Disabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordError(ctx, errors.New("test"), attribute.String("test", "value"))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("test", "value"))
	p.RecordValidation(ctx, "csv_parser_v1", false)
	p.RecordScoreChange(ctx, "timeout", -0.3)
	p.RecordFallback(ctx, "pdf_reader")
}

func TestSampler(t *testing.T) {
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	require.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestStartSpan(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	newCtx, span := p.StartSpan(ctx, "test.span")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	span.End()
}

func TestShutdown(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.Shutdown(ctx)
	require.NoError(t, err)
}

func TestDisabled(t *testing.T) {
	p := Disabled()
	_, finish := p.TrackOperation(context.Background(), "lawv.validate", ValidationOperation("csv_parser_v1")...)
	finish(nil)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestReputationOperation(t *testing.T) {
	attrs := ReputationOperation("node_alpha_123", "csv_parser", "transaction")
	require.Len(t, attrs, 3)
	require.Equal(t, "botnode.node.id", string(attrs[0].Key))
	require.Equal(t, "transaction", attrs[2].Value.AsString())
}

func TestExecutionOperation(t *testing.T) {
	attrs := ExecutionOperation("pdf_reader", "node_local_hybrid")
	require.Len(t, attrs, 2)
	require.Equal(t, "botnode.skill.id", string(attrs[0].Key))
}

func TestHTTPMiddleware(t *testing.T) {
	p := Disabled()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/cri/{node_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	h := p.HTTPMiddleware(mux)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/cri/node_1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestStatusWriter_HijackUnsupported(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _, err := sw.Hijack()
	require.Error(t, err)
}

func TestAddSpanEvent(t *testing.T) {
	// Should not panic
	AddSpanEvent(context.Background(), "test.event", attribute.String("key", "value"))
}
