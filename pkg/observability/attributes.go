package observability

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// BotNode semantic convention attributes.
var (
	AttrSkillID   = attribute.Key("botnode.skill.id")
	AttrNodeID    = attribute.Key("botnode.node.id")
	AttrSchemaID  = attribute.Key("botnode.schema.id")
	AttrSource    = attribute.Key("botnode.execution.source")
	AttrValid     = attribute.Key("botnode.validation.valid")
	AttrEventKind = attribute.Key("botnode.cri.event_kind")
	AttrRoute     = attribute.Key("http.route")
)

// ValidationOperation creates attributes for a Law V validation.
func ValidationOperation(schemaID string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrSchemaID.String(schemaID)}
}

// ReputationOperation creates attributes for a CRI event.
func ReputationOperation(nodeID, skillID, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrNodeID.String(nodeID),
		AttrSkillID.String(skillID),
		AttrEventKind.String(kind),
	}
}

// ExecutionOperation creates attributes for a gateway transaction.
func ExecutionOperation(skillID, nodeID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSkillID.String(skillID),
		AttrNodeID.String(nodeID),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// HTTPMiddleware records one server span and latency sample per request,
// keyed by the mux route pattern rather than the raw path. 5xx responses
// count as failures.
func (p *Provider) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := p.StartSpan(r.Context(), r.Method+" request",
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(rec, req)

		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		attrs := []attribute.KeyValue{
			AttrRoute.String(route),
			attribute.String("http.method", r.Method),
			attribute.Int("http.status_code", rec.status),
		}
		span.SetAttributes(attrs...)
		span.SetName(r.Method + " " + route)
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
			if p.failures != nil {
				p.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
		}
		p.RecordDuration(ctx, time.Since(start), attrs...)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack passes through so the CRI feed can upgrade to a websocket.
func (s *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
