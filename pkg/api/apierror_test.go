package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Renator13/botnode-public/pkg/api"
)

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected Content-Type 'application/problem+json', got %q", ct)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Status != 400 {
		t.Errorf("expected problem.status=400, got %d", problem.Status)
	}
	if problem.Kind != api.KindBadRequest {
		t.Errorf("expected kind BadRequest, got %q", problem.Kind)
	}
	if problem.Detail != "field is missing" {
		t.Errorf("expected detail 'field is missing', got %q", problem.Detail)
	}
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if problem.Detail == "pq: connection refused to host=10.0.0.1" {
		t.Error("internal error details leaked to client")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWriteErr_Taxonomy(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   api.Kind
		detail string
	}{
		{"not found", api.NotFound("Schema %s not found", "x_v1"), http.StatusNotFound, api.KindNotFound, "Schema x_v1 not found"},
		{"bad request", api.BadRequest("node_id is required"), http.StatusBadRequest, api.KindBadRequest, "node_id is required"},
		{"upstream", api.Unavailable("cri", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, api.KindUpstreamUnavailable, "Upstream unavailable: cri"},
		{"schema invalid", api.SchemaInvalid("broken_v1", errors.New("bad keyword")), http.StatusUnprocessableEntity, api.KindSchemaInvalid, "Schema broken_v1 could not be compiled"},
		{"wrapped", fmt.Errorf("lookup: %w", api.NotFound("Schema y not found")), http.StatusNotFound, api.KindNotFound, "Schema y not found"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, api.KindInternal, "An unexpected error occurred. Please try again later."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/v1/schemas/x", nil)
			api.WriteErr(w, r, tt.err)

			require.Equal(t, tt.status, w.Code)
			var problem api.ProblemDetail
			require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
			assert.Equal(t, tt.kind, problem.Kind)
			assert.Equal(t, tt.detail, problem.Detail)
			assert.NotContains(t, problem.Detail, "dial tcp")
		})
	}
}

func TestErrorIs_MatchesKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", api.NotFound("Schema z not found"))
	assert.True(t, errors.Is(err, api.ErrNotFound))
	assert.False(t, errors.Is(err, api.ErrBadRequest))
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
	assert.Equal(t, api.KindInternal, api.KindOf(errors.New("plain")))
}
