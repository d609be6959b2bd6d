package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Renator13/botnode-public/pkg/config"
	"github.com/Renator13/botnode-public/pkg/util/resiliency"
)

func TestHTTPBackend_Execute(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/skills/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"job_id": "job_1", "status": "completed", "result": {"ok": true}}`))
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL+"/", newClient("backend"), nil)
	out := b.Execute(context.Background(), "pdf_reader", map[string]any{"url": "x"})
	require.Equal(t, OutcomeOK, out.Kind)
	assert.Equal(t, "job_1", out.Value["job_id"])
	assert.Equal(t, "pdf_reader", got["skill_id"])
	assert.Equal(t, map[string]any{"url": "x"}, got["parameters"])
	assert.Equal(t, map[string]any{"ok": true}, extractOutput(out.Value))
}

func TestHTTPBackend_ErrorsBecomeUpstreamError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"client error", http.StatusNotFound, `{"detail": "unknown skill"}`},
		{"server error", http.StatusInternalServerError, `{}`},
		{"not an object", http.StatusOK, `["a"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			out := NewHTTPBackend(srv.URL, newClient("backend"), nil).Execute(context.Background(), "csv_parser", nil)
			assert.Equal(t, OutcomeUpstreamError, out.Kind)
			assert.Equal(t, tt.status, out.StatusCode)
			assert.Error(t, out.Err)
		})
	}
}

func TestHTTPBackend_RunsCatalogEndpointDirectly(t *testing.T) {
	var params map[string]any
	skill := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/run", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		_, _ = w.Write([]byte(`{"summary": "looks fine"}`))
	}))
	defer skill.Close()

	catalog := &config.Catalog{Skills: []config.Skill{{SkillID: "code_reviewer", Port: 8005, Endpoint: skill.URL}}}
	b := NewHTTPBackend("http://127.0.0.1:1", newClient("backend"), catalog)

	out := b.Execute(context.Background(), "code_reviewer", map[string]any{"code": "x = 1"})
	require.Equal(t, OutcomeOK, out.Kind)
	assert.Equal(t, map[string]any{"summary": "looks fine"}, out.Value["output"])
	assert.Equal(t, "x = 1", params["code"])

	status := b.SkillHealth(context.Background(), catalog.Skills[0])
	assert.Equal(t, skill.URL, status.URL)
}

func TestHTTPBackend_HealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	status := NewHTTPBackend(url, newClient("backend"), nil).Health(context.Background())
	assert.Equal(t, url, status.URL)
	assert.Nil(t, status.StatusCode)
	assert.False(t, status.Reachable())
}

func TestHTTPBackend_DeadSkillDoesNotBlockBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"job_id": "job_1", "status": "completed", "output": {}}`))
	}))
	defer srv.Close()

	catalog := &config.Catalog{Skills: []config.Skill{
		{SkillID: "csv_parser", Port: 8001},
		{SkillID: "code_reviewer", Port: 8005, Endpoint: "http://127.0.0.1:1"},
	}}
	client := resiliency.New("backend", time.Second, 0, resiliency.WithBreaker(5, 30*time.Second))
	b := NewHTTPBackend(srv.URL, client, catalog)

	dead := catalog.Skills[1]
	for i := 0; i < 5; i++ {
		assert.False(t, b.SkillHealth(context.Background(), dead).Reachable())
	}
	out := b.Execute(context.Background(), "csv_parser", nil)
	require.Equal(t, OutcomeOK, out.Kind, "health checks never open the breaker: %v", out.Err)

	for i := 0; i < 5; i++ {
		assert.Equal(t, OutcomeUpstreamError, b.Execute(context.Background(), "code_reviewer", nil).Kind)
	}
	out = b.Execute(context.Background(), "csv_parser", nil)
	assert.Equal(t, OutcomeOK, out.Kind, "a dead skill endpoint has its own breaker: %v", out.Err)
	assert.Equal(t, resiliency.StateOpen, client.Breaker(dead.BaseURL()).State())
}
