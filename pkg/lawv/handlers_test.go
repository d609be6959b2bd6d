package lawv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Renator13/botnode-public/pkg/api"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.SeedBuiltins())
	h := NewHandler(NewEngine(r, nil))

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	h.RegisterServiceRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandler_Validate(t *testing.T) {
	srv := newTestServer(t)

	body := `{"schema_id": "csv_parser_v1", "output_data": {"rows_processed": -1, "columns": [], "errors": [],
		"summary": {"total_rows": 0, "valid_rows": 0, "invalid_rows": 0}}, "metadata": {"node_id": "n1"}}`
	resp, err := http.Post(srv.URL+"/v1/validate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decode[ValidationResult](t, resp)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "rows_processed", res.Errors[0].Field)
}

func TestHandler_ValidateUnknownSchema(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/validate", "application/json",
		strings.NewReader(`{"schema_id": "missing_v1", "output_data": {}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	problem := decode[api.ProblemDetail](t, resp)
	assert.Equal(t, api.KindNotFound, problem.Kind)
	assert.Equal(t, "Schema missing_v1 not found", problem.Detail)
}

func TestHandler_ValidateBadRequests(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{``, `{"output_data": {}}`, `{"schema_id": "csv_parser_v1"}`, `{oops`} {
		resp, err := http.Post(srv.URL+"/v1/validate", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		_ = resp.Body.Close()
	}
}

func TestHandler_Schemas(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/schemas")
	require.NoError(t, err)
	list := decode[struct {
		Schemas []SchemaSummary `json:"schemas"`
		Total   int             `json:"total"`
	}](t, resp)
	assert.Equal(t, 8, list.Total)
	assert.Equal(t, "code_reviewer_v1", list.Schemas[0].SchemaID)

	resp, err = http.Get(srv.URL + "/v1/schemas/pdf_reader_v1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := decode[SchemaEntry](t, resp)
	assert.Equal(t, "pdf_reader", entry.SkillID)
	assert.Contains(t, string(entry.Schema), `"page_count"`)

	resp, err = http.Get(srv.URL + "/v1/schemas/unknown_v9")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestHandler_RegisterSchema(t *testing.T) {
	srv := newTestServer(t)

	body := `{"schema_id": "web_scraper_v1", "skill_id": "web_scraper", "description": "Scraped pages",
		"schema": {"type": "object", "required": ["pages"], "properties": {"pages": {"type": "array"}}}}`
	resp, err := http.Post(srv.URL+"/v1/schemas", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	entry := decode[SchemaEntry](t, resp)
	assert.Equal(t, DefaultVersion, entry.Version)
	assert.Equal(t, DefaultAuthor, entry.Author)

	resp, err = http.Post(srv.URL+"/v1/validate", "application/json",
		strings.NewReader(`{"schema_id": "web_scraper_v1", "output_data": {"pages": "one"}}`))
	require.NoError(t, err)
	res := decode[ValidationResult](t, resp)
	assert.False(t, res.Valid)
	assert.Equal(t, "pages", res.Errors[0].Field)
}

func TestHandler_HealthAndStats(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/validate", "application/json",
		strings.NewReader(`{"schema_id": "pdf_reader_v1", "output_data": {"text": "", "metadata": {}, "page_count": 3}}`))
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health := decode[Health](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, ServiceName, health.Service)
	assert.Equal(t, 8, health.SchemasRegistered)
	assert.Equal(t, int64(1), health.ValidationsPerformed)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	stats := decode[StatsView](t, resp)
	assert.Equal(t, int64(1), stats.SuccessfulValidations)
	assert.Equal(t, 1.0, stats.SuccessRate)
}
