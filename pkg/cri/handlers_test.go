package cri

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Renator13/botnode-public/pkg/api"
)

func newTestServer(t *testing.T) (*httptest.Server, *Store) {
	t.Helper()
	store := newTestStore()
	idem := api.NewIdempotencyStore(time.Hour)
	t.Cleanup(idem.Close)
	h := NewHandler(store, WithIdempotency(idem))

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	h.RegisterServiceRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func postUpdate(t *testing.T, srv *httptest.Server, body, idempotencyKey string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/cri/update", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(api.IdempotencyKeyHeader, idempotencyKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHandler_UpdateAndGet(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postUpdate(t, srv, `{"node_id": "n1", "transaction_id": "tx_1", "success": true, "skill_id": "csv_parser"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[UpdateResult](t, resp)
	assert.Equal(t, 1.05, res.NewScore)
	assert.Equal(t, KindTransaction, res.Kind)

	resp, err := http.Get(srv.URL + "/v1/cri/n1")
	require.NoError(t, err)
	snap := decode[Snapshot](t, resp)
	assert.Equal(t, 1.05, snap.CRIScore)
	assert.Equal(t, []string{"csv_parser"}, snap.Capabilities)
}

func TestHandler_UpdateDefaultsToTimeout(t *testing.T) {
	srv, store := newTestServer(t)

	resp := postUpdate(t, srv, `{"node_id": "n1", "transaction_id": "tx_1", "success": false, "skill_id": "csv_parser"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[UpdateResult](t, resp)
	assert.Equal(t, KindTimeout, res.Kind)
	assert.Equal(t, 0.7, store.CurrentScore("n1"))
}

func TestHandler_UpdateRejectsMissingFields(t *testing.T) {
	srv, store := newTestServer(t)

	resp := postUpdate(t, srv, `{"node_id": "n1", "transaction_id": "tx_1", "skill_id": "csv_parser"}`, "")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, 0, store.Len())
}

func TestHandler_UpdateIsIdempotentPerKey(t *testing.T) {
	srv, store := newTestServer(t)
	body := `{"node_id": "n1", "transaction_id": "tx_1", "success": true, "skill_id": "csv_parser"}`

	first := postUpdate(t, srv, body, "tx_1")
	require.Equal(t, http.StatusOK, first.StatusCode)
	_ = first.Body.Close()

	second := postUpdate(t, srv, body, "tx_1")
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	res := decode[UpdateResult](t, second)
	assert.Equal(t, 1.05, res.NewScore)

	assert.Equal(t, 1, store.History("n1", 10).TotalEntries)
}

func TestHandler_UnknownNodeReadsAreGenesis(t *testing.T) {
	srv, store := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/cri/ghost")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := decode[map[string]any](t, resp)
	assert.Equal(t, 1.0, raw["cri_score"])
	assert.Nil(t, raw["last_active"])

	resp, err = http.Get(srv.URL + "/v1/cri/ghost/history")
	require.NoError(t, err)
	page := decode[HistoryPage](t, resp)
	assert.Empty(t, page.History)
	assert.Equal(t, 0, store.Len())
}

func TestHandler_HistoryLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	for i := 0; i < 12; i++ {
		resp := postUpdate(t, srv, `{"node_id": "n1", "transaction_id": "tx", "success": true, "skill_id": "s"}`, "")
		_ = resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/v1/cri/n1/history")
	require.NoError(t, err)
	page := decode[HistoryPage](t, resp)
	assert.Len(t, page.History, DefaultHistoryLimit)
	assert.Equal(t, 12, page.TotalEntries)

	resp, err = http.Get(srv.URL + "/v1/cri/n1/history?limit=3")
	require.NoError(t, err)
	assert.Len(t, decode[HistoryPage](t, resp).History, 3)

	resp, err = http.Get(srv.URL + "/v1/cri/n1/history?limit=abc")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_Badge(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedDemo()

	resp, err := http.Get(srv.URL + "/v1/node/node_alpha_123/badge.svg")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, BadgeSVG(4.2), string(body))
}

func TestHandler_CalibrationTests(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postUpdate(t, srv, `{"node_id": "n1", "transaction_id": "cal_1", "success": true, "skill_id": "pdf_reader",
		"calibration_test": true, "test_score": 0.8}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.13, decode[UpdateResult](t, resp).Change)

	resp, err := http.Get(srv.URL + "/v1/calibration/tests")
	require.NoError(t, err)
	page := decode[CalibrationPage](t, resp)
	require.Len(t, page.Tests, 1)
	assert.Equal(t, "n1", page.Tests[0].NodeID)
	assert.Equal(t, "Calibration test for pdf_reader (score=0.80)", page.Tests[0].Reason)
}

func TestHandler_HealthAndStats(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedDemo()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	h := decode[Health](t, resp)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, ServiceName, h.Service)
	assert.Equal(t, 3, h.NodesRegistered)
	assert.Equal(t, 0, h.CalibrationTests)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	st := decode[StatsView](t, resp)
	assert.Equal(t, 3, st.TotalNodes)
	assert.Equal(t, 1, st.NodesByScore.Excellent)
}

func TestHandler_Leaderboard(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedDemo()

	resp, err := http.Get(srv.URL + "/v1/leaderboard?limit=2")
	require.NoError(t, err)
	body := decode[struct {
		Leaderboard []LeaderboardEntry `json:"leaderboard"`
		Total       int                `json:"total"`
	}](t, resp)
	require.Len(t, body.Leaderboard, 2)
	assert.Equal(t, "node_alpha_123", body.Leaderboard[0].NodeID)
	assert.Equal(t, "node_beta_456", body.Leaderboard[1].NodeID)
}
