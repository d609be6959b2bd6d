package cri

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Renator13/botnode-public/pkg/api"
)

const (
	ServiceName = "cri_api"
	Version     = "0.1.0"

	defaultLeaderboardLimit = 10
)

// Health is the liveness view of the service.
type Health struct {
	Status           string    `json:"status"`
	Service          string    `json:"service"`
	Version          string    `json:"version"`
	NodesRegistered  int       `json:"nodes_registered"`
	CalibrationTests int       `json:"calibration_tests"`
	Timestamp        time.Time `json:"timestamp"`
}

// Handler serves the CRI HTTP API.
type Handler struct {
	store       *Store
	feed        *Feed
	idempotency api.IdempotencyStorer
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithFeed serves feed on /v1/stream/cri.
func WithFeed(feed *Feed) HandlerOption {
	return func(h *Handler) { h.feed = feed }
}

// WithIdempotency replays updates that carry an already-seen Idempotency-Key.
func WithIdempotency(store api.IdempotencyStorer) HandlerOption {
	return func(h *Handler) { h.idempotency = store }
}

// NewHandler creates a handler over store.
func NewHandler(store *Store, opts ...HandlerOption) *Handler {
	h := &Handler{store: store}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the reputation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/cri/{node_id}", h.handleGet)
	mux.HandleFunc("GET /v1/cri/{node_id}/history", h.handleHistory)
	mux.HandleFunc("GET /v1/node/{node_id}/badge.svg", h.handleBadge)
	mux.HandleFunc("GET /v1/calibration/tests", h.handleCalibrationTests)
	mux.HandleFunc("GET /v1/leaderboard", h.handleLeaderboard)

	var update http.Handler = http.HandlerFunc(h.handleUpdate)
	if h.idempotency != nil {
		update = api.Idempotent(h.idempotency, update)
	}
	mux.Handle("POST /v1/cri/update", update)

	if h.feed != nil {
		mux.Handle("GET /v1/stream/cri", h.feed)
	}
}

// RegisterServiceRoutes adds /health and /stats for a standalone deployment.
func (h *Handler) RegisterServiceRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, h.Health())
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, h.store.Stats())
	})
}

// Health reports service identity and live counts.
func (h *Handler) Health() Health {
	return Health{
		Status:           "healthy",
		Service:          ServiceName,
		Version:          Version,
		NodesRegistered:  h.store.Len(),
		CalibrationTests: h.store.CalibrationCount(),
		Timestamp:        api.Now(),
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.store.Get(r.PathValue("node_id")))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, DefaultHistoryLimit)
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.store.History(r.PathValue("node_id"), limit))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := api.ReadJSON(w, r, &req); err != nil {
		api.WriteErr(w, r, err)
		return
	}
	event, err := req.Event()
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	result, err := h.store.Apply(r.Context(), event)
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleBadge(w http.ResponseWriter, r *http.Request) {
	score := h.store.CurrentScore(r.PathValue("node_id"))
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(BadgeSVG(score)))
}

func (h *Handler) handleCalibrationTests(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, DefaultCalibrationLimit)
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.store.CalibrationTests(limit))
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultLeaderboardLimit)
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	entries := h.store.Leaderboard(limit)
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"leaderboard": entries,
		"total":       len(entries),
	})
}

// queryLimit parses ?limit, returning fallback when it is absent.
func queryLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, api.BadRequest("limit must be an integer")
	}
	return n, nil
}
