package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Renator13/botnode-public/pkg/api"
	"github.com/Renator13/botnode-public/pkg/lawv"
)

// Component is one entry of the gateway health report.
type Component struct {
	URL               string `json:"url"`
	Reachable         bool   `json:"reachable"`
	StatusCode        *int   `json:"status_code"`
	SchemasRegistered any    `json:"schemas_registered,omitempty"`
	NodesRegistered   any    `json:"nodes_registered,omitempty"`
}

// Health is the gateway health report. The gateway itself is always healthy;
// components report their own reachability.
type Health struct {
	Status     string               `json:"status"`
	Service    string               `json:"service"`
	Version    string               `json:"version"`
	Components map[string]Component `json:"components"`
	Timestamp  time.Time            `json:"timestamp"`
}

type trustProbe struct {
	StatusCode *int            `json:"status_code"`
	Data       json.RawMessage `json:"data"`
}

// Handler serves the gateway HTTP API.
type Handler struct {
	gw *Gateway
}

// NewHandler creates a handler over gw.
func NewHandler(gw *Gateway) *Handler {
	return &Handler{gw: gw}
}

// RegisterRoutes registers the skill and trust routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/skills", h.handleListSkills)
	mux.HandleFunc("GET /api/v1/skills/{skill_id}/health", h.handleSkillHealth)
	mux.HandleFunc("POST /api/v1/skills/execute", h.handleExecute)

	mux.HandleFunc("GET /api/v1/trust/health", h.handleTrustHealth)
	mux.HandleFunc("POST /api/v1/trust/validate", h.handleTrustValidate)
	mux.HandleFunc("GET /api/v1/trust/cri/{node_id}", h.handleTrustCRI)
	mux.HandleFunc("GET /api/v1/trust/schemas", h.handleTrustSchemas)
	mux.HandleFunc("GET /api/v1/trust/stats", h.handleTrustStats)
}

// RegisterServiceRoutes adds the root info and /health for a standalone
// gateway.
func (h *Handler) RegisterServiceRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, h.Health(r))
	})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"service":      ServiceName,
		"version":      Version,
		"mode":         "hybrid",
		"enable_law_v": h.gw.enableLawV,
		"timestamp":    api.Now(),
	})
}

// Health probes the backend and both trust services.
func (h *Handler) Health(r *http.Request) Health {
	ctx := r.Context()
	backend := h.gw.backend.Health(ctx)
	lawV := h.gw.validator.Health(ctx)
	cri := h.gw.scorer.Health(ctx)

	return Health{
		Status:  "healthy",
		Service: ServiceName,
		Version: Version,
		Components: map[string]Component{
			"backend": {URL: backend.URL, Reachable: backend.Reachable(), StatusCode: backend.StatusCode},
			"law_v": {
				URL: lawV.URL, Reachable: lawV.Reachable(), StatusCode: lawV.StatusCode,
				SchemasRegistered: lawV.field("schemas_registered"),
			},
			"cri": {
				URL: cri.URL, Reachable: cri.Reachable(), StatusCode: cri.StatusCode,
				NodesRegistered: cri.field("nodes_registered"),
			},
		},
		Timestamp: api.Now(),
	}
}

func (h *Handler) handleListSkills(w http.ResponseWriter, r *http.Request) {
	out := h.gw.backend.ListSkills(r.Context())
	if out.Kind == OutcomeOK {
		api.WriteJSON(w, http.StatusOK, out.Value)
		return
	}
	skills := h.gw.catalog.Skills
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"skills": skills,
		"total":  len(skills),
		"source": SourceFallback,
	})
}

func (h *Handler) handleSkillHealth(w http.ResponseWriter, r *http.Request) {
	skillID := r.PathValue("skill_id")
	skill, ok := h.gw.catalog.Lookup(skillID)
	if !ok {
		api.WriteErr(w, r, api.NotFound("Skill %s not found", skillID))
		return
	}
	status := h.gw.backend.SkillHealth(r.Context(), skill)
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"skill_id":    skillID,
		"url":         status.URL,
		"reachable":   status.Reachable(),
		"status_code": status.StatusCode,
	})
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := api.ReadJSON(w, r, &req); err != nil {
		api.WriteErr(w, r, err)
		return
	}
	result, err := h.gw.Execute(r.Context(), req)
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleTrustHealth(w http.ResponseWriter, r *http.Request) {
	lawV := h.gw.validator.Health(r.Context())
	cri := h.gw.scorer.Health(r.Context())
	status := "degraded"
	if lawV.OK() && cri.OK() {
		status = "healthy"
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"law_v":     trustProbe{StatusCode: lawV.StatusCode, Data: lawV.Data},
		"cri":       trustProbe{StatusCode: cri.StatusCode, Data: cri.Data},
		"timestamp": api.Now(),
	})
}

func (h *Handler) handleTrustValidate(w http.ResponseWriter, r *http.Request) {
	var req lawv.ValidateRequest
	if err := api.ReadJSON(w, r, &req); err != nil {
		api.WriteErr(w, r, err)
		return
	}
	if req.SchemaID == "" || len(req.OutputData) == 0 {
		api.WriteErr(w, r, api.BadRequest("schema_id and output_data are required"))
		return
	}
	result, err := h.gw.validator.Validate(r.Context(), req)
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleTrustCRI(w http.ResponseWriter, r *http.Request) {
	body, err := h.gw.scorer.Reputation(r.Context(), r.PathValue("node_id"))
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) handleTrustSchemas(w http.ResponseWriter, r *http.Request) {
	body, err := h.gw.validator.Schemas(r.Context())
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) handleTrustStats(w http.ResponseWriter, r *http.Request) {
	lawV, err := h.gw.validator.Stats(r.Context())
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	cri, err := h.gw.scorer.Stats(r.Context())
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"law_v":     lawV,
		"cri":       cri,
		"timestamp": api.Now(),
	})
}
