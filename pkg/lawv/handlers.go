package lawv

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Renator13/botnode-public/pkg/api"
)

const (
	ServiceName = "law_v_api"
	Version     = "0.1.0"
)

// ValidateRequest is the body of POST /v1/validate. OutputData is kept raw so
// a non-object document reaches the validator and fails there.
type ValidateRequest struct {
	SchemaID   string          `json:"schema_id"`
	OutputData json.RawMessage `json:"output_data"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// RegisterSchemaRequest is the body of POST /v1/schemas.
type RegisterSchemaRequest struct {
	SchemaID    string          `json:"schema_id"`
	Schema      json.RawMessage `json:"schema"`
	SkillID     string          `json:"skill_id"`
	Version     string          `json:"version,omitempty"`
	Description string          `json:"description,omitempty"`
	Author      string          `json:"author,omitempty"`
}

// Health is the liveness view of the service.
type Health struct {
	Status               string    `json:"status"`
	Service              string    `json:"service"`
	Version              string    `json:"version"`
	SchemasRegistered    int       `json:"schemas_registered"`
	ValidationsPerformed int64     `json:"validations_performed"`
	Timestamp            time.Time `json:"timestamp"`
}

// Handler serves the Law V HTTP API.
type Handler struct {
	engine *Engine
}

// NewHandler creates a handler over engine.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes registers the registry and validation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/schemas", h.handleListSchemas)
	mux.HandleFunc("GET /v1/schemas/{schema_id}", h.handleGetSchema)
	mux.HandleFunc("POST /v1/schemas", h.handleRegisterSchema)
	mux.HandleFunc("POST /v1/validate", h.handleValidate)
}

// RegisterServiceRoutes adds /health and /stats for a standalone deployment.
func (h *Handler) RegisterServiceRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, h.Health())
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, h.engine.Stats())
	})
}

// Health reports service identity and live counts.
func (h *Handler) Health() Health {
	return Health{
		Status:               "healthy",
		Service:              ServiceName,
		Version:              Version,
		SchemasRegistered:    h.engine.Registry().Len(),
		ValidationsPerformed: h.engine.ValidationsPerformed(),
		Timestamp:            api.Now(),
	}
}

func (h *Handler) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas := h.engine.Registry().List()
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"schemas": schemas,
		"total":   len(schemas),
	})
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	entry, err := h.engine.Registry().Get(r.PathValue("schema_id"))
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleRegisterSchema(w http.ResponseWriter, r *http.Request) {
	var req RegisterSchemaRequest
	if err := api.ReadJSON(w, r, &req); err != nil {
		api.WriteErr(w, r, err)
		return
	}
	entry, err := h.engine.Registry().Register(SchemaEntry{
		SchemaID:    req.SchemaID,
		Schema:      req.Schema,
		SkillID:     req.SkillID,
		Version:     req.Version,
		Description: req.Description,
		Author:      req.Author,
	})
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := api.ReadJSON(w, r, &req); err != nil {
		api.WriteErr(w, r, err)
		return
	}
	if req.SchemaID == "" {
		api.WriteErr(w, r, api.BadRequest("schema_id is required"))
		return
	}
	if len(req.OutputData) == 0 {
		api.WriteErr(w, r, api.BadRequest("output_data is required"))
		return
	}

	result, err := h.engine.Validate(r.Context(), req.SchemaID, req.OutputData)
	if err != nil {
		api.WriteErr(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}
