package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Renator13/botnode-public/pkg/api"
	"github.com/Renator13/botnode-public/pkg/canonicalize"
	"github.com/Renator13/botnode-public/pkg/config"
	"github.com/Renator13/botnode-public/pkg/cri"
	"github.com/Renator13/botnode-public/pkg/lawv"
	"github.com/Renator13/botnode-public/pkg/observability"
)

const (
	ServiceName = "botnode_hybrid_api"
	Version     = "0.1.0"

	// DefaultNodeID is scored when a request does not name a node.
	DefaultNodeID = "node_local_hybrid"

	reasonNoSchema = "No schema mapping or output not an object"
)

// SchemaMap is the built-in skill → schema mapping.
var SchemaMap = map[string]string{
	"csv_parser":          "csv_parser_v1",
	"pdf_reader":          "pdf_reader_v1",
	"google_search":       "google_search_v1",
	"sentiment_analyzer":  "sentiment_analyzer_v1",
	"code_reviewer":       "code_reviewer_v1",
	"text_summarizer":     "text_summarizer_v1",
	"language_translator": "language_translator_v1",
	"image_processor":     "image_processor_v1",
}

// ExecuteRequest is the body of POST /api/v1/skills/execute.
type ExecuteRequest struct {
	SkillID        string         `json:"skill_id"`
	Parameters     map[string]any `json:"parameters"`
	NodeID         string         `json:"node_id,omitempty"`
	TransactionID  string         `json:"transaction_id,omitempty"`
	ValidateOutput *bool          `json:"validate_output,omitempty"`
}

func (r ExecuteRequest) validateOutput() bool {
	return r.ValidateOutput == nil || *r.ValidateOutput
}

// Trust is the trust block attached to every execution response.
type Trust struct {
	LawVEnabled bool                   `json:"law_v_enabled"`
	Validated   bool                   `json:"validated"`
	Validation  *lawv.ValidationResult `json:"validation,omitempty"`
	CRIUpdate   *cri.UpdateResult      `json:"cri_update,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	ProofHash   string                 `json:"proof_hash,omitempty"`
}

// ExecuteResult is one completed trust transaction. Response is the backend
// (or fallback) response object; Output is the skill output extracted from it.
type ExecuteResult struct {
	Source   Source
	Response map[string]any
	Output   any
	Trust    Trust
}

// MarshalJSON renders the response object with the trust block attached.
func (r *ExecuteResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Response)+2)
	for k, v := range r.Response {
		out[k] = v
	}
	if _, ok := out["source"]; !ok {
		out["source"] = r.Source
	}
	out["trust"] = r.Trust
	return json.Marshal(out)
}

// Gateway runs skill executions through validation and scoring.
type Gateway struct {
	backend    SkillBackend
	validator  Validator
	scorer     Scorer
	catalog    *config.Catalog
	enableLawV bool
	schemaMap  map[string]string
	obs        *observability.Provider
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCatalog sets the skill catalog used for listings and schema overrides.
func WithCatalog(c *config.Catalog) Option {
	return func(g *Gateway) {
		if c != nil {
			g.catalog = c
		}
	}
}

// WithLawV toggles validation of skill outputs.
func WithLawV(enabled bool) Option {
	return func(g *Gateway) { g.enableLawV = enabled }
}

// WithObservability records a span per execution.
func WithObservability(p *observability.Provider) Option {
	return func(g *Gateway) {
		if p != nil {
			g.obs = p
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway. Law V is enabled by default.
func New(backend SkillBackend, validator Validator, scorer Scorer, opts ...Option) *Gateway {
	g := &Gateway{
		backend:    backend,
		validator:  validator,
		scorer:     scorer,
		catalog:    config.DefaultCatalog(),
		enableLawV: true,
		schemaMap:  SchemaMap,
		obs:        observability.Disabled(),
		now:        api.Now,
		logger:     slog.Default().With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LawVEnabled reports whether outputs are validated.
func (g *Gateway) LawVEnabled() bool { return g.enableLawV }

// SchemaFor resolves the schema applied to skillID's output: a catalog
// override first, then the built-in mapping, then the validator's own
// resolution when it offers one.
func (g *Gateway) SchemaFor(skillID string) (string, bool) {
	if s, ok := g.catalog.Lookup(skillID); ok && s.SchemaID != "" {
		return s.SchemaID, true
	}
	if id, ok := g.schemaMap[skillID]; ok {
		return id, true
	}
	if r, ok := g.validator.(SchemaResolver); ok {
		return r.SchemaForSkill(skillID)
	}
	return "", false
}

// Execute runs one trust transaction: execute (or substitute), validate,
// score. Only execution has a fallback; a failing trust service fails the
// transaction.
func (g *Gateway) Execute(ctx context.Context, req ExecuteRequest) (result *ExecuteResult, err error) {
	if req.SkillID == "" {
		return nil, api.BadRequest("skill_id is required")
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = DefaultNodeID
	}

	ctx, finish := g.obs.TrackOperation(ctx, "gateway.execute", observability.ExecutionOperation(req.SkillID, nodeID)...)
	defer func() { finish(err) }()

	outcome, err := g.run(ctx, req)
	if err != nil {
		return nil, err
	}
	result = &ExecuteResult{Source: outcome.Source(), Response: outcome.Value}
	result.Output = extractOutput(result.Response)
	result.Trust = Trust{LawVEnabled: g.enableLawV}
	if fp, err := canonicalize.Fingerprint(result.Output); err == nil {
		result.Trust.ProofHash = fp
	} else {
		g.logger.WarnContext(ctx, "output fingerprint failed", "skill_id", req.SkillID, "error", err)
	}
	observability.AddSpanEvent(ctx, "gateway.executed", observability.AttrSource.String(string(result.Source)))

	if !g.enableLawV || !req.validateOutput() {
		return result, nil
	}
	schemaID, hasSchema := g.SchemaFor(req.SkillID)
	output, isObject := result.Output.(map[string]any)
	if !hasSchema || !isObject {
		result.Trust.Reason = reasonNoSchema
		return result, nil
	}

	txID := req.TransactionID
	if txID == "" {
		txID = stringValue(result.Response["job_id"])
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("encode output of %s: %w", req.SkillID, err)
	}
	validation, err := g.validator.Validate(ctx, lawv.ValidateRequest{
		SchemaID:   schemaID,
		OutputData: raw,
		Metadata:   map[string]any{"node_id": nodeID, "transaction_id": nullable(txID)},
	})
	if err != nil {
		return nil, err
	}
	result.Trust.Validation = validation
	result.Trust.Validated = true

	if txID == "" {
		txID = NewID("tx_")
	}
	valid := validation.Valid
	update, err := g.scorer.ApplyEvent(ctx, cri.UpdateRequest{
		NodeID:           nodeID,
		TransactionID:    txID,
		Success:          &valid,
		SkillID:          req.SkillID,
		ValidationPassed: &valid,
	})
	if err != nil {
		return nil, err
	}
	result.Trust.CRIUpdate = update

	observability.AddSpanEvent(ctx, "gateway.scored",
		attribute.Bool("valid", valid), attribute.Float64("new_score", update.NewScore))
	g.logger.InfoContext(ctx, "trust transaction completed",
		"skill_id", req.SkillID, "node_id", nodeID, "source", result.Source,
		"valid", valid, "new_score", update.NewScore)
	return result, nil
}

// run executes the skill on the backend, substituting the fallback output
// when the backend cannot serve it.
func (g *Gateway) run(ctx context.Context, req ExecuteRequest) (Outcome[map[string]any], error) {
	out := g.backend.Execute(ctx, req.SkillID, req.Parameters)
	if out.Kind == OutcomeOK {
		return out, nil
	}

	g.logger.InfoContext(ctx, "skill backend unavailable, using fallback",
		"skill_id", req.SkillID, "status", out.StatusCode, "error", out.Err)
	output, err := FallbackOutput(req.SkillID, req.Parameters, g.now())
	if err != nil {
		return Outcome[map[string]any]{}, err
	}
	g.obs.RecordFallback(ctx, req.SkillID)
	jobID := req.TransactionID
	if jobID == "" {
		jobID = NewID("job_")
	}
	return Fallback(map[string]any{
		"job_id":   jobID,
		"skill_id": req.SkillID,
		"status":   "completed",
		"output":   output,
		"source":   SourceFallback,
	}, out.Err), nil
}

// extractOutput takes the first non-empty of output, result and data.
func extractOutput(resp map[string]any) any {
	for _, key := range []string{"output", "result", "data"} {
		if v, ok := resp[key]; ok && !empty(v) {
			return v
		}
	}
	return map[string]any{}
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case float64:
		return t == 0
	case json.Number:
		return t == "0" || t == "0.0"
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	if empty(v) {
		return ""
	}
	return fmt.Sprint(v)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// NewID returns prefix followed by 12 hex characters.
func NewID(prefix string) string {
	id := uuid.New()
	return prefix + hex.EncodeToString(id[:6])
}
