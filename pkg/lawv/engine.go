package lawv

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Renator13/botnode-public/pkg/api"
	"github.com/Renator13/botnode-public/pkg/observability"
)

// ErrorCode is the code attached to every structural violation.
const ErrorCode = "VALIDATION_ERROR"

// FieldError is one violation of a schema.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult is the outcome of validating one document. A document that
// does not conform is a normal result with Valid=false, not an error.
type ValidationResult struct {
	Valid            bool         `json:"valid"`
	Errors           []FieldError `json:"errors"`
	ValidationTimeMs int64        `json:"validation_time_ms"`
	SchemaApplied    string       `json:"schema_applied"`
	ValidationID     string       `json:"validation_id"`
}

// Engine validates documents against registered schemas.
type Engine struct {
	registry *Registry
	stats    *Stats
	obs      *observability.Provider
	logger   *slog.Logger
}

// NewEngine creates an engine over registry. obs may be nil.
func NewEngine(registry *Registry, obs *observability.Provider) *Engine {
	if obs == nil {
		obs = observability.Disabled()
	}
	return &Engine{
		registry: registry,
		stats:    &Stats{},
		obs:      obs,
		logger:   slog.Default().With("component", "lawv"),
	}
}

// Registry returns the schema registry the engine reads from.
func (e *Engine) Registry() *Registry { return e.registry }

// Stats returns the aggregate validation statistics.
func (e *Engine) Stats() StatsView {
	return e.stats.View(e.registry.Len())
}

// ValidationsPerformed reports the running validation count.
func (e *Engine) ValidationsPerformed() int64 {
	return e.stats.Total()
}

// Validate checks document against the schema registered as schemaID and
// collects every violation, ordered by field path. It fails only for an
// unknown schema (NotFound), a schema that does not compile (SchemaInvalid) or
// a document that cannot be represented as JSON (BadRequest).
func (e *Engine) Validate(ctx context.Context, schemaID string, document any) (result *ValidationResult, err error) {
	ctx, finish := e.obs.TrackOperation(ctx, "lawv.validate", observability.ValidationOperation(schemaID)...)
	defer func() { finish(err) }()

	schema, err := e.registry.compiled(schemaID)
	if err != nil {
		return nil, err
	}
	doc, err := normalizeDocument(document)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	fieldErrors, err := collectErrors(schema.Validate(doc))
	if err != nil {
		return nil, fmt.Errorf("validate against %s: %w", schemaID, err)
	}
	elapsed := time.Since(start).Milliseconds()

	valid := len(fieldErrors) == 0
	e.stats.Record(valid, elapsed)
	e.obs.RecordValidation(ctx, schemaID, valid)
	observability.AddSpanEvent(ctx, "lawv.result", attribute.Bool("valid", valid), attribute.Int("errors", len(fieldErrors)))
	e.logger.DebugContext(ctx, "document validated", "schema_id", schemaID, "valid", valid, "errors", len(fieldErrors))

	return &ValidationResult{
		Valid:            valid,
		Errors:           fieldErrors,
		ValidationTimeMs: elapsed,
		SchemaApplied:    schemaID,
		ValidationID:     NewValidationID(),
	}, nil
}

// NewValidationID returns "val_" followed by 12 hex characters.
func NewValidationID() string {
	id := uuid.New()
	return "val_" + hex.EncodeToString(id[:6])
}

// normalizeDocument converts any Go value into the generic JSON form the
// validator expects, keeping numbers exact.
func normalizeDocument(document any) (any, error) {
	raw, ok := document.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(document)
		if err != nil {
			return nil, api.BadRequest("document is not representable as JSON")
		}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, api.BadRequest("document is not valid JSON")
	}
	return out, nil
}

type violation struct {
	path    []string
	message string
	keyword string
}

func collectErrors(err error) ([]FieldError, error) {
	if err == nil {
		return []FieldError{}, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}

	var leaves []violation
	walk(ve, &leaves)
	sort.SliceStable(leaves, func(i, j int) bool {
		if c := comparePaths(leaves[i].path, leaves[j].path); c != 0 {
			return c < 0
		}
		if leaves[i].message != leaves[j].message {
			return leaves[i].message < leaves[j].message
		}
		return leaves[i].keyword < leaves[j].keyword
	})

	out := make([]FieldError, 0, len(leaves))
	for _, l := range leaves {
		field := strings.Join(l.path, ".")
		if field == "" {
			field = "root"
		}
		out = append(out, FieldError{Field: field, Message: l.message, Code: ErrorCode})
	}
	return out, nil
}

// walk collects the leaves of the cause tree. Combinator keywords are reported
// once at their own location rather than per failed branch.
func walk(ve *jsonschema.ValidationError, out *[]violation) {
	if len(ve.Causes) == 0 || isCombinator(ve.KeywordLocation) {
		*out = append(*out, violation{
			path:    splitPointer(ve.InstanceLocation),
			message: ve.Message,
			keyword: ve.KeywordLocation,
		})
		return
	}
	for _, c := range ve.Causes {
		walk(c, out)
	}
}

func isCombinator(keywordLocation string) bool {
	i := strings.LastIndex(keywordLocation, "/")
	last := keywordLocation[i+1:]
	return last == "anyOf" || last == "oneOf"
}

// splitPointer turns a JSON pointer into unescaped path segments.
func splitPointer(ptr string) []string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return nil
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}

// comparePaths orders paths segment by segment: array indices numerically and
// before property names, property names lexicographically, and a path before
// any path it is a prefix of.
func comparePaths(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareSegments(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareSegments(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai - bi
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
