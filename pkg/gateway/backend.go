package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Renator13/botnode-public/pkg/config"
	"github.com/Renator13/botnode-public/pkg/util/resiliency"
)

// SkillBackend executes skills and reports on the skill fleet.
type SkillBackend interface {
	// Execute runs skillID. The outcome is OK with the backend's response
	// object, or UpstreamError when the backend is unreachable, answers with
	// status >= 400 or with something other than a JSON object.
	Execute(ctx context.Context, skillID string, params map[string]any) Outcome[map[string]any]
	// ListSkills returns the backend's skill listing.
	ListSkills(ctx context.Context) Outcome[map[string]any]
	// Health probes the backend itself.
	Health(ctx context.Context) ServiceStatus
	// SkillHealth probes one skill's liveness endpoint.
	SkillHealth(ctx context.Context, skill config.Skill) ServiceStatus
}

var errNotObject = errors.New("response is not a JSON object")

// HTTPBackend talks to the skill backend over HTTP. Skills whose catalog
// entry names an endpoint are run on that endpoint directly.
type HTTPBackend struct {
	baseURL string
	client  *resiliency.Client
	catalog *config.Catalog
}

// NewHTTPBackend creates a backend client rooted at baseURL.
func NewHTTPBackend(baseURL string, client *resiliency.Client, catalog *config.Catalog) *HTTPBackend {
	if catalog == nil {
		catalog = config.DefaultCatalog()
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		catalog: catalog,
	}
}

// URL returns the backend base URL.
func (b *HTTPBackend) URL() string { return b.baseURL }

func (b *HTTPBackend) Execute(ctx context.Context, skillID string, params map[string]any) Outcome[map[string]any] {
	if params == nil {
		params = map[string]any{}
	}
	if skill, ok := b.catalog.Lookup(skillID); ok && skill.Endpoint != "" {
		return b.runDirect(ctx, skill, params)
	}
	payload := map[string]any{"skill_id": skillID, "parameters": params}
	resp, err := b.client.PostJSON(ctx, b.baseURL+"/api/v1/skills/execute", payload, nil)
	return objectOutcome(resp, err)
}

// runDirect posts the parameters to the skill's /run endpoint and wraps the
// skill's output in the backend response shape.
func (b *HTTPBackend) runDirect(ctx context.Context, skill config.Skill, params map[string]any) Outcome[map[string]any] {
	resp, err := b.client.PostJSON(ctx, skill.BaseURL()+"/run", params, nil)
	out := objectOutcome(resp, err)
	if out.Kind != OutcomeOK {
		return out
	}
	return OK(map[string]any{
		"skill_id": skill.SkillID,
		"status":   "completed",
		"output":   out.Value,
	})
}

func (b *HTTPBackend) ListSkills(ctx context.Context) Outcome[map[string]any] {
	resp, err := b.client.Get(ctx, b.baseURL+"/api/v1/skills")
	return objectOutcome(resp, err)
}

func (b *HTTPBackend) Health(ctx context.Context) ServiceStatus {
	return probe(ctx, b.client, b.baseURL, b.baseURL+"/health")
}

func (b *HTTPBackend) SkillHealth(ctx context.Context, skill config.Skill) ServiceStatus {
	return probe(ctx, b.client, skill.BaseURL(), skill.BaseURL()+"/healthz")
}

func objectOutcome(resp *resiliency.Response, err error) Outcome[map[string]any] {
	if err != nil {
		return UpstreamError[map[string]any](0, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return UpstreamError[map[string]any](resp.StatusCode, fmt.Errorf("upstream status %d", resp.StatusCode))
	}
	obj, ok := resp.Object()
	if !ok {
		return UpstreamError[map[string]any](resp.StatusCode, errNotObject)
	}
	return OK(obj)
}

// probe issues a single unguarded GET and records the status and body, if
// any. Liveness failures never trip the breaker that guards executions.
func probe(ctx context.Context, client *resiliency.Client, baseURL, url string) ServiceStatus {
	status := ServiceStatus{URL: baseURL}
	resp, err := client.Liveness().Get(ctx, url)
	if err != nil {
		return status
	}
	code := resp.StatusCode
	status.StatusCode = &code
	if json.Valid(resp.Body) {
		status.Data = json.RawMessage(resp.Body)
	}
	return status
}
