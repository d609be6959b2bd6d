package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/Renator13/botnode-public/pkg/api"
	"github.com/Renator13/botnode-public/pkg/cri"
	"github.com/Renator13/botnode-public/pkg/lawv"
	"github.com/Renator13/botnode-public/pkg/util/resiliency"
)

// RemoteValidator calls a Law V service over HTTP.
type RemoteValidator struct {
	baseURL string
	client  *resiliency.Client
}

// NewRemoteValidator creates a client for the Law V service at baseURL.
func NewRemoteValidator(baseURL string, client *resiliency.Client) *RemoteValidator {
	return &RemoteValidator{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (v *RemoteValidator) Validate(ctx context.Context, req lawv.ValidateRequest) (*lawv.ValidationResult, error) {
	resp, err := v.client.PostJSON(ctx, v.baseURL+"/v1/validate", req, nil)
	body, err := upstreamBody("law_v", resp, err)
	if err != nil {
		return nil, err
	}
	var result lawv.ValidationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, api.Unavailable("law_v", fmt.Errorf("decode validation result: %w", err))
	}
	return &result, nil
}

func (v *RemoteValidator) Schemas(ctx context.Context) (json.RawMessage, error) {
	resp, err := v.client.Get(ctx, v.baseURL+"/v1/schemas")
	return upstreamBody("law_v", resp, err)
}

func (v *RemoteValidator) Stats(ctx context.Context) (json.RawMessage, error) {
	resp, err := v.client.Get(ctx, v.baseURL+"/stats")
	return upstreamBody("law_v", resp, err)
}

func (v *RemoteValidator) Health(ctx context.Context) ServiceStatus {
	return probe(ctx, v.client, v.baseURL, v.baseURL+"/health")
}

// RemoteScorer calls a CRI service over HTTP. Each update carries a fresh
// Idempotency-Key, so wire-level retries of one call are applied once while
// separate calls sharing a transaction id are each applied.
type RemoteScorer struct {
	baseURL string
	client  *resiliency.Client
}

// NewRemoteScorer creates a client for the CRI service at baseURL.
func NewRemoteScorer(baseURL string, client *resiliency.Client) *RemoteScorer {
	return &RemoteScorer{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *RemoteScorer) ApplyEvent(ctx context.Context, req cri.UpdateRequest) (*cri.UpdateResult, error) {
	header := http.Header{}
	header.Set(api.IdempotencyKeyHeader, uuid.NewString())
	resp, err := s.client.PostJSON(ctx, s.baseURL+"/v1/cri/update", req, header)
	body, err := upstreamBody("cri", resp, err)
	if err != nil {
		return nil, err
	}
	var result cri.UpdateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, api.Unavailable("cri", fmt.Errorf("decode update result: %w", err))
	}
	return &result, nil
}

func (s *RemoteScorer) Reputation(ctx context.Context, nodeID string) (json.RawMessage, error) {
	resp, err := s.client.Get(ctx, s.baseURL+"/v1/cri/"+url.PathEscape(nodeID))
	return upstreamBody("cri", resp, err)
}

func (s *RemoteScorer) Stats(ctx context.Context) (json.RawMessage, error) {
	resp, err := s.client.Get(ctx, s.baseURL+"/stats")
	return upstreamBody("cri", resp, err)
}

func (s *RemoteScorer) Health(ctx context.Context) ServiceStatus {
	return probe(ctx, s.client, s.baseURL, s.baseURL+"/health")
}

// upstreamBody classifies a trust service response. Transport failures become
// UpstreamUnavailable; an error status keeps its kind and the upstream's
// detail.
func upstreamBody(service string, resp *resiliency.Response, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, api.Unavailable(service, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, api.FromStatus(resp.StatusCode, upstreamDetail(resp))
	}
	if !json.Valid(resp.Body) {
		return nil, api.Unavailable(service, fmt.Errorf("invalid JSON from %s", service))
	}
	return json.RawMessage(resp.Body), nil
}

func upstreamDetail(resp *resiliency.Response) string {
	var problem struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(resp.Body, &problem); err == nil && problem.Detail != nil {
		if s, ok := problem.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(problem.Detail); err == nil {
			return string(b)
		}
	}
	if len(resp.Body) > 0 {
		return string(resp.Body)
	}
	return http.StatusText(resp.StatusCode)
}
