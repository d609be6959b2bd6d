package gateway

import (
	"context"
	"encoding/json"

	"github.com/Renator13/botnode-public/pkg/cri"
	"github.com/Renator13/botnode-public/pkg/lawv"
)

// ServiceStatus is the result of probing a collaborator. StatusCode is nil
// when it could not be reached.
type ServiceStatus struct {
	URL        string          `json:"url"`
	StatusCode *int            `json:"status_code"`
	Data       json.RawMessage `json:"data"`
}

// Reachable reports whether the service answered below 500.
func (s ServiceStatus) Reachable() bool {
	return s.StatusCode != nil && *s.StatusCode < 500
}

// OK reports whether the service answered 200.
func (s ServiceStatus) OK() bool {
	return s.StatusCode != nil && *s.StatusCode == 200
}

// field returns one top-level value of the probe body, or nil.
func (s ServiceStatus) field(key string) any {
	var m map[string]any
	if len(s.Data) == 0 || json.Unmarshal(s.Data, &m) != nil {
		return nil
	}
	return m[key]
}

// Validator is the Law V service as seen by the gateway.
type Validator interface {
	Validate(ctx context.Context, req lawv.ValidateRequest) (*lawv.ValidationResult, error)
	Schemas(ctx context.Context) (json.RawMessage, error)
	Stats(ctx context.Context) (json.RawMessage, error)
	Health(ctx context.Context) ServiceStatus
}

// Scorer is the CRI service as seen by the gateway.
type Scorer interface {
	ApplyEvent(ctx context.Context, req cri.UpdateRequest) (*cri.UpdateResult, error)
	Reputation(ctx context.Context, nodeID string) (json.RawMessage, error)
	Stats(ctx context.Context) (json.RawMessage, error)
	Health(ctx context.Context) ServiceStatus
}

// SchemaResolver is implemented by validators that can pick a schema for a
// skill the static mapping does not cover.
type SchemaResolver interface {
	SchemaForSkill(skillID string) (string, bool)
}
