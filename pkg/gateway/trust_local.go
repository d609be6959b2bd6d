package gateway

import (
	"context"
	"encoding/json"

	"github.com/Renator13/botnode-public/pkg/cri"
	"github.com/Renator13/botnode-public/pkg/lawv"
)

// inProcessURL is reported as the address of in-process trust services.
const inProcessURL = "in-process"

// LocalValidator serves validation from an in-process engine.
type LocalValidator struct {
	engine  *lawv.Engine
	handler *lawv.Handler
}

// NewLocalValidator wraps engine.
func NewLocalValidator(engine *lawv.Engine) *LocalValidator {
	return &LocalValidator{engine: engine, handler: lawv.NewHandler(engine)}
}

func (v *LocalValidator) Validate(ctx context.Context, req lawv.ValidateRequest) (*lawv.ValidationResult, error) {
	return v.engine.Validate(ctx, req.SchemaID, req.OutputData)
}

func (v *LocalValidator) Schemas(context.Context) (json.RawMessage, error) {
	schemas := v.engine.Registry().List()
	return json.Marshal(map[string]any{"schemas": schemas, "total": len(schemas)})
}

func (v *LocalValidator) Stats(context.Context) (json.RawMessage, error) {
	return json.Marshal(v.engine.Stats())
}

func (v *LocalValidator) Health(context.Context) ServiceStatus {
	return localStatus(v.handler.Health())
}

// SchemaForSkill picks the highest registered version for skillID.
func (v *LocalValidator) SchemaForSkill(skillID string) (string, bool) {
	entry, ok := v.engine.Registry().LatestForSkill(skillID)
	if !ok {
		return "", false
	}
	return entry.SchemaID, true
}

// LocalScorer applies reputation events to an in-process store.
type LocalScorer struct {
	store   *cri.Store
	handler *cri.Handler
}

// NewLocalScorer wraps store.
func NewLocalScorer(store *cri.Store) *LocalScorer {
	return &LocalScorer{store: store, handler: cri.NewHandler(store)}
}

func (s *LocalScorer) ApplyEvent(ctx context.Context, req cri.UpdateRequest) (*cri.UpdateResult, error) {
	event, err := req.Event()
	if err != nil {
		return nil, err
	}
	result, err := s.store.Apply(ctx, event)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *LocalScorer) Reputation(_ context.Context, nodeID string) (json.RawMessage, error) {
	return json.Marshal(s.store.Get(nodeID))
}

func (s *LocalScorer) Stats(context.Context) (json.RawMessage, error) {
	return json.Marshal(s.store.Stats())
}

func (s *LocalScorer) Health(context.Context) ServiceStatus {
	return localStatus(s.handler.Health())
}

func localStatus(health any) ServiceStatus {
	code := 200
	data, err := json.Marshal(health)
	if err != nil {
		code = 500
	}
	return ServiceStatus{URL: inProcessURL, StatusCode: &code, Data: data}
}
