// Package lawv implements Law V: the schema registry that declares what a
// skill's output must look like, and the engine that checks outputs against it.
package lawv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Renator13/botnode-public/pkg/api"
)

const (
	// DefaultVersion is assigned when a registration omits a version.
	DefaultVersion = "1.0.0"
	// DefaultAuthor is assigned when a registration omits an author.
	DefaultAuthor = "BotNode Foundation"

	schemaBaseURL = "https://schemas.botnode.dev/lawv/"
)

// SchemaEntry is one registered schema. Schema holds the body exactly as it
// was registered.
type SchemaEntry struct {
	SchemaID    string          `json:"schema_id"`
	Schema      json.RawMessage `json:"schema"`
	SkillID     string          `json:"skill_id"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Author      string          `json:"author"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SchemaSummary is the list projection of a SchemaEntry.
type SchemaSummary struct {
	SchemaID    string    `json:"schema_id"`
	SkillID     string    `json:"skill_id"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type registered struct {
	entry SchemaEntry

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// compile builds the validator for the entry on first use. The outcome,
// including a failure, is cached for the lifetime of this registration.
func (r *registered) compile() (*jsonschema.Schema, error) {
	r.once.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		c.AssertFormat = true
		resource := schemaBaseURL + url.PathEscape(r.entry.SchemaID) + ".json"
		if err := c.AddResource(resource, bytes.NewReader(r.entry.Schema)); err != nil {
			r.err = fmt.Errorf("load schema %s: %w", r.entry.SchemaID, err)
			return
		}
		r.compiled, r.err = c.Compile(resource)
		if r.err != nil {
			r.err = fmt.Errorf("compile schema %s: %w", r.entry.SchemaID, r.err)
		}
	})
	return r.compiled, r.err
}

// Registry maps schema ids to schema entries. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registered
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registered),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Register inserts or overwrites the entry keyed by SchemaID and stamps
// CreatedAt. The body must be a JSON object; anything else about it is only
// discovered when the schema is first used for validation.
func (r *Registry) Register(entry SchemaEntry) (SchemaEntry, error) {
	normalized, err := normalizeEntry(entry)
	if err != nil {
		return SchemaEntry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	normalized.CreatedAt = r.now()
	r.entries[normalized.SchemaID] = &registered{entry: normalized}
	return normalized, nil
}

func normalizeEntry(entry SchemaEntry) (SchemaEntry, error) {
	if entry.SchemaID == "" {
		return SchemaEntry{}, api.BadRequest("schema_id is required")
	}
	if entry.SkillID == "" {
		return SchemaEntry{}, api.BadRequest("skill_id is required")
	}
	trimmed := bytes.TrimSpace(entry.Schema)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return SchemaEntry{}, api.BadRequest("schema must be a JSON object")
	}
	if entry.Version == "" {
		entry.Version = DefaultVersion
	}
	if entry.Author == "" {
		entry.Author = DefaultAuthor
	}
	entry.Schema = append(json.RawMessage(nil), trimmed...)
	return entry, nil
}

// Get returns the entry for schemaID or a NotFound error.
func (r *Registry) Get(schemaID string) (SchemaEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[schemaID]
	if !ok {
		return SchemaEntry{}, api.NotFound("Schema %s not found", schemaID)
	}
	return reg.entry, nil
}

// List returns every entry ordered by schema id.
func (r *Registry) List() []SchemaSummary {
	r.mu.RLock()
	out := make([]SchemaSummary, 0, len(r.entries))
	for _, reg := range r.entries {
		e := reg.entry
		out = append(out, SchemaSummary{
			SchemaID:    e.SchemaID,
			SkillID:     e.SkillID,
			Version:     e.Version,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SchemaID < out[j].SchemaID })
	return out
}

// Len reports the number of registered schemas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// LatestForSkill returns the schema with the highest semantic version
// registered for skillID. Versions that do not parse rank below all valid ones;
// schema id breaks ties.
func (r *Registry) LatestForSkill(skillID string) (SchemaEntry, bool) {
	type candidate struct {
		v     *semver.Version
		entry SchemaEntry
	}

	r.mu.RLock()
	var candidates []candidate
	for _, reg := range r.entries {
		if reg.entry.SkillID != skillID {
			continue
		}
		v, err := semver.NewVersion(reg.entry.Version)
		if err != nil {
			v = nil
		}
		candidates = append(candidates, candidate{v: v, entry: reg.entry})
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return SchemaEntry{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.v != nil && b.v == nil:
			return true
		case a.v == nil && b.v != nil:
			return false
		case a.v != nil && b.v != nil && !a.v.Equal(b.v):
			return a.v.GreaterThan(b.v)
		}
		return a.entry.SchemaID > b.entry.SchemaID
	})
	return candidates[0].entry, true
}

// compiled returns the validator for schemaID.
func (r *Registry) compiled(schemaID string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	reg, ok := r.entries[schemaID]
	r.mu.RUnlock()
	if !ok {
		return nil, api.NotFound("Schema %s not found", schemaID)
	}
	s, err := reg.compile()
	if err != nil {
		return nil, api.SchemaInvalid(schemaID, err)
	}
	return s, nil
}
