package lawv

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed schemas/*.json
var builtinFS embed.FS

// BuiltinSchemas returns the draft-07 schemas shipped for the core skills,
// ordered by schema id.
func BuiltinSchemas() ([]SchemaEntry, error) {
	files, err := fs.Glob(builtinFS, "schemas/*.json")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	entries := make([]SchemaEntry, 0, len(files))
	for _, name := range files {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read builtin schema %s: %w", name, err)
		}
		var entry SchemaEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("parse builtin schema %s: %w", name, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SeedBuiltins registers the built-in schemas. It is a no-op when the
// registry already holds any schema.
func (r *Registry) SeedBuiltins() error {
	builtins, err := BuiltinSchemas()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) > 0 {
		return nil
	}
	now := r.now()
	for _, e := range builtins {
		normalized, err := normalizeEntry(e)
		if err != nil {
			return fmt.Errorf("builtin schema %s: %w", e.SchemaID, err)
		}
		normalized.CreatedAt = now
		r.entries[normalized.SchemaID] = &registered{entry: normalized}
	}
	return nil
}
