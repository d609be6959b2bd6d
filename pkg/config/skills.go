package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill describes one skill microservice known to the gateway.
type Skill struct {
	SkillID string `yaml:"skill_id" json:"skill_id"`
	Port    int    `yaml:"port" json:"port"`
	// Endpoint, when set, is called directly (POST {endpoint}/run) instead of
	// going through the skill backend.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	// SchemaID overrides the built-in skill → schema mapping.
	SchemaID string `yaml:"schema_id,omitempty" json:"schema_id,omitempty"`
}

// BaseURL is the address used for liveness probes.
func (s Skill) BaseURL() string {
	if s.Endpoint != "" {
		return strings.TrimRight(s.Endpoint, "/")
	}
	return fmt.Sprintf("http://localhost:%d", s.Port)
}

// Catalog is the static skill list served when the backend listing is
// unavailable.
type Catalog struct {
	Skills []Skill `yaml:"skills" json:"skills"`
}

// Lookup returns the catalog entry for skillID.
func (c *Catalog) Lookup(skillID string) (Skill, bool) {
	for _, s := range c.Skills {
		if s.SkillID == skillID {
			return s, true
		}
	}
	return Skill{}, false
}

// DefaultCatalog returns the skills shipped with the hybrid deployment.
func DefaultCatalog() *Catalog {
	return &Catalog{Skills: []Skill{
		{SkillID: "csv_parser", Port: 8001},
		{SkillID: "pdf_reader", Port: 8002},
		{SkillID: "google_search", Port: 8003},
		{SkillID: "sentiment_analyzer", Port: 8004},
		{SkillID: "code_reviewer", Port: 8005},
		{SkillID: "performance_analyzer", Port: 8036},
		{SkillID: "compliance_checker", Port: 8037},
		{SkillID: "document_reporter", Port: 8039},
		{SkillID: "gus_social_manager", Port: 9001},
		{SkillID: "gus_email_handler", Port: 9002},
		{SkillID: "gus_discord_bot", Port: 9003},
	}}
}

// LoadCatalog reads a YAML skill catalog. An empty path yields the default
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load skill catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse skill catalog %s: %w", path, err)
	}

	seen := make(map[string]bool, len(catalog.Skills))
	for i, s := range catalog.Skills {
		if s.SkillID == "" {
			return nil, fmt.Errorf("skill catalog %s: entry %d has no skill_id", path, i)
		}
		if seen[s.SkillID] {
			return nil, fmt.Errorf("skill catalog %s: duplicate skill_id %q", path, s.SkillID)
		}
		seen[s.SkillID] = true
	}
	return &catalog, nil
}
