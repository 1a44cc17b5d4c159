// Package gamification holds the static achievement catalog and the
// threshold rules that decide when an achievement unlocks. The catalog is
// read-only at runtime; unlock bookkeeping lives in the store.
package gamification

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Achievement is one entry in the static catalog.
type Achievement struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Points      int    `yaml:"points" json:"points"`
	Icon        string `yaml:"icon" json:"icon"`
}

// Catalog is the loaded, validated achievement catalog.
type Catalog struct {
	achievements []Achievement
	byID         map[string]Achievement
}

type catalogFile struct {
	Achievements []Achievement `yaml:"achievements"`
}

// LoadCatalog parses the embedded catalog with strict field checking.
// Duplicate or empty ids are rejected.
func LoadCatalog() (*Catalog, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(catalogYAML))
	decoder.KnownFields(true)

	var file catalogFile
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse achievement catalog: %w", err)
	}

	c := &Catalog{
		achievements: file.Achievements,
		byID:         make(map[string]Achievement, len(file.Achievements)),
	}
	for _, a := range file.Achievements {
		if a.ID == "" {
			return nil, fmt.Errorf("achievement catalog entry missing id (name %q)", a.Name)
		}
		if a.Points < 0 {
			return nil, fmt.Errorf("achievement %s has negative points", a.ID)
		}
		if _, exists := c.byID[a.ID]; exists {
			return nil, fmt.Errorf("duplicate achievement id %s in catalog", a.ID)
		}
		c.byID[a.ID] = a
	}
	return c, nil
}

// Get returns the catalog entry for id.
func (c *Catalog) Get(id string) (Achievement, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// List returns every catalog entry in file order.
func (c *Catalog) List() []Achievement {
	out := make([]Achievement, len(c.achievements))
	copy(out, c.achievements)
	return out
}
