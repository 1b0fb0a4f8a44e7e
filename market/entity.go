package market

import (
	"fmt"
	"strings"
)

// Entity is one configured dataset: a symbol, index code, currency pair,
// commodity code or macro series id, plus its category and the provider
// that serves it.
type Entity struct {
	ID       string   `json:"id" yaml:"id"`
	Category Category `json:"category" yaml:"category"`
	Provider string   `json:"provider" yaml:"provider"`
}

// Key returns "category/id", the identity used by the store and the journal.
func (e Entity) Key() string {
	return string(e.Category) + "/" + e.ID
}

func (e Entity) String() string { return e.Key() }

// Validate checks the entity is usable by the pipeline.
func (e Entity) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("entity id is required")
	}
	if strings.ContainsAny(e.ID, `/\`) {
		return fmt.Errorf("entity id %q must not contain path separators", e.ID)
	}
	if _, err := ParseCategory(string(e.Category)); err != nil {
		return fmt.Errorf("entity %s: %w", e.ID, err)
	}
	if strings.TrimSpace(e.Provider) == "" {
		return fmt.Errorf("entity %s: provider is required", e.ID)
	}
	return nil
}
