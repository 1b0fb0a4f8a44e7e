// Package market holds the data model shared by the sync engine: entities,
// keyed records, ordered series and per-entity sync state.
package market

import (
	"fmt"
	"strings"
)

// Category classifies an entity and decides which pipeline phases apply.
type Category string

const (
	Stock     Category = "stock"
	Index     Category = "index"
	FX        Category = "fx"
	Crypto    Category = "crypto"
	Commodity Category = "commodity"
	Macro     Category = "macro"
	Snapshot  Category = "snapshot"
)

// Categories lists every known category in a stable order.
var Categories = []Category{Stock, Index, FX, Crypto, Commodity, Macro, Snapshot}

// ParseCategory is case-insensitive.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// IsPrice reports whether records of this category carry open/high/low/close/volume
// and therefore get technical indicators.
func (c Category) IsPrice() bool {
	switch c {
	case Stock, Index, FX, Crypto, Commodity:
		return true
	}
	return false
}

// IsSnapshot reports whether the dataset is replaced wholesale on refresh.
func (c Category) IsSnapshot() bool { return c == Snapshot }

func (c Category) String() string { return string(c) }
