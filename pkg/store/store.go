// Package store persists conversion rules.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/ritzau/unitconv/pkg/model"
)

var (
	// ErrNotFound is returned when no rule has the requested ID
	ErrNotFound = errors.New("conversion rule not found")

	// ErrDuplicateRule is returned when the unordered unit pair already has a rule
	ErrDuplicateRule = errors.New("a rule for this unit pair already exists")
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Category model.Category
	Search   string // case-insensitive substring of either unit
}

// Match reports whether a rule passes the filter
func (f Filter) Match(r model.ConversionRule) bool {
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(r.FromUnit), needle) ||
		strings.Contains(strings.ToLower(r.ToUnit), needle)
}

// Store owns conversion rules. Implementations return rules in insertion
// order, which the graph algorithms rely on for deterministic results.
//
// Create and Update enforce unordered pair uniqueness but do not check for
// cycles; callers validate first and must serialize validate-then-write.
type Store interface {
	// List returns rules matching the filter
	List(ctx context.Context, f Filter) ([]model.ConversionRule, error)

	// All returns a snapshot of every rule
	All(ctx context.Context) ([]model.ConversionRule, error)

	// Get returns one rule
	Get(ctx context.Context, id string) (model.ConversionRule, error)

	// Create assigns an ID and timestamps and stores the rule
	Create(ctx context.Context, r model.ConversionRule) (model.ConversionRule, error)

	// Update replaces the rule with r.ID, keeping its insertion position
	Update(ctx context.Context, r model.ConversionRule) (model.ConversionRule, error)

	// Delete removes a rule
	Delete(ctx context.Context, id string) error

	// Version increases on every successful write
	Version(ctx context.Context) (int64, error)

	// Close releases resources
	Close() error
}
