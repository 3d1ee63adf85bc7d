package model

import (
	"math"
	"time"
)

// Category classifies a unit pair and drives its display precision
type Category string

const (
	CategoryVolume   Category = "volume"
	CategoryWeight   Category = "weight"
	CategoryQuantity Category = "quantity"
	CategoryCount    Category = "count"
	CategoryLength   Category = "length"
	CategoryOther    Category = "other"
)

// Categories lists every category a rule may carry, in display order
var Categories = []Category{
	CategoryVolume,
	CategoryWeight,
	CategoryQuantity,
	CategoryCount,
	CategoryLength,
	CategoryOther,
}

// Valid reports whether c belongs to the closed category set
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ConversionRule states "1 FromUnit = ConversionRate ToUnit".
// Rules are owned by the store; the engine only ever reads them.
type ConversionRule struct {
	ID             string    `json:"id"`
	FromUnit       string    `json:"fromUnit"`
	ToUnit         string    `json:"toUnit"`
	ConversionRate float64   `json:"conversionRate"`
	Category       Category  `json:"category"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// Edge is a proposed or existing forward edge between two units
func (r ConversionRule) Edge() Edge {
	return Edge{FromUnit: r.FromUnit, ToUnit: r.ToUnit}
}

// PairKey returns the unordered pair key used for uniqueness checks
func (r ConversionRule) PairKey() PairKey {
	return NewPairKey(r.FromUnit, r.ToUnit)
}

// Validate rejects rules that must never reach graph construction.
// A rule with FromUnit == ToUnit fails with ErrSameUnit, everything else
// malformed fails with ErrMalformedRule.
func (r ConversionRule) Validate() error {
	if r.FromUnit == "" {
		return newValidationError("fromUnit", "must not be empty", ErrMalformedRule)
	}
	if r.ToUnit == "" {
		return newValidationError("toUnit", "must not be empty", ErrMalformedRule)
	}
	if r.FromUnit == r.ToUnit {
		return newValidationError("toUnit", "must differ from fromUnit", ErrSameUnit)
	}
	if math.IsNaN(r.ConversionRate) || math.IsInf(r.ConversionRate, 0) {
		return newValidationError("conversionRate", "must be a finite number", ErrMalformedRule)
	}
	if r.ConversionRate <= 0 {
		return newValidationError("conversionRate", "must be positive", ErrMalformedRule)
	}
	if !r.Category.Valid() {
		return newValidationError("category", "unknown category "+string(r.Category), ErrMalformedRule)
	}
	return nil
}

// Edge is a directed unit pair without a rate, as proposed to the cycle detector
type Edge struct {
	FromUnit string `json:"fromUnit"`
	ToUnit   string `json:"toUnit"`
}

// PairKey identifies an unordered unit pair
type PairKey struct {
	Lo string
	Hi string
}

// NewPairKey orders a and b so that (a, b) and (b, a) share a key
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// ConversionPath is the result of a path query
type ConversionPath struct {
	FromUnit  string   `json:"fromUnit"`
	ToUnit    string   `json:"toUnit"`
	Path      []string `json:"path"`
	TotalRate float64  `json:"totalRate"`
	Steps     int      `json:"steps"`
	Found     bool     `json:"found"`
}

// NotFoundPath returns the canonical "no route" result
func NotFoundPath(from, to string) ConversionPath {
	return ConversionPath{
		FromUnit: from,
		ToUnit:   to,
		Path:     []string{},
	}
}

// IdentityPath returns the result for a query where both units are the same
func IdentityPath(unit string) ConversionPath {
	return ConversionPath{
		FromUnit:  unit,
		ToUnit:    unit,
		Path:      []string{unit},
		TotalRate: 1,
		Steps:     0,
		Found:     true,
	}
}
