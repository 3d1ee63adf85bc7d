// Package rounding maps unit categories to display precision.
package rounding

import (
	"math"
	"strconv"

	"github.com/ritzau/unitconv/pkg/model"
)

// DefaultPrecision applies to any category without an explicit entry
const DefaultPrecision = 2

var precisions = map[model.Category]int{
	model.CategoryVolume:   1,
	model.CategoryWeight:   0,
	model.CategoryQuantity: 0,
	model.CategoryCount:    0,
}

// Precision returns the number of decimal places used for a category
func Precision(category model.Category) int {
	if p, ok := precisions[category]; ok {
		return p
	}
	return DefaultPrecision
}

// Round rounds half away from zero at the category's precision
func Round(value float64, category model.Category) float64 {
	return roundTo(value, Precision(category))
}

// Format renders the rounded value with exactly Precision(category) decimals
func Format(value float64, category model.Category) string {
	p := Precision(category)
	return strconv.FormatFloat(roundTo(value, p), 'f', p, 64)
}

func roundTo(value float64, places int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	scale := math.Pow10(places)
	scaled := value * scale
	if math.IsInf(scaled, 0) || math.Abs(scaled) >= 1<<53 {
		// already integral at this precision
		return value
	}
	r := math.Round(scaled) / scale
	if r == 0 {
		// -0 would otherwise format as "-0.0"
		return 0
	}
	return r
}
