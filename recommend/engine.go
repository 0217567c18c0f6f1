// Package recommend maps water parameters to the fish species best suited to
// them.
package recommend

import (
	"fmt"
	"math"

	"limix_backend/apperr"
	"limix_backend/models"
)

var (
	// ErrNonNumeric is returned for NaN or infinite readings
	ErrNonNumeric = fmt.Errorf("%w: non-numeric reading", apperr.ErrInput)

	// ErrOutOfRange is returned for readings outside physical limits
	ErrOutOfRange = fmt.Errorf("%w: reading out of physical range", apperr.ErrInput)
)

// Physical limits a sensor can report
var (
	PHLimits          = Range{Min: 0, Max: 14}
	TemperatureLimits = Range{Min: -5, Max: 50}
	TurbidityLimits   = Range{Min: 0, Max: 1000}
)

// Result is either a matched species or no match
type Result struct {
	Matched     bool
	SpeciesID   string
	SpeciesName string
	Confidence  float64
}

// NoMatch is the result for readings no species qualifies for
func NoMatch() Result {
	return Result{}
}

// Match builds a matched result
func Match(id, name string, confidence float64) Result {
	return Result{Matched: true, SpeciesID: id, SpeciesName: name, Confidence: confidence}
}

// Recommendation converts a matched result into the persisted record
func (r Result) Recommendation(timestamp string) models.Recommendation {
	return models.Recommendation{
		SpeciesID:   r.SpeciesID,
		SpeciesName: r.SpeciesName,
		Confidence:  r.Confidence,
		Timestamp:   timestamp,
	}
}

// Engine recommends a species for a reading. Implementations must be pure.
type Engine interface {
	Recommend(ph, temperature, turbidity float64) (Result, error)
}

// Func adapts a function to Engine
type Func func(ph, temperature, turbidity float64) (Result, error)

// Recommend implements Engine
func (f Func) Recommend(ph, temperature, turbidity float64) (Result, error) {
	return f(ph, temperature, turbidity)
}

// Validate checks that the readings are numbers within physical limits
func Validate(ph, temperature, turbidity float64) error {
	readings := []struct {
		name   string
		value  float64
		limits Range
	}{
		{"ph", ph, PHLimits},
		{"temperature", temperature, TemperatureLimits},
		{"turbidity", turbidity, TurbidityLimits},
	}
	for _, r := range readings {
		if math.IsNaN(r.value) || math.IsInf(r.value, 0) {
			return fmt.Errorf("%w: %s=%v", ErrNonNumeric, r.name, r.value)
		}
		if !r.limits.Contains(r.value) {
			return fmt.Errorf("%w: %s=%v not within [%v, %v]", ErrOutOfRange, r.name, r.value, r.limits.Min, r.limits.Max)
		}
	}
	return nil
}
