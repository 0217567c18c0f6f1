package recommend

import (
	"fmt"
	"math"

	"limix_backend/config"
)

// DefaultMinConfidence is the score below which no species is recommended
const DefaultMinConfidence = 50.0

// Range is an inclusive interval
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies in the range
func (r Range) Contains(v float64) bool {
	return r.Min <= v && v <= r.Max
}

// Window is the optimal range of a parameter and the wider range a species
// tolerates
type Window struct {
	Optimal   Range
	Tolerable Range
}

// Score is 100 inside the optimal range, 0 outside the tolerable range and
// falls linearly in between.
func (w Window) Score(v float64) float64 {
	switch {
	case w.Optimal.Contains(v):
		return 100
	case !w.Tolerable.Contains(v):
		return 0
	case v < w.Optimal.Min:
		return 100 * (v - w.Tolerable.Min) / (w.Optimal.Min - w.Tolerable.Min)
	default:
		return 100 * (w.Tolerable.Max - v) / (w.Tolerable.Max - w.Optimal.Max)
	}
}

// Species is one row of the rule table
type Species struct {
	ID          string
	Name        string
	PH          Window
	Temperature Window
	Turbidity   Window
}

// DefaultSpecies is the built-in rule table, in tie-break order
func DefaultSpecies() []Species {
	return []Species{
		{
			ID: "TL", Name: "Tilapia",
			PH:          Window{Range{6.5, 8.5}, Range{5.0, 10.0}},
			Temperature: Window{Range{25, 30}, Range{12, 40}},
			Turbidity:   Window{Range{0, 25}, Range{0, 100}},
		},
		{
			ID: "CF", Name: "African Catfish",
			PH:          Window{Range{6.5, 8.0}, Range{5.5, 9.5}},
			Temperature: Window{Range{26, 30}, Range{18, 35}},
			Turbidity:   Window{Range{5, 40}, Range{0, 150}},
		},
		{
			ID: "CP", Name: "Common Carp",
			PH:          Window{Range{7.0, 8.5}, Range{6.0, 9.5}},
			Temperature: Window{Range{20, 28}, Range{3, 35}},
			Turbidity:   Window{Range{5, 50}, Range{0, 200}},
		},
		{
			ID: "PG", Name: "Pangasius",
			PH:          Window{Range{6.5, 7.5}, Range{5.5, 9.0}},
			Temperature: Window{Range{26, 30}, Range{20, 34}},
			Turbidity:   Window{Range{0, 25}, Range{0, 80}},
		},
		{
			ID: "MF", Name: "Milkfish",
			PH:          Window{Range{7.5, 8.5}, Range{6.5, 9.5}},
			Temperature: Window{Range{26, 32}, Range{15, 40}},
			Turbidity:   Window{Range{0, 20}, Range{0, 60}},
		},
		{
			ID: "RT", Name: "Rainbow Trout",
			PH:          Window{Range{6.5, 8.0}, Range{6.0, 9.0}},
			Temperature: Window{Range{10, 16}, Range{0, 21}},
			Turbidity:   Window{Range{0, 5}, Range{0, 25}},
		},
	}
}

// RuleEngine scores every species of its table and recommends the best one
type RuleEngine struct {
	species       []Species
	minConfidence float64
}

// NewRuleEngine creates an engine over the given table
func NewRuleEngine(species []Species, minConfidence float64) *RuleEngine {
	return &RuleEngine{species: species, minConfidence: minConfidence}
}

// Default creates an engine over the built-in table
func Default() *RuleEngine {
	return NewRuleEngine(DefaultSpecies(), DefaultMinConfidence)
}

// FromConfig creates an engine from the species table in config, or the
// built-in table when none is configured
func FromConfig(species []config.SpeciesConfig, minConfidence float64) (*RuleEngine, error) {
	if len(species) == 0 {
		return NewRuleEngine(DefaultSpecies(), minConfidence), nil
	}
	table := make([]Species, 0, len(species))
	for _, s := range species {
		entry := Species{
			ID:          s.ID,
			Name:        s.Name,
			PH:          window(s.PHOptimal, s.PHTolerable),
			Temperature: window(s.TemperatureOptimal, s.TemperatureTolerable),
			Turbidity:   window(s.TurbidityOptimal, s.TurbidityTolerable),
		}
		for name, w := range map[string]Window{"ph": entry.PH, "temperature": entry.Temperature, "turbidity": entry.Turbidity} {
			if w.Tolerable.Min > w.Optimal.Min || w.Optimal.Max > w.Tolerable.Max || w.Optimal.Min > w.Optimal.Max {
				return nil, fmt.Errorf("species %s: %s optimal range must lie within the tolerable range", s.ID, name)
			}
		}
		table = append(table, entry)
	}
	return NewRuleEngine(table, minConfidence), nil
}

func window(optimal, tolerable config.Range) Window {
	return Window{
		Optimal:   Range{Min: optimal.Min, Max: optimal.Max},
		Tolerable: Range{Min: tolerable.Min, Max: tolerable.Max},
	}
}

// Recommend implements Engine
func (e *RuleEngine) Recommend(ph, temperature, turbidity float64) (Result, error) {
	if err := Validate(ph, temperature, turbidity); err != nil {
		return NoMatch(), err
	}

	best := NoMatch()
	for _, s := range e.species {
		scores := []float64{s.PH.Score(ph), s.Temperature.Score(temperature), s.Turbidity.Score(turbidity)}

		viable := true
		sum := 0.0
		for _, v := range scores {
			if v == 0 {
				viable = false
				break
			}
			sum += v
		}
		if !viable {
			continue
		}

		confidence := math.Round(sum/float64(len(scores))*10) / 10
		if confidence > best.Confidence {
			best = Match(s.ID, s.Name, confidence)
		}
	}

	if !best.Matched || best.Confidence < e.minConfidence {
		return NoMatch(), nil
	}
	return best, nil
}

var _ Engine = (*RuleEngine)(nil)
