// Package simulator produces synthetic water-quality readings. It stands in
// for the sensor hardware.
package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"limix_backend/config"
	"limix_backend/models"
)

// Field names used in the bounds table and in config overrides
const (
	FieldPH              = "ph"
	FieldTemperature     = "temperature"
	FieldTurbidity       = "turbidity"
	FieldDissolvedOxygen = "do"
	FieldConductivity    = "ec"
	FieldAmmonia         = "ammonia"
)

// Fields lists the simulated readings in output order
var Fields = []string{
	FieldPH, FieldTemperature, FieldTurbidity,
	FieldDissolvedOxygen, FieldConductivity, FieldAmmonia,
}

// Bound is the window [Mid+Low, Mid+High] a reading is drawn from
type Bound = config.Bound

// DefaultBounds returns the reference pond profile
func DefaultBounds() map[string]Bound {
	return map[string]Bound{
		FieldPH:              {Mid: 7.4, Low: -0.2, High: 0.2, Decimals: 2},
		FieldTemperature:     {Mid: 27.5, Low: -1.0, High: 1.0, Decimals: 2},
		FieldTurbidity:       {Mid: 4.5, Low: -0.8, High: 0.8, Decimals: 2},
		FieldDissolvedOxygen: {Mid: 6.2, Low: -0.7, High: 0.5, Decimals: 2},
		FieldConductivity:    {Mid: 1100, Low: -150, High: 150, Decimals: 1},
		FieldAmmonia:         {Mid: 0.012, Low: -0.005, High: 0.008, Decimals: 3},
	}
}

// Generator draws readings from a seedable random source
type Generator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	bounds map[string]Bound
	now    func() time.Time
}

// Option configures a Generator
type Option func(*Generator)

// WithBounds overrides the bounds of the given fields
func WithBounds(overrides map[string]Bound) Option {
	return func(g *Generator) {
		for field, b := range overrides {
			g.bounds[field] = b
		}
	}
}

// WithClock replaces the wall clock used for timestamps
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewSeeded creates a deterministic generator
func NewSeeded(seed int64, opts ...Option) *Generator {
	g := &Generator{
		rng:    rand.New(rand.NewSource(seed)),
		bounds: DefaultBounds(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// New creates a generator seeded from the clock
func New(opts ...Option) *Generator {
	return NewSeeded(time.Now().UnixNano(), opts...)
}

// FromConfig builds a generator from the simulator section. A zero seed means
// seed from the clock.
func FromConfig(cfg config.SimulatorConfig) (*Generator, error) {
	for field := range cfg.Bounds {
		if _, ok := DefaultBounds()[field]; !ok {
			return nil, fmt.Errorf("unknown simulator field: %s", field)
		}
	}
	if cfg.Seed != 0 {
		return NewSeeded(cfg.Seed, WithBounds(cfg.Bounds)), nil
	}
	return New(WithBounds(cfg.Bounds)), nil
}

// Bounds returns a copy of the bounds in use
func (g *Generator) Bounds() map[string]Bound {
	out := make(map[string]Bound, len(g.bounds))
	for k, v := range g.bounds {
		out[k] = v
	}
	return out
}

// Generate returns one reading with every field drawn independently
func (g *Generator) Generate() models.SensorSample {
	g.mu.Lock()
	defer g.mu.Unlock()

	return models.SensorSample{
		PH:                     g.draw(FieldPH),
		Temperature:            g.draw(FieldTemperature),
		Turbidity:              g.draw(FieldTurbidity),
		DissolvedOxygen:        g.draw(FieldDissolvedOxygen),
		ElectricalConductivity: g.draw(FieldConductivity),
		Ammonia:                g.draw(FieldAmmonia),
		Timestamp:              g.now().Format(models.TimestampLayout),
	}
}

func (g *Generator) draw(field string) float64 {
	b := g.bounds[field]
	v := b.Mid + b.Low + g.rng.Float64()*(b.High-b.Low)
	return Round(v, b.Decimals)
}

// Round rounds v to the given number of decimals
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
