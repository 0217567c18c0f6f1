package health

import (
	"context"
	"fmt"
	"sync"

	"limix_backend/apperr"
)

// Labels is the scorer's output order
var Labels = []string{"FreshFish", "InfectedFish"}

// HealthyLabel is the label that maps to a healthy status
const HealthyLabel = "FreshFish"

// Scorer returns one probability per entry of Labels. Implementations must be
// safe for concurrent use; scoring calls are not serialized.
type Scorer interface {
	Score(ctx context.Context, input Tensor) ([]float64, error)
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(ctx context.Context, input Tensor) ([]float64, error)

// Score implements Scorer
func (f ScorerFunc) Score(ctx context.Context, input Tensor) ([]float64, error) {
	return f(ctx, input)
}

// Loader creates the scorer
type Loader func(ctx context.Context) (Scorer, error)

// Model loads its scorer lazily, at most once per process
type Model struct {
	load Loader

	mu     sync.Mutex
	scorer Scorer
	loads  int
}

// NewModel creates a model that is loaded on first use
func NewModel(load Loader) *Model {
	return &Model{load: load}
}

// EnsureLoaded returns the scorer, loading it if no load has succeeded yet.
// Concurrent callers wait for the load in progress. A failed load is not
// remembered: the next caller tries again.
func (m *Model) EnsureLoaded(ctx context.Context) (Scorer, error) {
	s, _, err := m.ensure(ctx)
	return s, err
}

func (m *Model) ensure(ctx context.Context) (s Scorer, loaded bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scorer != nil {
		return m.scorer, false, nil
	}
	if m.load == nil {
		return nil, false, fmt.Errorf("%w: no loader configured", apperr.ErrModelNotLoaded)
	}

	m.loads++
	s, err = m.load(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %w", apperr.ErrModelNotLoaded, err)
	}
	if s == nil {
		return nil, true, fmt.Errorf("%w: loader returned no scorer", apperr.ErrModelNotLoaded)
	}
	m.scorer = s
	return s, true, nil
}

// Loaded reports whether the scorer is ready
func (m *Model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scorer != nil
}

// Loads is the number of load attempts so far
func (m *Model) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}
