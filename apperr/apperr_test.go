package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := map[string]struct {
		err  error
		want Kind
	}{
		"nil":              {nil, KindNone},
		"input":            {fmt.Errorf("%w: bad reading", ErrInput), KindInput},
		"dependency":       {fmt.Errorf("store: %w", ErrDependency), KindDependency},
		"model not loaded": {fmt.Errorf("%w: %w", ErrModelNotLoaded, ErrDependency), KindModelNotLoaded},
		"other":            {errors.New("boom"), KindInternal},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
