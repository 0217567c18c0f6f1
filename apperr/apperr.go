// Package apperr holds the error kinds shared by the ingestion and inference
// pipelines. Stage specific errors wrap one of these so callers can tell a bad
// request from a broken deployment with errors.Is.
package apperr

import "errors"

var (
	// ErrInput marks a problem with the caller's data (missing or invalid image,
	// malformed sample, out of range reading).
	ErrInput = errors.New("invalid input")

	// ErrDependency marks a failure of a collaborator: store, scorer, sink.
	ErrDependency = errors.New("dependency failure")

	// ErrModelNotLoaded is returned when the health model could not be loaded.
	// It indicates a configuration problem, not a per request one.
	ErrModelNotLoaded = errors.New("fish health model not loaded")
)

// Kind names the class of err.
type Kind string

const (
	KindNone           Kind = ""
	KindInput          Kind = "input"
	KindDependency     Kind = "dependency"
	KindModelNotLoaded Kind = "model_not_loaded"
	KindInternal       Kind = "internal"
)

// KindOf classifies err. ErrModelNotLoaded takes precedence over the other kinds.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrModelNotLoaded):
		return KindModelNotLoaded
	case errors.Is(err, ErrInput):
		return KindInput
	case errors.Is(err, ErrDependency):
		return KindDependency
	default:
		return KindInternal
	}
}
