// Package orchestrator runs the ingestion loops: the producer that feeds the
// sensor stream and the reactive listener that turns samples into
// recommendations.
package orchestrator

import (
	"limix_backend/models"
	"limix_backend/telemetry"
)

// Reasons passed to Observer.Skipped
const (
	ReasonEmpty     = "empty"
	ReasonMalformed = "malformed"
	ReasonInvalid   = "invalid"
	ReasonNoMatch   = "no_match"
	ReasonPersist   = "persist"
	ReasonPanic     = "panic"
)

// Observer is notified of ingestion events. Implementations must be safe for
// concurrent use.
type Observer interface {
	SampleProduced()
	AppendFailed(stream telemetry.Stream)
	SinkFailed(sink string)
	Recommended(rec models.Recommendation)
	Skipped(reason string)
}

type nopObserver struct{}

func (nopObserver) SampleProduced() {}
func (nopObserver) AppendFailed(telemetry.Stream) {}
func (nopObserver) SinkFailed(string) {}
func (nopObserver) Recommended(models.Recommendation) {}
func (nopObserver) Skipped(string) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
