// Package telemetry is the append-only, key-ordered record store behind the
// sensor, recommendation and health streams.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"limix_backend/apperr"
)

// Stream names one append-only sequence of records
type Stream string

const (
	SensorStream         Stream = "sensor_data"
	RecommendationStream Stream = "fish_type"
	HealthStream         Stream = "fish_health"
)

// Key is assigned by the store on append. Keys strictly increase with
// insertion order.
type Key uint64

// Entry is a stored record with its key
type Entry struct {
	Key       Key
	Stream    Stream
	Payload   json.RawMessage
	CreatedAt time.Time
}

// ErrEmptyPayload is returned by Decode for entries without content
var ErrEmptyPayload = fmt.Errorf("%w: empty payload", apperr.ErrInput)

// Decode unmarshals the entry payload into v
func (e Entry) Decode(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: malformed %s record %d: %w", apperr.ErrInput, e.Stream, e.Key, err)
	}
	return nil
}

// Handler receives entries appended to a subscribed stream
type Handler func(Entry)

// Unsubscribe stops a subscription. It is idempotent and returns once the
// handler is no longer running. It must not be called from the handler.
type Unsubscribe func()

// Store is the telemetry store interface
type Store interface {
	// Append writes record to stream and returns its key
	Append(ctx context.Context, stream Stream, record any) (Key, error)

	// Latest returns up to n most recent entries of stream, most recent last
	Latest(ctx context.Context, stream Stream, n int) ([]Entry, error)

	// Subscribe delivers every entry appended to stream after the call, in
	// key order, from a single goroutine. The subscription ends when ctx is
	// done or the returned Unsubscribe is called.
	Subscribe(ctx context.Context, stream Stream, handler Handler) (Unsubscribe, error)

	Close() error
}

// ErrClosed is returned by a closed store
var ErrClosed = fmt.Errorf("%w: telemetry store closed", apperr.ErrDependency)

// ErrInvalidLimit is returned by Latest for a negative n
var ErrInvalidLimit = errors.New("limit must not be negative")

func encode(record any) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: nil record", apperr.ErrInput)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode record: %w", apperr.ErrInput, err)
	}
	return payload, nil
}

func dependency(op string, stream Stream, err error) error {
	return fmt.Errorf("%w: %s %s: %w", apperr.ErrDependency, op, stream, err)
}
