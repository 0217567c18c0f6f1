package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"limix_backend/apperr"
	"limix_backend/logger"
	"limix_backend/models"
	"limix_backend/recommend"
	"limix_backend/telemetry"
)

// DefaultHeartbeat is how often an idle listener reports that it is alive
const DefaultHeartbeat = time.Second

// Reasons a sensor event was not turned into a recommendation
var (
	ErrEmptySample = errors.New("empty sample")
	ErrNoMatch     = errors.New("no species qualifies")

	// ErrMissingReading marks an event without one of the readings the
	// engine needs. Absent and null fields both count as missing.
	ErrMissingReading = fmt.Errorf("%w: missing reading", apperr.ErrInput)
)

// engineReadings are the fields an event must carry to be recommended on
type engineReadings struct {
	PH          *float64 `json:"ph"`
	Temperature *float64 `json:"temperature"`
	Turbidity   *float64 `json:"turbidity"`
}

func (r engineReadings) missing() []string {
	var names []string
	if r.PH == nil {
		names = append(names, "ph")
	}
	if r.Temperature == nil {
		names = append(names, "temperature")
	}
	if r.Turbidity == nil {
		names = append(names, "turbidity")
	}
	return names
}

// Reactive subscribes to the sensor stream and appends a recommendation for
// every sample the engine matches
type Reactive struct {
	Store     telemetry.Store
	Engine    recommend.Engine
	Observer  Observer
	Heartbeat time.Duration
	Clock     func() time.Time

	handled   atomic.Int64
	readyOnce sync.Once
	ready     chan struct{}
	closeOnce sync.Once
}

// Ready is closed once Run has subscribed to the sensor stream. Samples
// appended after that are all delivered to the listener.
func (r *Reactive) Ready() <-chan struct{} {
	r.readyOnce.Do(func() { r.ready = make(chan struct{}) })
	return r.ready
}

// Run blocks until ctx is done. Events are handled on the subscription's
// goroutine, in the order the store delivers them.
func (r *Reactive) Run(ctx context.Context) error {
	heartbeat := r.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	unsubscribe, err := r.Store.Subscribe(ctx, telemetry.SensorStream, func(e telemetry.Entry) {
		r.HandleEntry(ctx, e)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", telemetry.SensorStream, err)
	}
	defer unsubscribe()
	r.Ready()
	r.closeOnce.Do(func() { close(r.ready) })

	logger.Printf("👂 Listening for new samples on %s\n", telemetry.SensorStream)
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Printf("🛑 Listener stopped after %d events\n", r.handled.Load())
			return nil
		case <-ticker.C:
			logger.Debugf("listener alive, %d events handled\n", r.handled.Load())
		}
	}
}

// HandleEntry processes one sensor event. The returned error says why the
// event produced no recommendation; it has already been logged and counted.
// A panic while handling is recovered and reported the same way.
func (r *Reactive) HandleEntry(ctx context.Context, e telemetry.Entry) (err error) {
	obs := observerOrNop(r.Observer)
	r.handled.Add(1)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while handling event %d: %v", e.Key, p)
			obs.Skipped(ReasonPanic)
			logger.Errorf("⚠️  %v\n", err)
		}
	}()

	var sample models.SensorSample
	if err := e.Decode(&sample); err != nil {
		if errors.Is(err, telemetry.ErrEmptyPayload) {
			return r.skip(obs, e, ReasonEmpty, err)
		}
		return r.skip(obs, e, ReasonMalformed, err)
	}
	if sample.IsZero() {
		return r.skip(obs, e, ReasonEmpty, ErrEmptySample)
	}
	var readings engineReadings
	if err := e.Decode(&readings); err != nil {
		return r.skip(obs, e, ReasonMalformed, err)
	}
	if missing := readings.missing(); len(missing) > 0 {
		return r.skip(obs, e, ReasonMalformed, fmt.Errorf("%w: %s", ErrMissingReading, strings.Join(missing, ", ")))
	}

	result, err := r.Engine.Recommend(sample.PH, sample.Temperature, sample.Turbidity)
	if err != nil {
		return r.skip(obs, e, ReasonInvalid, err)
	}
	if !result.Matched {
		obs.Skipped(ReasonNoMatch)
		logger.Debugf("event %d: no species for pH=%.2f temp=%.2f turbidity=%.2f\n",
			e.Key, sample.PH, sample.Temperature, sample.Turbidity)
		return ErrNoMatch
	}

	rec := result.Recommendation(r.now().Format(models.TimestampLayout))
	if _, err := r.Store.Append(context.WithoutCancel(ctx), telemetry.RecommendationStream, rec); err != nil {
		obs.AppendFailed(telemetry.RecommendationStream)
		return r.skip(obs, e, ReasonPersist, err)
	}
	obs.Recommended(rec)
	logger.Printf("🐟 #%d recommended %s (%s) with %.1f%% confidence\n",
		e.Key, rec.SpeciesName, rec.SpeciesID, rec.Confidence)
	return nil
}

func (r *Reactive) skip(obs Observer, e telemetry.Entry, reason string, err error) error {
	obs.Skipped(reason)
	logger.Warnf("skipping event %d (%s): %v\n", e.Key, reason, err)
	return err
}

func (r *Reactive) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}
