package orchestrator

import (
	"context"
	"errors"
	"time"

	"limix_backend/logger"
	"limix_backend/loop"
	"limix_backend/models"
	"limix_backend/telemetry"
)

// DefaultInterval is the producer's pause between samples
const DefaultInterval = 5 * time.Second

// SampleSource produces sensor samples. The simulator implements it; a
// hardware reader could replace it.
type SampleSource interface {
	Generate() models.SensorSample
}

// SampleSink receives each sample after it has been stored
type SampleSink interface {
	Name() string
	WriteSample(ctx context.Context, key telemetry.Key, sample models.SensorSample) error
}

// Producer appends a new sample to the sensor stream every Interval
type Producer struct {
	Source   SampleSource
	Store    telemetry.Store
	Interval time.Duration
	Sinks    []SampleSink
	Observer Observer
}

// Run produces samples until ctx is done. The iteration in flight when ctx is
// cancelled completes first, and Run then returns nil.
func (p *Producer) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	obs := observerOrNop(p.Observer)

	logger.Printf("🚀 Producer started (interval %s)\n", interval)
	count, err := loop.Start(ctx, 0, func(ctx context.Context, n int) (int, loop.Next) {
		n++
		p.produce(ctx, obs, n)
		return n, loop.Continue(interval)
	})
	logger.Printf("🛑 Producer stopped after %d samples\n", count)

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (p *Producer) produce(ctx context.Context, obs Observer, n int) {
	sample := p.Source.Generate()

	// a cancelled run must not abort the write in flight
	writeCtx := context.WithoutCancel(ctx)

	key, err := p.Store.Append(writeCtx, telemetry.SensorStream, sample)
	if err != nil {
		obs.AppendFailed(telemetry.SensorStream)
		logger.Errorf("#%d failed to append sample: %v\n", n, err)
		return
	}
	obs.SampleProduced()
	logger.Printf("📤 #%d pH=%.2f temp=%.2f°C turbidity=%.2f NTU DO=%.2f mg/L EC=%.1f µS/cm NH3=%.3f mg/L\n",
		n, sample.PH, sample.Temperature, sample.Turbidity,
		sample.DissolvedOxygen, sample.ElectricalConductivity, sample.Ammonia)

	for _, sink := range p.Sinks {
		if err := sink.WriteSample(writeCtx, key, sample); err != nil {
			obs.SinkFailed(sink.Name())
			logger.Warnf("#%d %s sink failed: %v\n", n, sink.Name(), err)
		}
	}
}
