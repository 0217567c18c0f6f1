package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"limix_backend/apperr"
	"limix_backend/models"
	"limix_backend/recommend"
	"limix_backend/telemetry"
)

type recordingObserver struct {
	mu          sync.Mutex
	produced    int
	failed      map[telemetry.Stream]int
	sinkFailed  map[string]int
	recommended []models.Recommendation
	skipped     map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		failed:     map[telemetry.Stream]int{},
		sinkFailed: map[string]int{},
		skipped:    map[string]int{},
	}
}

func (o *recordingObserver) SampleProduced() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.produced++
}

func (o *recordingObserver) AppendFailed(s telemetry.Stream) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[s]++
}

func (o *recordingObserver) SinkFailed(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinkFailed[name]++
}

func (o *recordingObserver) Recommended(rec models.Recommendation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recommended = append(o.recommended, rec)
}

func (o *recordingObserver) Skipped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped[reason]++
}

func (o *recordingObserver) skips(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.skipped[reason]
}

// readyStore closes ready once a subscription is registered
type readyStore struct {
	telemetry.Store
	ready chan struct{}
	once  sync.Once
}

func (s *readyStore) Subscribe(ctx context.Context, stream telemetry.Stream, h telemetry.Handler) (telemetry.Unsubscribe, error) {
	unsub, err := s.Store.Subscribe(ctx, stream, h)
	s.once.Do(func() { close(s.ready) })
	return unsub, err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var fixedClock = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }

func startReactive(t *testing.T, r *Reactive) (stop func()) {
	t.Helper()
	store := &readyStore{Store: r.Store, ready: make(chan struct{})}
	r.Store = store

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-store.ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("listener never subscribed")
	}

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("listener returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("listener did not stop")
		}
	}
}

func TestReactiveRecommendsForTilapiaReading(t *testing.T) {
	store := telemetry.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	var calls [][3]float64
	var mu sync.Mutex
	engine := recommend.Func(func(ph, temperature, turbidity float64) (recommend.Result, error) {
		mu.Lock()
		calls = append(calls, [3]float64{ph, temperature, turbidity})
		mu.Unlock()
		return recommend.Match("TL", "Tilapia", 91.0), nil
	})

	stop := startReactive(t, &Reactive{Store: store, Engine: engine, Heartbeat: 10 * time.Millisecond, Clock: fixedClock})
	defer stop()

	sample := models.SensorSample{PH: 7.4, Temperature: 27.5, Turbidity: 4.5, DissolvedOxygen: 6.2, ElectricalConductivity: 1100, Ammonia: 0.012, Timestamp: "2025-03-01T09:59:59Z"}
	if _, err := store.Append(ctx, telemetry.SensorStream, sample); err != nil {
		t.Fatalf("append: %v", err)
	}

	waitFor(t, "recommendation", func() bool { return store.Len(telemetry.RecommendationStream) == 1 })

	rec, ok, err := telemetry.LatestRecommendation(ctx, store)
	if err != nil || !ok {
		t.Fatalf("latest recommendation: ok=%t err=%v", ok, err)
	}
	want := models.Recommendation{SpeciesID: "TL", SpeciesName: "Tilapia", Confidence: 91.0, Timestamp: "2025-03-01T10:00:00Z"}
	if rec != want {
		t.Fatalf("expected %+v, got %+v", want, rec)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 || calls[0] != [3]float64{7.4, 27.5, 4.5} {
		t.Fatalf("engine called with %v", calls)
	}
}

func TestReactiveSkipsBadEventsAndKeepsListening(t *testing.T) {
	store := telemetry.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	obs := newRecordingObserver()

	stop := startReactive(t, &Reactive{Store: store, Engine: recommend.Default(), Observer: obs, Heartbeat: 10 * time.Millisecond, Clock: fixedClock})
	defer stop()

	store.Append(ctx, telemetry.SensorStream, map[string]any{})
	store.Append(ctx, telemetry.SensorStream, map[string]string{"ph": "acidic"})
	store.Append(ctx, telemetry.SensorStream, models.SensorSample{PH: 7.4, Temperature: 27.5, Turbidity: 4.5})

	waitFor(t, "recommendation", func() bool { return store.Len(telemetry.RecommendationStream) == 1 })

	if n := obs.skips(ReasonEmpty); n != 1 {
		t.Fatalf("expected 1 empty skip, got %d", n)
	}
	if n := obs.skips(ReasonMalformed); n != 1 {
		t.Fatalf("expected 1 malformed skip, got %d", n)
	}

	// still subscribed after the bad events
	store.Append(ctx, telemetry.SensorStream, models.SensorSample{PH: 7.0, Temperature: 14, Turbidity: 2})
	waitFor(t, "second recommendation", func() bool { return store.Len(telemetry.RecommendationStream) == 2 })

	rec, _, _ := telemetry.LatestRecommendation(ctx, store)
	if rec.SpeciesID != "RT" {
		t.Fatalf("expected rainbow trout, got %+v", rec)
	}
}

func TestHandleEntry(t *testing.T) {
	ctx := context.Background()
	entry := func(payload string) telemetry.Entry {
		return telemetry.Entry{Key: 1, Stream: telemetry.SensorStream, Payload: []byte(payload)}
	}
	valid := `{"ph":7.4,"temperature":27.5,"turbidity":4.5}`

	cases := []struct {
		name    string
		payload string
		engine  recommend.Engine
		reason  string
		wantErr error
		appends int
	}{
		{"empty payload", ``, recommend.Default(), ReasonEmpty, telemetry.ErrEmptyPayload, 0},
		{"null payload", `null`, recommend.Default(), ReasonEmpty, telemetry.ErrEmptyPayload, 0},
		{"no readings", `{}`, recommend.Default(), ReasonEmpty, ErrEmptySample, 0},
		{"malformed", `{"ph":`, recommend.Default(), ReasonMalformed, apperr.ErrInput, 0},
		{"missing turbidity", `{"ph":7.4,"temperature":27.5}`, recommend.Default(), ReasonMalformed, ErrMissingReading, 0},
		{"null temperature", `{"ph":7.4,"temperature":null,"turbidity":4.5}`, recommend.Default(), ReasonMalformed, ErrMissingReading, 0},
		{"only extra readings", `{"do":6.2,"ec":1100}`, recommend.Default(), ReasonMalformed, ErrMissingReading, 0},
		{"zero readings present", `{"ph":7.0,"temperature":0,"turbidity":0}`, recommend.Default(), ReasonNoMatch, ErrNoMatch, 0},
		{"out of range", `{"ph":19,"temperature":27.5,"turbidity":4.5}`, recommend.Default(), ReasonInvalid, recommend.ErrOutOfRange, 0},
		{"no match", `{"ph":7.0,"temperature":45,"turbidity":10}`, recommend.Default(), ReasonNoMatch, ErrNoMatch, 0},
		{"match", valid, recommend.Default(), "", nil, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := telemetry.NewMemoryStore()
			defer store.Close()
			obs := newRecordingObserver()
			r := &Reactive{Store: store, Engine: tc.engine, Observer: obs, Clock: fixedClock}

			err := r.HandleEntry(ctx, entry(tc.payload))
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.reason != "" && obs.skips(tc.reason) != 1 {
				t.Fatalf("expected one %s skip, got %v", tc.reason, obs.skipped)
			}
			if n := store.Len(telemetry.RecommendationStream); n != tc.appends {
				t.Fatalf("expected %d appends, got %d", tc.appends, n)
			}
		})
	}
}

func TestHandleEntryRecoversFromPanic(t *testing.T) {
	store := telemetry.NewMemoryStore()
	defer store.Close()
	obs := newRecordingObserver()
	r := &Reactive{
		Store:    store,
		Observer: obs,
		Engine: recommend.Func(func(float64, float64, float64) (recommend.Result, error) {
			panic("rule table corrupted")
		}),
	}

	err := r.HandleEntry(context.Background(), telemetry.Entry{Key: 3, Payload: []byte(`{"ph":7,"temperature":27,"turbidity":4}`)})
	if err == nil {
		t.Fatalf("expected error from recovered panic")
	}
	if obs.skips(ReasonPanic) != 1 {
		t.Fatalf("expected panic skip, got %v", obs.skipped)
	}
}

type failingStore struct {
	telemetry.Store
	mu    sync.Mutex
	fails int
}

func (s *failingStore) Append(ctx context.Context, stream telemetry.Stream, record any) (telemetry.Key, error) {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return 0, apperr.ErrDependency
	}
	s.mu.Unlock()
	return s.Store.Append(ctx, stream, record)
}

func TestHandleEntryPersistFailure(t *testing.T) {
	mem := telemetry.NewMemoryStore()
	defer mem.Close()
	obs := newRecordingObserver()
	r := &Reactive{Store: &failingStore{Store: mem, fails: 1}, Engine: recommend.Default(), Observer: obs}

	err := r.HandleEntry(context.Background(), telemetry.Entry{Key: 1, Payload: []byte(`{"ph":7.4,"temperature":27.5,"turbidity":4.5}`)})
	if !errors.Is(err, apperr.ErrDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if obs.failed[telemetry.RecommendationStream] != 1 || obs.skips(ReasonPersist) != 1 {
		t.Fatalf("expected persist failure to be counted, got %+v", obs)
	}
}

type counterSource struct {
	mu sync.Mutex
	n  int
}

func (s *counterSource) Generate() models.SensorSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return models.SensorSample{PH: 7, Temperature: float64(20 + s.n), Turbidity: 4}
}

type sinkFunc struct {
	name string
	fn   func(telemetry.Key, models.SensorSample) error
}

func (s sinkFunc) Name() string { return s.name }

func (s sinkFunc) WriteSample(_ context.Context, key telemetry.Key, sample models.SensorSample) error {
	return s.fn(key, sample)
}

func TestProducerAppendsUntilCancelled(t *testing.T) {
	mem := telemetry.NewMemoryStore()
	defer mem.Close()
	obs := newRecordingObserver()

	var mu sync.Mutex
	var mirrored []telemetry.Key
	good := sinkFunc{name: "mirror", fn: func(k telemetry.Key, _ models.SensorSample) error {
		mu.Lock()
		defer mu.Unlock()
		mirrored = append(mirrored, k)
		return nil
	}}
	bad := sinkFunc{name: "broken", fn: func(telemetry.Key, models.SensorSample) error {
		return errors.New("unreachable")
	}}

	p := &Producer{
		Source:   &counterSource{},
		Store:    &failingStore{Store: mem, fails: 1},
		Interval: 5 * time.Millisecond,
		Sinks:    []SampleSink{good, bad},
		Observer: obs,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, "three samples", func() bool { return mem.Len(telemetry.SensorStream) >= 3 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected graceful stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("producer did not stop")
	}

	stored := mem.Len(telemetry.SensorStream)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.failed[telemetry.SensorStream] != 1 {
		t.Fatalf("expected the first append to fail once, got %v", obs.failed)
	}
	if obs.produced != stored {
		t.Fatalf("produced %d but stored %d", obs.produced, stored)
	}
	if obs.sinkFailed["broken"] != stored {
		t.Fatalf("expected broken sink to fail for every stored sample, got %v", obs.sinkFailed)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(mirrored) != stored {
		t.Fatalf("mirrored %d samples, stored %d", len(mirrored), stored)
	}
	for i := 1; i < len(mirrored); i++ {
		if mirrored[i] <= mirrored[i-1] {
			t.Fatalf("mirror keys out of order: %v", mirrored)
		}
	}
}

type runnerFunc func(context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRunAllCancelsSiblingsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	stopped := make(chan struct{})

	err := RunAll(context.Background(), map[Mode]Runner{
		ModeProducer: runnerFunc(func(context.Context) error { return boom }),
		ModeReactive: runnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	select {
	case <-stopped:
	default:
		t.Fatalf("sibling loop was not cancelled")
	}
}

type slowSubscribeStore struct {
	telemetry.Store
	delay time.Duration
}

func (s slowSubscribeStore) Subscribe(ctx context.Context, stream telemetry.Stream, h telemetry.Handler) (telemetry.Unsubscribe, error) {
	time.Sleep(s.delay)
	return s.Store.Subscribe(ctx, stream, h)
}

func TestRunAllListenerSeesFirstSample(t *testing.T) {
	mem := telemetry.NewMemoryStore()
	defer mem.Close()

	var mu sync.Mutex
	var temperatures []float64
	engine := recommend.Func(func(ph, temperature, turbidity float64) (recommend.Result, error) {
		mu.Lock()
		temperatures = append(temperatures, temperature)
		mu.Unlock()
		return recommend.Match("TL", "Tilapia", 91.0), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunAll(ctx, map[Mode]Runner{
			ModeProducer: &Producer{Source: &counterSource{}, Store: mem, Interval: time.Hour},
			ModeReactive: &Reactive{
				Store:     slowSubscribeStore{Store: mem, delay: 50 * time.Millisecond},
				Engine:    engine,
				Heartbeat: 10 * time.Millisecond,
				Clock:     fixedClock,
			},
		})
	}()

	waitFor(t, "recommendation", func() bool { return mem.Len(telemetry.RecommendationStream) == 1 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected graceful stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("loops did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(temperatures) != 1 || temperatures[0] != 21 {
		t.Fatalf("expected the first sample to be recommended, engine saw %v", temperatures)
	}
}

func TestRunAllStartsOthersWhenListenerFails(t *testing.T) {
	mem := telemetry.NewMemoryStore()
	mem.Close()
	started := make(chan struct{})

	err := RunAll(context.Background(), map[Mode]Runner{
		ModeReactive: &Reactive{Store: mem, Engine: recommend.Default()},
		ModeProducer: runnerFunc(func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		}),
	})
	if !errors.Is(err, telemetry.ErrClosed) {
		t.Fatalf("expected subscribe failure, got %v", err)
	}
	select {
	case <-started:
	default:
		t.Fatalf("producer was never started")
	}
}
