package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"limix_backend/apperr"
	"limix_backend/models"
)

func TestMemoryStoreAppendAndLatest(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	var keys []Key
	for i := 1; i <= 5; i++ {
		key, err := store.Append(ctx, SensorStream, models.SensorSample{PH: float64(i)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		keys = append(keys, key)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			t.Fatalf("keys must strictly increase: %v", keys)
		}
	}

	entries, err := store.Latest(ctx, SensorStream, 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key != keys[3] || entries[1].Key != keys[4] {
		t.Fatalf("expected most recent last, got keys %d, %d", entries[0].Key, entries[1].Key)
	}

	var last models.SensorSample
	if err := entries[1].Decode(&last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.PH != 5 {
		t.Fatalf("expected ph 5, got %f", last.PH)
	}

	all, err := store.Latest(ctx, SensorStream, 100)
	if err != nil || len(all) != 5 {
		t.Fatalf("expected 5 entries, got %d (%v)", len(all), err)
	}
	if other, _ := store.Latest(ctx, HealthStream, 10); len(other) != 0 {
		t.Fatalf("streams must be independent, got %d health entries", len(other))
	}
}

func TestMemoryStoreRejectsInvalidInput(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	if _, err := store.Append(context.Background(), SensorStream, nil); !errors.Is(err, apperr.ErrInput) {
		t.Fatalf("expected ErrInput for nil record, got %v", err)
	}
	if _, err := store.Latest(context.Background(), SensorStream, -1); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestMemoryStoreSubscribeDeliversInKeyOrder(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Append(ctx, SensorStream, models.SensorSample{PH: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}

	var mu sync.Mutex
	var got []Key
	received := make(chan struct{}, 100)
	unsubscribe, err := store.Subscribe(ctx, SensorStream, func(e Entry) {
		mu.Lock()
		got = append(got, e.Key)
		mu.Unlock()
		received <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Append(ctx, SensorStream, models.SensorSample{PH: 7})
		}()
	}
	wg.Wait()
	store.Append(ctx, HealthStream, models.HealthResult{Status: models.Healthy})

	for i := 0; i < 20; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d entries", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 20 {
		t.Fatalf("expected 20 entries (only new sensor appends), got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("entries delivered out of order: %v", got)
		}
	}
}

func TestMemoryStoreUnsubscribe(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	calls := make(chan Key, 10)
	unsubscribe, err := store.Subscribe(ctx, SensorStream, func(e Entry) { calls <- e.Key })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	store.Append(ctx, SensorStream, models.SensorSample{PH: 7})
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
	}

	unsubscribe()
	unsubscribe() // idempotent

	store.Append(ctx, SensorStream, models.SensorSample{PH: 7})
	select {
	case k := <-calls:
		t.Fatalf("received entry %d after unsubscribe", k)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStoreSubscriptionEndsWithContext(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan Key, 10)
	if _, err := store.Subscribe(ctx, SensorStream, func(e Entry) { calls <- e.Key }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	deadline := time.After(time.Second)
	for {
		store.mu.RLock()
		n := len(store.subs[SensorStream])
		store.mu.RUnlock()
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("subscription still registered after cancel")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	store.Close()

	if _, err := store.Append(context.Background(), SensorStream, models.SensorSample{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if !errors.Is(ErrClosed, apperr.ErrDependency) {
		t.Fatalf("ErrClosed must be a dependency error")
	}
}

func TestEntryDecode(t *testing.T) {
	var s models.SensorSample
	if err := (Entry{}).Decode(&s); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if err := (Entry{Payload: []byte("null")}).Decode(&s); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload for null, got %v", err)
	}
	err := (Entry{Stream: SensorStream, Key: 3, Payload: []byte(`{"ph":"high"}`)}).Decode(&s)
	if !errors.Is(err, apperr.ErrInput) {
		t.Fatalf("expected ErrInput for malformed payload, got %v", err)
	}
}
