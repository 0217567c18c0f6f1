package telemetry

import (
	"context"
	"sync"
	"time"

	"limix_backend/logger"
	"limix_backend/loop"
	"limix_backend/models"

	"gorm.io/gorm"
)

// pollBatch bounds the rows fetched by one poll of a subscription
const pollBatch = 500

// SQLStore keeps the streams in the telemetry_records table.
//
// Subscriptions poll for rows above their cursor, so entries appended by
// another process (a simulator running elsewhere) are delivered too. Appends
// made through this store wake the pollers without waiting for the interval.
//
// The cursor is the highest id already delivered. On mysql and postgres ids
// are handed out before commit, so when two writers insert concurrently and
// the lower id commits after a poll has passed the higher one, that entry is
// never delivered to the subscription. It still shows up in Latest. Run a
// single writer per stream where every entry must reach the listeners; sqlite
// serializes writers and is not affected.
type SQLStore struct {
	db           *gorm.DB
	pollInterval time.Duration

	mu     sync.Mutex
	subs   map[*sqlSubscription]struct{}
	closed bool
}

// NewSQLStore creates a store over db. The table must already exist
// (see database.MigrationRunner).
func NewSQLStore(db *gorm.DB, pollInterval time.Duration) *SQLStore {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &SQLStore{
		db:           db,
		pollInterval: pollInterval,
		subs:         make(map[*sqlSubscription]struct{}),
	}
}

// Append implements Store
func (s *SQLStore) Append(ctx context.Context, stream Stream, record any) (Key, error) {
	payload, err := encode(record)
	if err != nil {
		return 0, err
	}
	if s.isClosed() {
		return 0, ErrClosed
	}

	row := models.Record{
		Stream:  string(stream),
		Payload: string(payload),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, dependency("append to", stream, err)
	}

	s.wake(stream)
	return Key(row.ID), nil
}

// Latest implements Store
func (s *SQLStore) Latest(ctx context.Context, stream Stream, n int) ([]Entry, error) {
	if n < 0 {
		return nil, ErrInvalidLimit
	}
	if n == 0 {
		return []Entry{}, nil
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	var rows []models.Record
	result := s.db.WithContext(ctx).
		Where("stream = ?", string(stream)).
		Order("id DESC").
		Limit(n).
		Find(&rows)
	if result.Error != nil {
		return nil, dependency("query", stream, result.Error)
	}

	// most recent last
	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[len(rows)-1-i] = toEntry(row)
	}
	return entries, nil
}

// Subscribe implements Store
func (s *SQLStore) Subscribe(ctx context.Context, stream Stream, handler Handler) (Unsubscribe, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var cursor uint64
	err := s.db.WithContext(ctx).
		Model(&models.Record{}).
		Where("stream = ?", string(stream)).
		Select("COALESCE(MAX(id), 0)").
		Scan(&cursor).Error
	if err != nil {
		return nil, dependency("subscribe to", stream, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &sqlSubscription{
		stream: stream,
		wake:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer close(sub.done)
		defer s.remove(sub)
		loop.Start(subCtx, cursor, s.poll(sub, handler))
	}()

	return sub.stop, nil
}

// poll delivers the rows above the cursor, then waits for a wake-up or the
// poll interval. Query failures are logged and retried on the next cycle.
func (s *SQLStore) poll(sub *sqlSubscription, handler Handler) loop.Task[uint64] {
	return func(ctx context.Context, cursor uint64) (uint64, loop.Next) {
		var rows []models.Record
		err := s.db.WithContext(ctx).
			Where("stream = ? AND id > ?", string(sub.stream), cursor).
			Order("id ASC").
			Limit(pollBatch).
			Find(&rows).Error
		if err != nil {
			if ctx.Err() == nil {
				logger.Warnf("telemetry: polling %s failed: %v\n", sub.stream, err)
			}
			return cursor, loop.Continue(s.pollInterval)
		}

		for _, row := range rows {
			if ctx.Err() != nil {
				return cursor, loop.Break(nil)
			}
			handler(toEntry(row))
			cursor = row.ID
		}
		if len(rows) == pollBatch {
			return cursor, loop.Continue(0)
		}

		timer := time.NewTimer(s.pollInterval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-sub.wake:
		case <-timer.C:
		}
		return cursor, loop.Continue(0)
	}
}

func (s *SQLStore) wake(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub.stream != stream {
			continue
		}
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

func (s *SQLStore) remove(sub *sqlSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

func (s *SQLStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops every subscription. The underlying connection is owned by the
// caller (database.Close).
func (s *SQLStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*sqlSubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

var _ Store = (*SQLStore)(nil)

type sqlSubscription struct {
	stream Stream
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func (sub *sqlSubscription) stop() {
	sub.cancel()
	<-sub.done
}

func toEntry(row models.Record) Entry {
	return Entry{
		Key:       Key(row.ID),
		Stream:    Stream(row.Stream),
		Payload:   []byte(row.Payload),
		CreatedAt: row.CreatedAt,
	}
}
