package database

import (
	"errors"
	"fmt"

	"limix_backend/models"

	"gorm.io/gorm"
)

// ErrNotMigrated is returned when the telemetry table does not exist yet
var ErrNotMigrated = errors.New("telemetry table missing, run migrate first")

// StreamStat summarizes one telemetry stream
type StreamStat struct {
	Stream  string
	Records int64
	LastKey uint64
}

// StreamStats returns one entry per requested stream, in the given order.
// Streams without records are reported with zero counts.
func StreamStats(db *gorm.DB, streams ...string) ([]StreamStat, error) {
	if !db.Migrator().HasTable(&models.Record{}) {
		return nil, ErrNotMigrated
	}

	var rows []StreamStat
	err := db.Model(&models.Record{}).
		Select("stream, COUNT(*) AS records, MAX(id) AS last_key").
		Where("stream IN ?", streams).
		Group("stream").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count stream records: %w", err)
	}

	byStream := make(map[string]StreamStat, len(rows))
	for _, row := range rows {
		byStream[row.Stream] = row
	}
	stats := make([]StreamStat, len(streams))
	for i, s := range streams {
		stats[i] = byStream[s]
		stats[i].Stream = s
	}
	return stats, nil
}
