package models

import (
	"time"
)

// TimestampLayout is the ISO-8601 layout used for every record timestamp
const TimestampLayout = time.RFC3339Nano

// Now returns the current wall-clock time formatted as a record timestamp
func Now() string {
	return time.Now().Format(TimestampLayout)
}

// SensorSample represents one water-quality reading
type SensorSample struct {
	PH                     float64 `json:"ph"`
	Temperature            float64 `json:"temperature"`
	Turbidity              float64 `json:"turbidity"`
	DissolvedOxygen        float64 `json:"do"`
	ElectricalConductivity float64 `json:"ec"`
	Ammonia                float64 `json:"ammonia"`
	Timestamp              string  `json:"timestamp"`
}

// IsZero reports whether the sample carries no reading at all
func (s SensorSample) IsZero() bool {
	return s == SensorSample{}
}

// Recommendation is the fish species suggested for a sensor sample
type Recommendation struct {
	SpeciesID   string  `json:"fish_type"`
	SpeciesName string  `json:"fish_name"`
	Confidence  float64 `json:"confidence"`
	Timestamp   string  `json:"timestamp"`
}

// HealthStatus is the outcome of a fish health classification
type HealthStatus string

const (
	Healthy HealthStatus = "healthy"
	Sick    HealthStatus = "sick"
)

// HealthResult is the persisted result of classifying one fish image
type HealthResult struct {
	Status           HealthStatus `json:"status"`
	Label            string       `json:"prediction"`
	Confidence       float64      `json:"confidence"`
	Timestamp        string       `json:"timestamp"`
	SourceIdentifier string       `json:"image_source"`
}

// Record is one entry of a telemetry stream. The auto-increment ID is the
// stream key, so keys grow strictly with insertion order.
type Record struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement;index:idx_stream_id,priority:2" json:"id"`
	Stream    string    `gorm:"not null;size:64;index:idx_stream_id,priority:1" json:"stream"`
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName customizes the table name
func (Record) TableName() string {
	return "telemetry_records"
}

// GetAllModels returns all models for migration
func GetAllModels() []interface{} {
	return []interface{}{
		&Record{},
	}
}
