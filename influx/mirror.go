// Package influx mirrors sensor samples into an InfluxDB bucket for
// time-series dashboards.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"limix_backend/config"
	"limix_backend/logger"
	"limix_backend/models"
	"limix_backend/orchestrator"
	"limix_backend/telemetry"
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Mirror writes every stored sample as one point with a field per reading
type Mirror struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
	bucket      string
}

// New connects to the configured InfluxDB server
func New(cfg config.InfluxConfig) *Mirror {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Mirror{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		bucket:      cfg.Bucket,
	}
}

// Ping checks that the server is reachable
func (m *Mirror) Ping(ctx context.Context) error {
	ok, err := m.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb unreachable: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb is not ready")
	}
	return nil
}

// Name implements orchestrator.SampleSink
func (m *Mirror) Name() string {
	return "influx"
}

// WriteSample implements orchestrator.SampleSink
func (m *Mirror) WriteSample(ctx context.Context, key telemetry.Key, sample models.SensorSample) error {
	if err := m.writer.WritePoint(ctx, m.point(key, sample)); err != nil {
		return fmt.Errorf("error writing to InfluxDB: %w", err)
	}
	logger.Debugf("sample %d written to InfluxDB bucket %s\n", key, m.bucket)
	return nil
}

func (m *Mirror) point(key telemetry.Key, sample models.SensorSample) *write.Point {
	ts, err := time.Parse(models.TimestampLayout, sample.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	return influxdb2.NewPoint(
		m.measurement,
		map[string]string{"stream": string(telemetry.SensorStream)},
		map[string]interface{}{
			"key":         uint64(key),
			"ph":          sample.PH,
			"temperature": sample.Temperature,
			"turbidity":   sample.Turbidity,
			"do":          sample.DissolvedOxygen,
			"ec":          sample.ElectricalConductivity,
			"ammonia":     sample.Ammonia,
		},
		ts,
	)
}

// Close releases the client
func (m *Mirror) Close() {
	if m.client != nil {
		m.client.Close()
	}
}

var _ orchestrator.SampleSink = (*Mirror)(nil)
