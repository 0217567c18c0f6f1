// Package metrics exports ingestion and inference counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"limix_backend/health"
	"limix_backend/models"
	"limix_backend/orchestrator"
	"limix_backend/telemetry"
)

// Recorder observes the ingestion loops and the health pipeline
type Recorder struct {
	produced       prometheus.Counter
	appendFailed   *prometheus.CounterVec
	sinkFailed     *prometheus.CounterVec
	recommended    *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	classified     *prometheus.CounterVec
	healthFailures *prometheus.CounterVec
	scorerLatency  prometheus.Histogram
	scorerLoaded   prometheus.Gauge
}

// NewRecorder creates the collectors and registers them on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		produced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "limix_samples_produced_total",
			Help: "Sensor samples appended by the producer.",
		}),
		appendFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limix_append_failed_total",
			Help: "Appends rejected by the telemetry store.",
		}, []string{"stream"}),
		sinkFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limix_sink_failed_total",
			Help: "Samples a mirror sink failed to write.",
		}, []string{"sink"}),
		recommended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limix_recommendations_total",
			Help: "Recommendations appended, by species.",
		}, []string{"species"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limix_events_skipped_total",
			Help: "Sensor events that produced no recommendation.",
		}, []string{"reason"}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limix_health_classifications_total",
			Help: "Fish images classified and stored, by status.",
		}, []string{"status"}),
		healthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limix_health_failures_total",
			Help: "Classification requests that failed, by pipeline stage.",
		}, []string{"stage"}),
		scorerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "limix_scorer_latency_seconds",
			Help:    "Time spent in a single scorer call.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		scorerLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "limix_scorer_loaded",
			Help: "1 once the fish health model has been loaded.",
		}),
	}

	reg.MustRegister(
		r.produced, r.appendFailed, r.sinkFailed, r.recommended, r.skipped,
		r.classified, r.healthFailures, r.scorerLatency, r.scorerLoaded,
	)
	return r
}

func (r *Recorder) SampleProduced() {
	r.produced.Inc()
}

func (r *Recorder) AppendFailed(stream telemetry.Stream) {
	r.appendFailed.WithLabelValues(string(stream)).Inc()
}

func (r *Recorder) SinkFailed(sink string) {
	r.sinkFailed.WithLabelValues(sink).Inc()
}

func (r *Recorder) Recommended(rec models.Recommendation) {
	r.recommended.WithLabelValues(rec.SpeciesID).Inc()
}

func (r *Recorder) Skipped(reason string) {
	r.skipped.WithLabelValues(reason).Inc()
}

func (r *Recorder) ModelLoaded(err error) {
	if err != nil {
		r.scorerLoaded.Set(0)
		return
	}
	r.scorerLoaded.Set(1)
}

func (r *Recorder) Scored(elapsed time.Duration) {
	r.scorerLatency.Observe(elapsed.Seconds())
}

func (r *Recorder) Classified(result models.HealthResult) {
	r.classified.WithLabelValues(string(result.Status)).Inc()
}

func (r *Recorder) Failed(stage string) {
	r.healthFailures.WithLabelValues(stage).Inc()
}

var (
	_ orchestrator.Observer = (*Recorder)(nil)
	_ health.Observer       = (*Recorder)(nil)
)
