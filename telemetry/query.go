package telemetry

import (
	"context"
	"math"

	"limix_backend/logger"
	"limix_backend/models"
)

// LatestSamples returns up to n most recent sensor samples, most recent last.
// Entries that cannot be decoded are skipped.
func LatestSamples(ctx context.Context, store Store, n int) ([]models.SensorSample, error) {
	entries, err := store.Latest(ctx, SensorStream, n)
	if err != nil {
		return nil, err
	}
	samples := make([]models.SensorSample, 0, len(entries))
	for _, e := range entries {
		var s models.SensorSample
		if err := e.Decode(&s); err != nil {
			logger.Warnf("telemetry: skipping sensor record %d: %v\n", e.Key, err)
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// LatestRecommendation returns the most recent recommendation.
// ok is false when the stream is empty.
func LatestRecommendation(ctx context.Context, store Store) (rec models.Recommendation, ok bool, err error) {
	ok, err = latest(ctx, store, RecommendationStream, &rec)
	return rec, ok, err
}

// LatestHealth returns the most recent health result.
// ok is false when the stream is empty.
func LatestHealth(ctx context.Context, store Store) (res models.HealthResult, ok bool, err error) {
	ok, err = latest(ctx, store, HealthStream, &res)
	return res, ok, err
}

// LatestHealthResults returns up to n most recent health results, most recent last
func LatestHealthResults(ctx context.Context, store Store, n int) ([]models.HealthResult, error) {
	entries, err := store.Latest(ctx, HealthStream, n)
	if err != nil {
		return nil, err
	}
	results := make([]models.HealthResult, 0, len(entries))
	for _, e := range entries {
		var r models.HealthResult
		if err := e.Decode(&r); err != nil {
			logger.Warnf("telemetry: skipping health record %d: %v\n", e.Key, err)
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func latest(ctx context.Context, store Store, stream Stream, v any) (bool, error) {
	entries, err := store.Latest(ctx, stream, 1)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}
	if err := entries[0].Decode(v); err != nil {
		return false, err
	}
	return true, nil
}

// Averages holds the mean of each reading over a window of samples
type Averages struct {
	PH                     float64 `json:"ph"`
	Temperature            float64 `json:"temperature"`
	Turbidity              float64 `json:"turbidity"`
	DissolvedOxygen        float64 `json:"do"`
	ElectricalConductivity float64 `json:"ec"`
	Ammonia                float64 `json:"ammonia"`
}

// Average computes the mean of every reading, rounded to 2 decimals.
// An empty window averages to zero.
func Average(samples []models.SensorSample) Averages {
	if len(samples) == 0 {
		return Averages{}
	}
	var sum Averages
	for _, s := range samples {
		sum.PH += s.PH
		sum.Temperature += s.Temperature
		sum.Turbidity += s.Turbidity
		sum.DissolvedOxygen += s.DissolvedOxygen
		sum.ElectricalConductivity += s.ElectricalConductivity
		sum.Ammonia += s.Ammonia
	}
	n := float64(len(samples))
	return Averages{
		PH:                     round2(sum.PH / n),
		Temperature:            round2(sum.Temperature / n),
		Turbidity:              round2(sum.Turbidity / n),
		DissolvedOxygen:        round2(sum.DissolvedOxygen / n),
		ElectricalConductivity: round2(sum.ElectricalConductivity / n),
		Ammonia:                round2(sum.Ammonia / n),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
