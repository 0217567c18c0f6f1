package health

import (
	"context"
	"fmt"
	"math"
	"time"

	"limix_backend/logger"
	"limix_backend/models"
	"limix_backend/telemetry"
)

// Failure stages reported to Observer.Failed
const (
	StageValidate = "validate"
	StageLoad     = "load"
	StageDecode   = "decode"
	StageScore    = "score"
	StagePersist  = "persist"
)

// Observer is notified of pipeline events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ModelLoaded(err error)
	Scored(elapsed time.Duration)
	Classified(result models.HealthResult)
	Failed(stage string)
}

type nopObserver struct{}

func (nopObserver) ModelLoaded(error) {}
func (nopObserver) Scored(time.Duration) {}
func (nopObserver) Classified(models.HealthResult) {}
func (nopObserver) Failed(string) {}

// Pipeline classifies one image per call and persists the result to the
// health stream. It is safe for concurrent use.
type Pipeline struct {
	Model    *Model
	Store    telemetry.Store
	Observer Observer
	Clock    func() time.Time

	// MaxPixels bounds the decoded image size. Zero means DefaultMaxPixels.
	MaxPixels int
}

// Classify runs validate, decode, preprocess, score and persist for src.
//
// When only persistence fails, the computed result is returned together with
// an error wrapping ErrPersist.
func (p *Pipeline) Classify(ctx context.Context, src ImageSource) (models.HealthResult, error) {
	obs := p.observer()

	if err := Validate(src); err != nil {
		obs.Failed(StageValidate)
		return models.HealthResult{}, err
	}

	scorer, loaded, err := p.Model.ensure(ctx)
	if loaded {
		obs.ModelLoaded(err)
	}
	if err != nil {
		obs.Failed(StageLoad)
		return models.HealthResult{}, err
	}

	img, err := Decode(src, p.maxPixels())
	if err != nil {
		obs.Failed(StageDecode)
		return models.HealthResult{}, err
	}
	input := Preprocess(img)

	start := time.Now()
	probs, err := scorer.Score(ctx, input)
	obs.Scored(time.Since(start))
	if err != nil {
		obs.Failed(StageScore)
		return models.HealthResult{}, fmt.Errorf("%w: %w", ErrScoring, err)
	}
	if err := checkProbabilities(probs); err != nil {
		obs.Failed(StageScore)
		return models.HealthResult{}, err
	}

	result := p.interpret(probs, src)

	if _, err := p.Store.Append(context.WithoutCancel(ctx), telemetry.HealthStream, result); err != nil {
		obs.Failed(StagePersist)
		logger.Errorf("failed to store health result for %s: %v\n", result.SourceIdentifier, err)
		return result, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	obs.Classified(result)
	logger.Printf("🩺 %s: %s (%s, %.2f%%)\n", result.SourceIdentifier, result.Status, result.Label, result.Confidence)
	return result, nil
}

// probabilitySumTolerance absorbs float32 rounding in the model's softmax
const probabilitySumTolerance = 0.01

// checkProbabilities rejects scorer output that is not a distribution over
// Labels
func checkProbabilities(probs []float64) error {
	if len(probs) != len(Labels) {
		return fmt.Errorf("%w: expected %d probabilities, got %d", ErrScoring, len(Labels), len(probs))
	}
	var sum float64
	for i, v := range probs {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			return fmt.Errorf("%w: probability %d is %v, want a value in [0, 1]", ErrScoring, i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > probabilitySumTolerance {
		return fmt.Errorf("%w: probabilities sum to %v", ErrScoring, sum)
	}
	return nil
}

func (p *Pipeline) interpret(probs []float64, src ImageSource) models.HealthResult {
	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}

	label := Labels[best]
	status := models.Sick
	if label == HealthyLabel {
		status = models.Healthy
	}
	return models.HealthResult{
		Status:           status,
		Label:            label,
		Confidence:       math.Round(probs[best]*100*100) / 100,
		Timestamp:        p.now().Format(models.TimestampLayout),
		SourceIdentifier: src.Identifier(),
	}
}

func (p *Pipeline) observer() Observer {
	if p.Observer == nil {
		return nopObserver{}
	}
	return p.Observer
}

func (p *Pipeline) maxPixels() int {
	if p.MaxPixels > 0 {
		return p.MaxPixels
	}
	return DefaultMaxPixels
}

func (p *Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}
