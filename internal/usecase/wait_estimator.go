package usecase

import (
	"context"
	"fmt"

	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"
)

// emaAlpha weights the newest sample in the per-tier moving average.
const emaAlpha = 0.3

// WaitEstimate is the admission-time wait forecast handed back to callers.
type WaitEstimate struct {
	EstimateSeconds   int
	LowerBoundSeconds int
	UpperBoundSeconds int
	Message           string
	Confidence        string // "medium" | "low"
}

// WaitEstimator maintains a per-tier exponential moving average of build
// durations and turns queue positions into human-readable wait forecasts.
type WaitEstimator struct {
	durations repository.DurationStore
}

func NewWaitEstimator(durations repository.DurationStore) *WaitEstimator {
	return &WaitEstimator{durations: durations}
}

// RecordCompletion folds a finished build's duration into the tier average.
func (e *WaitEstimator) RecordCompletion(ctx context.Context, tier model.Tier, durationSecs float64) error {
	old, ok, err := e.durations.Average(ctx, tier)
	if err != nil {
		return err
	}
	if !ok {
		old = tier.Profile().DefaultAvgSeconds
	}
	return e.durations.SetAverage(ctx, tier, emaAlpha*durationSecs+(1-emaAlpha)*old)
}

// EstimateWaitSeconds is avg * position / activeWorkers, floored at one
// worker so an idle system still produces a finite estimate.
func (e *WaitEstimator) EstimateWaitSeconds(ctx context.Context, tier model.Tier, position, activeWorkers int) (int, error) {
	avg, ok, err := e.durations.Average(ctx, tier)
	if err != nil {
		return 0, err
	}
	if !ok {
		avg = tier.Profile().DefaultAvgSeconds
	}
	if activeWorkers < 1 {
		activeWorkers = 1
	}
	return int(avg * float64(position) / float64(activeWorkers)), nil
}

// EstimateWithConfidence wraps the point estimate with a ±30% band. Depth is
// a coarse reliability proxy: past position 10 the forecast is marked low
// confidence.
func (e *WaitEstimator) EstimateWithConfidence(ctx context.Context, tier model.Tier, position, activeWorkers int) (WaitEstimate, error) {
	est, err := e.EstimateWaitSeconds(ctx, tier, position, activeWorkers)
	if err != nil {
		return WaitEstimate{}, err
	}
	confidence := "medium"
	if position >= 10 {
		confidence = "low"
	}
	return WaitEstimate{
		EstimateSeconds:   est,
		LowerBoundSeconds: int(float64(est) * 0.7),
		UpperBoundSeconds: int(float64(est) * 1.3),
		Message:           fmt.Sprintf("Estimated wait: about %s", FormatDuration(est)),
		Confidence:        confidence,
	}, nil
}

// FormatDuration renders seconds for humans: raw seconds under a minute,
// whole minutes under an hour, otherwise hours with the minute component
// omitted when zero.
func FormatDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%d seconds", seconds)
	}
	if seconds < 3600 {
		minutes := seconds / 60
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
