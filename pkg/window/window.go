package window

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/attestantio/go-eth2-client/spec/phase0"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
)

// EpochsPerDay is the number of epochs in a day on mainnet (24h / 32 slots / 12s).
const EpochsPerDay = 225

var (
	// ErrNoDataAvailable is returned (wrapped) when no epochs are tracked at all.
	ErrNoDataAvailable = duties.ErrNoDataAvailable

	ErrInvalidDays  = errors.New("days must be positive")
	ErrInvalidRange = errors.New("start epoch is after end epoch")
)

// Policy decides what happens when a window reaches beyond tracked history.
type Policy string

const (
	// PolicyClamp shrinks the window to the available history.
	PolicyClamp Policy = "clamp"

	// PolicyStrict fails with an InsufficientHistoryError.
	PolicyStrict Policy = "strict"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyClamp, PolicyStrict:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown window policy %q", s)
}

// InsufficientHistoryError is returned under PolicyStrict when the store does
// not cover the requested window.
type InsufficientHistoryError struct {
	EpochsRequested            int
	EpochsAvailable            int
	DataCompletenessPercentage float64
}

func newInsufficientHistoryError(requested, available int) *InsufficientHistoryError {
	return &InsufficientHistoryError{
		EpochsRequested:            requested,
		EpochsAvailable:            available,
		DataCompletenessPercentage: math.Round(float64(available)/float64(requested)*100*100) / 100,
	}
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf(
		"insufficient history: requested %d epochs, %d available (%.2f%% complete)",
		e.EpochsRequested, e.EpochsAvailable, e.DataCompletenessPercentage,
	)
}

type Window struct {
	StartEpoch      phase0.Epoch `json:"start_epoch"`
	EndEpoch        phase0.Epoch `json:"end_epoch"`
	EpochsRequested int          `json:"epochs_requested"`
	EpochsAvailable int          `json:"epochs_available"`
	IsTruncated     bool         `json:"is_truncated"`
}

// Epochs returns the number of epochs in the window.
func (w Window) Epochs() int {
	return int(w.EndEpoch-w.StartEpoch) + 1
}

func (w Window) Contains(epoch phase0.Epoch) bool {
	return epoch >= w.StartEpoch && epoch <= w.EndEpoch
}

func (w Window) String() string {
	return fmt.Sprintf("%d-%d", w.StartEpoch, w.EndEpoch)
}

// Request is either a number of days back from the latest tracked epoch or
// an explicit epoch range with optional bounds.
type Request struct {
	Days       int
	StartEpoch *phase0.Epoch
	EndEpoch   *phase0.Epoch
}

func Days(n int) Request {
	return Request{Days: n}
}

func Range(start, end phase0.Epoch) Request {
	return Request{StartEpoch: &start, EndEpoch: &end}
}

func (r Request) Explicit() bool {
	return r.StartEpoch != nil || r.EndEpoch != nil
}

// Bounds provides the tracked epoch range of the duty store.
type Bounds interface {
	LatestTrackedEpoch(ctx context.Context) (phase0.Epoch, error)
	EarliestTrackedEpoch(ctx context.Context) (phase0.Epoch, error)
}

type Resolver struct {
	bounds       Bounds
	epochsPerDay int
}

func NewResolver(bounds Bounds) *Resolver {
	return &Resolver{bounds: bounds, epochsPerDay: EpochsPerDay}
}

// WithEpochsPerDay overrides the epochs per day for chains with other timing.
func (r *Resolver) WithEpochsPerDay(n int) *Resolver {
	r.epochsPerDay = n
	return r
}

// Resolve turns the request into a concrete window under the given policy.
func (r *Resolver) Resolve(ctx context.Context, req Request, policy Policy) (Window, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return Window{}, err
	}
	if !req.Explicit() && req.Days < 1 {
		return Window{}, ErrInvalidDays
	}
	latest, err := r.bounds.LatestTrackedEpoch(ctx)
	if err != nil {
		return Window{}, fmt.Errorf("failed to get latest tracked epoch: %w", err)
	}
	earliest, err := r.bounds.EarliestTrackedEpoch(ctx)
	if err != nil {
		return Window{}, fmt.Errorf("failed to get earliest tracked epoch: %w", err)
	}
	if earliest > latest {
		return Window{}, fmt.Errorf("invalid bounds: earliest epoch %d is after latest epoch %d", earliest, latest)
	}

	var start, end phase0.Epoch
	var requested int
	if req.Explicit() {
		start, end = earliest, latest
		if req.StartEpoch != nil {
			start = *req.StartEpoch
		}
		if req.EndEpoch != nil {
			end = *req.EndEpoch
		}
		if start > end {
			return Window{}, ErrInvalidRange
		}
		requested = int(end-start) + 1
	} else {
		end = latest
		requested = req.Days * r.epochsPerDay
		if first := int64(latest) - int64(requested) + 1; first > 0 {
			start = phase0.Epoch(first)
		}
	}
	return r.apply(policy, requested, start, end, earliest, latest)
}

func (r *Resolver) apply(
	policy Policy,
	requested int,
	start, end, earliest, latest phase0.Epoch,
) (Window, error) {
	available := overlap(start, end, earliest, latest)
	if available == requested {
		return Window{
			StartEpoch:      start,
			EndEpoch:        end,
			EpochsRequested: requested,
			EpochsAvailable: available,
		}, nil
	}
	if policy == PolicyStrict || available == 0 {
		return Window{}, newInsufficientHistoryError(requested, available)
	}
	if start < earliest {
		start = earliest
	}
	if end > latest {
		end = latest
	}
	return Window{
		StartEpoch:      start,
		EndEpoch:        end,
		EpochsRequested: available,
		EpochsAvailable: available,
		IsTruncated:     true,
	}, nil
}

// SplitDays splits the window into consecutive chunks of epochsPerDay epochs,
// aligned to the end of the window. The first chunk may be shorter.
func SplitDays(w Window, epochsPerDay int) []Window {
	var days []Window
	end := int64(w.EndEpoch)
	for end >= int64(w.StartEpoch) {
		start := end - int64(epochsPerDay) + 1
		if start < int64(w.StartEpoch) {
			start = int64(w.StartEpoch)
		}
		n := int(end-start) + 1
		days = append([]Window{{
			StartEpoch:      phase0.Epoch(start),
			EndEpoch:        phase0.Epoch(end),
			EpochsRequested: n,
			EpochsAvailable: n,
		}}, days...)
		end = start - 1
	}
	return days
}

// overlap returns the number of epochs in [from, to] that are also in [low, high].
func overlap(from, to, low, high phase0.Epoch) int {
	if from > high || to < low {
		return 0
	}
	if from < low {
		from = low
	}
	if to > high {
		to = high
	}
	return int(to-from) + 1
}
