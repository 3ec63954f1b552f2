package efficiency

import (
	"errors"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"go.uber.org/zap"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

// Aggregate accumulates duty records of a validator, an operator or any other
// set of validators over a window. Rewards are in gwei.
type Aggregate struct {
	// Operator is the operator of the aggregated validators, if uniform.
	Operator string

	ValidatorCount int
	EpochsInPeriod int

	TotalDataPoints        int
	ActiveDutyPeriods      int
	PendingPeriods         int
	SuccessfulAttestations int
	MissedAttestations     int

	// Attestation rewards and penalties of active duty periods.
	TotalActualRewards int64
	TotalPenalties     int64

	// Earned rewards of successful attestations with a positive reward.
	SuccessfulRewardSum   int64
	SuccessfulRewardCount int

	// Attestation rewards over every period regardless of status.
	AllEarnedRewards int64
	AllMissedRewards int64

	Attester DutyTotals
	Proposer ProposerTotals
	Sync     SyncTotals

	// Vote accuracy of active duty periods with a successful attestation.
	HeadHits            int
	TargetHits          int
	SourceHits          int
	InclusionDelaySum   int64
	InclusionDelayCount int

	validators map[phase0.ValidatorIndex]struct{}
}

type DutyTotals struct {
	Duties  int
	Earned  int64
	Missed  int64
	Penalty int64
}

type ProposerTotals struct {
	DutyTotals
	BlocksProposed int
	BlocksMissed   int
}

type SyncTotals struct {
	DutyTotals
	ParticipationSum   float64
	ParticipationCount int
}

func newAggregate(epochsInPeriod int) *Aggregate {
	return &Aggregate{
		EpochsInPeriod: epochsInPeriod,
		validators:     map[phase0.ValidatorIndex]struct{}{},
	}
}

func (a *Aggregate) add(r *duties.Record) {
	if _, ok := a.validators[r.ValidatorIndex]; !ok {
		a.validators[r.ValidatorIndex] = struct{}{}
		a.ValidatorCount = len(a.validators)
	}
	a.TotalDataPoints++
	a.AllEarnedRewards += r.AttEarned
	a.AllMissedRewards += r.AttMissed

	switch {
	case r.Status.IsActiveDuty():
		a.ActiveDutyPeriods++
		a.TotalActualRewards += r.AttEarned
		a.TotalPenalties += r.AttPenalty
		if r.AttestationMissed() {
			a.MissedAttestations++
			break
		}
		a.SuccessfulAttestations++
		if r.AttEarned > 0 {
			a.SuccessfulRewardSum += r.AttEarned
			a.SuccessfulRewardCount++
		}
		if r.ValidHead {
			a.HeadHits++
		}
		if r.ValidTarget {
			a.TargetHits++
		}
		if r.ValidSource {
			a.SourceHits++
		}
		if r.InclusionDelay.Valid && r.InclusionDelay.Int >= 0 {
			a.InclusionDelaySum += int64(r.InclusionDelay.Int)
			a.InclusionDelayCount++
		}
	case r.Status.IsPending():
		a.PendingPeriods++
	}

	if r.Status.IsAttesting() {
		a.Attester.Duties++
		a.Attester.Earned += r.AttEarned
		a.Attester.Missed += r.AttMissed
		a.Attester.Penalty += r.AttPenalty
	}
	if r.IsProposer {
		a.Proposer.Duties++
		a.Proposer.Earned += r.ProposeEarned
		a.Proposer.Missed += r.ProposeMissed
		a.Proposer.Penalty += r.ProposePenalty
		if r.Proposed() {
			a.Proposer.BlocksProposed++
		} else {
			a.Proposer.BlocksMissed++
		}
	}
	if r.IsSync {
		a.Sync.Duties++
		a.Sync.Earned += r.SyncEarned
		a.Sync.Missed += r.SyncMissed
		a.Sync.Penalty += r.SyncPenalty
		if r.SyncPercent.Valid {
			a.Sync.ParticipationSum += r.SyncPercent.Float64
			a.Sync.ParticipationCount++
		}
	}
}

// NetRewards is the attestation reward of active duty periods minus penalties.
// It is negative when penalties outweigh rewards.
func (a *Aggregate) NetRewards() int64 {
	return a.TotalActualRewards - a.TotalPenalties
}

// AvgRewardPerAttestation is the mean reward of successful attestations that
// paid a positive reward, or 0 if there were none.
func (a *Aggregate) AvgRewardPerAttestation() float64 {
	if a.SuccessfulRewardCount == 0 {
		return 0
	}
	return float64(a.SuccessfulRewardSum) / float64(a.SuccessfulRewardCount)
}

func (a *Aggregate) ExpectedDataPoints() int {
	return a.ValidatorCount * a.EpochsInPeriod
}

func (a *Aggregate) MissingDataPoints() int {
	return a.ExpectedDataPoints() - a.TotalDataPoints
}

// Coverage summarises the raw counts behind any efficiency figure.
func (a *Aggregate) Coverage() Coverage {
	return Coverage{
		ValidatorCount:         a.ValidatorCount,
		EpochsInPeriod:         a.EpochsInPeriod,
		ActiveDutyPeriods:      a.ActiveDutyPeriods,
		PendingPeriods:         a.PendingPeriods,
		SuccessfulAttestations: a.SuccessfulAttestations,
		MissedAttestations:     a.MissedAttestations,
		TotalDataPoints:        a.TotalDataPoints,
		ExpectedDataPoints:     a.ExpectedDataPoints(),
		MissingDataPoints:      a.MissingDataPoints(),
		DataCoveragePercentage: percent(float64(a.TotalDataPoints), float64(a.ExpectedDataPoints())),
		AttestationSuccessRate: percent(float64(a.SuccessfulAttestations), float64(a.ActiveDutyPeriods)),
	}
}

// Accuracy reports vote correctness and sync participation. Participation is
// a per-duty percentage and is never blended into reward efficiency.
func (a *Aggregate) Accuracy() Accuracy {
	acc := Accuracy{
		HeadAccuracy:   percent(float64(a.HeadHits), float64(a.SuccessfulAttestations)),
		TargetAccuracy: percent(float64(a.TargetHits), float64(a.SuccessfulAttestations)),
		SourceAccuracy: percent(float64(a.SourceHits), float64(a.SuccessfulAttestations)),
		ProposalRate:   percent(float64(a.Proposer.BlocksProposed), float64(a.Proposer.Duties)),
	}
	if a.InclusionDelayCount > 0 {
		acc.AvgInclusionDelay = float64(a.InclusionDelaySum) / float64(a.InclusionDelayCount)
	}
	if a.Sync.ParticipationCount > 0 {
		acc.SyncParticipation = a.Sync.ParticipationSum / float64(a.Sync.ParticipationCount)
	}
	return acc
}

type Options struct {
	// Operator restricts the fold to a single operator, if set.
	Operator string

	// ExcludeStatuses drops records with these statuses.
	ExcludeStatuses duties.StatusSet
}

// Fold is the result of folding duty records over a window.
type Fold struct {
	Window      window.Window
	Total       *Aggregate
	ByOperator  map[string]*Aggregate
	ByValidator map[phase0.ValidatorIndex]*Aggregate

	// Skipped counts records that were dropped as malformed.
	Skipped int
}

var (
	errOutsideWindow = errors.New("epoch outside of window")
	errDuplicate     = errors.New("duplicate record for validator and epoch")
)

// FoldRecords folds the records into total, per-operator and per-validator
// aggregates in a single pass. Malformed records are logged and skipped.
// Validators without an operator are folded into the total and per-validator
// aggregates only.
func FoldRecords(
	logger *zap.Logger,
	w window.Window,
	records []duties.Record,
	opts Options,
) *Fold {
	if logger == nil {
		logger = zap.NewNop()
	}
	epochs := w.Epochs()
	fold := &Fold{
		Window:      w,
		Total:       newAggregate(epochs),
		ByOperator:  map[string]*Aggregate{},
		ByValidator: map[phase0.ValidatorIndex]*Aggregate{},
	}
	type key struct {
		validator phase0.ValidatorIndex
		epoch     phase0.Epoch
	}
	seen := make(map[key]struct{}, len(records))
	latest := map[phase0.ValidatorIndex]phase0.Epoch{}

	for i := range records {
		r := &records[i]
		if opts.Operator != "" && (!r.Operator.Valid || r.Operator.String != opts.Operator) {
			continue
		}
		if opts.ExcludeStatuses.Contains(r.Status) {
			continue
		}
		err := r.Validate()
		if err == nil && !w.Contains(r.Epoch) {
			err = errOutsideWindow
		}
		if err == nil {
			k := key{r.ValidatorIndex, r.Epoch}
			if _, ok := seen[k]; ok {
				err = errDuplicate
			} else {
				seen[k] = struct{}{}
			}
		}
		if err != nil {
			fold.Skipped++
			logger.Warn(
				"Skipped malformed duty record",
				zap.Uint64("validator", uint64(r.ValidatorIndex)),
				zap.Uint64("epoch", uint64(r.Epoch)),
				zap.Error(err),
			)
			continue
		}

		fold.Total.add(r)

		va, ok := fold.ByValidator[r.ValidatorIndex]
		if !ok {
			va = newAggregate(epochs)
			fold.ByValidator[r.ValidatorIndex] = va
		}
		va.add(r)
		if r.Operator.Valid && r.Epoch >= latest[r.ValidatorIndex] {
			latest[r.ValidatorIndex] = r.Epoch
			va.Operator = r.Operator.String
		}

		if r.Operator.Valid {
			oa, ok := fold.ByOperator[r.Operator.String]
			if !ok {
				oa = newAggregate(epochs)
				oa.Operator = r.Operator.String
				fold.ByOperator[r.Operator.String] = oa
			}
			oa.add(r)
		}
	}
	if fold.Skipped > 0 {
		logger.Info(
			"Folded duty records with skipped rows",
			zap.Int("records", len(records)),
			zap.Int("skipped", fold.Skipped),
			zap.Stringer("window", fold.Window),
		)
	}
	return fold
}

func percent(actual, ideal float64) float64 {
	if ideal == 0 {
		return 0
	}
	return actual / ideal * 100
}
