package efficiency

import (
	"fmt"
	"math"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

// Strategy computes an efficiency result from an aggregate.
type Strategy interface {
	Method() Method
	Evaluate(a *Aggregate) Result
}

// StrategyFor returns the strategy implementing the method. The proposer
// baseline is only used by MethodComprehensive.
func StrategyFor(method Method, proposerBaseline float64) (Strategy, error) {
	switch method {
	case MethodSimple:
		return Simple{}, nil
	case MethodCorrected:
		return Corrected{}, nil
	case MethodComprehensive:
		return Comprehensive{ProposerBaseline: proposerBaseline}, nil
	}
	return nil, fmt.Errorf("unknown efficiency method %q", method)
}

// Simple divides gross attestation rewards by earned plus missed rewards over
// every period in range.
//
// Deprecated: penalties are ignored and pending periods inflate the
// denominator. Use Corrected; Simple is kept for comparison only.
type Simple struct{}

func (Simple) Method() Method { return MethodSimple }

func (Simple) Evaluate(a *Aggregate) Result {
	actual := float64(a.AllEarnedRewards)
	ideal := float64(a.AllEarnedRewards + a.AllMissedRewards)
	attester := newDutyEfficiency(actual, ideal, a.TotalDataPoints)
	return Result{
		Method:   MethodSimple,
		Attester: attester,
		Actual:   actual,
		Ideal:    ideal,
		Overall:  attester.Percent,
		Coverage: a.Coverage(),
		Accuracy: a.Accuracy(),
	}
}

// Corrected divides net rewards of active duty periods by the number of active
// duty periods times the entity's own average reward per successful
// attestation. The result may be negative and may exceed 100.
type Corrected struct{}

func (Corrected) Method() Method { return MethodCorrected }

func (Corrected) Evaluate(a *Aggregate) Result {
	net := a.NetRewards()
	avg := a.AvgRewardPerAttestation()
	maxPossible := float64(a.ActiveDutyPeriods) * avg

	var performance, flawed float64
	if a.ActiveDutyPeriods > 0 {
		performance = percent(float64(net), maxPossible)
		flawed = percent(float64(a.TotalActualRewards), maxPossible)
	}
	return Result{
		Method:   MethodCorrected,
		Attester: newDutyEfficiency(float64(net), maxPossible, a.ActiveDutyPeriods),
		Actual:   float64(net),
		Ideal:    maxPossible,
		Overall:  performance,
		Coverage: a.Coverage(),
		Accuracy: a.Accuracy(),
		Corrected: &CorrectedDetails{
			NetRewards:               net,
			MaxPossibleRewards:       maxPossible,
			AvgRewardPerAttestation:  avg,
			OriginalFlawedPercentage: flawed,
		},
	}
}

// Comprehensive blends attester, proposer and sync committee efficiency.
// Proposer duties are measured against ProposerBaseline, the network-wide mean
// reward of a successful proposal in the window, and the proposer reward is
// capped at its ideal.
type Comprehensive struct {
	ProposerBaseline float64
}

func (Comprehensive) Method() Method { return MethodComprehensive }

func (c Comprehensive) Evaluate(a *Aggregate) Result {
	attester := newDutyEfficiency(
		float64(a.Attester.Earned),
		float64(a.Attester.Earned+a.Attester.Missed),
		a.Attester.Duties,
	)

	proposerIdeal := float64(a.Proposer.Duties) * c.ProposerBaseline
	proposer := newDutyEfficiency(
		math.Min(float64(a.Proposer.Earned), proposerIdeal),
		proposerIdeal,
		a.Proposer.Duties,
	)

	sync := newDutyEfficiency(
		float64(a.Sync.Earned),
		float64(a.Sync.Earned+a.Sync.Missed),
		a.Sync.Duties,
	)

	actual := attester.Actual + proposer.Actual + sync.Actual
	ideal := attester.Ideal + proposer.Ideal + sync.Ideal
	return Result{
		Method:   MethodComprehensive,
		Attester: attester,
		Proposer: proposer,
		Sync:     sync,
		Actual:   actual,
		Ideal:    ideal,
		Overall:  percent(actual, ideal),
		Coverage: a.Coverage(),
		Accuracy: a.Accuracy(),
	}
}

// ProposerBaseline returns the mean reward of successful proposals with a
// positive reward among the records, or fallback if there were none.
func ProposerBaseline(records []duties.Record, fallback float64) float64 {
	var sum int64
	var count int
	for i := range records {
		r := &records[i]
		if r.Proposed() && r.ProposeEarned > 0 {
			sum += r.ProposeEarned
			count++
		}
	}
	return BaselineFromStats(sum, count, fallback)
}

func BaselineFromStats(sum int64, count int, fallback float64) float64 {
	if count == 0 {
		return fallback
	}
	return float64(sum) / float64(count)
}

// AggregateRecords folds the records over the window into a single aggregate.
func AggregateRecords(w window.Window, records []duties.Record) *Aggregate {
	return FoldRecords(nil, w, records, Options{}).Total
}

// ComputeComprehensive evaluates comprehensive efficiency of the records as a
// whole, deriving the proposer baseline from the records themselves.
func ComputeComprehensive(w window.Window, records []duties.Record, fallback float64) Result {
	return Comprehensive{
		ProposerBaseline: ProposerBaseline(records, fallback),
	}.Evaluate(AggregateRecords(w, records))
}
