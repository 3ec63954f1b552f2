package efficiency

import (
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/volatiletech/null/v8"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

func testWindow(start, end phase0.Epoch) window.Window {
	n := int(end-start) + 1
	return window.Window{StartEpoch: start, EndEpoch: end, EpochsRequested: n, EpochsAvailable: n}
}

func record(
	validator phase0.ValidatorIndex,
	operator string,
	epoch phase0.Epoch,
	status duties.Status,
	opts ...func(*duties.Record),
) duties.Record {
	r := duties.Record{
		ValidatorIndex: validator,
		Epoch:          epoch,
		Status:         status,
	}
	if operator != "" {
		r.Operator = null.StringFrom(operator)
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func attested(earned int64) func(*duties.Record) {
	return func(r *duties.Record) {
		r.Happened = null.BoolFrom(true)
		r.ValidHead, r.ValidTarget, r.ValidSource = true, true, true
		r.InclusionDelay = null.IntFrom(1)
		r.AttEarned = earned
	}
}

func missed(missedReward, penalty int64) func(*duties.Record) {
	return func(r *duties.Record) {
		r.Happened = null.BoolFrom(false)
		r.AttMissed = missedReward
		r.AttPenalty = penalty
	}
}

func proposed(earned int64) func(*duties.Record) {
	return func(r *duties.Record) {
		r.IsProposer = true
		r.BlockProposed = null.BoolFrom(true)
		r.ProposeEarned = earned
	}
}

func missedProposal() func(*duties.Record) {
	return func(r *duties.Record) {
		r.IsProposer = true
		r.BlockProposed = null.BoolFrom(false)
	}
}

func synced(earned, missedReward int64, pct float64) func(*duties.Record) {
	return func(r *duties.Record) {
		r.IsSync = true
		r.SyncEarned = earned
		r.SyncMissed = missedReward
		r.SyncPercent = null.Float64From(pct)
	}
}
