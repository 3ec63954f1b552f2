package duties

import (
	"context"
	"errors"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// ErrNoDataAvailable is returned when the store has no tracked epochs at all.
var ErrNoDataAvailable = errors.New("no data available")

type Filter struct {
	StartEpoch phase0.Epoch
	EndEpoch   phase0.Epoch

	// Operator restricts records to a single operator, if set.
	Operator string

	// ExcludeStatuses drops records whose status is in the set.
	ExcludeStatuses StatusSet
}

// Match reports whether the record falls within the filter.
func (f *Filter) Match(r *Record) bool {
	if r.Epoch < f.StartEpoch || r.Epoch > f.EndEpoch {
		return false
	}
	if f.Operator != "" && (!r.Operator.Valid || r.Operator.String != f.Operator) {
		return false
	}
	return !f.ExcludeStatuses.Contains(r.Status)
}

type Source interface {
	// DutyRecords returns the duty records matching the filter.
	DutyRecords(ctx context.Context, filter Filter) ([]Record, error)

	// LatestTrackedEpoch returns the highest epoch with an operator-assigned
	// record, or ErrNoDataAvailable.
	LatestTrackedEpoch(ctx context.Context) (phase0.Epoch, error)

	// EarliestTrackedEpoch returns the lowest epoch with an operator-assigned
	// record, or ErrNoDataAvailable.
	EarliestTrackedEpoch(ctx context.Context) (phase0.Epoch, error)
}

// ProposerBaselineSource is implemented by sources that can aggregate proposer
// rewards across all operators without returning every record.
type ProposerBaselineSource interface {
	// ProposerRewardStats returns the sum and count of positive proposer rewards
	// of successful proposals within the epoch range, ignoring records with an
	// excluded status.
	ProposerRewardStats(
		ctx context.Context,
		start, end phase0.Epoch,
		excluded StatusSet,
	) (sum int64, count int, err error)
}
