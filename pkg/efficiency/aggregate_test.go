package efficiency

import (
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
)

func TestFoldRecords(t *testing.T) {
	w := testWindow(100, 102)
	records := []duties.Record{
		record(1, "0xa", 100, duties.StatusActiveOngoing, attested(100)),
		record(1, "0xa", 101, duties.StatusActiveOngoing, attested(110)),
		record(1, "0xa", 102, duties.StatusActiveOngoing, missed(105, 20)),

		// Pending periods carry no reward mass.
		record(2, "0xa", 100, duties.StatusPendingInitialized, missed(50, 0)),
		record(2, "0xa", 101, duties.StatusPendingQueued),
		record(2, "0xa", 102, duties.StatusActiveOngoing, attested(90)),

		// Unassigned validator.
		record(3, "", 101, duties.StatusActiveOngoing, attested(100)),

		// Malformed: duplicate, outside of window and unknown status.
		record(1, "0xa", 100, duties.StatusActiveOngoing, attested(100)),
		record(1, "0xa", 103, duties.StatusActiveOngoing, attested(100)),
		record(4, "0xb", 101, "bogus"),
	}
	fold := FoldRecords(zap.NewNop(), w, records, Options{})
	require.Equal(t, 3, fold.Skipped)
	require.Len(t, fold.ByValidator, 3)
	require.Len(t, fold.ByOperator, 1)

	op := fold.ByOperator["0xa"]
	require.Equal(t, "0xa", op.Operator)
	require.Equal(t, 2, op.ValidatorCount)
	require.Equal(t, 3, op.EpochsInPeriod)
	require.Equal(t, 6, op.TotalDataPoints)
	require.Equal(t, 6, op.ExpectedDataPoints())
	require.Equal(t, 0, op.MissingDataPoints())
	require.Equal(t, 4, op.ActiveDutyPeriods)
	require.Equal(t, 2, op.PendingPeriods)
	require.Equal(t, 3, op.SuccessfulAttestations)
	require.Equal(t, 1, op.MissedAttestations)
	require.Equal(t, int64(300), op.TotalActualRewards)
	require.Equal(t, int64(20), op.TotalPenalties)
	require.Equal(t, int64(280), op.NetRewards())
	require.Equal(t, 100.0, op.AvgRewardPerAttestation())
	require.Equal(t, int64(300), op.AllEarnedRewards)
	require.Equal(t, int64(155), op.AllMissedRewards)

	v2 := fold.ByValidator[2]
	require.Equal(t, "0xa", v2.Operator)
	require.Equal(t, 1, v2.ActiveDutyPeriods)
	require.Equal(t, 2, v2.PendingPeriods)

	v3 := fold.ByValidator[3]
	require.Equal(t, "", v3.Operator)
	require.Equal(t, 7, fold.Total.TotalDataPoints)
	require.Equal(t, 3, fold.Total.ValidatorCount)
}

func TestFoldRecords_Filters(t *testing.T) {
	w := testWindow(10, 11)
	records := []duties.Record{
		record(1, "0xa", 10, duties.StatusActiveOngoing, attested(100)),
		record(1, "0xa", 11, duties.StatusExited),
		record(2, "0xb", 10, duties.StatusActiveOngoing, attested(100)),
	}
	fold := FoldRecords(nil, w, records, Options{
		Operator:        "0xa",
		ExcludeStatuses: duties.DefaultExcludedStatuses(),
	})
	require.Zero(t, fold.Skipped)
	require.Len(t, fold.ByOperator, 1)
	require.Equal(t, 1, fold.Total.TotalDataPoints)

	// Coverage reflects the missing record of the exited epoch.
	coverage := fold.ByOperator["0xa"].Coverage()
	require.Equal(t, 2, coverage.ExpectedDataPoints)
	require.Equal(t, 1, coverage.MissingDataPoints)
	require.Equal(t, 50.0, coverage.DataCoveragePercentage)
	require.Equal(t, 100.0, coverage.AttestationSuccessRate)
}

func TestFoldRecords_CoverageIdentity(t *testing.T) {
	w := testWindow(0, 9)
	var records []duties.Record
	for v := phase0.ValidatorIndex(0); v < 5; v++ {
		for e := phase0.Epoch(0); e < 12; e += phase0.Epoch(v + 1) {
			records = append(records, record(v, "0xa", e, duties.StatusActiveOngoing, attested(10)))
			// Duplicates never inflate the data points.
			records = append(records, record(v, "0xa", e, duties.StatusActiveOngoing, attested(10)))
		}
	}
	fold := FoldRecords(nil, w, records, Options{})
	for _, a := range fold.ByValidator {
		require.LessOrEqual(t, a.TotalDataPoints, a.ExpectedDataPoints())
		require.GreaterOrEqual(t, a.MissingDataPoints(), 0)
	}
	op := fold.ByOperator["0xa"]
	require.LessOrEqual(t, op.TotalDataPoints, op.ExpectedDataPoints())
	require.Equal(t, op.ExpectedDataPoints()-op.TotalDataPoints, op.MissingDataPoints())
}

func TestFoldRecords_NullAsMiss(t *testing.T) {
	w := testWindow(0, 1)
	nullHappened := record(1, "0xa", 0, duties.StatusActiveOngoing)
	falseHappened := record(2, "0xa", 0, duties.StatusActiveOngoing, func(r *duties.Record) {
		r.Happened = null.BoolFrom(false)
	})
	fold := FoldRecords(nil, w, []duties.Record{nullHappened, falseHappened}, Options{})
	require.Equal(t, 1, fold.ByValidator[1].MissedAttestations)
	require.Equal(t, fold.ByValidator[1].MissedAttestations, fold.ByValidator[2].MissedAttestations)
	require.Equal(t, 2, fold.ByOperator["0xa"].MissedAttestations)
	require.Zero(t, fold.ByOperator["0xa"].SuccessfulAttestations)
}

func TestFoldRecords_SignedAmounts(t *testing.T) {
	w := testWindow(0, 2)
	records := []duties.Record{
		record(1, "0xa", 0, duties.StatusActiveOngoing, missed(0, 0)),
		record(1, "0xa", 1, duties.StatusActiveOngoing, missed(0, 0), func(r *duties.Record) {
			r.AttEarned = -7
		}),
		record(1, "0xa", 2, duties.StatusActiveOngoing, missed(0, 0)),
	}
	fold := FoldRecords(nil, w, records, Options{})
	require.Zero(t, fold.Skipped)

	op := fold.ByOperator["0xa"]
	require.Equal(t, 3, op.ActiveDutyPeriods)
	require.Equal(t, 3, op.MissedAttestations)
	require.Equal(t, 3, op.TotalDataPoints)
	require.Zero(t, op.MissingDataPoints())
	require.Equal(t, int64(-7), op.NetRewards())
}

func TestAggregate_Accuracy(t *testing.T) {
	w := testWindow(0, 3)
	records := []duties.Record{
		record(1, "0xa", 0, duties.StatusActiveOngoing, attested(100)),
		record(1, "0xa", 1, duties.StatusActiveOngoing, attested(100), func(r *duties.Record) {
			r.ValidHead = false
			r.InclusionDelay = null.IntFrom(3)
		}),
		record(1, "0xa", 2, duties.StatusActiveOngoing, missed(100, 0), synced(10, 0, 90)),
		record(1, "0xa", 3, duties.StatusActiveOngoing, attested(100), synced(10, 0, 100), missedProposal()),
	}
	acc := AggregateRecords(w, records).Accuracy()
	require.InDelta(t, 66.666, acc.HeadAccuracy, 0.001)
	require.Equal(t, 100.0, acc.TargetAccuracy)
	require.Equal(t, 100.0, acc.SourceAccuracy)
	require.InDelta(t, 1.666, acc.AvgInclusionDelay, 0.001)
	require.Equal(t, 95.0, acc.SyncParticipation)
	require.Equal(t, 0.0, acc.ProposalRate)
}
