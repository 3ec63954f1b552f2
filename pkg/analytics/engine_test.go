package analytics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap/zaptest"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
	"github.com/nodeset-org/nodeset-analytics/pkg/efficiency"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

func attestation(
	validator phase0.ValidatorIndex,
	operator string,
	epoch phase0.Epoch,
	happened bool,
	reward int64,
) duties.Record {
	r := duties.Record{
		ValidatorIndex: validator,
		Epoch:          epoch,
		Status:         duties.StatusActiveOngoing,
		Happened:       null.BoolFrom(happened),
	}
	if operator != "" {
		r.Operator = null.StringFrom(operator)
	}
	if happened {
		r.AttEarned = reward
	} else {
		r.AttMissed = reward
	}
	return r
}

func proposal(r duties.Record, earned int64) duties.Record {
	r.IsProposer = true
	r.AssignedSlot = null.Int64From(int64(r.Epoch) * 32)
	r.BlockProposed = null.BoolFrom(true)
	r.ProposeEarned = earned
	return r
}

// countingSource counts bound lookups of the wrapped source.
type countingSource struct {
	*duties.MemorySource
	latest atomic.Int32
}

func (s *countingSource) LatestTrackedEpoch(ctx context.Context) (phase0.Epoch, error) {
	s.latest.Add(1)
	return s.MemorySource.LatestTrackedEpoch(ctx)
}

// statsSource aggregates proposer rewards in the store and records the
// statuses it was asked to exclude.
type statsSource struct {
	*duties.MemorySource
	excluded duties.StatusSet
}

func (s *statsSource) ProposerRewardStats(
	ctx context.Context,
	start, end phase0.Epoch,
	excluded duties.StatusSet,
) (int64, int, error) {
	s.excluded = excluded
	records, err := s.DutyRecords(ctx, duties.Filter{StartEpoch: start, EndEpoch: end, ExcludeStatuses: excluded})
	if err != nil {
		return 0, 0, err
	}
	var sum int64
	var count int
	for _, r := range records {
		if r.Proposed() && r.ProposeEarned > 0 {
			sum += r.ProposeEarned
			count++
		}
	}
	return sum, count, nil
}

func newEngine(t *testing.T, source duties.Source) *Engine {
	engine, err := New(zaptest.NewLogger(t), source, DefaultConfig(), 0)
	require.NoError(t, err)
	return engine
}

func TestEngine_Efficiency(t *testing.T) {
	source := duties.NewMemorySource([]duties.Record{
		attestation(1, "0xaaa", 100, true, 100),
		attestation(1, "0xaaa", 101, true, 100),
		attestation(1, "0xaaa", 102, true, 100),
		attestation(2, "0xbbb", 100, true, 100),
		attestation(2, "0xbbb", 101, false, 100),
		attestation(2, "0xbbb", 102, true, 100),
	})
	engine := newEngine(t, source)

	report, err := engine.Efficiency(context.Background(), Query{
		Window: window.Range(100, 102),
	})
	require.NoError(t, err)
	require.Equal(t, efficiency.MethodCorrected, report.Method)
	require.Equal(t, efficiency.RankByTotals, report.RankBy)
	require.Equal(t, window.Window{StartEpoch: 100, EndEpoch: 102, EpochsRequested: 3, EpochsAvailable: 3}, report.Window)
	require.Len(t, report.Validators, 2)
	require.Len(t, report.Operators, 2)

	require.Equal(t, "0xaaa", report.Operators[0].Operator)
	require.Equal(t, 1, report.Operators[0].Rank)
	require.InDelta(t, 100, report.Operators[0].OperatorRewardPercentage, 1e-9)
	require.InDelta(t, 100, report.Operators[0].RelativeScore, 1e-9)
	require.Equal(t, efficiency.CategoryExcellent, report.Operators[0].Category)

	require.Equal(t, "0xbbb", report.Operators[1].Operator)
	require.InDelta(t, 200.0/300*100, report.Operators[1].OperatorRewardPercentage, 1e-9)
	require.Equal(t, efficiency.CategoryPoor, report.Operators[1].Category)

	limited, err := engine.Efficiency(context.Background(), Query{
		Window: window.Range(100, 102),
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, limited.Operators, 1)

	single, err := engine.Efficiency(context.Background(), Query{
		Window:   window.Range(100, 102),
		Operator: "0xbbb",
	})
	require.NoError(t, err)
	require.Len(t, single.Validators, 1)
	require.Equal(t, 3, single.Total.Coverage.ActiveDutyPeriods)
	require.Equal(t, 1, single.Total.Coverage.MissedAttestations)

	_, err = engine.Efficiency(context.Background(), Query{Method: "magic", Window: window.Range(100, 102)})
	require.ErrorContains(t, err, "unknown efficiency method")
}

func TestEngine_OperatorAggregate(t *testing.T) {
	source := duties.NewMemorySource([]duties.Record{
		attestation(1, "0xaaa", 100, true, 100),
		attestation(1, "0xaaa", 101, true, 100),
		attestation(1, "0xaaa", 102, true, 100),
		attestation(2, "0xaaa", 100, true, 50),
		attestation(2, "0xaaa", 101, false, 0),
		attestation(2, "0xaaa", 102, false, 0),
	})
	engine := newEngine(t, source)

	report, err := engine.Efficiency(context.Background(), Query{
		Window: window.Range(100, 102),
	})
	require.NoError(t, err)
	require.Len(t, report.Operators, 1)

	op := report.Operators[0]
	require.InDelta(t, 350.0/450*100, op.OperatorRewardPercentage, 1e-9)
	require.NotNil(t, op.Aggregate)
	require.Equal(t, efficiency.MethodCorrected, op.Aggregate.Method)
	require.InDelta(t, 350.0/525*100, op.Aggregate.Overall, 1e-9)
	require.NotNil(t, op.Aggregate.Corrected)
	require.Equal(t, int64(350), op.Aggregate.Corrected.NetRewards)
	require.InDelta(t, 87.5, op.Aggregate.Corrected.AvgRewardPerAttestation, 1e-9)
	require.InDelta(t, 525, op.Aggregate.Corrected.MaxPossibleRewards, 1e-9)
	require.Equal(t, 6, op.Aggregate.Coverage.ActiveDutyPeriods)
	require.Equal(t, 2, op.Aggregate.Coverage.MissedAttestations)
}

func TestEngine_WindowPolicies(t *testing.T) {
	var records []duties.Record
	for epoch := phase0.Epoch(0); epoch < 500; epoch++ {
		records = append(records, attestation(1, "0xaaa", epoch, true, 100))
	}
	engine := newEngine(t, duties.NewMemorySource(records))
	ctx := context.Background()

	_, err := engine.Efficiency(ctx, Query{Window: window.Days(7), Policy: window.PolicyStrict})
	var insufficient *window.InsufficientHistoryError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, 1575, insufficient.EpochsRequested)
	require.Equal(t, 500, insufficient.EpochsAvailable)
	require.Equal(t, 31.75, insufficient.DataCompletenessPercentage)

	report, err := engine.Efficiency(ctx, Query{Window: window.Days(7), Policy: window.PolicyClamp})
	require.NoError(t, err)
	require.Equal(t, window.Window{
		StartEpoch:      0,
		EndEpoch:        499,
		EpochsRequested: 500,
		EpochsAvailable: 500,
		IsTruncated:     true,
	}, report.Window)
	require.Equal(t, 0, report.Total.Coverage.MissingDataPoints)

	_, err = engine.Efficiency(ctx, Query{Window: window.Days(32)})
	require.ErrorIs(t, err, window.ErrInvalidDays)

	_, err = engine.Comprehensive(ctx, "", 0)
	require.ErrorIs(t, err, window.ErrInvalidDays)
}

func TestEngine_NoData(t *testing.T) {
	engine := newEngine(t, duties.NewMemorySource(nil))
	_, err := engine.Efficiency(context.Background(), Query{Window: window.Days(1)})
	require.ErrorIs(t, err, duties.ErrNoDataAvailable)

	_, err = engine.ValidatorsDown(context.Background(), 0, 0)
	require.ErrorIs(t, err, window.ErrNoDataAvailable)
}

func TestEngine_ComprehensiveBaseline(t *testing.T) {
	source := duties.NewMemorySource([]duties.Record{
		proposal(attestation(1, "0xaaa", 10, true, 100), 30_000_000),
		proposal(attestation(2, "0xbbb", 11, true, 100), 50_000_000),
		attestation(1, "0xaaa", 11, true, 100),
		attestation(2, "0xbbb", 10, true, 100),
	})
	engine := newEngine(t, source)

	report, err := engine.Efficiency(context.Background(), Query{
		Method:   efficiency.MethodComprehensive,
		Operator: "0xaaa",
		Window:   window.Range(10, 11),
	})
	require.NoError(t, err)
	// The baseline covers both operators.
	require.Equal(t, float64(40_000_000), report.ProposerBaseline)
	require.Equal(t, float64(40_000_000), report.Total.Proposer.Ideal)
	require.Equal(t, float64(30_000_000), report.Total.Proposer.Actual)
	require.Equal(t, 0.0, report.Total.Sync.Percent)
	require.InDelta(t, (200+30_000_000.0)/(200+40_000_000.0)*100, report.Total.Overall, 1e-9)

	network, err := engine.Efficiency(context.Background(), Query{
		Method: efficiency.MethodComprehensive,
		Window: window.Range(10, 11),
	})
	require.NoError(t, err)
	require.Equal(t, float64(40_000_000), network.ProposerBaseline)
	// The lucky proposal is capped at the baseline.
	require.Equal(t, phase0.ValidatorIndex(2), network.Validators[1].ValidatorIndex)
	require.Equal(t, float64(40_000_000), network.Validators[1].Proposer.Actual)
	require.Equal(t, "0xbbb", network.Operators[0].Operator)
	require.InDelta(t, 100, network.Operators[0].OperatorRewardPercentage, 1e-9)
}

func TestEngine_BaselineExcludesStatuses(t *testing.T) {
	exitedProposal := proposal(attestation(3, "0xccc", 10, true, 100), 90_000_000)
	exitedProposal.Status = duties.StatusExited
	records := []duties.Record{
		proposal(attestation(1, "0xaaa", 10, true, 100), 30_000_000),
		proposal(attestation(2, "0xbbb", 11, true, 100), 50_000_000),
		exitedProposal,
	}

	tests := []struct {
		name     string
		source   duties.Source
		operator string
	}{
		{"network records", duties.NewMemorySource(records), ""},
		{"network fetch", duties.NewMemorySource(records), "0xaaa"},
		{"proposer stats", &statsSource{MemorySource: duties.NewMemorySource(records)}, "0xaaa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(t, tt.source)
			report, err := engine.Efficiency(context.Background(), Query{
				Method:   efficiency.MethodComprehensive,
				Operator: tt.operator,
				Window:   window.Range(10, 11),
			})
			require.NoError(t, err)
			require.Equal(t, float64(40_000_000), report.ProposerBaseline)
			if ss, ok := tt.source.(*statsSource); ok {
				require.Equal(t, engine.Config().ExcludedStatuses, ss.excluded)
			}
		})
	}
}

func TestEngine_ValidatorsDown(t *testing.T) {
	exited := func(r duties.Record) duties.Record {
		r.Status = duties.StatusExited
		return r
	}
	source := duties.NewMemorySource([]duties.Record{
		attestation(1, "0xaaa", 10, false, 100),
		attestation(1, "0xaaa", 11, false, 100),
		attestation(1, "0xaaa", 12, false, 100),
		attestation(2, "0xaaa", 10, false, 100),
		attestation(2, "0xaaa", 11, false, 100),
		attestation(2, "0xaaa", 12, true, 100),
		exited(attestation(3, "0xbbb", 10, false, 100)),
		exited(attestation(3, "0xbbb", 11, false, 100)),
		exited(attestation(3, "0xbbb", 12, false, 100)),
		attestation(4, "0xbbb", 11, false, 100),
		attestation(4, "0xbbb", 12, false, 100),
	})
	engine := newEngine(t, source)
	ctx := context.Background()

	down, err := engine.ValidatorsDown(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []efficiency.DownValidator{{
		ValidatorIndex:    1,
		Operator:          "0xaaa",
		Status:            duties.StatusActiveOngoing,
		StartEpoch:        10,
		LatestEpoch:       12,
		ConsecutiveMisses: 3,
	}}, down)

	// Validator 4 misses both of the last two epochs.
	down, err = engine.ValidatorsDown(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, down, 1)
	require.Equal(t, phase0.ValidatorIndex(1), down[0].ValidatorIndex)

	_, err = engine.ValidatorsDown(ctx, 11, 0)
	require.ErrorIs(t, err, efficiency.ErrInvalidWindowSize)

	summary, err := engine.DownSummary(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 3, summary.TotalValidators)
	require.Equal(t, 2, summary.TotalOperators)
	require.Equal(t, 2, summary.MissedLatest)
	require.Equal(t, 1, summary.ConsecutiveDown)
}

func TestEngine_BoundsCache(t *testing.T) {
	source := &countingSource{MemorySource: duties.NewMemorySource([]duties.Record{
		attestation(1, "0xaaa", 10, true, 100),
	})}
	engine := newEngine(t, source)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.Window(ctx, window.Days(1), window.PolicyClamp)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, source.latest.Load())

	source.Add(attestation(1, "0xaaa", 11, true, 100))
	w, err := engine.Window(ctx, window.Days(1), window.PolicyClamp)
	require.NoError(t, err)
	require.Equal(t, phase0.Epoch(10), w.EndEpoch)

	engine.Refresh()
	w, err = engine.Window(ctx, window.Days(1), window.PolicyClamp)
	require.NoError(t, err)
	require.Equal(t, phase0.Epoch(11), w.EndEpoch)
	require.EqualValues(t, 2, source.latest.Load())
}

func TestEngine_History(t *testing.T) {
	var records []duties.Record
	for epoch := phase0.Epoch(0); epoch < 2*window.EpochsPerDay; epoch++ {
		records = append(records, attestation(1, "0xaaa", epoch, true, 100))
		// The second operator misses every attestation of the second day.
		records = append(records, attestation(2, "0xbbb", epoch, epoch < window.EpochsPerDay, 100))
	}
	engine := newEngine(t, duties.NewMemorySource(records))

	var days []window.Window
	history, err := engine.History(context.Background(), "0xbbb", 2, func(w window.Window) {
		days = append(days, w)
	})
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.Len(t, history.Days, 2)
	require.Equal(t, phase0.Epoch(0), history.Days[0].Window.StartEpoch)
	require.Equal(t, phase0.Epoch(225), history.Days[1].Window.StartEpoch)
	require.InDelta(t, 100, history.Days[0].ByOperator["0xbbb"], 1e-9)
	require.InDelta(t, 0, history.Days[1].ByOperator["0xbbb"], 1e-9)
	require.InDelta(t, 100, history.Days[1].ByOperator["0xaaa"], 1e-9)

	require.Len(t, history.Ranks, 2)
	require.Equal(t, 2, history.Ranks[0].Rank)
	require.Equal(t, 2, history.Ranks[1].Rank)
	require.InDelta(t, 50, history.Ranks[1].Performance, 1e-9)
	require.Equal(t, 2, history.Ranks[1].TotalOperators)
}

func TestEngine_Concentration(t *testing.T) {
	source := duties.NewMemorySource([]duties.Record{
		attestation(1, "0xaaa", 10, true, 100),
		attestation(2, "0xaaa", 10, true, 100),
		attestation(3, "0xaaa", 10, true, 100),
		attestation(4, "0xbbb", 10, true, 100),
		attestation(5, "", 10, true, 100),
	})
	engine := newEngine(t, source)

	concentration, err := engine.Concentration(context.Background(), Query{Window: window.Range(10, 10)})
	require.NoError(t, err)
	require.Equal(t, 2, concentration.Operators)
	require.Equal(t, 4, concentration.Validators)
	require.InDelta(t, 75, concentration.Top1Percent, 1e-9)
}
