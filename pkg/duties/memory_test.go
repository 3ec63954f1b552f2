package duties

import (
	"context"
	"strings"
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
)

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource([]Record{
		{ValidatorIndex: 2, Epoch: 12, Status: StatusActiveOngoing, Operator: null.StringFrom("0xb")},
		{ValidatorIndex: 1, Epoch: 10, Status: StatusActiveOngoing, Operator: null.StringFrom("0xa")},
		{ValidatorIndex: 1, Epoch: 11, Status: StatusExited, Operator: null.StringFrom("0xa")},
		// Unassigned validators don't count towards tracked epochs.
		{ValidatorIndex: 3, Epoch: 9, Status: StatusActiveOngoing},
		{ValidatorIndex: 3, Epoch: 13, Status: StatusActiveOngoing},
	})

	latest, err := src.LatestTrackedEpoch(ctx)
	require.NoError(t, err)
	require.Equal(t, phase0.Epoch(12), latest)

	earliest, err := src.EarliestTrackedEpoch(ctx)
	require.NoError(t, err)
	require.Equal(t, phase0.Epoch(10), earliest)

	records, err := src.DutyRecords(ctx, Filter{StartEpoch: 10, EndEpoch: 12})
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, phase0.Epoch(10), records[0].Epoch)

	records, err = src.DutyRecords(ctx, Filter{
		StartEpoch:      0,
		EndEpoch:        100,
		Operator:        "0xa",
		ExcludeStatuses: DefaultExcludedStatuses(),
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, phase0.ValidatorIndex(1), records[0].ValidatorIndex)
}

func TestMemorySource_Empty(t *testing.T) {
	src := NewMemorySource(nil)
	_, err := src.LatestTrackedEpoch(context.Background())
	require.ErrorIs(t, err, ErrNoDataAvailable)
	_, err = src.EarliestTrackedEpoch(context.Background())
	require.ErrorIs(t, err, ErrNoDataAvailable)
}

func TestReadJSONL(t *testing.T) {
	input := `{"validator_index":1,"operator":"0xa","epoch":5,"status":"active_ongoing","att_happened":true,"att_earned_reward":100}

{"validator_index":2,"operator":null,"epoch":5,"status":"pending_queued","att_happened":null}
`
	records, err := ReadJSONL(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "0xa", records[0].Operator.String)
	require.True(t, records[0].Happened.Bool)
	require.Equal(t, int64(100), records[0].AttEarned)
	require.False(t, records[1].Operator.Valid)
	require.True(t, records[1].AttestationMissed())

	_, err = ReadJSONL(strings.NewReader("{"))
	require.ErrorContains(t, err, "failed to decode line 1")
}
