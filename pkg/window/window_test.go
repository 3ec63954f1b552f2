package window

import (
	"context"
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/require"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
)

type staticBounds struct {
	earliest, latest phase0.Epoch
	err              error
}

func (b staticBounds) LatestTrackedEpoch(context.Context) (phase0.Epoch, error) {
	return b.latest, b.err
}

func (b staticBounds) EarliestTrackedEpoch(context.Context) (phase0.Epoch, error) {
	return b.earliest, b.err
}

func epoch(e phase0.Epoch) *phase0.Epoch {
	return &e
}

func TestResolver_Resolve(t *testing.T) {
	// 500 epochs of history.
	bounds := staticBounds{earliest: 9501, latest: 10000}

	tests := []struct {
		name        string
		request     Request
		policy      Policy
		expected    Window
		expectedErr string
	}{
		{
			name:    "one day within history",
			request: Days(1),
			policy:  PolicyStrict,
			expected: Window{
				StartEpoch:      9776,
				EndEpoch:        10000,
				EpochsRequested: 225,
				EpochsAvailable: 225,
			},
		},
		{
			name:    "seven days clamped",
			request: Days(7),
			policy:  PolicyClamp,
			expected: Window{
				StartEpoch:      9501,
				EndEpoch:        10000,
				EpochsRequested: 500,
				EpochsAvailable: 500,
				IsTruncated:     true,
			},
		},
		{
			name:        "seven days strict",
			request:     Days(7),
			policy:      PolicyStrict,
			expectedErr: "insufficient history: requested 1575 epochs, 500 available (31.75% complete)",
		},
		{
			name:    "explicit range",
			request: Range(9600, 9700),
			policy:  PolicyStrict,
			expected: Window{
				StartEpoch:      9600,
				EndEpoch:        9700,
				EpochsRequested: 101,
				EpochsAvailable: 101,
			},
		},
		{
			name:    "explicit start only",
			request: Request{StartEpoch: epoch(9990)},
			policy:  PolicyStrict,
			expected: Window{
				StartEpoch:      9990,
				EndEpoch:        10000,
				EpochsRequested: 11,
				EpochsAvailable: 11,
			},
		},
		{
			name:    "explicit end only",
			request: Request{EndEpoch: epoch(9510)},
			policy:  PolicyStrict,
			expected: Window{
				StartEpoch:      9501,
				EndEpoch:        9510,
				EpochsRequested: 10,
				EpochsAvailable: 10,
			},
		},
		{
			name:    "explicit range beyond latest clamped",
			request: Range(9950, 10100),
			policy:  PolicyClamp,
			expected: Window{
				StartEpoch:      9950,
				EndEpoch:        10000,
				EpochsRequested: 51,
				EpochsAvailable: 51,
				IsTruncated:     true,
			},
		},
		{
			name:        "explicit range beyond latest strict",
			request:     Range(9950, 10100),
			policy:      PolicyStrict,
			expectedErr: "requested 151 epochs, 51 available",
		},
		{
			name:        "explicit range outside history",
			request:     Range(100, 200),
			policy:      PolicyClamp,
			expectedErr: "requested 101 epochs, 0 available",
		},
		{
			name:        "inverted range",
			request:     Range(9700, 9600),
			policy:      PolicyClamp,
			expectedErr: ErrInvalidRange.Error(),
		},
		{
			name:        "zero days",
			request:     Days(0),
			policy:      PolicyClamp,
			expectedErr: ErrInvalidDays.Error(),
		},
		{
			name:        "unknown policy",
			request:     Days(1),
			policy:      "lenient",
			expectedErr: `unknown window policy "lenient"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewResolver(bounds).Resolve(context.Background(), tt.request, tt.policy)
			if tt.expectedErr != "" {
				require.ErrorContains(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, w)
			require.LessOrEqual(t, w.StartEpoch, w.EndEpoch)
		})
	}
}

func TestResolver_InsufficientHistory(t *testing.T) {
	bounds := staticBounds{earliest: 9501, latest: 10000}
	_, err := NewResolver(bounds).Resolve(context.Background(), Days(7), PolicyStrict)

	var insufficient *InsufficientHistoryError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, &InsufficientHistoryError{
		EpochsRequested:            1575,
		EpochsAvailable:            500,
		DataCompletenessPercentage: 31.75,
	}, insufficient)
}

func TestResolver_BeforeGenesis(t *testing.T) {
	// The requested window reaches before epoch 0.
	bounds := staticBounds{earliest: 0, latest: 99}
	w, err := NewResolver(bounds).Resolve(context.Background(), Days(1), PolicyClamp)
	require.NoError(t, err)
	require.Equal(t, Window{EndEpoch: 99, EpochsRequested: 100, EpochsAvailable: 100, IsTruncated: true}, w)

	_, err = NewResolver(bounds).Resolve(context.Background(), Days(1), PolicyStrict)
	require.ErrorContains(t, err, "requested 225 epochs, 100 available (44.44% complete)")
}

func TestResolver_NoData(t *testing.T) {
	bounds := staticBounds{err: duties.ErrNoDataAvailable}
	_, err := NewResolver(bounds).Resolve(context.Background(), Days(1), PolicyClamp)
	require.ErrorIs(t, err, ErrNoDataAvailable)
}

func TestSplitDays(t *testing.T) {
	days := SplitDays(Window{StartEpoch: 0, EndEpoch: 499}, 225)
	require.Len(t, days, 3)
	require.Equal(t, phase0.Epoch(0), days[0].StartEpoch)
	require.Equal(t, phase0.Epoch(49), days[0].EndEpoch)
	require.Equal(t, 50, days[0].Epochs())
	require.Equal(t, phase0.Epoch(50), days[1].StartEpoch)
	require.Equal(t, phase0.Epoch(274), days[1].EndEpoch)
	require.Equal(t, phase0.Epoch(275), days[2].StartEpoch)
	require.Equal(t, phase0.Epoch(499), days[2].EndEpoch)
}

func TestOverlap(t *testing.T) {
	// Entirely within.
	require.Equal(t, 225, overlap(400, 624, 0, 1000))

	// Starts before the low bound.
	require.Equal(t, 200, overlap(400, 624, 425, 1000))

	// Ends after the high bound.
	require.Equal(t, 201, overlap(400, 624, 0, 600))

	// Disjoint.
	require.Equal(t, 0, overlap(400, 624, 700, 1000))
	require.Equal(t, 0, overlap(400, 624, 0, 399))

	// Single epoch.
	require.Equal(t, 1, overlap(624, 624, 624, 624))
}
