package efficiency

import (
	"errors"
	"sort"

	"github.com/attestantio/go-eth2-client/spec/phase0"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

const (
	MinDownWindow     = 2
	MaxDownWindow     = 10
	DefaultDownWindow = 3
)

var ErrInvalidWindowSize = errors.New("consecutive miss window must be between 2 and 10 epochs")

// DownWindow returns the window of the k most recent epochs ending at latest.
func DownWindow(k int, latest phase0.Epoch) (window.Window, error) {
	if k < MinDownWindow || k > MaxDownWindow {
		return window.Window{}, ErrInvalidWindowSize
	}
	if int64(latest)-int64(k)+1 < 0 {
		return window.Window{}, errors.New("not enough epochs before latest epoch")
	}
	return window.Window{
		StartEpoch:      latest - phase0.Epoch(k) + 1,
		EndEpoch:        latest,
		EpochsRequested: k,
		EpochsAvailable: k,
	}, nil
}

type DownValidator struct {
	ValidatorIndex    phase0.ValidatorIndex `json:"validator_index"`
	Operator          string                `json:"operator"`
	Status            duties.Status         `json:"status"`
	StartEpoch        phase0.Epoch          `json:"start_epoch"`
	LatestEpoch       phase0.Epoch          `json:"latest_epoch"`
	ConsecutiveMisses int                   `json:"consecutive_misses"`
}

type validatorWindow struct {
	operator string
	status   duties.Status
	epochs   map[phase0.Epoch]bool // epoch -> missed
	atLatest bool
}

func collectWindows(records []duties.Record, w window.Window) map[phase0.ValidatorIndex]*validatorWindow {
	validators := map[phase0.ValidatorIndex]*validatorWindow{}
	for i := range records {
		r := &records[i]
		if !w.Contains(r.Epoch) || !r.Operator.Valid || r.Validate() != nil {
			continue
		}
		v, ok := validators[r.ValidatorIndex]
		if !ok {
			v = &validatorWindow{epochs: map[phase0.Epoch]bool{}}
			validators[r.ValidatorIndex] = v
		}
		if _, dup := v.epochs[r.Epoch]; dup {
			continue
		}
		v.epochs[r.Epoch] = r.AttestationMissed()
		if r.Epoch == w.EndEpoch {
			v.atLatest = true
			v.status = r.Status
			v.operator = r.Operator.String
		} else if !v.atLatest {
			v.operator = r.Operator.String
		}
	}
	return validators
}

// DetectDown returns the validators that missed their attestation in each of
// the k most recent epochs ending at latest. A validator is only flagged with
// exactly k records in the window, all missed, and a latest status outside
// of excluded. Validators without an operator are ignored.
func DetectDown(
	records []duties.Record,
	k int,
	latest phase0.Epoch,
	excluded duties.StatusSet,
) ([]DownValidator, error) {
	w, err := DownWindow(k, latest)
	if err != nil {
		return nil, err
	}
	var down []DownValidator
	for index, v := range collectWindows(records, w) {
		if !v.down(k) || excluded.Contains(v.status) {
			continue
		}
		down = append(down, DownValidator{
			ValidatorIndex:    index,
			Operator:          v.operator,
			Status:            v.status,
			StartEpoch:        w.StartEpoch,
			LatestEpoch:       w.EndEpoch,
			ConsecutiveMisses: k,
		})
	}
	sort.Slice(down, func(i, j int) bool {
		if down[i].Operator != down[j].Operator {
			return down[i].Operator < down[j].Operator
		}
		return down[i].ValidatorIndex < down[j].ValidatorIndex
	})
	return down, nil
}

func (v *validatorWindow) down(k int) bool {
	if len(v.epochs) != k || !v.atLatest {
		return false
	}
	for _, missed := range v.epochs {
		if !missed {
			return false
		}
	}
	return true
}

type EpochMisses struct {
	Epoch      phase0.Epoch `json:"epoch"`
	Validators int          `json:"validators"`
	Missed     int          `json:"missed"`
}

// DownSummary describes attestation failures across the k most recent epochs.
type DownSummary struct {
	Window                  window.Window   `json:"window"`
	K                       int             `json:"k"`
	TotalValidators         int             `json:"total_validators"`
	TotalOperators          int             `json:"total_operators"`
	MissedLatest            int             `json:"missed_latest"`
	ConsecutiveDown         int             `json:"consecutive_down"`
	LatestParticipationRate float64         `json:"latest_participation_rate"`
	ConsecutiveFailureRate  float64         `json:"consecutive_failure_rate"`
	MissedByEpoch           []EpochMisses   `json:"missed_by_epoch"`
	DownByOperator          map[string]int  `json:"down_by_operator"`
	Down                    []DownValidator `json:"down"`
}

// SummarizeDown counts validators and misses per epoch of the window and
// reports the validators detected as down. Totals only consider validators
// whose latest status is outside of excluded.
func SummarizeDown(
	records []duties.Record,
	k int,
	latest phase0.Epoch,
	excluded duties.StatusSet,
) (*DownSummary, error) {
	down, err := DetectDown(records, k, latest, excluded)
	if err != nil {
		return nil, err
	}
	w, _ := DownWindow(k, latest)
	summary := &DownSummary{
		Window:          w,
		K:               k,
		ConsecutiveDown: len(down),
		DownByOperator:  map[string]int{},
		Down:            down,
	}

	byEpoch := map[phase0.Epoch]*EpochMisses{}
	for e := w.StartEpoch; e <= w.EndEpoch; e++ {
		byEpoch[e] = &EpochMisses{Epoch: e}
	}
	operators := map[string]struct{}{}
	for _, v := range collectWindows(records, w) {
		if !v.atLatest || excluded.Contains(v.status) {
			continue
		}
		summary.TotalValidators++
		operators[v.operator] = struct{}{}
		for epoch, missed := range v.epochs {
			byEpoch[epoch].Validators++
			if missed {
				byEpoch[epoch].Missed++
			}
		}
	}
	summary.TotalOperators = len(operators)
	summary.MissedLatest = byEpoch[w.EndEpoch].Missed
	// Most recent epoch first.
	for i := 0; i < k; i++ {
		summary.MissedByEpoch = append(summary.MissedByEpoch, *byEpoch[w.EndEpoch-phase0.Epoch(i)])
	}
	for _, d := range down {
		summary.DownByOperator[d.Operator]++
	}
	if summary.TotalValidators > 0 {
		summary.LatestParticipationRate = percent(
			float64(summary.TotalValidators-summary.MissedLatest),
			float64(summary.TotalValidators),
		)
		summary.ConsecutiveFailureRate = percent(float64(len(down)), float64(summary.TotalValidators))
	}
	return summary, nil
}
