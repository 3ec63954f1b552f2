package efficiency

import "fmt"

// Method names an efficiency methodology.
type Method string

const (
	// MethodSimple is the gross reward ratio over all periods.
	//
	// Deprecated: it ignores penalties and counts pending periods in the
	// denominator. It is kept for comparison with MethodCorrected only.
	MethodSimple        Method = "simple"
	MethodCorrected     Method = "corrected"
	MethodComprehensive Method = "comprehensive"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodSimple, MethodCorrected, MethodComprehensive:
		return Method(s), nil
	}
	return "", fmt.Errorf("unknown efficiency method %q", s)
}

// DutyEfficiency is the efficiency of a single duty type. Amounts are in gwei.
type DutyEfficiency struct {
	Actual  float64 `json:"actual_reward"`
	Ideal   float64 `json:"ideal_reward"`
	Percent float64 `json:"efficiency_percent"`
	Duties  int     `json:"duties"`
}

func newDutyEfficiency(actual, ideal float64, duties int) DutyEfficiency {
	return DutyEfficiency{
		Actual:  actual,
		Ideal:   ideal,
		Percent: percent(actual, ideal),
		Duties:  duties,
	}
}

// Coverage carries the raw counts needed to judge how reliable a result is.
type Coverage struct {
	ValidatorCount         int     `json:"validator_count"`
	EpochsInPeriod         int     `json:"epochs_in_period"`
	ActiveDutyPeriods      int     `json:"active_duty_periods"`
	PendingPeriods         int     `json:"pending_periods"`
	SuccessfulAttestations int     `json:"successful_attestations"`
	MissedAttestations     int     `json:"missed_attestations"`
	TotalDataPoints        int     `json:"total_data_points"`
	ExpectedDataPoints     int     `json:"expected_total_epochs"`
	MissingDataPoints      int     `json:"missing_data_points"`
	DataCoveragePercentage float64 `json:"data_coverage_percentage"`
	AttestationSuccessRate float64 `json:"attestation_success_rate"`
}

type Accuracy struct {
	HeadAccuracy      float64 `json:"head_accuracy"`
	TargetAccuracy    float64 `json:"target_accuracy"`
	SourceAccuracy    float64 `json:"source_accuracy"`
	AvgInclusionDelay float64 `json:"avg_inclusion_delay"`
	ProposalRate      float64 `json:"proposal_rate"`
	SyncParticipation float64 `json:"avg_sync_participation"`
}

type CorrectedDetails struct {
	NetRewards               int64   `json:"net_rewards"`
	MaxPossibleRewards       float64 `json:"max_possible_rewards"`
	AvgRewardPerAttestation  float64 `json:"avg_reward_per_attestation"`
	OriginalFlawedPercentage float64 `json:"original_flawed_percentage"`
}

// Result is the efficiency of a validator or a set of validators under a
// single method. Actual and Ideal are the numerator and denominator of
// Overall, which totals-first rollups sum across validators.
type Result struct {
	Method   Method         `json:"method"`
	Attester DutyEfficiency `json:"attester"`
	Proposer DutyEfficiency `json:"proposer"`
	Sync     DutyEfficiency `json:"sync"`
	Actual   float64        `json:"actual_reward"`
	Ideal    float64        `json:"ideal_reward"`
	Overall  float64        `json:"overall_efficiency"`
	Coverage Coverage       `json:"coverage"`
	Accuracy Accuracy       `json:"accuracy"`

	Corrected *CorrectedDetails `json:"corrected,omitempty"`
}
