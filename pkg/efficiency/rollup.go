package efficiency

import (
	"fmt"
	"sort"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// RankBy selects the operator percentage used for ranking.
type RankBy string

const (
	// RankByTotals ranks by operator_reward_percentage, the sum of validator
	// rewards over the sum of their ideals.
	RankByTotals RankBy = "totals"

	// RankByAverage ranks by avg_validator_reward_percentage, the mean of
	// validator percentages.
	RankByAverage RankBy = "average"
)

func ParseRankBy(s string) (RankBy, error) {
	switch RankBy(s) {
	case RankByTotals, RankByAverage:
		return RankBy(s), nil
	}
	return "", fmt.Errorf("unknown rollup %q", s)
}

type ValidatorResult struct {
	ValidatorIndex phase0.ValidatorIndex `json:"validator_index"`
	Operator       string                `json:"operator"`
	Result
}

type OperatorResult struct {
	Rank                         int      `json:"rank"`
	Operator                     string   `json:"operator"`
	ValidatorCount               int      `json:"validator_count"`
	Actual                       float64  `json:"actual_reward"`
	Ideal                        float64  `json:"ideal_reward"`
	OperatorRewardPercentage     float64  `json:"operator_reward_percentage"`
	AvgValidatorRewardPercentage float64  `json:"avg_validator_reward_percentage"`
	RelativeScore                float64  `json:"relative_score"`
	Category                     Category `json:"category"`
	Coverage                     Coverage `json:"coverage"`

	// Aggregate evaluates the operator's pooled records as one entity, so
	// corrected averages come from the operator's own successful attestations.
	Aggregate *Result `json:"aggregate,omitempty"`
}

// Percentage returns the operator percentage selected by by.
func (o *OperatorResult) Percentage(by RankBy) float64 {
	if by == RankByAverage {
		return o.AvgValidatorRewardPercentage
	}
	return o.OperatorRewardPercentage
}

type RollupOptions struct {
	RankBy     RankBy
	Thresholds *Thresholds

	// Limit truncates the ranked result, if positive.
	Limit int
}

// Rollup groups validator results by operator, ranks operators by the chosen
// percentage and scores them relative to the best operator. Validators
// without an operator are ignored.
func Rollup(results []ValidatorResult, opts RollupOptions) []OperatorResult {
	if opts.RankBy == "" {
		opts.RankBy = RankByTotals
	}
	thresholds := DefaultThresholds()
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}

	byOperator := map[string]*OperatorResult{}
	var operators []*OperatorResult
	for _, vr := range results {
		if vr.Operator == "" {
			continue
		}
		op, ok := byOperator[vr.Operator]
		if !ok {
			op = &OperatorResult{
				Operator: vr.Operator,
				Coverage: Coverage{EpochsInPeriod: vr.Coverage.EpochsInPeriod},
			}
			byOperator[vr.Operator] = op
			operators = append(operators, op)
		}
		op.ValidatorCount++
		op.Actual += vr.Actual
		op.Ideal += vr.Ideal
		op.AvgValidatorRewardPercentage += vr.Overall
		op.Coverage = op.Coverage.merge(vr.Coverage)
	}
	for _, op := range operators {
		op.OperatorRewardPercentage = percent(op.Actual, op.Ideal)
		op.AvgValidatorRewardPercentage /= float64(op.ValidatorCount)
	}

	sort.SliceStable(operators, func(i, j int) bool {
		pi, pj := operators[i].Percentage(opts.RankBy), operators[j].Percentage(opts.RankBy)
		if pi != pj {
			return pi > pj
		}
		return operators[i].Operator < operators[j].Operator
	})

	var highest float64
	if len(operators) > 0 {
		highest = operators[0].Percentage(opts.RankBy)
	}
	ranked := make([]OperatorResult, 0, len(operators))
	for i, op := range operators {
		op.Rank = i + 1
		op.RelativeScore = RelativeScore(op.Percentage(opts.RankBy), highest)
		op.Category = thresholds.Categorize(op.Percentage(opts.RankBy))
		ranked = append(ranked, *op)
	}
	if opts.Limit > 0 && len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	return ranked
}

// EvaluateOperators sets the Aggregate result of each operator from its pooled
// aggregate. Operators without one are left untouched.
func EvaluateOperators(strategy Strategy, operators []OperatorResult, byOperator map[string]*Aggregate) {
	for i := range operators {
		agg, ok := byOperator[operators[i].Operator]
		if !ok {
			continue
		}
		result := strategy.Evaluate(agg)
		operators[i].Aggregate = &result
	}
}

// RelativeScore normalises pct against the highest percentage in a result
// set, so that the highest scores exactly 100. When the highest percentage is
// not positive, only operators matching it score 100 and the rest score 0.
func RelativeScore(pct, highest float64) float64 {
	if pct >= highest {
		return 100
	}
	if highest <= 0 || pct <= 0 {
		return 0
	}
	return pct / highest * 100
}

func (c Coverage) merge(o Coverage) Coverage {
	c.ValidatorCount += o.ValidatorCount
	c.ActiveDutyPeriods += o.ActiveDutyPeriods
	c.PendingPeriods += o.PendingPeriods
	c.SuccessfulAttestations += o.SuccessfulAttestations
	c.MissedAttestations += o.MissedAttestations
	c.TotalDataPoints += o.TotalDataPoints
	c.ExpectedDataPoints += o.ExpectedDataPoints
	c.MissingDataPoints = c.ExpectedDataPoints - c.TotalDataPoints
	c.DataCoveragePercentage = percent(float64(c.TotalDataPoints), float64(c.ExpectedDataPoints))
	c.AttestationSuccessRate = percent(float64(c.SuccessfulAttestations), float64(c.ActiveDutyPeriods))
	return c
}
