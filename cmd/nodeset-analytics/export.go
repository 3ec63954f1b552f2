package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/nodeset-org/nodeset-analytics/pkg/analytics"
	"github.com/nodeset-org/nodeset-analytics/pkg/efficiency"
	"github.com/nodeset-org/nodeset-analytics/pkg/operators"
	"github.com/nodeset-org/nodeset-analytics/pkg/precise"
)

type operatorRow struct {
	Rank                         int          `csv:"rank"`
	Operator                     string       `csv:"operator"`
	Name                         string       `csv:"name"`
	Validators                   int          `csv:"validators"`
	Actual                       *precise.ETH `csv:"actual_eth"`
	Ideal                        *precise.ETH `csv:"ideal_eth"`
	OperatorRewardPercentage     float64      `csv:"operator_reward_percentage"`
	AvgValidatorRewardPercentage float64      `csv:"avg_validator_reward_percentage"`
	RelativeScore                float64      `csv:"relative_score"`
	Category                     string       `csv:"category"`
	ActiveDutyPeriods            int          `csv:"active_duty_periods"`
	MissingDataPoints            int          `csv:"missing_data_points"`
	DataCoveragePercentage       float64      `csv:"data_coverage_percentage"`
	AggregatePercentage          float64      `csv:"operator_aggregate_percentage"`
}

func operatorRows(report *analytics.Report, names operators.Names) []*operatorRow {
	rows := make([]*operatorRow, 0, len(report.Operators))
	for _, op := range report.Operators {
		name, _ := names.Name(op.Operator)
		row := &operatorRow{
			Rank:                         op.Rank,
			Operator:                     op.Operator,
			Name:                         name,
			Validators:                   op.ValidatorCount,
			Actual:                       precise.FromGwei(op.Actual),
			Ideal:                        precise.FromGwei(op.Ideal),
			OperatorRewardPercentage:     op.OperatorRewardPercentage,
			AvgValidatorRewardPercentage: op.AvgValidatorRewardPercentage,
			RelativeScore:                op.RelativeScore,
			Category:                     string(op.Category),
			ActiveDutyPeriods:            op.Coverage.ActiveDutyPeriods,
			MissingDataPoints:            op.Coverage.MissingDataPoints,
			DataCoveragePercentage:       op.Coverage.DataCoveragePercentage,
		}
		if op.Aggregate != nil {
			row.AggregatePercentage = op.Aggregate.Overall
		}
		rows = append(rows, row)
	}
	return rows
}

type validatorRow struct {
	ValidatorIndex         uint64       `csv:"validator_index"`
	Operator               string       `csv:"operator"`
	Actual                 *precise.ETH `csv:"actual_eth"`
	Ideal                  *precise.ETH `csv:"ideal_eth"`
	Efficiency             float64      `csv:"efficiency_percent"`
	AttesterEfficiency     float64      `csv:"attester_efficiency"`
	ProposerEfficiency     float64      `csv:"proposer_efficiency"`
	SyncEfficiency         float64      `csv:"sync_efficiency"`
	ActiveDutyPeriods      int          `csv:"active_duty_periods"`
	PendingPeriods         int          `csv:"pending_periods"`
	MissedAttestations     int          `csv:"missed_attestations"`
	AttestationSuccessRate float64      `csv:"attestation_success_rate"`
	HeadAccuracy           float64      `csv:"head_accuracy"`
	AvgInclusionDelay      float64      `csv:"avg_inclusion_delay"`
	SyncParticipation      float64      `csv:"avg_sync_participation"`
}

func validatorRows(results []efficiency.ValidatorResult) []*validatorRow {
	rows := make([]*validatorRow, 0, len(results))
	for _, v := range results {
		rows = append(rows, &validatorRow{
			ValidatorIndex:         uint64(v.ValidatorIndex),
			Operator:               v.Operator,
			Actual:                 precise.FromGwei(v.Actual),
			Ideal:                  precise.FromGwei(v.Ideal),
			Efficiency:             v.Overall,
			AttesterEfficiency:     v.Attester.Percent,
			ProposerEfficiency:     v.Proposer.Percent,
			SyncEfficiency:         v.Sync.Percent,
			ActiveDutyPeriods:      v.Coverage.ActiveDutyPeriods,
			PendingPeriods:         v.Coverage.PendingPeriods,
			MissedAttestations:     v.Coverage.MissedAttestations,
			AttestationSuccessRate: v.Coverage.AttestationSuccessRate,
			HeadAccuracy:           v.Accuracy.HeadAccuracy,
			AvgInclusionDelay:      v.Accuracy.AvgInclusionDelay,
			SyncParticipation:      v.Accuracy.SyncParticipation,
		})
	}
	return rows
}

func exportCSV(data any, fileName string) error {
	// Use tabs as separators.
	gocsv.SetCSVWriter(func(out io.Writer) *gocsv.SafeCSVWriter {
		w := csv.NewWriter(out)
		w.Comma = '\t'
		return gocsv.NewSafeCSVWriter(w)
	})

	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", fileName, err)
	}
	defer f.Close()
	if err := gocsv.Marshal(data, f); err != nil {
		return fmt.Errorf("failed to marshal %q: %w", fileName, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
