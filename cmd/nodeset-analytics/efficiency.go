package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nodeset-org/nodeset-analytics/pkg/analytics"
	"github.com/nodeset-org/nodeset-analytics/pkg/efficiency"
)

// ReportFlags control how a report is written.
type ReportFlags struct {
	Out           string `help:"Path to export operator results to, tab separated."`
	ValidatorsOut string `help:"Path to export validator results to, tab separated."`
	JSON          bool   `help:"Print the full report as JSON."`
}

type EfficiencyCmd struct {
	WindowFlags
	ReportFlags
	Method   string `default:"corrected" enum:"simple,corrected,comprehensive" help:"Efficiency methodology. Simple is deprecated and kept for comparison."`
	RankBy   string `default:"totals" enum:"totals,average" help:"Operator percentage to rank by."`
	Operator string `help:"Restrict results to a single operator."`
	Limit    int    `help:"Maximum number of operators to report."`
}

func (c *EfficiencyCmd) Run(logger *zap.Logger, globals *Globals) error {
	ctx := context.Background()
	s, err := globals.open(ctx, logger)
	if err != nil {
		return err
	}
	defer s.close()

	policy, err := c.policy()
	if err != nil {
		return err
	}
	req, err := c.request()
	if err != nil {
		return err
	}
	method, err := efficiency.ParseMethod(c.Method)
	if err != nil {
		return err
	}
	if method == efficiency.MethodSimple {
		logger.Warn("Simple efficiency ignores penalties and pending periods, use it for comparison only")
	}
	rankBy, err := efficiency.ParseRankBy(c.RankBy)
	if err != nil {
		return err
	}
	report, err := s.engine.Efficiency(ctx, analytics.Query{
		Method:   method,
		RankBy:   rankBy,
		Operator: c.Operator,
		Window:   req,
		Policy:   policy,
		Limit:    c.Limit,
	})
	if err != nil {
		return fmt.Errorf("failed to compute efficiency: %w", err)
	}
	return c.write(logger, s, report)
}

func (c *ReportFlags) write(logger *zap.Logger, s *session, report *analytics.Report) error {
	logReport(logger, s, report)
	if c.Out != "" {
		if err := exportCSV(operatorRows(report, s.names), c.Out); err != nil {
			return fmt.Errorf("failed to export operators: %w", err)
		}
		logger.Info("Exported operators", zap.String("file", c.Out))
	}
	if c.ValidatorsOut != "" {
		if err := exportCSV(validatorRows(report.Validators), c.ValidatorsOut); err != nil {
			return fmt.Errorf("failed to export validators: %w", err)
		}
		logger.Info("Exported validators", zap.String("file", c.ValidatorsOut))
	}
	if c.JSON {
		return printJSON(report)
	}
	return nil
}

func logReport(logger *zap.Logger, s *session, report *analytics.Report) {
	total := report.Total
	logger.Info(
		"Computed efficiency",
		zap.String("method", string(report.Method)),
		zap.Stringer("window", report.Window),
		zap.Bool("truncated", report.Window.IsTruncated),
		zap.Int("validators", total.Coverage.ValidatorCount),
		zap.Float64("efficiency", total.Overall),
		zap.Float64("data_coverage", total.Coverage.DataCoveragePercentage),
		zap.Int("missing_data_points", total.Coverage.MissingDataPoints),
		zap.Int("skipped_records", report.Skipped),
	)
	if report.Method == efficiency.MethodComprehensive {
		logger.Info(
			"Duty efficiency",
			zap.Float64("proposer_baseline", report.ProposerBaseline),
			zap.Float64("attester", total.Attester.Percent),
			zap.Float64("proposer", total.Proposer.Percent),
			zap.Float64("sync", total.Sync.Percent),
			zap.Float64("sync_participation", total.Accuracy.SyncParticipation),
		)
	}
	for _, op := range report.Operators {
		logger.Info(
			"Operator",
			zap.Int("rank", op.Rank),
			zap.String("operator", s.names.Display(op.Operator)),
			zap.Int("validators", op.ValidatorCount),
			zap.Float64("operator_pct", op.OperatorRewardPercentage),
			zap.Float64("avg_validator_pct", op.AvgValidatorRewardPercentage),
			zap.Float64("relative_score", op.RelativeScore),
			zap.String("category", string(op.Category)),
		)
	}
}

type ComprehensiveCmd struct {
	ReportFlags
	Days     int    `default:"1" help:"Number of days back from the latest tracked epoch."`
	Operator string `help:"Restrict results to a single operator."`
}

func (c *ComprehensiveCmd) Run(logger *zap.Logger, globals *Globals) error {
	ctx := context.Background()
	s, err := globals.open(ctx, logger)
	if err != nil {
		return err
	}
	defer s.close()

	report, err := s.engine.Comprehensive(ctx, c.Operator, c.Days)
	if err != nil {
		return fmt.Errorf("failed to compute comprehensive efficiency: %w", err)
	}
	return c.write(logger, s, report)
}
