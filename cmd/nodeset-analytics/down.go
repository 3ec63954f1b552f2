package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type DownCmd struct {
	K       int  `short:"k" help:"Number of consecutive missed epochs. Defaults to the configured window."`
	Limit   int  `help:"Maximum number of validators to list."`
	Summary bool `help:"Summarize participation of the recent epochs."`
	JSON    bool `help:"Print the result as JSON."`
}

func (c *DownCmd) Run(logger *zap.Logger, globals *Globals) error {
	ctx := context.Background()
	s, err := globals.open(ctx, logger)
	if err != nil {
		return err
	}
	defer s.close()

	if c.Summary {
		summary, err := s.engine.DownSummary(ctx, c.K)
		if err != nil {
			return fmt.Errorf("failed to summarize down validators: %w", err)
		}
		logger.Info(
			"Attestation summary",
			zap.Stringer("window", summary.Window),
			zap.Int("validators", summary.TotalValidators),
			zap.Int("operators", summary.TotalOperators),
			zap.Int("missed_latest", summary.MissedLatest),
			zap.Int("down", summary.ConsecutiveDown),
			zap.Float64("participation", summary.LatestParticipationRate),
			zap.Float64("failure_rate", summary.ConsecutiveFailureRate),
		)
		if c.JSON {
			return printJSON(summary)
		}
		return nil
	}

	down, err := s.engine.ValidatorsDown(ctx, c.K, c.Limit)
	if err != nil {
		return fmt.Errorf("failed to detect down validators: %w", err)
	}
	for _, d := range down {
		logger.Warn(
			"Validator down",
			zap.Uint64("validator", uint64(d.ValidatorIndex)),
			zap.String("operator", s.names.Display(d.Operator)),
			zap.String("status", string(d.Status)),
			zap.Int("missed", d.ConsecutiveMisses),
			zap.Uint64("latest_epoch", uint64(d.LatestEpoch)),
		)
	}
	logger.Info("Detected down validators", zap.Int("count", len(down)))
	if c.JSON {
		return printJSON(down)
	}
	return nil
}
