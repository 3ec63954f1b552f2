package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nodeset-org/nodeset-analytics/pkg/analytics"
)

type ConcentrationCmd struct {
	WindowFlags
	JSON bool `help:"Print the result as JSON."`
}

func (c *ConcentrationCmd) Run(logger *zap.Logger, globals *Globals) error {
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
	concentration, err := s.engine.Concentration(ctx, analytics.Query{
		Window: req,
		Policy: policy,
	})
	if err != nil {
		return fmt.Errorf("failed to compute concentration: %w", err)
	}
	logger.Info(
		"Computed concentration",
		zap.Int("operators", concentration.Operators),
		zap.Int("validators", concentration.Validators),
		zap.Float64("gini", concentration.Gini),
		zap.Float64("herfindahl", concentration.Herfindahl),
		zap.Float64("top_1", concentration.Top1Percent),
		zap.Float64("top_5", concentration.Top5Percent),
		zap.Float64("top_10", concentration.Top10Percent),
		zap.Float64("top_20", concentration.Top20Percent),
	)
	if c.JSON {
		return printJSON(concentration)
	}
	return nil
}
