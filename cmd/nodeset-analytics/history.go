package main

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nodeset-org/nodeset-analytics/pkg/beacon"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

type HistoryCmd struct {
	Days     int    `default:"30" help:"Number of days back from the latest tracked epoch."`
	Operator string `help:"Operator to report the rank history of."`
	Out      string `help:"Path to export daily operator efficiency to, tab separated."`
	RanksOut string `help:"Path to export the rank history to, tab separated."`
	JSON     bool   `help:"Print the history as JSON."`
}

type dailyRow struct {
	Date       string  `csv:"date"`
	StartEpoch uint64  `csv:"start_epoch"`
	EndEpoch   uint64  `csv:"end_epoch"`
	Operator   string  `csv:"operator"`
	Efficiency float64 `csv:"efficiency_percent"`
}

type rankRow struct {
	StartEpoch           uint64  `csv:"start_epoch"`
	EndEpoch             uint64  `csv:"end_epoch"`
	Rank                 int     `csv:"rank"`
	TotalOperators       int     `csv:"total_operators"`
	Performance          float64 `csv:"rolling_performance"`
	SingleDayPerformance float64 `csv:"single_day_performance"`
}

func (c *HistoryCmd) Run(logger *zap.Logger, globals *Globals) error {
	ctx := context.Background()
	s, err := globals.open(ctx, logger)
	if err != nil {
		return err
	}
	defer s.close()

	bar := progressbar.New(c.Days)
	bar.Describe("Computing daily efficiency")
	defer bar.Clear()
	history, err := s.engine.History(ctx, c.Operator, c.Days, func(w window.Window) {
		bar.Describe(fmt.Sprintf("Computing daily efficiency for epochs %s", w))
		bar.Add(1)
	})
	if err != nil {
		return fmt.Errorf("failed to compute history: %w", err)
	}
	bar.Clear()

	var daily []*dailyRow
	for _, day := range history.Days {
		operators := maps.Keys(day.ByOperator)
		slices.Sort(operators)
		for _, operator := range operators {
			daily = append(daily, &dailyRow{
				Date:       beacon.Mainnet.EpochTime(day.Window.StartEpoch).Format("2006-01-02"),
				StartEpoch: uint64(day.Window.StartEpoch),
				EndEpoch:   uint64(day.Window.EndEpoch),
				Operator:   operator,
				Efficiency: day.ByOperator[operator],
			})
		}
	}
	var ranks []*rankRow
	for _, point := range history.Ranks {
		ranks = append(ranks, &rankRow{
			StartEpoch:           uint64(point.Window.StartEpoch),
			EndEpoch:             uint64(point.Window.EndEpoch),
			Rank:                 point.Rank,
			TotalOperators:       point.TotalOperators,
			Performance:          point.Performance,
			SingleDayPerformance: point.SingleDayPerformance,
		})
		logger.Info(
			"Rank",
			zap.Stringer("window", point.Window),
			zap.String("operator", s.names.Display(c.Operator)),
			zap.Int("rank", point.Rank),
			zap.Int("operators", point.TotalOperators),
			zap.Float64("rolling_performance", point.Performance),
		)
	}
	logger.Info(
		"Computed history",
		zap.Stringer("window", history.Window),
		zap.Int("days", len(history.Days)),
	)

	if c.Out != "" {
		if err := exportCSV(daily, c.Out); err != nil {
			return err
		}
	}
	if c.RanksOut != "" {
		if c.Operator == "" {
			return fmt.Errorf("--ranks-out requires --operator")
		}
		if err := exportCSV(ranks, c.RanksOut); err != nil {
			return err
		}
	}
	if c.JSON {
		return printJSON(history)
	}
	return nil
}
