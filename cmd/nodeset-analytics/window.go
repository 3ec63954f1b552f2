package main

import (
	"context"
	"fmt"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"go.uber.org/zap"

	"github.com/nodeset-org/nodeset-analytics/pkg/beacon"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

// WindowFlags select an epoch window. A date takes precedence over explicit
// epochs, which take precedence over days.
type WindowFlags struct {
	Days       int    `default:"7" help:"Number of days back from the latest tracked epoch."`
	Date       string `help:"Beacon day (YYYY-MM-DD) to select, starting at the genesis time of day."`
	StartEpoch int64  `default:"-1" help:"First epoch of an explicit window. Defaults to the earliest tracked epoch."`
	EndEpoch   int64  `default:"-1" help:"Last epoch of an explicit window. Defaults to the latest tracked epoch."`
	Policy     string `help:"Policy for windows beyond tracked history (clamp or strict). Defaults to the configured policy."`
}

func (f *WindowFlags) request() (window.Request, error) {
	if f.Date != "" {
		day, err := time.Parse("2006-01-02", f.Date)
		if err != nil {
			return window.Request{}, fmt.Errorf("failed to parse date: %w", err)
		}
		// Beacon days start around noon, so late evening falls within the day
		// starting on the date.
		from, to := beacon.Mainnet.DayEpochs(day.Add(23 * time.Hour))
		return window.Range(from, to), nil
	}
	req := window.Days(f.Days)
	if f.StartEpoch >= 0 {
		start := phase0.Epoch(f.StartEpoch)
		req.StartEpoch = &start
	}
	if f.EndEpoch >= 0 {
		end := phase0.Epoch(f.EndEpoch)
		req.EndEpoch = &end
	}
	return req, nil
}

func (f *WindowFlags) policy() (window.Policy, error) {
	if f.Policy == "" {
		return "", nil
	}
	return window.ParsePolicy(f.Policy)
}

type WindowCmd struct {
	WindowFlags
}

func (c *WindowCmd) Run(logger *zap.Logger, globals *Globals) error {
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
	w, err := s.engine.Window(ctx, req, policy)
	if err != nil {
		return err
	}
	logger.Info(
		"Resolved window",
		zap.Uint64("start_epoch", uint64(w.StartEpoch)),
		zap.Uint64("end_epoch", uint64(w.EndEpoch)),
		zap.Int("epochs_requested", w.EpochsRequested),
		zap.Int("epochs_available", w.EpochsAvailable),
		zap.Bool("truncated", w.IsTruncated),
		zap.Time("start_time", beacon.Mainnet.EpochTime(w.StartEpoch)),
		zap.Time("end_time", beacon.Mainnet.EpochTime(w.EndEpoch+1)),
	)
	return printJSON(w)
}
