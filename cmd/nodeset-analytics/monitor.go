package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/nodeset-org/nodeset-analytics/pkg/analytics"
	"github.com/nodeset-org/nodeset-analytics/pkg/efficiency"
	"github.com/nodeset-org/nodeset-analytics/pkg/metrics"
	"github.com/nodeset-org/nodeset-analytics/pkg/notify"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

type MonitorCmd struct {
	Interval     time.Duration `default:"6m24s" help:"Time between updates."`
	Days         int           `default:"1" help:"Number of days of the efficiency window."`
	Listen       string        `default:":9100" help:"Address to serve Prometheus metrics on."`
	ShoutrrrURLs []string      `name:"shoutrrr-url" env:"SHOUTRRR_URLS" help:"Shoutrrr service URLs to notify of down validators."`
}

func (c *MonitorCmd) Run(logger *zap.Logger, globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := globals.open(ctx, logger)
	if err != nil {
		return err
	}
	defer s.close()

	m := metrics.New()
	notifier := notify.New(logger, c.ShoutrrrURLs, s.names.Display)
	server := &http.Server{Addr: c.Listen, Handler: m.Handler()}

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		logger.Info("Serving metrics", zap.String("addr", c.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	p.Go(func(ctx context.Context) error {
		ticker := time.NewTicker(c.Interval)
		defer ticker.Stop()
		for {
			if err := c.update(ctx, logger, s.engine, m, notifier); err != nil {
				logger.Error("Failed to update", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	return p.Wait()
}

func (c *MonitorCmd) update(
	ctx context.Context,
	logger *zap.Logger,
	engine *analytics.Engine,
	m *metrics.Metrics,
	notifier *notify.Notifier,
) error {
	engine.Refresh()
	for _, method := range []efficiency.Method{efficiency.MethodCorrected, efficiency.MethodComprehensive} {
		report, err := engine.Efficiency(ctx, analytics.Query{
			Method: method,
			Window: window.Days(c.Days),
			Policy: window.PolicyClamp,
		})
		if err != nil {
			return fmt.Errorf("failed to compute %s efficiency: %w", method, err)
		}
		m.ObserveReport(report)
	}

	summary, err := engine.DownSummary(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to summarize down validators: %w", err)
	}
	m.ObserveDown(summary)
	if msg := notifier.Update(summary.Down); msg != "" && !notifier.Enabled() {
		logger.Warn("Down validators changed", zap.String("message", msg))
	}
	logger.Info(
		"Updated metrics",
		zap.Stringer("window", summary.Window),
		zap.Int("down", summary.ConsecutiveDown),
		zap.Float64("participation", summary.LatestParticipationRate),
	)
	return nil
}
