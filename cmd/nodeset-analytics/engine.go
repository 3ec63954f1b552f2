package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nodeset-org/nodeset-analytics/pkg/analytics"
	"github.com/nodeset-org/nodeset-analytics/pkg/cache"
	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
	"github.com/nodeset-org/nodeset-analytics/pkg/duties/clickhouse"
	"github.com/nodeset-org/nodeset-analytics/pkg/duties/postgres"
	"github.com/nodeset-org/nodeset-analytics/pkg/operators"
)

// session is the engine of a command together with its collaborators.
type session struct {
	engine *analytics.Engine
	config *analytics.Config
	names  operators.Names
	close  func() error
}

func (g *Globals) open(ctx context.Context, logger *zap.Logger) (*session, error) {
	config, err := g.loadConfig(logger)
	if err != nil {
		return nil, err
	}
	source, closer, err := g.openSource(logger)
	if err != nil {
		return nil, err
	}
	engine, err := analytics.New(logger, source, config, g.CacheTTL)
	if err != nil {
		closer()
		return nil, err
	}
	namesCache, err := cache.New[operators.Names](4)
	if err != nil {
		closer()
		return nil, err
	}
	names, err := operators.LoadNames(ctx, namesCache, config.NamesFile)
	if err != nil {
		closer()
		return nil, fmt.Errorf("failed to load operator names: %w", err)
	}
	return &session{engine: engine, config: config, names: names, close: closer}, nil
}

func (g *Globals) loadConfig(logger *zap.Logger) (*analytics.Config, error) {
	data, err := os.ReadFile(g.Config)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("Using default configuration", zap.String("path", g.Config))
		return analytics.DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", g.Config, err)
	}
	config, err := analytics.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", g.Config, err)
	}
	return config, nil
}

func (g *Globals) openSource(logger *zap.Logger) (duties.Source, func() error, error) {
	noop := func() error { return nil }
	switch g.Source {
	case "clickhouse":
		return clickhouse.New(logger, clickhouse.Options{
			Endpoint:          g.ClickHouseEndpoint,
			Database:          g.ClickHouseDatabase,
			User:              g.ClickHouseUser,
			Password:          g.ClickHousePassword,
			Timeout:           g.ClickHouseTimeout,
			RequestsPerSecond: g.ClickHouseRequestsPerSecond,
		}), noop, nil
	case "postgres":
		source, err := postgres.Open(logger, g.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return source, source.Close, nil
	case "file":
		f, err := os.Open(g.RecordsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open records file: %w", err)
		}
		defer f.Close()
		records, err := duties.ReadJSONL(f)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Loaded duty records", zap.String("file", g.RecordsFile), zap.Int("records", len(records)))
		return duties.NewMemorySource(records), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown source %q", g.Source)
}
