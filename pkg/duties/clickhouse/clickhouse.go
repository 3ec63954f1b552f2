package clickhouse

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/carlmjohnson/requests"
	"github.com/gocarina/gocsv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
	"github.com/nodeset-org/nodeset-analytics/pkg/httpretry"
)

const DefaultTable = "validators_summary"

type Options struct {
	Endpoint string
	Database string
	User     string
	Password string
	Table    string

	// Timeout bounds every query. Record queries fail fast on timeout and
	// are not retried.
	Timeout time.Duration

	RequestsPerSecond float64

	// RetryClient is used for cheap metadata queries. Defaults to httpretry.Client.
	RetryClient *http.Client
}

// Client reads duty records from the ClickHouse HTTP interface.
type Client struct {
	opts        Options
	logger      *zap.Logger
	rateLimiter *rate.Limiter
	queryClient *http.Client
	retryClient *http.Client
	skipped     atomic.Int64
}

func New(logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.RetryClient == nil {
		opts.RetryClient = httpretry.Client
	}
	return &Client{
		opts:   opts,
		logger: logger,
		rateLimiter: rate.NewLimiter(
			rate.Every(time.Duration(float64(time.Second)/opts.RequestsPerSecond)),
			1,
		),
		queryClient: &http.Client{},
		retryClient: opts.RetryClient,
	}
}

// Skipped returns the number of rows dropped because they couldn't be decoded.
func (c *Client) Skipped() int64 {
	return c.skipped.Load()
}

func (c *Client) DutyRecords(ctx context.Context, filter duties.Filter) ([]duties.Record, error) {
	var where []string
	where = append(where, fmt.Sprintf("epoch >= %d AND epoch <= %d", filter.StartEpoch, filter.EndEpoch))
	if filter.Operator != "" {
		where = append(where, "val_nos_name = "+quote(filter.Operator))
	}
	if len(filter.ExcludeStatuses) > 0 {
		where = append(where, statusExclusion(filter.ExcludeStatuses))
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s ORDER BY epoch, val_id FORMAT TSVWithNames",
		strings.Join(summaryColumns, ", "),
		c.opts.Table,
		strings.Join(where, " AND "),
	)

	var rows []*summaryRow
	if err := c.query(ctx, c.queryClient, query, &rows); err != nil {
		return nil, fmt.Errorf("failed to query duty records: %w", err)
	}
	records := make([]duties.Record, 0, len(rows))
	for i, row := range rows {
		record, err := row.record()
		if err != nil {
			c.skipped.Add(1)
			c.logger.Warn(
				"Skipped undecodable duty record",
				zap.Int("row", i+1),
				zap.String("validator", row.ValID),
				zap.String("epoch", row.Epoch),
				zap.Error(err),
			)
			continue
		}
		records = append(records, record)
	}
	c.logger.Debug(
		"Fetched duty records",
		zap.Uint64("from_epoch", uint64(filter.StartEpoch)),
		zap.Uint64("to_epoch", uint64(filter.EndEpoch)),
		zap.String("operator", filter.Operator),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func (c *Client) LatestTrackedEpoch(ctx context.Context) (phase0.Epoch, error) {
	return c.trackedEpoch(ctx, "max")
}

func (c *Client) EarliestTrackedEpoch(ctx context.Context) (phase0.Epoch, error) {
	return c.trackedEpoch(ctx, "min")
}

func (c *Client) trackedEpoch(ctx context.Context, fn string) (phase0.Epoch, error) {
	query := fmt.Sprintf(
		"SELECT %s(epoch) AS epoch, count() AS records FROM %s WHERE val_nos_name IS NOT NULL FORMAT TSVWithNames",
		fn, c.opts.Table,
	)
	var rows []*struct {
		Epoch   string `csv:"epoch"`
		Records string `csv:"records"`
	}
	if err := c.query(ctx, c.retryClient, query, &rows); err != nil {
		return 0, fmt.Errorf("failed to query %s epoch: %w", fn, err)
	}
	if len(rows) == 0 {
		return 0, duties.ErrNoDataAvailable
	}
	count, err := parseInt(rows[0].Records)
	if err != nil {
		return 0, fmt.Errorf("failed to parse record count: %w", err)
	}
	if count == 0 {
		return 0, duties.ErrNoDataAvailable
	}
	epoch, ok, err := parseNullInt(rows[0].Epoch)
	if err != nil {
		return 0, fmt.Errorf("failed to parse epoch: %w", err)
	}
	if !ok {
		return 0, duties.ErrNoDataAvailable
	}
	return phase0.Epoch(epoch), nil
}

func (c *Client) ProposerRewardStats(
	ctx context.Context,
	start, end phase0.Epoch,
	excluded duties.StatusSet,
) (int64, int, error) {
	where := fmt.Sprintf(
		"epoch >= %d AND epoch <= %d AND is_proposer = 1 AND block_proposed = 1 AND propose_earned_reward > 0",
		start, end,
	)
	if len(excluded) > 0 {
		where += " AND " + statusExclusion(excluded)
	}
	query := fmt.Sprintf(
		"SELECT sum(propose_earned_reward) AS reward, count() AS proposals FROM %s WHERE %s FORMAT TSVWithNames",
		c.opts.Table, where,
	)
	var rows []*struct {
		Reward    string `csv:"reward"`
		Proposals string `csv:"proposals"`
	}
	if err := c.query(ctx, c.queryClient, query, &rows); err != nil {
		return 0, 0, fmt.Errorf("failed to query proposer rewards: %w", err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	sum, err := parseInt(rows[0].Reward)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse proposer reward: %w", err)
	}
	count, err := parseInt(rows[0].Proposals)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse proposal count: %w", err)
	}
	return sum, int(count), nil
}

func (c *Client) query(ctx context.Context, client *http.Client, query string, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var body string
	rb := requests.URL(c.opts.Endpoint).
		Client(client).
		BodyBytes([]byte(query)).
		ContentType("text/plain; charset=utf-8").
		CheckStatus(http.StatusOK).
		ToString(&body)
	if c.opts.Database != "" {
		rb = rb.Param("database", c.opts.Database)
	}
	if c.opts.User != "" {
		rb = rb.BasicAuth(c.opts.User, c.opts.Password)
	}
	start := time.Now()
	if err := rb.Fetch(ctx); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("Executed query", zap.Duration("took", time.Since(start)), zap.Int("bytes", len(body)))
	if strings.TrimSpace(body) == "" {
		return nil
	}

	r := csv.NewReader(strings.NewReader(body))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	if err := gocsv.UnmarshalCSV(r, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusExclusion(excluded duties.StatusSet) string {
	var statuses []string
	for _, s := range excluded.Strings() {
		statuses = append(statuses, quote(s))
	}
	return fmt.Sprintf("val_status NOT IN (%s)", strings.Join(statuses, ", "))
}

// quote returns s as a ClickHouse string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
