package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nodeset-org/nodeset-analytics/pkg/cache"
	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
	"github.com/nodeset-org/nodeset-analytics/pkg/efficiency"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

const (
	latestEpochKey   = "latest_epoch"
	earliestEpochKey = "earliest_epoch"
)

// Engine computes efficiency analytics over a duty record source.
type Engine struct {
	logger   *zap.Logger
	source   duties.Source
	config   *Config
	resolver *window.Resolver
	bounds   *boundsCache
}

// New creates an engine. Tracked epoch bounds are cached for boundsTTL,
// a zero boundsTTL caches them until Refresh.
func New(
	logger *zap.Logger,
	source duties.Source,
	config *Config,
	boundsTTL time.Duration,
) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c, err := cache.New[phase0.Epoch](2)
	if err != nil {
		return nil, err
	}
	bounds := &boundsCache{source: source, cache: c, ttl: boundsTTL}
	return &Engine{
		logger:   logger,
		source:   source,
		config:   config,
		resolver: window.NewResolver(bounds),
		bounds:   bounds,
	}, nil
}

func (e *Engine) Config() *Config {
	return e.config
}

// Refresh drops the cached epoch bounds.
func (e *Engine) Refresh() {
	e.bounds.cache.Purge()
}

type boundsCache struct {
	source duties.Source
	cache  *cache.Cache[phase0.Epoch]
	ttl    time.Duration
}

func (b *boundsCache) LatestTrackedEpoch(ctx context.Context) (phase0.Epoch, error) {
	return b.cache.GetOrLoad(ctx, latestEpochKey, b.source.LatestTrackedEpoch, b.ttl, nil)
}

func (b *boundsCache) EarliestTrackedEpoch(ctx context.Context) (phase0.Epoch, error) {
	return b.cache.GetOrLoad(ctx, earliestEpochKey, b.source.EarliestTrackedEpoch, b.ttl, nil)
}

// Window resolves the request under policy, or under the configured policy
// if policy is empty.
func (e *Engine) Window(ctx context.Context, req window.Request, policy window.Policy) (window.Window, error) {
	if policy == "" {
		policy = e.config.WindowPolicy
	}
	if !req.Explicit() && req.Days > e.config.MaxDays {
		return window.Window{}, fmt.Errorf("%w: at most %d days", window.ErrInvalidDays, e.config.MaxDays)
	}
	return e.resolver.Resolve(ctx, req, policy)
}

type Query struct {
	Method   efficiency.Method
	RankBy   efficiency.RankBy
	Operator string
	Window   window.Request
	Policy   window.Policy

	// Limit truncates the ranked operators, if positive.
	Limit int
}

// Report is the efficiency of the validators and operators in a window.
// Total covers every folded record, or only the operator's if the query
// named one.
type Report struct {
	Window           window.Window                `json:"window"`
	Method           efficiency.Method            `json:"method"`
	RankBy           efficiency.RankBy            `json:"rank_by"`
	Operator         string                       `json:"operator,omitempty"`
	ProposerBaseline float64                      `json:"proposer_baseline,omitempty"`
	Total            efficiency.Result            `json:"total"`
	Operators        []efficiency.OperatorResult  `json:"operators"`
	Validators       []efficiency.ValidatorResult `json:"validators"`
	Skipped          int                          `json:"skipped_records"`
}

// Efficiency resolves the query window, folds the matching duty records and
// evaluates them per validator and per operator under the query method.
func (e *Engine) Efficiency(ctx context.Context, q Query) (*Report, error) {
	if q.Method == "" {
		q.Method = efficiency.MethodCorrected
	}
	if _, err := efficiency.ParseMethod(string(q.Method)); err != nil {
		return nil, err
	}
	if q.RankBy == "" {
		q.RankBy = efficiency.RankByTotals
	}
	w, err := e.Window(ctx, q.Window, q.Policy)
	if err != nil {
		return nil, err
	}

	records, baseline, err := e.fetch(ctx, w, q.Operator, q.Method == efficiency.MethodComprehensive)
	if err != nil {
		return nil, err
	}
	fold := efficiency.FoldRecords(e.logger, w, records, efficiency.Options{
		Operator:        q.Operator,
		ExcludeStatuses: e.config.ExcludedStatuses,
	})
	strategy, err := efficiency.StrategyFor(q.Method, baseline)
	if err != nil {
		return nil, err
	}

	validators := evaluateValidators(strategy, fold)
	report := &Report{
		Window:     w,
		Method:     q.Method,
		RankBy:     q.RankBy,
		Operator:   q.Operator,
		Total:      strategy.Evaluate(fold.Total),
		Validators: validators,
		Operators: efficiency.Rollup(validators, efficiency.RollupOptions{
			RankBy:     q.RankBy,
			Thresholds: &e.config.Categories,
			Limit:      q.Limit,
		}),
		Skipped: fold.Skipped,
	}
	efficiency.EvaluateOperators(strategy, report.Operators, fold.ByOperator)
	if q.Method == efficiency.MethodComprehensive {
		report.ProposerBaseline = baseline
	}
	e.logger.Debug(
		"Computed efficiency",
		zap.Stringer("window", w),
		zap.String("method", string(q.Method)),
		zap.Int("records", len(records)),
		zap.Int("validators", len(validators)),
		zap.Int("operators", len(report.Operators)),
	)
	return report, nil
}

// Comprehensive evaluates the comprehensive efficiency over the last days,
// restricted to the operator if it is set.
func (e *Engine) Comprehensive(ctx context.Context, operator string, days int) (*Report, error) {
	if days < 1 || days > e.config.MaxDays {
		return nil, fmt.Errorf("%w: must be between 1 and %d", window.ErrInvalidDays, e.config.MaxDays)
	}
	return e.Efficiency(ctx, Query{
		Method:   efficiency.MethodComprehensive,
		Operator: operator,
		Window:   window.Days(days),
	})
}

// fetch returns the records of the window and, if withBaseline is set, the
// network-wide proposer baseline. Both are fetched concurrently.
func (e *Engine) fetch(
	ctx context.Context,
	w window.Window,
	operator string,
	withBaseline bool,
) ([]duties.Record, float64, error) {
	fallback := float64(e.config.ProposerFallbackReward)
	filter := duties.Filter{
		StartEpoch:      w.StartEpoch,
		EndEpoch:        w.EndEpoch,
		Operator:        operator,
		ExcludeStatuses: e.config.ExcludedStatuses,
	}
	if !withBaseline {
		records, err := e.source.DutyRecords(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fetch duty records: %w", err)
		}
		return records, 0, nil
	}

	var records []duties.Record
	baseline := fallback
	pl := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	pl.Go(func(ctx context.Context) error {
		var err error
		records, err = e.source.DutyRecords(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to fetch duty records: %w", err)
		}
		return nil
	})
	if bs, ok := e.source.(duties.ProposerBaselineSource); ok {
		pl.Go(func(ctx context.Context) error {
			sum, count, err := bs.ProposerRewardStats(ctx, w.StartEpoch, w.EndEpoch, e.config.ExcludedStatuses)
			if err != nil {
				return fmt.Errorf("failed to fetch proposer rewards: %w", err)
			}
			baseline = efficiency.BaselineFromStats(sum, count, fallback)
			return nil
		})
	} else if operator != "" {
		// The baseline covers every operator, so it needs its own fetch.
		pl.Go(func(ctx context.Context) error {
			network, err := e.source.DutyRecords(ctx, duties.Filter{
				StartEpoch:      w.StartEpoch,
				EndEpoch:        w.EndEpoch,
				ExcludeStatuses: e.config.ExcludedStatuses,
			})
			if err != nil {
				return fmt.Errorf("failed to fetch network duty records: %w", err)
			}
			baseline = efficiency.ProposerBaseline(network, fallback)
			return nil
		})
	}
	if err := pl.Wait(); err != nil {
		return nil, 0, err
	}
	if _, ok := e.source.(duties.ProposerBaselineSource); !ok && operator == "" {
		baseline = efficiency.ProposerBaseline(records, fallback)
	}
	return records, baseline, nil
}

func evaluateValidators(strategy efficiency.Strategy, fold *efficiency.Fold) []efficiency.ValidatorResult {
	indices := maps.Keys(fold.ByValidator)
	slices.Sort(indices)
	results := make([]efficiency.ValidatorResult, 0, len(indices))
	for _, index := range indices {
		agg := fold.ByValidator[index]
		results = append(results, efficiency.ValidatorResult{
			ValidatorIndex: index,
			Operator:       agg.Operator,
			Result:         strategy.Evaluate(agg),
		})
	}
	return results
}

// ValidatorsDown returns the validators that missed every attestation in the
// k most recent tracked epochs. A zero k uses the configured window.
func (e *Engine) ValidatorsDown(ctx context.Context, k, limit int) ([]efficiency.DownValidator, error) {
	records, k, latest, err := e.downRecords(ctx, k)
	if err != nil {
		return nil, err
	}
	down, err := efficiency.DetectDown(records, k, latest, e.config.ExcludedStatuses)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(down) > limit {
		down = down[:limit]
	}
	return down, nil
}

// DownSummary summarizes attestation failures in the k most recent tracked
// epochs. A zero k uses the configured window.
func (e *Engine) DownSummary(ctx context.Context, k int) (*efficiency.DownSummary, error) {
	records, k, latest, err := e.downRecords(ctx, k)
	if err != nil {
		return nil, err
	}
	return efficiency.SummarizeDown(records, k, latest, e.config.ExcludedStatuses)
}

// downRecords fetches every record of the k latest epochs. Statuses are not
// excluded at the source, the detector excludes on the latest status only.
func (e *Engine) downRecords(ctx context.Context, k int) ([]duties.Record, int, phase0.Epoch, error) {
	if k == 0 {
		k = e.config.DownWindow
	}
	latest, err := e.bounds.LatestTrackedEpoch(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to get latest tracked epoch: %w", err)
	}
	w, err := efficiency.DownWindow(k, latest)
	if err != nil {
		return nil, 0, 0, err
	}
	records, err := e.source.DutyRecords(ctx, duties.Filter{
		StartEpoch: w.StartEpoch,
		EndEpoch:   w.EndEpoch,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to fetch duty records: %w", err)
	}
	return records, k, latest, nil
}

// History is the per-day corrected efficiency of every operator.
type History struct {
	Window window.Window                 `json:"window"`
	Days   []efficiency.DailyPerformance `json:"days"`

	// Ranks is the rank history of the requested operator, if any.
	Ranks []efficiency.RankPoint `json:"ranks,omitempty"`
}

// History computes the corrected totals-first efficiency of every operator
// for each day of the last days. Each completed day is reported to onDay,
// if set. The rank history of operator is included if it is set.
func (e *Engine) History(
	ctx context.Context,
	operator string,
	days int,
	onDay func(window.Window),
) (*History, error) {
	w, err := e.Window(ctx, window.Days(days), "")
	if err != nil {
		return nil, err
	}
	records, err := e.source.DutyRecords(ctx, duties.Filter{
		StartEpoch:      w.StartEpoch,
		EndEpoch:        w.EndEpoch,
		ExcludeStatuses: e.config.ExcludedStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch duty records: %w", err)
	}

	windows := window.SplitDays(w, window.EpochsPerDay)
	buckets := make([][]duties.Record, len(windows))
	for _, r := range records {
		if !w.Contains(r.Epoch) {
			continue
		}
		// Days are aligned to the end of the window.
		i := len(windows) - 1 - int(w.EndEpoch-r.Epoch)/window.EpochsPerDay
		buckets[i] = append(buckets[i], r)
	}

	history := &History{Window: w}
	for i, day := range windows {
		fold := efficiency.FoldRecords(e.logger, day, buckets[i], efficiency.Options{
			ExcludeStatuses: e.config.ExcludedStatuses,
		})
		performance := efficiency.DailyPerformance{Window: day, ByOperator: map[string]float64{}}
		operators := efficiency.Rollup(
			evaluateValidators(efficiency.Corrected{}, fold),
			efficiency.RollupOptions{RankBy: efficiency.RankByTotals, Thresholds: &e.config.Categories},
		)
		for _, op := range operators {
			performance.ByOperator[op.Operator] = op.OperatorRewardPercentage
		}
		history.Days = append(history.Days, performance)
		if onDay != nil {
			onDay(day)
		}
	}
	if operator != "" {
		history.Ranks = efficiency.RankHistory(history.Days, operator, e.config.HistoryRolling)
	}
	return history, nil
}

// Concentration measures how validators of the query window are distributed
// across operators.
func (e *Engine) Concentration(ctx context.Context, q Query) (*efficiency.Concentration, error) {
	w, err := e.Window(ctx, q.Window, q.Policy)
	if err != nil {
		return nil, err
	}
	records, _, err := e.fetch(ctx, w, q.Operator, false)
	if err != nil {
		return nil, err
	}
	fold := efficiency.FoldRecords(e.logger, w, records, efficiency.Options{
		Operator:        q.Operator,
		ExcludeStatuses: e.config.ExcludedStatuses,
	})
	concentration := efficiency.ComputeConcentration(fold.ValidatorsByOperator())
	return &concentration, nil
}
