package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"go.uber.org/zap"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
)

const DefaultTable = "validators_summary"

// Source reads duty records from a PostgreSQL mirror of the validator summary table.
type Source struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

func Open(logger *zap.Logger, dsn string) (*Source, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(logger, db, DefaultTable), nil
}

func New(logger *zap.Logger, db *sql.DB, table string) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{db: db, table: table, logger: logger}
}

func (s *Source) Close() error {
	return s.db.Close()
}

type summaryRow struct {
	ValID               int64        `boil:"val_id"`
	ValNosName          null.String  `boil:"val_nos_name"`
	Epoch               int64        `boil:"epoch"`
	ValStatus           null.String  `boil:"val_status"`
	AttHappened         null.Bool    `boil:"att_happened"`
	AttValidHead        null.Bool    `boil:"att_valid_head"`
	AttValidTarget      null.Bool    `boil:"att_valid_target"`
	AttValidSource      null.Bool    `boil:"att_valid_source"`
	AttIncDelay         null.Int     `boil:"att_inc_delay"`
	AttEarnedReward     null.Int64   `boil:"att_earned_reward"`
	AttMissedReward     null.Int64   `boil:"att_missed_reward"`
	AttPenalty          null.Int64   `boil:"att_penalty"`
	IsProposer          null.Bool    `boil:"is_proposer"`
	BlockToPropose      null.Int64   `boil:"block_to_propose"`
	BlockProposed       null.Bool    `boil:"block_proposed"`
	ProposeEarnedReward null.Int64   `boil:"propose_earned_reward"`
	ProposeMissedReward null.Int64   `boil:"propose_missed_reward"`
	ProposePenalty      null.Int64   `boil:"propose_penalty"`
	IsSync              null.Bool    `boil:"is_sync"`
	SyncPercent         null.Float64 `boil:"sync_percent"`
	SyncEarnedReward    null.Int64   `boil:"sync_earned_reward"`
	SyncMissedReward    null.Int64   `boil:"sync_missed_reward"`
	SyncPenalty         null.Int64   `boil:"sync_penalty"`
}

func (row *summaryRow) record() (duties.Record, error) {
	if row.ValID < 0 || row.Epoch < 0 {
		return duties.Record{}, fmt.Errorf("negative identity (val_id %d, epoch %d)", row.ValID, row.Epoch)
	}
	if !row.ValStatus.Valid {
		return duties.Record{}, fmt.Errorf("missing val_status")
	}
	status, err := duties.ParseStatus(row.ValStatus.String)
	if err != nil {
		return duties.Record{}, err
	}
	r := duties.Record{
		ValidatorIndex: phase0.ValidatorIndex(row.ValID),
		Epoch:          phase0.Epoch(row.Epoch),
		Status:         status,
		Happened:       row.AttHappened,
		ValidHead:      row.AttValidHead.Bool,
		ValidTarget:    row.AttValidTarget.Bool,
		ValidSource:    row.AttValidSource.Bool,
		InclusionDelay: row.AttIncDelay,
		AttEarned:      row.AttEarnedReward.Int64,
		AttMissed:      row.AttMissedReward.Int64,
		AttPenalty:     row.AttPenalty.Int64,
		IsProposer:     row.IsProposer.Bool,
		AssignedSlot:   row.BlockToPropose,
		BlockProposed:  row.BlockProposed,
		ProposeEarned:  row.ProposeEarnedReward.Int64,
		ProposeMissed:  row.ProposeMissedReward.Int64,
		ProposePenalty: row.ProposePenalty.Int64,
		IsSync:         row.IsSync.Bool,
		SyncPercent:    row.SyncPercent,
		SyncEarned:     row.SyncEarnedReward.Int64,
		SyncMissed:     row.SyncMissedReward.Int64,
		SyncPenalty:    row.SyncPenalty.Int64,
	}
	if row.ValNosName.Valid && row.ValNosName.String != "" {
		r.Operator = row.ValNosName
	}
	return r, nil
}

var summaryColumns = []string{
	"val_id", "val_nos_name", "epoch", "val_status",
	"att_happened", "att_valid_head", "att_valid_target", "att_valid_source", "att_inc_delay",
	"att_earned_reward", "att_missed_reward", "att_penalty",
	"is_proposer", "block_to_propose", "block_proposed",
	"propose_earned_reward", "propose_missed_reward", "propose_penalty",
	"is_sync", "sync_percent", "sync_earned_reward", "sync_missed_reward", "sync_penalty",
}

func (s *Source) recordsQuery() string {
	return fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE epoch BETWEEN $1 AND $2
			AND ($3 = '' OR val_nos_name = $3)
			AND COALESCE(val_status, '') <> ALL($4)
		ORDER BY epoch, val_id`,
		strings.Join(summaryColumns, ", "),
		pq.QuoteIdentifier(s.table),
	)
}

func (s *Source) DutyRecords(ctx context.Context, filter duties.Filter) ([]duties.Record, error) {
	var rows []*summaryRow
	err := queries.Raw(
		s.recordsQuery(),
		int64(filter.StartEpoch),
		int64(filter.EndEpoch),
		filter.Operator,
		pq.Array(filter.ExcludeStatuses.Strings()),
	).Bind(ctx, s.db, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query duty records: %w", err)
	}
	records := make([]duties.Record, 0, len(rows))
	for _, row := range rows {
		record, err := row.record()
		if err != nil {
			s.logger.Warn(
				"Skipped undecodable duty record",
				zap.Int64("validator", row.ValID),
				zap.Int64("epoch", row.Epoch),
				zap.Error(err),
			)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Source) LatestTrackedEpoch(ctx context.Context) (phase0.Epoch, error) {
	return s.trackedEpoch(ctx, "MAX")
}

func (s *Source) EarliestTrackedEpoch(ctx context.Context) (phase0.Epoch, error) {
	return s.trackedEpoch(ctx, "MIN")
}

func (s *Source) trackedEpoch(ctx context.Context, fn string) (phase0.Epoch, error) {
	var row struct {
		Epoch null.Int64 `boil:"epoch"`
	}
	err := queries.Raw(fmt.Sprintf(
		"SELECT %s(epoch) AS epoch FROM %s WHERE val_nos_name IS NOT NULL",
		fn, pq.QuoteIdentifier(s.table),
	)).Bind(ctx, s.db, &row)
	if err != nil {
		return 0, fmt.Errorf("failed to query tracked epoch: %w", err)
	}
	if !row.Epoch.Valid {
		return 0, duties.ErrNoDataAvailable
	}
	return phase0.Epoch(row.Epoch.Int64), nil
}

func (s *Source) proposerStatsQuery() string {
	return fmt.Sprintf(`
		SELECT SUM(propose_earned_reward)::BIGINT AS reward, COUNT(*) AS proposals
		FROM %s
		WHERE epoch BETWEEN $1 AND $2
			AND is_proposer AND block_proposed
			AND propose_earned_reward > 0
			AND COALESCE(val_status, '') <> ALL($3)`,
		pq.QuoteIdentifier(s.table),
	)
}

func (s *Source) ProposerRewardStats(
	ctx context.Context,
	start, end phase0.Epoch,
	excluded duties.StatusSet,
) (int64, int, error) {
	var row struct {
		Reward    null.Int64 `boil:"reward"`
		Proposals int        `boil:"proposals"`
	}
	err := queries.Raw(
		s.proposerStatsQuery(),
		int64(start),
		int64(end),
		pq.Array(excluded.Strings()),
	).Bind(ctx, s.db, &row)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query proposer rewards: %w", err)
	}
	return row.Reward.Int64, row.Proposals, nil
}
