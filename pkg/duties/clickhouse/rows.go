package clickhouse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/volatiletech/null/v8"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
)

// tsvNull is the TSV representation of NULL.
const tsvNull = `\N`

var summaryColumns = []string{
	"val_id",
	"val_nos_name",
	"epoch",
	"val_status",
	"att_happened",
	"att_valid_head",
	"att_valid_target",
	"att_valid_source",
	"att_inc_delay",
	"att_earned_reward",
	"att_missed_reward",
	"att_penalty",
	"is_proposer",
	"block_to_propose",
	"block_proposed",
	"propose_earned_reward",
	"propose_missed_reward",
	"propose_penalty",
	"is_sync",
	"sync_percent",
	"sync_earned_reward",
	"sync_missed_reward",
	"sync_penalty",
}

type summaryRow struct {
	ValID               string `csv:"val_id"`
	Operator            string `csv:"val_nos_name"`
	Epoch               string `csv:"epoch"`
	Status              string `csv:"val_status"`
	AttHappened         string `csv:"att_happened"`
	AttValidHead        string `csv:"att_valid_head"`
	AttValidTarget      string `csv:"att_valid_target"`
	AttValidSource      string `csv:"att_valid_source"`
	AttIncDelay         string `csv:"att_inc_delay"`
	AttEarnedReward     string `csv:"att_earned_reward"`
	AttMissedReward     string `csv:"att_missed_reward"`
	AttPenalty          string `csv:"att_penalty"`
	IsProposer          string `csv:"is_proposer"`
	BlockToPropose      string `csv:"block_to_propose"`
	BlockProposed       string `csv:"block_proposed"`
	ProposeEarnedReward string `csv:"propose_earned_reward"`
	ProposeMissedReward string `csv:"propose_missed_reward"`
	ProposePenalty      string `csv:"propose_penalty"`
	IsSync              string `csv:"is_sync"`
	SyncPercent         string `csv:"sync_percent"`
	SyncEarnedReward    string `csv:"sync_earned_reward"`
	SyncMissedReward    string `csv:"sync_missed_reward"`
	SyncPenalty         string `csv:"sync_penalty"`
}

// record coerces the row into a duty record. Identity columns are required;
// NULL amounts and flags default to zero.
func (row *summaryRow) record() (duties.Record, error) {
	var r duties.Record
	index, ok, err := parseNullInt(row.ValID)
	if err != nil || !ok {
		return r, fmt.Errorf("invalid val_id %q", row.ValID)
	}
	epoch, ok, err := parseNullInt(row.Epoch)
	if err != nil || !ok {
		return r, fmt.Errorf("invalid epoch %q", row.Epoch)
	}
	r.ValidatorIndex = phase0.ValidatorIndex(index)
	r.Epoch = phase0.Epoch(epoch)
	if s, ok := unescape(row.Operator); ok && s != "" {
		r.Operator = null.StringFrom(s)
	}
	status, ok := unescape(row.Status)
	if !ok {
		return r, fmt.Errorf("missing val_status")
	}
	if r.Status, err = duties.ParseStatus(status); err != nil {
		return r, err
	}

	p := parser{}
	r.Happened = p.nullBool("att_happened", row.AttHappened)
	r.ValidHead = p.bool("att_valid_head", row.AttValidHead)
	r.ValidTarget = p.bool("att_valid_target", row.AttValidTarget)
	r.ValidSource = p.bool("att_valid_source", row.AttValidSource)
	if delay := p.nullInt("att_inc_delay", row.AttIncDelay); delay.Valid {
		r.InclusionDelay = null.IntFrom(int(delay.Int64))
	}
	r.AttEarned = p.int("att_earned_reward", row.AttEarnedReward)
	r.AttMissed = p.int("att_missed_reward", row.AttMissedReward)
	r.AttPenalty = p.int("att_penalty", row.AttPenalty)

	r.IsProposer = p.bool("is_proposer", row.IsProposer)
	r.AssignedSlot = p.nullInt("block_to_propose", row.BlockToPropose)
	r.BlockProposed = p.nullBool("block_proposed", row.BlockProposed)
	r.ProposeEarned = p.int("propose_earned_reward", row.ProposeEarnedReward)
	r.ProposeMissed = p.int("propose_missed_reward", row.ProposeMissedReward)
	r.ProposePenalty = p.int("propose_penalty", row.ProposePenalty)

	r.IsSync = p.bool("is_sync", row.IsSync)
	r.SyncPercent = p.nullFloat("sync_percent", row.SyncPercent)
	r.SyncEarned = p.int("sync_earned_reward", row.SyncEarnedReward)
	r.SyncMissed = p.int("sync_missed_reward", row.SyncMissedReward)
	r.SyncPenalty = p.int("sync_penalty", row.SyncPenalty)
	return r, p.err
}

// parser records the first coercion error.
type parser struct {
	err error
}

func (p *parser) fail(column, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", column, value, err)
	}
}

func (p *parser) int(column, value string) int64 {
	v, _, err := parseNullInt(value)
	if err != nil {
		p.fail(column, value, err)
	}
	return v
}

func (p *parser) nullInt(column, value string) null.Int64 {
	v, ok, err := parseNullInt(value)
	if err != nil {
		p.fail(column, value, err)
		return null.Int64{}
	}
	return null.NewInt64(v, ok)
}

func (p *parser) nullFloat(column, value string) null.Float64 {
	if isNull(value) {
		return null.Float64{}
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(column, value, err)
		return null.Float64{}
	}
	return null.Float64From(v)
}

func (p *parser) nullBool(column, value string) null.Bool {
	if isNull(value) {
		return null.Bool{}
	}
	switch strings.ToLower(value) {
	case "1", "true":
		return null.BoolFrom(true)
	case "0", "false":
		return null.BoolFrom(false)
	}
	p.fail(column, value, strconv.ErrSyntax)
	return null.Bool{}
}

func (p *parser) bool(column, value string) bool {
	return p.nullBool(column, value).Bool
}

func isNull(value string) bool {
	return value == tsvNull || value == ""
}

func parseNullInt(value string) (int64, bool, error) {
	if isNull(value) {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func parseInt(value string) (int64, error) {
	v, _, err := parseNullInt(value)
	return v, err
}

// unescape decodes a TSV string value, reporting false for NULL.
func unescape(value string) (string, bool) {
	if value == tsvNull {
		return "", false
	}
	if !strings.Contains(value, `\`) {
		return value, true
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] != '\\' || i == len(value)-1 {
			b.WriteByte(value[i])
			continue
		}
		i++
		switch value[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String(), true
}
