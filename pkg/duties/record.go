package duties

import (
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/volatiletech/null/v8"
)

// Record is the duty record of a single validator in a single epoch. Reward
// and penalty amounts are signed gwei and are zero when the store has no value.
type Record struct {
	ValidatorIndex phase0.ValidatorIndex `json:"validator_index"`
	Operator       null.String           `json:"operator"`
	Epoch          phase0.Epoch          `json:"epoch"`
	Status         Status                `json:"status"`

	// Attestation.
	Happened       null.Bool `json:"att_happened"`
	ValidHead      bool      `json:"att_valid_head"`
	ValidTarget    bool      `json:"att_valid_target"`
	ValidSource    bool      `json:"att_valid_source"`
	InclusionDelay null.Int  `json:"att_inc_delay"`
	AttEarned      int64     `json:"att_earned_reward"`
	AttMissed      int64     `json:"att_missed_reward"`
	AttPenalty     int64     `json:"att_penalty"`

	// Block proposal.
	IsProposer     bool       `json:"is_proposer"`
	AssignedSlot   null.Int64 `json:"block_to_propose"`
	BlockProposed  null.Bool  `json:"block_proposed"`
	ProposeEarned  int64      `json:"propose_earned_reward"`
	ProposeMissed  int64      `json:"propose_missed_reward"`
	ProposePenalty int64      `json:"propose_penalty"`

	// Sync committee.
	IsSync      bool         `json:"is_sync"`
	SyncPercent null.Float64 `json:"sync_percent"`
	SyncEarned  int64        `json:"sync_earned_reward"`
	SyncMissed  int64        `json:"sync_missed_reward"`
	SyncPenalty int64        `json:"sync_penalty"`
}

// AttestationMissed reports whether the attestation did not happen. An unknown
// outcome counts as a miss.
func (r *Record) AttestationMissed() bool {
	return !r.Happened.Valid || !r.Happened.Bool
}

// Proposed reports whether an assigned block was proposed.
func (r *Record) Proposed() bool {
	return r.IsProposer && r.BlockProposed.Valid && r.BlockProposed.Bool
}

// Validate checks that the record is structurally usable. Amounts are signed
// and are never rejected.
func (r *Record) Validate() error {
	if !knownStatuses.Contains(r.Status) {
		return &MalformedRecordError{r.ValidatorIndex, r.Epoch, "status", fmt.Sprintf("unknown value %q", r.Status)}
	}
	if r.SyncPercent.Valid && (r.SyncPercent.Float64 < 0 || r.SyncPercent.Float64 > 100) {
		return &MalformedRecordError{r.ValidatorIndex, r.Epoch, "sync_percent", "out of range"}
	}
	return nil
}

// MalformedRecordError describes a record that could not be used. It is
// logged and counted by consumers, never propagated.
type MalformedRecordError struct {
	ValidatorIndex phase0.ValidatorIndex
	Epoch          phase0.Epoch
	Field          string
	Reason         string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf(
		"malformed record (validator %d, epoch %d): %s: %s",
		e.ValidatorIndex, e.Epoch, e.Field, e.Reason,
	)
}
