package duties

import (
	"fmt"
	"sort"
	"strings"
)

// Status is the beacon chain status of a validator at a given epoch.
type Status string

const (
	StatusPendingInitialized Status = "pending_initialized"
	StatusPendingQueued      Status = "pending_queued"
	StatusActiveOngoing      Status = "active_ongoing"
	StatusActiveExiting      Status = "active_exiting"
	StatusActiveSlashed      Status = "active_slashed"
	StatusExited             Status = "exited"
	StatusExitedUnslashed    Status = "exited_unslashed"
	StatusExitedSlashed      Status = "exited_slashed"
	StatusWithdrawalPossible Status = "withdrawal_possible"
	StatusWithdrawalDone     Status = "withdrawal_done"
	StatusUnknown            Status = "unknown"
)

var knownStatuses = NewStatusSet(
	StatusPendingInitialized,
	StatusPendingQueued,
	StatusActiveOngoing,
	StatusActiveExiting,
	StatusActiveSlashed,
	StatusExited,
	StatusExitedUnslashed,
	StatusExitedSlashed,
	StatusWithdrawalPossible,
	StatusWithdrawalDone,
	StatusUnknown,
)

func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if !knownStatuses.Contains(status) {
		return "", fmt.Errorf("unknown validator status %q", s)
	}
	return status, nil
}

// IsActiveDuty reports whether the validator was expected to attest and earn
// rewards. Only active_ongoing counts; exiting and slashed validators are
// tracked but never accrue duty periods.
func (s Status) IsActiveDuty() bool {
	return s == StatusActiveOngoing
}

func (s Status) IsPending() bool {
	return s == StatusPendingInitialized || s == StatusPendingQueued
}

// IsAttesting reports whether the validator is in any active_* state and
// therefore assigned an attestation duty by the chain.
func (s Status) IsAttesting() bool {
	return s == StatusActiveOngoing || s == StatusActiveExiting || s == StatusActiveSlashed
}

func (s Status) String() string {
	return string(s)
}

type StatusSet map[Status]struct{}

func NewStatusSet(statuses ...Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

func (s StatusSet) Contains(status Status) bool {
	_, ok := s[status]
	return ok
}

// Strings returns the statuses sorted alphabetically.
func (s StatusSet) Strings() []string {
	out := make([]string, 0, len(s))
	for status := range s {
		out = append(out, string(status))
	}
	sort.Strings(out)
	return out
}

func (s *StatusSet) UnmarshalYAML(unmarshal func(any) error) error {
	var raw []string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	set := make(StatusSet, len(raw))
	for _, r := range raw {
		status, err := ParseStatus(r)
		if err != nil {
			return err
		}
		set[status] = struct{}{}
	}
	*s = set
	return nil
}

// DefaultExcludedStatuses are the terminal statuses of validators that no
// longer have duties.
func DefaultExcludedStatuses() StatusSet {
	return NewStatusSet(StatusExited, StatusWithdrawalPossible, StatusWithdrawalDone)
}
