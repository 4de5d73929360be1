package auction

import (
	"errors"
	"fmt"
)

var (
	// ErrInconsistent is matched by every ConsistencyError.
	ErrInconsistent = errors.New("auction: inconsistent state")

	// ErrInvalidRequest is returned for malformed operation input (missing
	// ids, non-positive amounts) before any rule is evaluated.
	ErrInvalidRequest = errors.New("auction: invalid request")
)

// Kinds of ConsistencyError.
const (
	KindSoldWithoutMember   = "sold_without_member"
	KindMemberWithoutSold   = "member_without_sold"
	KindMemberTeamMismatch  = "member_team_mismatch"
	KindExpendedMismatch    = "expended_mismatch"
	KindBalanceMismatch     = "balance_mismatch"
	KindMemberWithoutBid    = "member_without_sold_bid"
	KindRefundExceedsSpend  = "refund_exceeds_expended"
	KindDanglingMemberEntry = "member_references_missing_entity"
)

// ConsistencyError reports stored state that breaks an accounting or roster
// invariant. It is surfaced to the caller and never repaired automatically.
type ConsistencyError struct {
	Kind     string `json:"kind"`
	TeamID   string `json:"team_id,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("auction: inconsistent state: %s", e.Kind)
	if e.TeamID != "" {
		msg += " team=" + e.TeamID
	}
	if e.PlayerID != "" {
		msg += " player=" + e.PlayerID
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConsistencyError) Unwrap() error {
	return ErrInconsistent
}
