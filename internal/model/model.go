// Package model defines the core domain types shared across the auction engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Team is a franchise taking part in the auction.
//
// BalanceAmount is derived (TotalAmount - ExpendedAmount). It is stored so that
// listings can read it directly, but it is only ever written by the accounting
// package after a change to either source field.
type Team struct {
	ID             string          `json:"id" db:"id"`
	CPLID          string          `json:"cpl_id" db:"cpl_id"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description" db:"description"`
	TotalAmount    decimal.Decimal `json:"total_amount" db:"total_amount"`
	ExpendedAmount decimal.Decimal `json:"expended_amount" db:"expended_amount"`
	BalanceAmount  decimal.Decimal `json:"balance_amount" db:"balance_amount"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Role is the playing role of a player.
type Role string

const (
	RoleBatter       Role = "batter"
	RoleBowler       Role = "bowler"
	RoleAllRounder   Role = "all_rounder"
	RoleWicketKeeper Role = "wicket_keeper"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBatter, RoleBowler, RoleAllRounder, RoleWicketKeeper:
		return true
	}
	return false
}

// Player is an auction lot. IsExternal is fixed at creation and determines
// BasicAmount; IsSold flips only through settlement and reversal.
type Player struct {
	ID          string          `json:"id" db:"id"`
	CPLID       string          `json:"cpl_id" db:"cpl_id"`
	Name        string          `json:"name" db:"name"`
	Role        Role            `json:"role" db:"role"`
	IsExternal  bool            `json:"is_external" db:"is_external"`
	BasicAmount decimal.Decimal `json:"basic_amount" db:"basic_amount"`
	IsSold      bool            `json:"is_sold" db:"is_sold"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// TeamMember records that a player currently belongs to a team's roster.
type TeamMember struct {
	ID        string    `json:"id" db:"id"`
	TeamID    string    `json:"team_id" db:"team_id"`
	PlayerID  string    `json:"player_id" db:"player_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Bid is a ledger entry. Once recorded it is never modified, only removed
// through reversal.
type Bid struct {
	ID        string          `json:"id" db:"id"`
	TeamID    string          `json:"team_id" db:"team_id"`
	PlayerID  string          `json:"player_id" db:"player_id"`
	Amount    decimal.Decimal `json:"bid_amount" db:"bid_amount"`
	IsSold    bool            `json:"is_sold" db:"is_sold"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// RosterCounts is the number of roster members of a team by category.
type RosterCounts struct {
	Internal int `json:"internal_count"`
	External int `json:"external_count"`
}

// Add returns the counts with one more player of the given category.
func (c RosterCounts) Add(isExternal bool) RosterCounts {
	if isExternal {
		c.External++
	} else {
		c.Internal++
	}
	return c
}

// RosterSummary is the aggregate roster view of one team.
type RosterSummary struct {
	TeamID            string          `json:"team_id"`
	InternalCount     int             `json:"internal_count"`
	ExternalCount     int             `json:"external_count"`
	RemainingInternal int             `json:"remaining_internal"`
	RemainingExternal int             `json:"remaining_external"`
	Balance           decimal.Decimal `json:"balance_amount"`
	ProjectedNextBid  decimal.Decimal `json:"projected_next_bid"`
}

// PlayerFilter narrows player listings. A nil Sold matches every player.
type PlayerFilter struct {
	Sold *bool
}

// BidFilter narrows ledger listings. Empty fields match everything.
type BidFilter struct {
	TeamID   string
	PlayerID string
}
