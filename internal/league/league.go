// Package league holds the auction-season constants shared read-only by every
// component: roster quotas, per-category floor prices and the team budget.
package league

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidRules is returned when the league constants cannot describe a
// playable auction.
var ErrInvalidRules = errors.New("league: invalid rules")

// Rules are fixed for the life of an auction season.
type Rules struct {
	InternalPlayers int             `toml:"internal_players" json:"internal_players"`
	ExternalPlayers int             `toml:"external_players" json:"external_players"`
	InternalBasic   decimal.Decimal `toml:"internal_basic" json:"internal_basic"`
	ExternalBasic   decimal.Decimal `toml:"external_basic" json:"external_basic"`
	TeamBudget      decimal.Decimal `toml:"team_budget" json:"team_budget"`
}

// Default returns the rules used when no configuration overrides them.
func Default() Rules {
	return Rules{
		InternalPlayers: 9,
		ExternalPlayers: 2,
		InternalBasic:   decimal.NewFromInt(2000),
		ExternalBasic:   decimal.NewFromInt(5000),
		TeamBudget:      decimal.NewFromInt(100000),
	}
}

// Validate rejects negative quotas or prices and a budget that cannot cover
// a full roster at floor price.
func (r Rules) Validate() error {
	if r.InternalPlayers < 0 || r.ExternalPlayers < 0 {
		return fmt.Errorf("%w: player counts must be non-negative", ErrInvalidRules)
	}
	if r.InternalBasic.IsNegative() || r.ExternalBasic.IsNegative() {
		return fmt.Errorf("%w: basic amounts must be non-negative", ErrInvalidRules)
	}
	if !r.TeamBudget.IsPositive() {
		return fmt.Errorf("%w: team budget must be positive", ErrInvalidRules)
	}
	if floor := r.RosterFloor(); floor.GreaterThan(r.TeamBudget) {
		return fmt.Errorf("%w: team budget %s is below the roster floor %s",
			ErrInvalidRules, r.TeamBudget, floor)
	}
	return nil
}

// BasicAmount is the floor price of a player of the given category.
func (r Rules) BasicAmount(isExternal bool) decimal.Decimal {
	if isExternal {
		return r.ExternalBasic
	}
	return r.InternalBasic
}

// Required is the roster quota for the given category.
func (r Rules) Required(isExternal bool) int {
	if isExternal {
		return r.ExternalPlayers
	}
	return r.InternalPlayers
}

// RosterFloor is the cheapest possible full roster.
func (r Rules) RosterFloor() decimal.Decimal {
	internal := r.InternalBasic.Mul(decimal.NewFromInt(int64(r.InternalPlayers)))
	external := r.ExternalBasic.Mul(decimal.NewFromInt(int64(r.ExternalPlayers)))
	return internal.Add(external)
}
