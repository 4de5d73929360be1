// Package accounting owns the derived money fields of teams and players.
//
// Team.BalanceAmount and Player.BasicAmount are stored alongside their source
// fields but are never set by callers: every constructor and mutator here
// recomputes them, and the stores persist whatever these functions produce.
package accounting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cpl/auction-engine/internal/league"
	"github.com/cpl/auction-engine/internal/model"
)

var (
	// ErrInvalidAmount is returned for negative or zero amounts where a
	// positive one is required.
	ErrInvalidAmount = errors.New("accounting: invalid amount")

	// ErrInvalidEntity is returned when a team or player is missing a
	// required attribute.
	ErrInvalidEntity = errors.New("accounting: invalid entity")
)

// Balance is total minus expended.
func Balance(t *model.Team) decimal.Decimal {
	return t.TotalAmount.Sub(t.ExpendedAmount)
}

// RecomputeTeam refreshes the stored balance from the source fields.
func RecomputeTeam(t *model.Team) {
	t.BalanceAmount = Balance(t)
}

// BasicAmount is the floor price derived from the player's category.
func BasicAmount(p *model.Player, rules league.Rules) decimal.Decimal {
	return rules.BasicAmount(p.IsExternal)
}

// RecomputePlayer overwrites any basic amount the player carries with the
// category-derived one.
func RecomputePlayer(p *model.Player, rules league.Rules) {
	p.BasicAmount = BasicAmount(p, rules)
}

// NewTeam builds a team with nothing spent. A zero total falls back to the
// league budget.
func NewTeam(cplID, name, description string, total decimal.Decimal, rules league.Rules) (*model.Team, error) {
	cplID = strings.TrimSpace(cplID)
	name = strings.TrimSpace(name)
	if cplID == "" || name == "" {
		return nil, fmt.Errorf("%w: team cpl_id and name are required", ErrInvalidEntity)
	}
	if total.IsZero() {
		total = rules.TeamBudget
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: total amount %s", ErrInvalidAmount, total)
	}

	t := &model.Team{
		ID:             uuid.New().String(),
		CPLID:          cplID,
		Name:           name,
		Description:    description,
		TotalAmount:    total,
		ExpendedAmount: decimal.Zero,
		CreatedAt:      time.Now().UTC(),
	}
	RecomputeTeam(t)
	return t, nil
}

// NewPlayer builds an unsold player. The basic amount comes from the league
// rules; there is no way to pass one in.
func NewPlayer(cplID, name string, role model.Role, isExternal bool, rules league.Rules) (*model.Player, error) {
	cplID = strings.TrimSpace(cplID)
	name = strings.TrimSpace(name)
	if cplID == "" || name == "" {
		return nil, fmt.Errorf("%w: player cpl_id and name are required", ErrInvalidEntity)
	}
	if role != "" && !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidEntity, role)
	}

	p := &model.Player{
		ID:         uuid.New().String(),
		CPLID:      cplID,
		Name:       name,
		Role:       role,
		IsExternal: isExternal,
		IsSold:     false,
		CreatedAt:  time.Now().UTC(),
	}
	RecomputePlayer(p, rules)
	return p, nil
}

// Spend adds amount to the team's expended total and recomputes its balance.
func Spend(t *model.Team, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: spend %s", ErrInvalidAmount, amount)
	}
	t.ExpendedAmount = t.ExpendedAmount.Add(amount)
	RecomputeTeam(t)
	return nil
}

// Refund removes amount from the team's expended total and recomputes its
// balance. Refunding more than was spent is rejected.
func Refund(t *model.Team, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: refund %s", ErrInvalidAmount, amount)
	}
	if amount.GreaterThan(t.ExpendedAmount) {
		return fmt.Errorf("%w: refund %s exceeds expended %s", ErrInvalidAmount, amount, t.ExpendedAmount)
	}
	t.ExpendedAmount = t.ExpendedAmount.Sub(amount)
	RecomputeTeam(t)
	return nil
}
