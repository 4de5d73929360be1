// Package validation admits or rejects a proposed bid.
//
// Rules run in a fixed order and the first failure wins. The order decides
// which message the bidder sees, so it is part of the contract:
//
//  1. the bid must exceed the player's basic amount
//  2. the player must not be sold already
//  3. the bid must not exceed the team's balance
//  4. the bid must stay below the affordability ceiling
package validation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cpl/auction-engine/internal/accounting"
	"github.com/cpl/auction-engine/internal/league"
	"github.com/cpl/auction-engine/internal/model"
)

// Rule names a validation rule. Values are stable and surface in API
// responses and metrics labels.
type Rule string

const (
	RuleBelowBasic         Rule = "below_basic_amount"
	RuleAlreadySold        Rule = "player_already_sold"
	RuleExceedsBalance     Rule = "exceeds_balance"
	RuleRosterUnaffordable Rule = "roster_unaffordable"
)

var (
	// ErrInvalidBid matches every validation failure.
	ErrInvalidBid = errors.New("validation: invalid bid")

	ErrBelowBasic         = errors.New("validation: bid not above basic amount")
	ErrAlreadySold        = errors.New("validation: player already sold")
	ErrExceedsBalance     = errors.New("validation: bid exceeds balance")
	ErrRosterUnaffordable = errors.New("validation: roster unaffordable after bid")
)

// Error is a user-correctable bid rejection. Message is shown to the bidder
// verbatim.
type Error struct {
	Rule    Rule
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match both ErrInvalidBid and the rule sentinel.
func (e *Error) Unwrap() []error {
	return []error{ErrInvalidBid, e.cause}
}

// Input is everything the rules look at. MaxBid must come from a fresh
// affordability projection for this exact team and player.
type Input struct {
	Team   *model.Team
	Player *model.Player
	Amount decimal.Decimal
	MaxBid decimal.Decimal
}

// Validator runs the rule chain under a set of league rules.
type Validator struct {
	rules league.Rules
}

// NewValidator creates a validator for the given league rules.
func NewValidator(rules league.Rules) *Validator {
	return &Validator{rules: rules}
}

// Validate returns nil if the bid is admitted, or an *Error for the first
// rule it breaks.
func (v *Validator) Validate(in Input) error {
	basic := accounting.BasicAmount(in.Player, v.rules)
	if in.Amount.LessThanOrEqual(basic) {
		return &Error{
			Rule:    RuleBelowBasic,
			Message: fmt.Sprintf("bid amount should be greater than the player's basic amount (%s)", basic.StringFixed(2)),
			cause:   ErrBelowBasic,
		}
	}

	if in.Player.IsSold {
		return &Error{
			Rule:    RuleAlreadySold,
			Message: "the player is already sold, choose another player",
			cause:   ErrAlreadySold,
		}
	}

	balance := accounting.Balance(in.Team)
	if in.Amount.GreaterThan(balance) {
		return &Error{
			Rule:    RuleExceedsBalance,
			Message: fmt.Sprintf("the bid amount should not exceed your balance amount (%s)", balance.StringFixed(2)),
			cause:   ErrExceedsBalance,
		}
	}

	if in.Amount.GreaterThanOrEqual(in.MaxBid) {
		msg := fmt.Sprintf("you can not purchase %d internal and %d external players after this bid; bid below %s",
			v.rules.InternalPlayers, v.rules.ExternalPlayers, in.MaxBid.StringFixed(2))
		return &Error{
			Rule:    RuleRosterUnaffordable,
			Message: msg,
			cause:   ErrRosterUnaffordable,
		}
	}

	return nil
}

// RuleOf returns the rule behind a validation error, if err is one.
func RuleOf(err error) (Rule, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Rule, true
	}
	return "", false
}
