// Package affordability projects the highest bid a team may place on a player
// while still being able to fill its mandatory roster slots at floor price.
//
// The projection is recomputed for every call from the team's live roster
// counts; nothing here is cached because every settlement changes the counts.
package affordability

import (
	"github.com/shopspring/decimal"

	"github.com/cpl/auction-engine/internal/accounting"
	"github.com/cpl/auction-engine/internal/league"
	"github.com/cpl/auction-engine/internal/model"
)

// Projector computes max-bid ceilings under a fixed set of league rules.
type Projector struct {
	rules league.Rules
}

// NewProjector creates a projector for the given league rules.
func NewProjector(rules league.Rules) *Projector {
	return &Projector{rules: rules}
}

// Remaining returns how many mandatory internal and external slots are still
// open for the given roster counts. Values go negative once a quota has been
// exceeded ("bonus" players).
func (p *Projector) Remaining(counts model.RosterCounts) (internal, external int) {
	return p.rules.InternalPlayers - counts.Internal, p.rules.ExternalPlayers - counts.External
}

// Reserve is the money that must stay in the team's purse to buy every still
// required player at basic price. Negative requirements contribute nothing.
func (p *Projector) Reserve(internalRequired, externalRequired int) decimal.Decimal {
	reserve := decimal.Zero
	if internalRequired > 0 {
		reserve = reserve.Add(p.rules.InternalBasic.Mul(decimal.NewFromInt(int64(internalRequired))))
	}
	if externalRequired > 0 {
		reserve = reserve.Add(p.rules.ExternalBasic.Mul(decimal.NewFromInt(int64(externalRequired))))
	}
	return reserve
}

// MaxBid returns the affordability ceiling for team bidding on candidate,
// given the team's current roster counts.
//
// The candidate is assumed won: its category count is incremented before the
// still-required slots are derived. When no mandatory slot remains the
// ceiling is the whole balance.
func (p *Projector) MaxBid(team *model.Team, candidate *model.Player, counts model.RosterCounts) decimal.Decimal {
	balance := accounting.Balance(team)

	internalRequired, externalRequired := p.Remaining(counts.Add(candidate.IsExternal))
	if internalRequired <= 0 && externalRequired <= 0 {
		return balance
	}
	return balance.Sub(p.Reserve(internalRequired, externalRequired))
}

// ProjectNext returns the ceiling for the team's next purchase when no
// particular player has been chosen yet. The candidate is taken to be of the
// category that still has open slots, internal first.
func (p *Projector) ProjectNext(team *model.Team, counts model.RosterCounts) decimal.Decimal {
	internalRemaining, externalRemaining := p.Remaining(counts)
	isExternal := internalRemaining <= 0 && externalRemaining > 0
	return p.MaxBid(team, &model.Player{IsExternal: isExternal}, counts)
}

// Summary builds the roster summary for a team from its counts.
func (p *Projector) Summary(team *model.Team, counts model.RosterCounts) model.RosterSummary {
	internalRemaining, externalRemaining := p.Remaining(counts)
	return model.RosterSummary{
		TeamID:            team.ID,
		InternalCount:     counts.Internal,
		ExternalCount:     counts.External,
		RemainingInternal: max(internalRemaining, 0),
		RemainingExternal: max(externalRemaining, 0),
		Balance:           accounting.Balance(team),
		ProjectedNextBid:  p.ProjectNext(team, counts),
	}
}
