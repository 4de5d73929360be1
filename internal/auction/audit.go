package auction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/cpl/auction-engine/internal/accounting"
	"github.com/cpl/auction-engine/internal/metrics"
	"github.com/cpl/auction-engine/internal/model"
)

// AuditReport is the result of checking stored state against the ledger.
type AuditReport struct {
	Teams         int                `json:"teams"`
	Players       int                `json:"players"`
	Members       int                `json:"members"`
	Bids          int                `json:"bids"`
	Consistent    bool               `json:"consistent"`
	Discrepancies []ConsistencyError `json:"discrepancies"`
}

// Audit recomputes every team's expended amount from the ledger, re-derives
// balances, and cross-checks sold flags against roster entries. Nothing is
// repaired. The reads are not taken under the settlement locks, so bids
// settling during the audit can show up as transient mismatches.
func (s *Service) Audit(ctx context.Context) (*AuditReport, error) {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	players, err := s.store.ListPlayers(ctx, model.PlayerFilter{})
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListAllMembers(ctx)
	if err != nil {
		return nil, err
	}
	bids, err := s.store.ListBids(ctx, model.BidFilter{})
	if err != nil {
		return nil, err
	}

	report := &AuditReport{
		Teams:         len(teams),
		Players:       len(players),
		Members:       len(members),
		Bids:          len(bids),
		Discrepancies: []ConsistencyError{},
	}
	add := func(e ConsistencyError) {
		report.Discrepancies = append(report.Discrepancies, e)
	}

	spent := make(map[string]decimal.Decimal, len(teams))
	soldBid := make(map[[2]string]bool)
	for _, b := range bids {
		spent[b.TeamID] = spent[b.TeamID].Add(b.Amount)
		if b.IsSold {
			soldBid[[2]string{b.TeamID, b.PlayerID}] = true
		}
	}

	teamByID := make(map[string]bool, len(teams))
	for i := range teams {
		t := &teams[i]
		teamByID[t.ID] = true

		if ledger := spent[t.ID]; !t.ExpendedAmount.Equal(ledger) {
			add(ConsistencyError{Kind: KindExpendedMismatch, TeamID: t.ID,
				Detail: fmt.Sprintf("stored %s, ledger %s", t.ExpendedAmount, ledger)})
		}
		if want := accounting.Balance(t); !t.BalanceAmount.Equal(want) {
			add(ConsistencyError{Kind: KindBalanceMismatch, TeamID: t.ID,
				Detail: fmt.Sprintf("stored %s, expected %s", t.BalanceAmount, want)})
		}
	}

	playerByID := make(map[string]*model.Player, len(players))
	for i := range players {
		playerByID[players[i].ID] = &players[i]
	}

	memberOf := make(map[string]string, len(members))
	for _, m := range members {
		memberOf[m.PlayerID] = m.TeamID

		p, ok := playerByID[m.PlayerID]
		if !ok || !teamByID[m.TeamID] {
			add(ConsistencyError{Kind: KindDanglingMemberEntry, TeamID: m.TeamID, PlayerID: m.PlayerID})
			continue
		}
		if !p.IsSold {
			add(ConsistencyError{Kind: KindMemberWithoutSold, TeamID: m.TeamID, PlayerID: m.PlayerID})
		}
		if !soldBid[[2]string{m.TeamID, m.PlayerID}] {
			add(ConsistencyError{Kind: KindMemberWithoutBid, TeamID: m.TeamID, PlayerID: m.PlayerID})
		}
	}

	for _, p := range players {
		if _, ok := memberOf[p.ID]; p.IsSold && !ok {
			add(ConsistencyError{Kind: KindSoldWithoutMember, PlayerID: p.ID})
		}
	}

	report.Consistent = len(report.Discrepancies) == 0
	metrics.AuditDiscrepancies.Set(float64(len(report.Discrepancies)))

	if report.Consistent {
		slog.Info("audit passed", "teams", report.Teams, "players", report.Players, "bids", report.Bids)
	} else {
		slog.Warn("audit found discrepancies", "count", len(report.Discrepancies))
	}
	return report, nil
}
