// Package auction runs the player auction: bid validation, settlement into
// the team purse and roster, reversal, and the read views the bidding desk
// works from.
//
// All monetary values use shopspring/decimal, never float64.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cpl/auction-engine/internal/accounting"
	"github.com/cpl/auction-engine/internal/affordability"
	"github.com/cpl/auction-engine/internal/league"
	"github.com/cpl/auction-engine/internal/lock"
	"github.com/cpl/auction-engine/internal/metrics"
	"github.com/cpl/auction-engine/internal/model"
	"github.com/cpl/auction-engine/internal/store"
	"github.com/cpl/auction-engine/internal/validation"
)

// Service owns every write that moves money or roster membership. Settlement
// and reversal hold the team and player locks from the first read to the
// ledger write, and run the writes in a single store transaction.
type Service struct {
	store     store.Store
	locker    lock.Locker
	rules     league.Rules
	projector *affordability.Projector
	validator *validation.Validator
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
	now       func() time.Time
}

// NewService creates a new auction service.
// Pass nil for hub if WebSocket broadcasting is not needed, and nil for
// locker to use an in-process KeyedMutex.
func NewService(st store.Store, locker lock.Locker, rules league.Rules, hub *WSHub) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Service{
		store:     st,
		locker:    locker,
		rules:     rules,
		projector: affordability.NewProjector(rules),
		validator: validation.NewValidator(rules),
		wsHub:     hub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Rules returns the league rules the service was built with.
func (s *Service) Rules() league.Rules {
	return s.rules
}

// --- Request types ---

// SettleBidRequest is the input to ValidateAndSettleBid.
type SettleBidRequest struct {
	TeamID   string          `json:"team_id"`
	PlayerID string          `json:"player_id"`
	Amount   decimal.Decimal `json:"bid_amount"`
	IsSold   bool            `json:"is_sold"`
}

// CreateTeamRequest is the input to CreateTeam. A zero TotalAmount means the
// league team budget.
type CreateTeamRequest struct {
	CPLID       string          `json:"cpl_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// CreatePlayerRequest is the input to CreatePlayer. There is no basic amount
// field: it is always derived from the category.
type CreatePlayerRequest struct {
	CPLID      string     `json:"cpl_id"`
	Name       string     `json:"name"`
	Role       model.Role `json:"role"`
	IsExternal bool       `json:"is_external"`
}

// --- Settlement ---

// ValidateAndSettleBid validates a bid against the live team and player state
// and, if admitted, settles it: a sold bid puts the player on the team's
// roster, every admitted bid is charged to the team, and the bid is appended
// to the ledger last.
//
// Rejections are *validation.Error. Unknown ids wrap store.ErrNotFound.
func (s *Service) ValidateAndSettleBid(ctx context.Context, req SettleBidRequest) (*model.Bid, error) {
	if req.TeamID == "" || req.PlayerID == "" {
		return nil, fmt.Errorf("%w: team_id and player_id are required", ErrInvalidRequest)
	}

	unlock, err := s.acquire(ctx, lock.TeamKey(req.TeamID), lock.PlayerKey(req.PlayerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	var bid *model.Bid
	var team *model.Team
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		team, err = tx.GetTeam(ctx, req.TeamID)
		if err != nil {
			return err
		}
		player, err := tx.GetPlayer(ctx, req.PlayerID)
		if err != nil {
			return err
		}
		if err := checkPlayerMembership(ctx, tx, player); err != nil {
			return err
		}

		counts, err := tx.CountRoster(ctx, team.ID)
		if err != nil {
			return err
		}
		maxBid := s.projector.MaxBid(team, player, counts)

		if err := s.validator.Validate(validation.Input{
			Team:   team,
			Player: player,
			Amount: req.Amount,
			MaxBid: maxBid,
		}); err != nil {
			return err
		}

		now := s.now()
		if req.IsSold {
			if err := tx.InsertTeamMember(ctx, &model.TeamMember{
				ID:        uuid.New().String(),
				TeamID:    team.ID,
				PlayerID:  player.ID,
				CreatedAt: now,
			}); err != nil {
				return err
			}
			player.IsSold = true
			if err := tx.SavePlayerSold(ctx, player); err != nil {
				return err
			}
		}

		if err := accounting.Spend(team, req.Amount); err != nil {
			return err
		}
		if err := tx.SaveTeamAmounts(ctx, team); err != nil {
			return err
		}

		bid = &model.Bid{
			ID:        uuid.New().String(),
			TeamID:    team.ID,
			PlayerID:  player.ID,
			Amount:    req.Amount,
			IsSold:    req.IsSold,
			CreatedAt: now,
		}
		return tx.InsertBid(ctx, bid)
	})
	metrics.SettlementLatency.WithLabelValues("settle").Observe(time.Since(start).Seconds())

	if err != nil {
		if rule, ok := validation.RuleOf(err); ok {
			metrics.BidRejections.WithLabelValues(string(rule)).Inc()
			slog.Warn("bid rejected",
				"team", req.TeamID,
				"player", req.PlayerID,
				"amount", req.Amount.String(),
				"rule", string(rule),
			)
		}
		return nil, err
	}

	metrics.BidsSettled.WithLabelValues(outcome(bid.IsSold)).Inc()
	slog.Info("bid settled",
		"bid_id", bid.ID,
		"team", bid.TeamID,
		"player", bid.PlayerID,
		"amount", bid.Amount.String(),
		"sold", bid.IsSold,
		"balance", team.BalanceAmount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "bid_settled",
			BidID:    bid.ID,
			TeamID:   bid.TeamID,
			PlayerID: bid.PlayerID,
			Amount:   bid.Amount.String(),
			IsSold:   bid.IsSold,
			Balance:  team.BalanceAmount.String(),
		})
	}
	return bid, nil
}

// --- Reversal ---

// ReverseBid undoes a settled bid exactly: the roster entry and sold flag
// are cleared for a sold bid, the amount is refunded to the team, and the
// ledger entry is removed.
func (s *Service) ReverseBid(ctx context.Context, bidID string) error {
	// Unlocked read only to learn which team and player to lock; the bid is
	// read again under the locks.
	peek, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return err
	}

	unlock, err := s.acquire(ctx, lock.TeamKey(peek.TeamID), lock.PlayerKey(peek.PlayerID))
	if err != nil {
		return err
	}
	defer unlock()

	start := time.Now()
	var bid *model.Bid
	var team *model.Team
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		bid, err = tx.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		team, err = tx.GetTeam(ctx, bid.TeamID)
		if err != nil {
			return err
		}

		if bid.IsSold {
			member, err := tx.MemberOfPlayer(ctx, bid.PlayerID)
			if errors.Is(err, store.ErrNotFound) {
				return &ConsistencyError{Kind: KindSoldWithoutMember, TeamID: bid.TeamID, PlayerID: bid.PlayerID,
					Detail: "sold bid " + bid.ID + " has no roster entry"}
			}
			if err != nil {
				return err
			}
			if member.TeamID != bid.TeamID {
				return &ConsistencyError{Kind: KindMemberTeamMismatch, TeamID: bid.TeamID, PlayerID: bid.PlayerID,
					Detail: "player is on team " + member.TeamID}
			}
			if err := tx.DeleteTeamMember(ctx, bid.TeamID, bid.PlayerID); err != nil {
				return err
			}

			player, err := tx.GetPlayer(ctx, bid.PlayerID)
			if err != nil {
				return err
			}
			player.IsSold = false
			if err := tx.SavePlayerSold(ctx, player); err != nil {
				return err
			}
		}

		if err := accounting.Refund(team, bid.Amount); err != nil {
			if errors.Is(err, accounting.ErrInvalidAmount) {
				return &ConsistencyError{Kind: KindRefundExceedsSpend, TeamID: team.ID,
					Detail: err.Error()}
			}
			return err
		}
		if err := tx.SaveTeamAmounts(ctx, team); err != nil {
			return err
		}
		return tx.DeleteBid(ctx, bid.ID)
	})
	metrics.SettlementLatency.WithLabelValues("reverse").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrInconsistent) {
			slog.Error("bid reversal found inconsistent state", "bid_id", bidID, "err", err)
		}
		return err
	}

	metrics.BidsReversed.WithLabelValues(outcome(bid.IsSold)).Inc()
	slog.Info("bid reversed",
		"bid_id", bid.ID,
		"team", bid.TeamID,
		"player", bid.PlayerID,
		"amount", bid.Amount.String(),
		"sold", bid.IsSold,
		"balance", team.BalanceAmount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "bid_reversed",
			BidID:    bid.ID,
			TeamID:   bid.TeamID,
			PlayerID: bid.PlayerID,
			Amount:   bid.Amount.String(),
			IsSold:   bid.IsSold,
			Balance:  team.BalanceAmount.String(),
		})
	}
	return nil
}

// --- Projections ---

// ComputeMaxBid returns the affordability ceiling for team bidding on player
// right now. A bid must be strictly below it to be admitted.
func (s *Service) ComputeMaxBid(ctx context.Context, teamID, playerID string) (decimal.Decimal, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return decimal.Zero, err
	}
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return decimal.Zero, err
	}
	counts, err := s.store.CountRoster(ctx, teamID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.projector.MaxBid(team, player, counts), nil
}

// TeamRosterSummary returns roster counts, open mandatory slots and the
// projected ceiling for the team's next purchase.
func (s *Service) TeamRosterSummary(ctx context.Context, teamID string) (model.RosterSummary, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return model.RosterSummary{}, err
	}
	counts, err := s.store.CountRoster(ctx, teamID)
	if err != nil {
		return model.RosterSummary{}, err
	}
	return s.projector.Summary(team, counts), nil
}

// TeamOption is one row of the bid form: a team and what it can bid on the
// selected player.
type TeamOption struct {
	TeamID  string          `json:"team_id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance_amount"`
	MaxBid  decimal.Decimal `json:"max_bid"`
}

// BidOptions is the data behind the bid form for one player.
type BidOptions struct {
	Player model.Player `json:"player"`
	Teams  []TeamOption `json:"teams"`
}

// BidOptionsFor projects the ceiling of every team for playerID.
func (s *Service) BidOptionsFor(ctx context.Context, playerID string) (*BidOptions, error) {
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}

	opts := &BidOptions{Player: *player, Teams: make([]TeamOption, 0, len(teams))}
	for i := range teams {
		counts, err := s.store.CountRoster(ctx, teams[i].ID)
		if err != nil {
			return nil, err
		}
		opts.Teams = append(opts.Teams, TeamOption{
			TeamID:  teams[i].ID,
			Name:    teams[i].Name,
			Balance: accounting.Balance(&teams[i]),
			MaxBid:  s.projector.MaxBid(&teams[i], player, counts),
		})
	}
	return opts, nil
}

// --- Setup ---

// CreateTeam registers a team with a full, unspent purse.
func (s *Service) CreateTeam(ctx context.Context, req CreateTeamRequest) (*model.Team, error) {
	team, err := accounting.NewTeam(req.CPLID, req.Name, req.Description, req.TotalAmount, s.rules)
	if err != nil {
		return nil, err
	}
	team.CreatedAt = s.now()
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return nil, err
	}
	slog.Info("team created", "team", team.ID, "cpl_id", team.CPLID, "total", team.TotalAmount.String())
	return team, nil
}

// CreatePlayer registers an unsold player whose basic amount follows its
// category.
func (s *Service) CreatePlayer(ctx context.Context, req CreatePlayerRequest) (*model.Player, error) {
	player, err := accounting.NewPlayer(req.CPLID, req.Name, req.Role, req.IsExternal, s.rules)
	if err != nil {
		return nil, err
	}
	player.CreatedAt = s.now()
	if err := s.store.CreatePlayer(ctx, player); err != nil {
		return nil, err
	}
	slog.Info("player created",
		"player", player.ID,
		"cpl_id", player.CPLID,
		"external", player.IsExternal,
		"basic", player.BasicAmount.String(),
	)
	return player, nil
}

// --- Listings ---

func (s *Service) ListTeams(ctx context.Context) ([]model.Team, error) {
	return s.store.ListTeams(ctx)
}

func (s *Service) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	return s.store.GetTeam(ctx, id)
}

func (s *Service) ListPlayers(ctx context.Context, filter model.PlayerFilter) ([]model.Player, error) {
	return s.store.ListPlayers(ctx, filter)
}

// PlayersToBid lists the players still open for bidding.
func (s *Service) PlayersToBid(ctx context.Context) ([]model.Player, error) {
	unsold := false
	return s.store.ListPlayers(ctx, model.PlayerFilter{Sold: &unsold})
}

func (s *Service) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return s.store.GetPlayer(ctx, id)
}

// RosterEntry is a roster row joined with its player.
type RosterEntry struct {
	MemberID string       `json:"member_id"`
	Player   model.Player `json:"player"`
	JoinedAt time.Time    `json:"joined_at"`
}

// ListTeamMembers returns the roster of teamID. Unknown teams are
// store.ErrNotFound rather than an empty roster.
func (s *Service) ListTeamMembers(ctx context.Context, teamID string) ([]RosterEntry, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	entries := make([]RosterEntry, 0, len(members))
	for _, m := range members {
		p, err := s.store.GetPlayer(ctx, m.PlayerID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, RosterEntry{MemberID: m.ID, Player: *p, JoinedAt: m.CreatedAt})
	}
	return entries, nil
}

func (s *Service) ListBids(ctx context.Context, filter model.BidFilter) ([]model.Bid, error) {
	return s.store.ListBids(ctx, filter)
}

// --- Helpers ---

func (s *Service) acquire(ctx context.Context, keys ...string) (func(), error) {
	unlock, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			metrics.LockContention.Inc()
			slog.Warn("lock contention", "keys", strings.Join(keys, ","), "err", err)
		}
		return nil, err
	}
	return unlock, nil
}

// checkPlayerMembership enforces that a player is sold exactly when it has a
// roster entry.
func checkPlayerMembership(ctx context.Context, tx store.Tx, player *model.Player) error {
	member, err := tx.MemberOfPlayer(ctx, player.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if player.IsSold {
			return &ConsistencyError{Kind: KindSoldWithoutMember, PlayerID: player.ID}
		}
		return nil
	case err != nil:
		return err
	case !player.IsSold:
		return &ConsistencyError{Kind: KindMemberWithoutSold, TeamID: member.TeamID, PlayerID: player.ID}
	}
	return nil
}

func outcome(sold bool) string {
	if sold {
		return "sold"
	}
	return "unsold"
}
