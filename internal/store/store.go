// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), SQLite (single-node),
// Redis (read-through cache over either) and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/cpl/auction-engine/internal/model"
)

var (
	// ErrNotFound is returned when a team, player, member or bid id does not
	// exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write would break a uniqueness rule
	// (duplicate cpl_id, player already on a roster).
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. Reads here are lock-free and may be
// slightly stale; every write that moves money or roster membership goes
// through WithTx.
type Store interface {
	// --- Setup ---

	// CreateTeam persists a new team. Duplicate CPLID → ErrConflict.
	CreateTeam(ctx context.Context, team *model.Team) error

	// CreatePlayer persists a new player. Duplicate CPLID → ErrConflict.
	CreatePlayer(ctx context.Context, player *model.Player) error

	// --- Display reads ---

	GetTeam(ctx context.Context, id string) (*model.Team, error)
	ListTeams(ctx context.Context) ([]model.Team, error)
	GetPlayer(ctx context.Context, id string) (*model.Player, error)
	ListPlayers(ctx context.Context, filter model.PlayerFilter) ([]model.Player, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error)
	ListAllMembers(ctx context.Context) ([]model.TeamMember, error)
	CountRoster(ctx context.Context, teamID string) (model.RosterCounts, error)

	// --- Bid ledger reads ---

	GetBid(ctx context.Context, id string) (*model.Bid, error)
	ListBids(ctx context.Context, filter model.BidFilter) ([]model.Bid, error)

	// WithTx runs fn in one atomic unit. If fn returns an error nothing it
	// wrote is kept.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write path used by settlement and reversal. Team and player reads
// inside a Tx see the latest committed state; SQL backends lock the rows.
type Tx interface {
	GetTeam(ctx context.Context, id string) (*model.Team, error)
	GetPlayer(ctx context.Context, id string) (*model.Player, error)
	CountRoster(ctx context.Context, teamID string) (model.RosterCounts, error)

	// MemberOfPlayer returns the roster row holding playerID, or ErrNotFound.
	MemberOfPlayer(ctx context.Context, playerID string) (*model.TeamMember, error)
	InsertTeamMember(ctx context.Context, member *model.TeamMember) error
	// DeleteTeamMember removes the (team, player) row; ErrNotFound if absent.
	DeleteTeamMember(ctx context.Context, teamID, playerID string) error

	// SavePlayerSold persists the player's sold flag.
	SavePlayerSold(ctx context.Context, player *model.Player) error
	// SaveTeamAmounts persists expended and balance amounts as computed by
	// the accounting package.
	SaveTeamAmounts(ctx context.Context, team *model.Team) error

	GetBid(ctx context.Context, id string) (*model.Bid, error)
	InsertBid(ctx context.Context, bid *model.Bid) error
	DeleteBid(ctx context.Context, id string) error
}
