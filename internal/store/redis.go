package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cpl/auction-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// display reads. Writes go to the primary store and invalidate the cache;
// reads check Redis first then fall back to the primary. Transactions always
// read the primary, so bid validation never sees a cached value.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache) ---

func (s *CachedStore) CreateTeam(ctx context.Context, t *model.Team) error {
	if err := s.primary.CreateTeam(ctx, t); err != nil {
		return err
	}
	s.cache(ctx, teamKey(t.ID), t)
	return nil
}

func (s *CachedStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.CreatePlayer(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, playerKey(p.ID), p)
	return nil
}

// WithTx delegates to the primary and, once it commits, drops every cached
// team, player and roster count the transaction wrote.
func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.WithTx(ctx, func(tx Tx) error {
		touched = touched[:0]
		return fn(&invalidatingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		s.rdb.Del(ctx, touched...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	var t model.Team
	if s.lookup(ctx, teamKey(id), &t) {
		return &t, nil
	}

	// Cache miss: read from primary.
	team, err := s.primary.GetTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, teamKey(id), team)
	return team, nil
}

func (s *CachedStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	var p model.Player
	if s.lookup(ctx, playerKey(id), &p) {
		return &p, nil
	}

	player, err := s.primary.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, playerKey(id), player)
	return player, nil
}

func (s *CachedStore) CountRoster(ctx context.Context, teamID string) (model.RosterCounts, error) {
	var c model.RosterCounts
	if s.lookup(ctx, rosterKey(teamID), &c) {
		return c, nil
	}

	c, err := s.primary.CountRoster(ctx, teamID)
	if err != nil {
		return c, err
	}
	s.cache(ctx, rosterKey(teamID), c)
	return c, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	return s.primary.ListTeams(ctx)
}

func (s *CachedStore) ListPlayers(ctx context.Context, filter model.PlayerFilter) ([]model.Player, error) {
	return s.primary.ListPlayers(ctx, filter)
}

func (s *CachedStore) ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error) {
	return s.primary.ListTeamMembers(ctx, teamID)
}

func (s *CachedStore) ListAllMembers(ctx context.Context) ([]model.TeamMember, error) {
	return s.primary.ListAllMembers(ctx)
}

func (s *CachedStore) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	return s.primary.GetBid(ctx, id)
}

func (s *CachedStore) ListBids(ctx context.Context, filter model.BidFilter) ([]model.Bid, error) {
	return s.primary.ListBids(ctx, filter)
}

// invalidatingTx records the cache keys made stale by each write.
type invalidatingTx struct {
	Tx
	touched *[]string
}

func (tx *invalidatingTx) mark(keys ...string) {
	*tx.touched = append(*tx.touched, keys...)
}

func (tx *invalidatingTx) InsertTeamMember(ctx context.Context, m *model.TeamMember) error {
	if err := tx.Tx.InsertTeamMember(ctx, m); err != nil {
		return err
	}
	tx.mark(rosterKey(m.TeamID))
	return nil
}

func (tx *invalidatingTx) DeleteTeamMember(ctx context.Context, teamID, playerID string) error {
	if err := tx.Tx.DeleteTeamMember(ctx, teamID, playerID); err != nil {
		return err
	}
	tx.mark(rosterKey(teamID))
	return nil
}

func (tx *invalidatingTx) SavePlayerSold(ctx context.Context, p *model.Player) error {
	if err := tx.Tx.SavePlayerSold(ctx, p); err != nil {
		return err
	}
	tx.mark(playerKey(p.ID))
	return nil
}

func (tx *invalidatingTx) SaveTeamAmounts(ctx context.Context, t *model.Team) error {
	if err := tx.Tx.SaveTeamAmounts(ctx, t); err != nil {
		return err
	}
	tx.mark(teamKey(t.ID))
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func teamKey(id string) string   { return fmt.Sprintf("team:%s", id) }
func playerKey(id string) string { return fmt.Sprintf("player:%s", id) }
func rosterKey(id string) string { return fmt.Sprintf("roster:%s", id) }

var _ Store = (*CachedStore)(nil)
