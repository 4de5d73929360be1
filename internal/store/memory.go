package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/cpl/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	teams   map[string]*model.Team
	players map[string]*model.Player
	members map[string]*model.TeamMember // keyed by player id
	ledger  []model.Bid
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teams:   make(map[string]*model.Team),
		players: make(map[string]*model.Player),
		members: make(map[string]*model.TeamMember),
	}
}

func (s *MemoryStore) CreateTeam(_ context.Context, t *model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.teams {
		if existing.CPLID == t.CPLID {
			return fmt.Errorf("%w: team cpl_id %s already exists", ErrConflict, t.CPLID)
		}
	}
	if _, ok := s.teams[t.ID]; ok {
		return fmt.Errorf("%w: team %s already exists", ErrConflict, t.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *t
	s.teams[t.ID] = &copy
	return nil
}

func (s *MemoryStore) CreatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.players {
		if existing.CPLID == p.CPLID {
			return fmt.Errorf("%w: player cpl_id %s already exists", ErrConflict, p.CPLID)
		}
	}
	if _, ok := s.players[p.ID]; ok {
		return fmt.Errorf("%w: player %s already exists", ErrConflict, p.ID)
	}

	copy := *p
	s.players[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id string) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTeam(id)
}

func (s *MemoryStore) getTeam(id string) (*model.Team, error) {
	t, ok := s.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) ListTeams(_ context.Context) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]model.Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, *t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams, nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlayer(id)
}

func (s *MemoryStore) getPlayer(id string) (*model.Player, error) {
	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPlayers(_ context.Context, filter model.PlayerFilter) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]model.Player, 0, len(s.players))
	for _, p := range s.players {
		if filter.Sold != nil && p.IsSold != *filter.Sold {
			continue
		}
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Name < players[j].Name })
	return players, nil
}

func (s *MemoryStore) ListTeamMembers(_ context.Context, teamID string) ([]model.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var members []model.TeamMember
	for _, m := range s.members {
		if m.TeamID == teamID {
			members = append(members, *m)
		}
	}
	sortMembers(members)
	return members, nil
}

func (s *MemoryStore) ListAllMembers(_ context.Context) ([]model.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]model.TeamMember, 0, len(s.members))
	for _, m := range s.members {
		members = append(members, *m)
	}
	sortMembers(members)
	return members, nil
}

func sortMembers(members []model.TeamMember) {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].ID < members[j].ID
	})
}

func (s *MemoryStore) CountRoster(_ context.Context, teamID string) (model.RosterCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countRoster(teamID), nil
}

// countRoster joins members to players directly; caller holds the lock.
func (s *MemoryStore) countRoster(teamID string) model.RosterCounts {
	var c model.RosterCounts
	for _, m := range s.members {
		if m.TeamID != teamID {
			continue
		}
		if p, ok := s.players[m.PlayerID]; ok {
			c = c.Add(p.IsExternal)
		}
	}
	return c
}

func (s *MemoryStore) GetBid(_ context.Context, id string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBid(id)
}

func (s *MemoryStore) getBid(id string) (*model.Bid, error) {
	for _, b := range s.ledger {
		if b.ID == id {
			copy := b
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("bid %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) ListBids(_ context.Context, filter model.BidFilter) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bid
	for _, b := range s.ledger {
		if filter.TeamID != "" && b.TeamID != filter.TeamID {
			continue
		}
		if filter.PlayerID != "" && b.PlayerID != filter.PlayerID {
			continue
		}
		result = append(result, b)
	}
	return result, nil
}

// WithTx serializes fn against every other write. On error the maps are
// restored from a snapshot taken before fn ran.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	teams   map[string]*model.Team
	players map[string]*model.Player
	members map[string]*model.TeamMember
	ledger  []model.Bid
}

// snapshot deep-copies entity values so in-place edits during fn do not leak
// into the saved state.
func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		teams:   make(map[string]*model.Team, len(s.teams)),
		players: make(map[string]*model.Player, len(s.players)),
		members: maps.Clone(s.members),
		ledger:  slices.Clone(s.ledger),
	}
	for id, t := range s.teams {
		c := *t
		snap.teams[id] = &c
	}
	for id, p := range s.players {
		c := *p
		snap.players[id] = &c
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.teams = snap.teams
	s.players = snap.players
	s.members = snap.members
	s.ledger = snap.ledger
}

// memTx runs with MemoryStore.mu held for writing.
type memTx struct {
	s *MemoryStore
}

func (tx *memTx) GetTeam(_ context.Context, id string) (*model.Team, error) {
	return tx.s.getTeam(id)
}

func (tx *memTx) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	return tx.s.getPlayer(id)
}

func (tx *memTx) CountRoster(_ context.Context, teamID string) (model.RosterCounts, error) {
	return tx.s.countRoster(teamID), nil
}

func (tx *memTx) MemberOfPlayer(_ context.Context, playerID string) (*model.TeamMember, error) {
	m, ok := tx.s.members[playerID]
	if !ok {
		return nil, fmt.Errorf("member for player %s: %w", playerID, ErrNotFound)
	}
	copy := *m
	return &copy, nil
}

func (tx *memTx) InsertTeamMember(_ context.Context, m *model.TeamMember) error {
	if _, ok := tx.s.teams[m.TeamID]; !ok {
		return fmt.Errorf("team %s: %w", m.TeamID, ErrNotFound)
	}
	if _, ok := tx.s.players[m.PlayerID]; !ok {
		return fmt.Errorf("player %s: %w", m.PlayerID, ErrNotFound)
	}
	if existing, ok := tx.s.members[m.PlayerID]; ok {
		return fmt.Errorf("%w: player %s already on team %s", ErrConflict, m.PlayerID, existing.TeamID)
	}
	copy := *m
	tx.s.members[m.PlayerID] = &copy
	return nil
}

func (tx *memTx) DeleteTeamMember(_ context.Context, teamID, playerID string) error {
	m, ok := tx.s.members[playerID]
	if !ok || m.TeamID != teamID {
		return fmt.Errorf("member %s/%s: %w", teamID, playerID, ErrNotFound)
	}
	delete(tx.s.members, playerID)
	return nil
}

func (tx *memTx) SavePlayerSold(_ context.Context, p *model.Player) error {
	existing, ok := tx.s.players[p.ID]
	if !ok {
		return fmt.Errorf("player %s: %w", p.ID, ErrNotFound)
	}
	existing.IsSold = p.IsSold
	return nil
}

func (tx *memTx) SaveTeamAmounts(_ context.Context, t *model.Team) error {
	existing, ok := tx.s.teams[t.ID]
	if !ok {
		return fmt.Errorf("team %s: %w", t.ID, ErrNotFound)
	}
	existing.ExpendedAmount = t.ExpendedAmount
	existing.BalanceAmount = t.BalanceAmount
	return nil
}

func (tx *memTx) GetBid(_ context.Context, id string) (*model.Bid, error) {
	return tx.s.getBid(id)
}

func (tx *memTx) InsertBid(_ context.Context, b *model.Bid) error {
	for _, existing := range tx.s.ledger {
		if existing.ID == b.ID {
			return fmt.Errorf("%w: bid %s already recorded", ErrConflict, b.ID)
		}
	}
	tx.s.ledger = append(tx.s.ledger, *b)
	return nil
}

func (tx *memTx) DeleteBid(_ context.Context, id string) error {
	for i, b := range tx.s.ledger {
		if b.ID == id {
			tx.s.ledger = slices.Delete(tx.s.ledger, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("bid %s: %w", id, ErrNotFound)
}
