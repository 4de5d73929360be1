package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cpl/auction-engine/internal/model"
)

// Every backend below runs the same behaviour checks.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func seed(t *testing.T, s Store) (*model.Team, *model.Player, *model.Player) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	team := &model.Team{
		ID:             "team-1",
		CPLID:          "T1",
		Name:           "Strikers",
		TotalAmount:    decimal.NewFromInt(100000),
		ExpendedAmount: decimal.Zero,
		BalanceAmount:  decimal.NewFromInt(100000),
		CreatedAt:      now,
	}
	internal := &model.Player{
		ID:          "player-1",
		CPLID:       "P1",
		Name:        "Arun",
		Role:        model.RoleBatter,
		BasicAmount: decimal.NewFromInt(2000),
		CreatedAt:   now,
	}
	external := &model.Player{
		ID:          "player-2",
		CPLID:       "P2",
		Name:        "Bala",
		Role:        model.RoleBowler,
		IsExternal:  true,
		BasicAmount: decimal.NewFromInt(5000),
		CreatedAt:   now,
	}
	require.NoError(t, s.CreateTeam(ctx, team))
	require.NoError(t, s.CreatePlayer(ctx, internal))
	require.NoError(t, s.CreatePlayer(ctx, external))
	return team, internal, external
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			team, internal, _ := seed(t, s)

			got, err := s.GetTeam(ctx, team.ID)
			require.NoError(t, err)
			require.Equal(t, "Strikers", got.Name)
			require.True(t, got.BalanceAmount.Equal(decimal.NewFromInt(100000)))

			p, err := s.GetPlayer(ctx, internal.ID)
			require.NoError(t, err)
			require.Equal(t, model.RoleBatter, p.Role)
			require.False(t, p.IsExternal)
			require.True(t, p.BasicAmount.Equal(decimal.NewFromInt(2000)))

			_, err = s.GetTeam(ctx, "missing")
			require.True(t, errors.Is(err, ErrNotFound))
			_, err = s.GetPlayer(ctx, "missing")
			require.True(t, errors.Is(err, ErrNotFound))
			_, err = s.GetBid(ctx, "missing")
			require.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStore_DuplicateCPLID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s)

			err := s.CreateTeam(ctx, &model.Team{
				ID: "team-2", CPLID: "T1", Name: "Copy",
				TotalAmount: decimal.NewFromInt(1), BalanceAmount: decimal.NewFromInt(1),
			})
			require.True(t, errors.Is(err, ErrConflict))

			err = s.CreatePlayer(ctx, &model.Player{
				ID: "player-9", CPLID: "P1", Name: "Copy", BasicAmount: decimal.NewFromInt(1),
			})
			require.True(t, errors.Is(err, ErrConflict))
		})
	}
}

func TestStore_ListPlayersFilter(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, internal, _ := seed(t, s)

			require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
				p, err := tx.GetPlayer(ctx, internal.ID)
				if err != nil {
					return err
				}
				p.IsSold = true
				return tx.SavePlayerSold(ctx, p)
			}))

			all, err := s.ListPlayers(ctx, model.PlayerFilter{})
			require.NoError(t, err)
			require.Len(t, all, 2)
			require.Equal(t, "Arun", all[0].Name)

			unsold := false
			rest, err := s.ListPlayers(ctx, model.PlayerFilter{Sold: &unsold})
			require.NoError(t, err)
			require.Len(t, rest, 1)
			require.Equal(t, "player-2", rest[0].ID)
		})
	}
}

func TestStore_TxCommit(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			team, _, external := seed(t, s)
			now := time.Now().UTC()

			err := s.WithTx(ctx, func(tx Tx) error {
				if err := tx.InsertTeamMember(ctx, &model.TeamMember{
					ID: "m-1", TeamID: team.ID, PlayerID: external.ID, CreatedAt: now,
				}); err != nil {
					return err
				}
				tm, err := tx.GetTeam(ctx, team.ID)
				if err != nil {
					return err
				}
				tm.ExpendedAmount = decimal.NewFromInt(7000)
				tm.BalanceAmount = decimal.NewFromInt(93000)
				if err := tx.SaveTeamAmounts(ctx, tm); err != nil {
					return err
				}
				return tx.InsertBid(ctx, &model.Bid{
					ID: "bid-1", TeamID: team.ID, PlayerID: external.ID,
					Amount: decimal.NewFromInt(7000), IsSold: true, CreatedAt: now,
				})
			})
			require.NoError(t, err)

			counts, err := s.CountRoster(ctx, team.ID)
			require.NoError(t, err)
			require.Equal(t, model.RosterCounts{Internal: 0, External: 1}, counts)

			got, err := s.GetTeam(ctx, team.ID)
			require.NoError(t, err)
			require.True(t, got.ExpendedAmount.Equal(decimal.NewFromInt(7000)))
			require.True(t, got.BalanceAmount.Equal(decimal.NewFromInt(93000)))

			bid, err := s.GetBid(ctx, "bid-1")
			require.NoError(t, err)
			require.True(t, bid.Amount.Equal(decimal.NewFromInt(7000)))
			require.True(t, bid.IsSold)

			members, err := s.ListTeamMembers(ctx, team.ID)
			require.NoError(t, err)
			require.Len(t, members, 1)
			require.Equal(t, external.ID, members[0].PlayerID)

			bids, err := s.ListBids(ctx, model.BidFilter{TeamID: team.ID})
			require.NoError(t, err)
			require.Len(t, bids, 1)
			bids, err = s.ListBids(ctx, model.BidFilter{PlayerID: "player-1"})
			require.NoError(t, err)
			require.Empty(t, bids)
		})
	}
}

func TestStore_TxRollback(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			team, internal, _ := seed(t, s)
			boom := errors.New("boom")

			err := s.WithTx(ctx, func(tx Tx) error {
				if err := tx.InsertTeamMember(ctx, &model.TeamMember{
					ID: "m-1", TeamID: team.ID, PlayerID: internal.ID, CreatedAt: time.Now(),
				}); err != nil {
					return err
				}
				p, err := tx.GetPlayer(ctx, internal.ID)
				if err != nil {
					return err
				}
				p.IsSold = true
				if err := tx.SavePlayerSold(ctx, p); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			p, err := s.GetPlayer(ctx, internal.ID)
			require.NoError(t, err)
			require.False(t, p.IsSold)

			members, err := s.ListAllMembers(ctx)
			require.NoError(t, err)
			require.Empty(t, members)
		})
	}
}

func TestStore_OneRosterPerPlayer(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			team, internal, _ := seed(t, s)
			require.NoError(t, s.CreateTeam(ctx, &model.Team{
				ID: "team-2", CPLID: "T2", Name: "Titans",
				TotalAmount: decimal.NewFromInt(100000), BalanceAmount: decimal.NewFromInt(100000),
				CreatedAt: time.Now(),
			}))

			require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
				return tx.InsertTeamMember(ctx, &model.TeamMember{
					ID: "m-1", TeamID: team.ID, PlayerID: internal.ID, CreatedAt: time.Now(),
				})
			}))

			err := s.WithTx(ctx, func(tx Tx) error {
				return tx.InsertTeamMember(ctx, &model.TeamMember{
					ID: "m-2", TeamID: "team-2", PlayerID: internal.ID, CreatedAt: time.Now(),
				})
			})
			require.True(t, errors.Is(err, ErrConflict))

			require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
				m, err := tx.MemberOfPlayer(ctx, internal.ID)
				if err != nil {
					return err
				}
				require.Equal(t, team.ID, m.TeamID)
				return nil
			}))
		})
	}
}

func TestStore_TxDeletes(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			team, internal, _ := seed(t, s)

			require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
				if err := tx.InsertTeamMember(ctx, &model.TeamMember{
					ID: "m-1", TeamID: team.ID, PlayerID: internal.ID, CreatedAt: time.Now(),
				}); err != nil {
					return err
				}
				return tx.InsertBid(ctx, &model.Bid{
					ID: "bid-1", TeamID: team.ID, PlayerID: internal.ID,
					Amount: decimal.NewFromInt(2500), IsSold: true, CreatedAt: time.Now(),
				})
			}))

			require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
				if err := tx.DeleteTeamMember(ctx, team.ID, internal.ID); err != nil {
					return err
				}
				return tx.DeleteBid(ctx, "bid-1")
			}))

			err := s.WithTx(ctx, func(tx Tx) error {
				return tx.DeleteBid(ctx, "bid-1")
			})
			require.True(t, errors.Is(err, ErrNotFound))

			err = s.WithTx(ctx, func(tx Tx) error {
				return tx.DeleteTeamMember(ctx, team.ID, internal.ID)
			})
			require.True(t, errors.Is(err, ErrNotFound))

			err = s.WithTx(ctx, func(tx Tx) error {
				_, err := tx.MemberOfPlayer(ctx, internal.ID)
				return err
			})
			require.True(t, errors.Is(err, ErrNotFound))
		})
	}
}
