package auction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cpl/auction-engine/internal/auction"
	"github.com/cpl/auction-engine/internal/league"
	"github.com/cpl/auction-engine/internal/lock"
	"github.com/cpl/auction-engine/internal/model"
	"github.com/cpl/auction-engine/internal/store"
	"github.com/cpl/auction-engine/internal/validation"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testRules is a one-internal, one-external league with a 5000 purse, small
// enough that the affordability ceiling bites on the first purchase.
func testRules() league.Rules {
	return league.Rules{
		InternalPlayers: 1,
		ExternalPlayers: 1,
		InternalBasic:   d("1000"),
		ExternalBasic:   d("500"),
		TeamBudget:      d("5000"),
	}
}

func newTestService(t *testing.T) (*auction.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return auction.NewService(ms, lock.NewKeyedMutex(), testRules(), nil), ms
}

func seedTeam(t *testing.T, svc *auction.Service, cplID string) *model.Team {
	t.Helper()
	team, err := svc.CreateTeam(context.Background(), auction.CreateTeamRequest{
		CPLID: cplID,
		Name:  "Team " + cplID,
	})
	if err != nil {
		t.Fatalf("failed to seed team: %v", err)
	}
	return team
}

func seedPlayer(t *testing.T, svc *auction.Service, cplID string, external bool) *model.Player {
	t.Helper()
	player, err := svc.CreatePlayer(context.Background(), auction.CreatePlayerRequest{
		CPLID:      cplID,
		Name:       "Player " + cplID,
		Role:       model.RoleAllRounder,
		IsExternal: external,
	})
	if err != nil {
		t.Fatalf("failed to seed player: %v", err)
	}
	return player
}

func settle(svc *auction.Service, team *model.Team, player *model.Player, amount string, sold bool) (*model.Bid, error) {
	return svc.ValidateAndSettleBid(context.Background(), auction.SettleBidRequest{
		TeamID:   team.ID,
		PlayerID: player.ID,
		Amount:   d(amount),
		IsSold:   sold,
	})
}

func expectRule(t *testing.T, err error, want validation.Rule) {
	t.Helper()
	if !errors.Is(err, validation.ErrInvalidBid) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if rule, _ := validation.RuleOf(err); rule != want {
		t.Fatalf("expected rule %s, got %s (%v)", want, rule, err)
	}
}

// --- Settlement ---

func TestSettle_AffordabilityBoundary(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")
	external := seedPlayer(t, svc, "P1", true)

	maxBid, err := svc.ComputeMaxBid(ctx, team.ID, external.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !maxBid.Equal(d("4000")) {
		t.Fatalf("expected max bid 4000, got %s", maxBid)
	}

	_, err = settle(svc, team, external, "4000", true)
	expectRule(t, err, validation.RuleRosterUnaffordable)

	bid, err := settle(svc, team, external, "3999", true)
	if err != nil {
		t.Fatalf("3999 should be admitted: %v", err)
	}
	if bid.ID == "" || !bid.IsSold {
		t.Fatalf("unexpected bid %+v", bid)
	}

	got, _ := ms.GetTeam(ctx, team.ID)
	if !got.ExpendedAmount.Equal(d("3999")) || !got.BalanceAmount.Equal(d("1001")) {
		t.Errorf("expected expended 3999 / balance 1001, got %s / %s", got.ExpendedAmount, got.BalanceAmount)
	}
	p, _ := ms.GetPlayer(ctx, external.ID)
	if !p.IsSold {
		t.Error("player should be sold")
	}
	members, _ := ms.ListTeamMembers(ctx, team.ID)
	if len(members) != 1 || members[0].PlayerID != external.ID {
		t.Errorf("expected one roster entry for the player, got %+v", members)
	}
}

func TestSettle_BasicAmountBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	team := seedTeam(t, svc, "T1")
	external := seedPlayer(t, svc, "P1", true)

	_, err := settle(svc, team, external, "500", true)
	expectRule(t, err, validation.RuleBelowBasic)

	if _, err := settle(svc, team, external, "501", true); err != nil {
		t.Fatalf("501 should be admitted: %v", err)
	}
}

func TestSettle_ExceedsBalance(t *testing.T) {
	svc, _ := newTestService(t)
	team := seedTeam(t, svc, "T1")
	internal := seedPlayer(t, svc, "P1", false)

	_, err := settle(svc, team, internal, "5000.01", true)
	expectRule(t, err, validation.RuleExceedsBalance)
}

func TestSettle_DoubleSaleRejected(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	t1 := seedTeam(t, svc, "T1")
	t2 := seedTeam(t, svc, "T2")
	player := seedPlayer(t, svc, "P1", false)

	if _, err := settle(svc, t1, player, "1500", true); err != nil {
		t.Fatal(err)
	}
	_, err := settle(svc, t2, player, "2000", true)
	expectRule(t, err, validation.RuleAlreadySold)

	got, _ := ms.GetTeam(ctx, t2.ID)
	if !got.ExpendedAmount.IsZero() {
		t.Errorf("rejected bid must not charge the team, expended %s", got.ExpendedAmount)
	}
	bids, _ := ms.ListBids(ctx, model.BidFilter{PlayerID: player.ID})
	if len(bids) != 1 {
		t.Errorf("expected one ledger entry, got %d", len(bids))
	}
}

func TestSettle_UnsoldBidChargesTeam(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")
	player := seedPlayer(t, svc, "P1", false)

	bid, err := settle(svc, team, player, "1200", false)
	if err != nil {
		t.Fatal(err)
	}
	if bid.IsSold {
		t.Error("bid should be recorded as unsold")
	}

	got, _ := ms.GetTeam(ctx, team.ID)
	if !got.ExpendedAmount.Equal(d("1200")) {
		t.Errorf("expected expended 1200, got %s", got.ExpendedAmount)
	}
	p, _ := ms.GetPlayer(ctx, player.ID)
	if p.IsSold {
		t.Error("player should stay unsold")
	}
	counts, _ := ms.CountRoster(ctx, team.ID)
	if counts != (model.RosterCounts{}) {
		t.Errorf("roster should be empty, got %+v", counts)
	}
}

func TestSettle_UnknownIDs(t *testing.T) {
	svc, _ := newTestService(t)
	team := seedTeam(t, svc, "T1")
	player := seedPlayer(t, svc, "P1", false)

	_, err := settle(svc, &model.Team{ID: "nope"}, player, "1500", true)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown team, got %v", err)
	}
	_, err = settle(svc, team, &model.Player{ID: "nope"}, "1500", true)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown player, got %v", err)
	}
	_, err = svc.ValidateAndSettleBid(context.Background(), auction.SettleBidRequest{Amount: d("1500")})
	if !errors.Is(err, auction.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for missing ids, got %v", err)
	}
}

func TestSettle_SoldWithoutRosterEntryIsInconsistent(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")
	player := seedPlayer(t, svc, "P1", false)

	// Corrupt the store: sold flag without a roster row.
	err := ms.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPlayer(ctx, player.ID)
		if err != nil {
			return err
		}
		p.IsSold = true
		return tx.SavePlayerSold(ctx, p)
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = settle(svc, team, player, "1500", true)
	var cerr *auction.ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}
	if cerr.Kind != auction.KindSoldWithoutMember || !errors.Is(err, auction.ErrInconsistent) {
		t.Errorf("unexpected consistency error %+v", cerr)
	}
}

func TestSettle_LockHeld(t *testing.T) {
	ms := store.NewMemoryStore()
	locker := lock.NewKeyedMutex()
	svc := auction.NewService(ms, locker, testRules(), nil)
	team := seedTeam(t, svc, "T1")
	player := seedPlayer(t, svc, "P1", false)

	unlock, err := locker.Acquire(context.Background(), lock.PlayerKey(player.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.ValidateAndSettleBid(ctx, auction.SettleBidRequest{
		TeamID: team.ID, PlayerID: player.ID, Amount: d("1500"), IsSold: true,
	})
	if !errors.Is(err, lock.ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}
}

// --- Concurrency ---

func TestSettle_ConcurrentBidsOnePlayer(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	player := seedPlayer(t, svc, "P1", false)

	const bidders = 8
	teams := make([]*model.Team, bidders)
	for i := range teams {
		teams[i] = seedTeam(t, svc, "T"+string(rune('A'+i)))
	}

	var mu sync.Mutex
	var wins, soldRejections int
	var g errgroup.Group
	for _, team := range teams {
		team := team
		g.Go(func() error {
			_, err := settle(svc, team, player, "1500", true)
			mu.Lock()
			defer mu.Unlock()
			switch rule, _ := validation.RuleOf(err); {
			case err == nil:
				wins++
			case rule == validation.RuleAlreadySold:
				soldRejections++
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wins != 1 || soldRejections != bidders-1 {
		t.Fatalf("expected 1 win and %d already-sold rejections, got %d and %d", bidders-1, wins, soldRejections)
	}

	members, _ := ms.ListAllMembers(ctx)
	if len(members) != 1 {
		t.Errorf("expected exactly one roster entry, got %d", len(members))
	}
	report, err := svc.Audit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Consistent {
		t.Errorf("audit should pass after the race: %+v", report.Discrepancies)
	}
}

func TestSettle_ConcurrentBidsSameTeam(t *testing.T) {
	ms := store.NewMemoryStore()
	rules := league.Rules{
		InternalPlayers: 0,
		ExternalPlayers: 0,
		InternalBasic:   d("100"),
		ExternalBasic:   d("100"),
		TeamBudget:      d("10000"),
	}
	svc := auction.NewService(ms, nil, rules, nil)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		player := seedPlayer(t, svc, "P"+string(rune('a'+i)), false)
		g.Go(func() error {
			_, err := settle(svc, team, player, "250.25", true)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("settlement failed: %v", err)
	}

	got, _ := ms.GetTeam(ctx, team.ID)
	if !got.ExpendedAmount.Equal(d("5005")) {
		t.Errorf("expected expended 5005, got %s", got.ExpendedAmount)
	}
	if !got.BalanceAmount.Equal(got.TotalAmount.Sub(got.ExpendedAmount)) {
		t.Errorf("balance %s does not equal total - expended", got.BalanceAmount)
	}
}

// --- Reversal ---

func TestReverse_RestoresPriorState(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")
	player := seedPlayer(t, svc, "P1", false)

	beforeTeam, _ := ms.GetTeam(ctx, team.ID)
	beforePlayer, _ := ms.GetPlayer(ctx, player.ID)

	bid, err := settle(svc, team, player, "2000", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ReverseBid(ctx, bid.ID); err != nil {
		t.Fatalf("reverse failed: %v", err)
	}

	afterTeam, _ := ms.GetTeam(ctx, team.ID)
	afterPlayer, _ := ms.GetPlayer(ctx, player.ID)
	if !afterTeam.ExpendedAmount.Equal(beforeTeam.ExpendedAmount) ||
		!afterTeam.BalanceAmount.Equal(beforeTeam.BalanceAmount) {
		t.Errorf("team amounts not restored: before %s/%s after %s/%s",
			beforeTeam.ExpendedAmount, beforeTeam.BalanceAmount,
			afterTeam.ExpendedAmount, afterTeam.BalanceAmount)
	}
	if afterPlayer.IsSold != beforePlayer.IsSold {
		t.Error("player sold flag not restored")
	}
	members, _ := ms.ListAllMembers(ctx)
	if len(members) != 0 {
		t.Errorf("roster entry should be gone, got %+v", members)
	}
	if _, err := ms.GetBid(ctx, bid.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ledger entry should be removed, got %v", err)
	}

	// The player is back on the market.
	if _, err := settle(svc, team, player, "1500", true); err != nil {
		t.Errorf("player should be biddable again: %v", err)
	}
}

func TestReverse_UnsoldBid(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")
	player := seedPlayer(t, svc, "P1", false)

	bid, err := settle(svc, team, player, "1100", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ReverseBid(ctx, bid.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := ms.GetTeam(ctx, team.ID)
	if !got.ExpendedAmount.IsZero() || !got.BalanceAmount.Equal(d("5000")) {
		t.Errorf("expected a full purse, got %s / %s", got.ExpendedAmount, got.BalanceAmount)
	}
}

func TestReverse_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.ReverseBid(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReverse_Twice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")
	player := seedPlayer(t, svc, "P1", false)

	bid, err := settle(svc, team, player, "1500", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ReverseBid(ctx, bid.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.ReverseBid(ctx, bid.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second reversal should be ErrNotFound, got %v", err)
	}
}

// --- Projections and views ---

func TestTeamRosterSummary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")
	internal := seedPlayer(t, svc, "P1", false)

	summary, err := svc.TeamRosterSummary(ctx, team.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.RemainingInternal != 1 || summary.RemainingExternal != 1 {
		t.Errorf("unexpected remaining slots %+v", summary)
	}
	// Next purchase taken as internal: 5000 - 500 reserved for the external slot.
	if !summary.ProjectedNextBid.Equal(d("4500")) {
		t.Errorf("expected projected next bid 4500, got %s", summary.ProjectedNextBid)
	}

	if _, err := settle(svc, team, internal, "1500", true); err != nil {
		t.Fatal(err)
	}
	summary, _ = svc.TeamRosterSummary(ctx, team.ID)
	if summary.InternalCount != 1 || summary.RemainingInternal != 0 || summary.RemainingExternal != 1 {
		t.Errorf("unexpected summary after purchase %+v", summary)
	}
	// Remaining 3500 and the external candidate fills the last slot.
	if !summary.ProjectedNextBid.Equal(d("3500")) {
		t.Errorf("expected projected next bid 3500, got %s", summary.ProjectedNextBid)
	}

	if _, err := svc.TeamRosterSummary(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBidOptionsFor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	t1 := seedTeam(t, svc, "T1")
	seedTeam(t, svc, "T2")
	external := seedPlayer(t, svc, "P1", true)
	internal := seedPlayer(t, svc, "P2", false)

	if _, err := settle(svc, t1, internal, "2000", true); err != nil {
		t.Fatal(err)
	}

	opts, err := svc.BidOptionsFor(ctx, external.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(opts.Teams) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(opts.Teams))
	}
	for _, o := range opts.Teams {
		switch o.TeamID {
		case t1.ID:
			// Roster complete after this purchase: whole balance.
			if !o.MaxBid.Equal(d("3000")) {
				t.Errorf("T1 max bid: expected 3000, got %s", o.MaxBid)
			}
		default:
			if !o.MaxBid.Equal(d("4000")) {
				t.Errorf("T2 max bid: expected 4000, got %s", o.MaxBid)
			}
		}
	}
}

func TestCreatePlayer_BasicFromCategory(t *testing.T) {
	svc, _ := newTestService(t)
	internal := seedPlayer(t, svc, "P1", false)
	external := seedPlayer(t, svc, "P2", true)

	if !internal.BasicAmount.Equal(d("1000")) || !external.BasicAmount.Equal(d("500")) {
		t.Errorf("basic amounts: internal %s external %s", internal.BasicAmount, external.BasicAmount)
	}
	if internal.IsSold || external.IsSold {
		t.Error("new players must be unsold")
	}

	_, err := svc.CreatePlayer(context.Background(), auction.CreatePlayerRequest{
		CPLID: "P1", Name: "Duplicate", Role: model.RoleBatter,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate cpl_id, got %v", err)
	}
}

func TestCreateTeam_DefaultsToBudget(t *testing.T) {
	svc, _ := newTestService(t)
	team := seedTeam(t, svc, "T1")
	if !team.TotalAmount.Equal(d("5000")) || !team.BalanceAmount.Equal(d("5000")) || !team.ExpendedAmount.IsZero() {
		t.Errorf("unexpected new team amounts %+v", team)
	}

	_, err := svc.CreateTeam(context.Background(), auction.CreateTeamRequest{CPLID: "T1", Name: "Again"})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestListTeamMembers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")
	player := seedPlayer(t, svc, "P1", false)

	if _, err := settle(svc, team, player, "1500", true); err != nil {
		t.Fatal(err)
	}
	entries, err := svc.ListTeamMembers(ctx, team.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Player.ID != player.ID || !entries[0].Player.IsSold {
		t.Errorf("unexpected roster %+v", entries)
	}

	if _, err := svc.ListTeamMembers(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	toBid, _ := svc.PlayersToBid(ctx)
	if len(toBid) != 0 {
		t.Errorf("no player should be open for bidding, got %d", len(toBid))
	}
}

// --- Audit ---

func TestAudit_DetectsTampering(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	team := seedTeam(t, svc, "T1")
	player := seedPlayer(t, svc, "P1", false)
	if _, err := settle(svc, team, player, "1500", true); err != nil {
		t.Fatal(err)
	}

	report, err := svc.Audit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Consistent || report.Bids != 1 || report.Members != 1 {
		t.Fatalf("clean state should audit clean: %+v", report)
	}

	// Overwrite expended without touching the balance or the ledger.
	err = ms.WithTx(ctx, func(tx store.Tx) error {
		tm, err := tx.GetTeam(ctx, team.ID)
		if err != nil {
			return err
		}
		tm.ExpendedAmount = d("123")
		return tx.SaveTeamAmounts(ctx, tm)
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err = svc.Audit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]bool{}
	for _, e := range report.Discrepancies {
		kinds[e.Kind] = true
	}
	if report.Consistent || !kinds[auction.KindExpendedMismatch] || !kinds[auction.KindBalanceMismatch] {
		t.Errorf("expected expended and balance mismatches, got %+v", report.Discrepancies)
	}
}
