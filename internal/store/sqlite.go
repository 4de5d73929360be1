package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/cpl/auction-engine/internal/model"
)

// SQLiteStore implements Store on a single SQLite file. Amounts are stored as
// TEXT decimals so no value ever passes through a float.
//
// The pool is limited to one connection: SQLite allows a single writer and
// ":memory:" databases are per-connection.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and migrates) the database at path.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		cpl_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		total_amount TEXT NOT NULL,
		expended_amount TEXT NOT NULL,
		balance_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		cpl_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		is_external INTEGER NOT NULL,
		basic_amount TEXT NOT NULL,
		is_sold INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_players_sold ON players(is_sold);

	-- One roster row per player: a player is never on two rosters.
	CREATE TABLE IF NOT EXISTS team_players (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		player_id TEXT NOT NULL UNIQUE REFERENCES players(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_team_players_team ON team_players(team_id);

	CREATE TABLE IF NOT EXISTS bids (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		player_id TEXT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
		bid_amount TEXT NOT NULL,
		is_sold INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bids_team ON bids(team_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_bids_player ON bids(player_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// sqliteQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	sqliteTeamCols   = `id, cpl_id, name, description, total_amount, expended_amount, balance_amount, created_at`
	sqlitePlayerCols = `id, cpl_id, name, role, is_external, basic_amount, is_sold, created_at`
	sqliteMemberCols = `id, team_id, player_id, created_at`
	sqliteBidCols    = `id, team_id, player_id, bid_amount, is_sold, created_at`
)

// =============================================================================
// SETUP
// =============================================================================

func (s *SQLiteStore) CreateTeam(ctx context.Context, t *model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (`+sqliteTeamCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CPLID, t.Name, t.Description,
		t.TotalAmount.String(), t.ExpendedAmount.String(), t.BalanceAmount.String(),
		formatTime(t.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: team cpl_id %s already exists", ErrConflict, t.CPLID)
		}
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players (`+sqlitePlayerCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CPLID, p.Name, string(p.Role), p.IsExternal,
		p.BasicAmount.String(), p.IsSold, formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: player cpl_id %s already exists", ErrConflict, p.CPLID)
		}
		return fmt.Errorf("failed to create player: %w", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (s *SQLiteStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sqliteGetTeam(ctx, s.db, id)
}

func (s *SQLiteStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteTeamCols+` FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		t, err := scanTeamText(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

func (s *SQLiteStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sqliteGetPlayer(ctx, s.db, id)
}

func (s *SQLiteStore) ListPlayers(ctx context.Context, filter model.PlayerFilter) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + sqlitePlayerCols + ` FROM players`
	var args []any
	if filter.Sold != nil {
		query += ` WHERE is_sold = ?`
		args = append(args, *filter.Sold)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		p, err := scanPlayerText(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (s *SQLiteStore) ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryMembers(ctx,
		`SELECT `+sqliteMemberCols+` FROM team_players WHERE team_id = ? ORDER BY created_at, id`, teamID)
}

func (s *SQLiteStore) ListAllMembers(ctx context.Context) ([]model.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryMembers(ctx, `SELECT `+sqliteMemberCols+` FROM team_players ORDER BY created_at, id`)
}

func (s *SQLiteStore) queryMembers(ctx context.Context, query string, args ...any) ([]model.TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []model.TeamMember
	for rows.Next() {
		m, err := scanMemberText(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *SQLiteStore) CountRoster(ctx context.Context, teamID string) (model.RosterCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sqliteCountRoster(ctx, s.db, teamID)
}

func (s *SQLiteStore) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sqliteGetBid(ctx, s.db, id)
}

func (s *SQLiteStore) ListBids(ctx context.Context, filter model.BidFilter) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + sqliteBidCols + ` FROM bids WHERE 1=1`
	var args []any
	if filter.TeamID != "" {
		query += ` AND team_id = ?`
		args = append(args, filter.TeamID)
	}
	if filter.PlayerID != "" {
		query += ` AND player_id = ?`
		args = append(args, filter.PlayerID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		b, err := scanBidText(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside a SQLite transaction; any error rolls it back.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	return sqliteGetTeam(ctx, t.tx, id)
}

func (t *sqliteTx) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return sqliteGetPlayer(ctx, t.tx, id)
}

func (t *sqliteTx) CountRoster(ctx context.Context, teamID string) (model.RosterCounts, error) {
	return sqliteCountRoster(ctx, t.tx, teamID)
}

func (t *sqliteTx) MemberOfPlayer(ctx context.Context, playerID string) (*model.TeamMember, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+sqliteMemberCols+` FROM team_players WHERE player_id = ?`, playerID)
	m, err := scanMemberText(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member for player %s: %w", playerID, ErrNotFound)
	}
	return m, err
}

func (t *sqliteTx) InsertTeamMember(ctx context.Context, m *model.TeamMember) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO team_players (`+sqliteMemberCols+`) VALUES (?, ?, ?, ?)`,
		m.ID, m.TeamID, m.PlayerID, formatTime(m.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: player %s already on a roster", ErrConflict, m.PlayerID)
		}
		return fmt.Errorf("failed to insert team member: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteTeamMember(ctx context.Context, teamID, playerID string) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM team_players WHERE team_id = ? AND player_id = ?`, teamID, playerID)
	if err != nil {
		return fmt.Errorf("failed to delete team member: %w", err)
	}
	return requireOneRow(res, fmt.Sprintf("member %s/%s", teamID, playerID))
}

func (t *sqliteTx) SavePlayerSold(ctx context.Context, p *model.Player) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE players SET is_sold = ? WHERE id = ?`, p.IsSold, p.ID)
	if err != nil {
		return fmt.Errorf("failed to save player: %w", err)
	}
	return requireOneRow(res, "player "+p.ID)
}

func (t *sqliteTx) SaveTeamAmounts(ctx context.Context, tm *model.Team) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE teams SET expended_amount = ?, balance_amount = ? WHERE id = ?`,
		tm.ExpendedAmount.String(), tm.BalanceAmount.String(), tm.ID)
	if err != nil {
		return fmt.Errorf("failed to save team: %w", err)
	}
	return requireOneRow(res, "team "+tm.ID)
}

func (t *sqliteTx) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	return sqliteGetBid(ctx, t.tx, id)
}

func (t *sqliteTx) InsertBid(ctx context.Context, b *model.Bid) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO bids (`+sqliteBidCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.TeamID, b.PlayerID, b.Amount.String(), b.IsSold, formatTime(b.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: bid %s already recorded", ErrConflict, b.ID)
		}
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteBid(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM bids WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bid: %w", err)
	}
	return requireOneRow(res, "bid "+id)
}

// =============================================================================
// SHARED QUERIES
// =============================================================================

func sqliteGetTeam(ctx context.Context, q sqliteQuerier, id string) (*model.Team, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqliteTeamCols+` FROM teams WHERE id = ?`, id)
	t, err := scanTeamText(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	return t, err
}

func sqliteGetPlayer(ctx context.Context, q sqliteQuerier, id string) (*model.Player, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqlitePlayerCols+` FROM players WHERE id = ?`, id)
	p, err := scanPlayerText(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	return p, err
}

func sqliteGetBid(ctx context.Context, q sqliteQuerier, id string) (*model.Bid, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqliteBidCols+` FROM bids WHERE id = ?`, id)
	b, err := scanBidText(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bid %s: %w", id, ErrNotFound)
	}
	return b, err
}

func sqliteCountRoster(ctx context.Context, q sqliteQuerier, teamID string) (model.RosterCounts, error) {
	var c model.RosterCounts
	err := q.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN p.is_external = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN p.is_external = 1 THEN 1 ELSE 0 END), 0)
		 FROM team_players tp
		 JOIN players p ON p.id = tp.player_id
		 WHERE tp.team_id = ?`, teamID).Scan(&c.Internal, &c.External)
	if err != nil {
		return c, fmt.Errorf("failed to count roster: %w", err)
	}
	return c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeamText(r rowScanner) (*model.Team, error) {
	var t model.Team
	var total, expended, balance, created string
	if err := r.Scan(&t.ID, &t.CPLID, &t.Name, &t.Description, &total, &expended, &balance, &created); err != nil {
		return nil, err
	}
	var err error
	if t.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("team %s total_amount: %w", t.ID, err)
	}
	if t.ExpendedAmount, err = decimal.NewFromString(expended); err != nil {
		return nil, fmt.Errorf("team %s expended_amount: %w", t.ID, err)
	}
	if t.BalanceAmount, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("team %s balance_amount: %w", t.ID, err)
	}
	t.CreatedAt = parseTime(created)
	return &t, nil
}

func scanPlayerText(r rowScanner) (*model.Player, error) {
	var p model.Player
	var role, basic, created string
	if err := r.Scan(&p.ID, &p.CPLID, &p.Name, &role, &p.IsExternal, &basic, &p.IsSold, &created); err != nil {
		return nil, err
	}
	var err error
	if p.BasicAmount, err = decimal.NewFromString(basic); err != nil {
		return nil, fmt.Errorf("player %s basic_amount: %w", p.ID, err)
	}
	p.Role = model.Role(role)
	p.CreatedAt = parseTime(created)
	return &p, nil
}

func scanMemberText(r rowScanner) (*model.TeamMember, error) {
	var m model.TeamMember
	var created string
	if err := r.Scan(&m.ID, &m.TeamID, &m.PlayerID, &created); err != nil {
		return nil, err
	}
	m.CreatedAt = parseTime(created)
	return &m, nil
}

func scanBidText(r rowScanner) (*model.Bid, error) {
	var b model.Bid
	var amount, created string
	if err := r.Scan(&b.ID, &b.TeamID, &b.PlayerID, &amount, &b.IsSold, &created); err != nil {
		return nil, err
	}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bid %s bid_amount: %w", b.ID, err)
	}
	b.CreatedAt = parseTime(created)
	return &b, nil
}

func requireOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
