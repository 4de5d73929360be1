package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cpl/auction-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded migrations in lexicographic order, recording
// each one in schema_migrations so reruns are no-ops.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
	}
	return nil
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgTeamCols   = `id, cpl_id, name, description, total_amount::TEXT, expended_amount::TEXT, balance_amount::TEXT, created_at`
	pgPlayerCols = `id, cpl_id, name, role, is_external, basic_amount::TEXT, is_sold, created_at`
	pgMemberCols = `id, team_id, player_id, created_at`
	pgBidCols    = `id, team_id, player_id, bid_amount::TEXT, is_sold, created_at`
)

// --- Setup ---

func (s *PostgresStore) CreateTeam(ctx context.Context, t *model.Team) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO teams (id, cpl_id, name, description, total_amount, expended_amount, balance_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.CPLID, t.Name, t.Description,
		t.TotalAmount.String(), t.ExpendedAmount.String(), t.BalanceAmount.String(),
		t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: team cpl_id %s already exists", ErrConflict, t.CPLID)
	}
	return err
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (id, cpl_id, name, role, is_external, basic_amount, is_sold, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)`,
		p.ID, p.CPLID, p.Name, string(p.Role), p.IsExternal,
		p.BasicAmount.String(), p.IsSold, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: player cpl_id %s already exists", ErrConflict, p.CPLID)
	}
	return err
}

// --- Display reads ---

func (s *PostgresStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	return pgGetTeam(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgTeamCols+` FROM teams ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		t, err := scanTeamPg(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return pgGetPlayer(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListPlayers(ctx context.Context, filter model.PlayerFilter) ([]model.Player, error) {
	query := `SELECT ` + pgPlayerCols + ` FROM players`
	var args []any
	if filter.Sold != nil {
		query += ` WHERE is_sold = $1`
		args = append(args, *filter.Sold)
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		p, err := scanPlayerPg(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMemberCols+` FROM team_players WHERE team_id = $1 ORDER BY created_at, id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembersPg(rows)
}

func (s *PostgresStore) ListAllMembers(ctx context.Context) ([]model.TeamMember, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgMemberCols+` FROM team_players ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembersPg(rows)
}

func (s *PostgresStore) CountRoster(ctx context.Context, teamID string) (model.RosterCounts, error) {
	return pgCountRoster(ctx, s.pool, teamID)
}

// --- Bid ledger reads ---

func (s *PostgresStore) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	return pgGetBid(ctx, s.pool, id)
}

func (s *PostgresStore) ListBids(ctx context.Context, filter model.BidFilter) ([]model.Bid, error) {
	query := `SELECT ` + pgBidCols + ` FROM bids WHERE TRUE`
	var args []any
	if filter.TeamID != "" {
		args = append(args, filter.TeamID)
		query += fmt.Sprintf(` AND team_id = $%d`, len(args))
	}
	if filter.PlayerID != "" {
		args = append(args, filter.PlayerID)
		query += fmt.Sprintf(` AND player_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		b, err := scanBidPg(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

// --- Transactions ---

// WithTx runs fn in a READ COMMITTED transaction. Team and player reads inside
// fn take row locks (SELECT ... FOR UPDATE) so concurrent settlements against
// the same team or player queue behind each other.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	return pgGetTeam(ctx, t.tx, id, true)
}

func (t *pgTx) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return pgGetPlayer(ctx, t.tx, id, true)
}

func (t *pgTx) CountRoster(ctx context.Context, teamID string) (model.RosterCounts, error) {
	return pgCountRoster(ctx, t.tx, teamID)
}

func (t *pgTx) MemberOfPlayer(ctx context.Context, playerID string) (*model.TeamMember, error) {
	var m model.TeamMember
	err := t.tx.QueryRow(ctx,
		`SELECT `+pgMemberCols+` FROM team_players WHERE player_id = $1`, playerID).
		Scan(&m.ID, &m.TeamID, &m.PlayerID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("member for player %s: %w", playerID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) InsertTeamMember(ctx context.Context, m *model.TeamMember) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO team_players (id, team_id, player_id, created_at) VALUES ($1, $2, $3, $4)`,
		m.ID, m.TeamID, m.PlayerID, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: player %s already on a roster", ErrConflict, m.PlayerID)
	}
	return err
}

func (t *pgTx) DeleteTeamMember(ctx context.Context, teamID, playerID string) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM team_players WHERE team_id = $1 AND player_id = $2`, teamID, playerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("member %s/%s: %w", teamID, playerID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) SavePlayerSold(ctx context.Context, p *model.Player) error {
	tag, err := t.tx.Exec(ctx, `UPDATE players SET is_sold = $2 WHERE id = $1`, p.ID, p.IsSold)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("player %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) SaveTeamAmounts(ctx context.Context, tm *model.Team) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE teams
		 SET expended_amount = $2::NUMERIC, balance_amount = $3::NUMERIC
		 WHERE id = $1`,
		tm.ID, tm.ExpendedAmount.String(), tm.BalanceAmount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("team %s: %w", tm.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	return pgGetBid(ctx, t.tx, id)
}

func (t *pgTx) InsertBid(ctx context.Context, b *model.Bid) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bids (id, team_id, player_id, bid_amount, is_sold, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		b.ID, b.TeamID, b.PlayerID, b.Amount.String(), b.IsSold, b.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: bid %s already recorded", ErrConflict, b.ID)
	}
	return err
}

func (t *pgTx) DeleteBid(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM bids WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bid %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Shared queries ---

func pgGetTeam(ctx context.Context, q pgQuerier, id string, forUpdate bool) (*model.Team, error) {
	query := `SELECT ` + pgTeamCols + ` FROM teams WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTeamPg(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	return t, err
}

func pgGetPlayer(ctx context.Context, q pgQuerier, id string, forUpdate bool) (*model.Player, error) {
	query := `SELECT ` + pgPlayerCols + ` FROM players WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPlayerPg(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	return p, err
}

func pgGetBid(ctx context.Context, q pgQuerier, id string) (*model.Bid, error) {
	b, err := scanBidPg(q.QueryRow(ctx, `SELECT `+pgBidCols+` FROM bids WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bid %s: %w", id, ErrNotFound)
	}
	return b, err
}

func pgCountRoster(ctx context.Context, q pgQuerier, teamID string) (model.RosterCounts, error) {
	var c model.RosterCounts
	err := q.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE NOT p.is_external),
			COUNT(*) FILTER (WHERE p.is_external)
		 FROM team_players tp
		 JOIN players p ON p.id = tp.player_id
		 WHERE tp.team_id = $1`, teamID).Scan(&c.Internal, &c.External)
	if err != nil {
		return c, fmt.Errorf("count roster %s: %w", teamID, err)
	}
	return c, nil
}

// scanTeamPg reads NUMERIC columns cast to TEXT and parses them with decimal.
func scanTeamPg(r rowScanner) (*model.Team, error) {
	var t model.Team
	var total, expended, balance string
	if err := r.Scan(&t.ID, &t.CPLID, &t.Name, &t.Description, &total, &expended, &balance, &t.CreatedAt); err != nil {
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
	return &t, nil
}

func scanPlayerPg(r rowScanner) (*model.Player, error) {
	var p model.Player
	var role, basic string
	if err := r.Scan(&p.ID, &p.CPLID, &p.Name, &role, &p.IsExternal, &basic, &p.IsSold, &p.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.BasicAmount, err = decimal.NewFromString(basic); err != nil {
		return nil, fmt.Errorf("player %s basic_amount: %w", p.ID, err)
	}
	p.Role = model.Role(role)
	return &p, nil
}

func scanMembersPg(rows pgx.Rows) ([]model.TeamMember, error) {
	var members []model.TeamMember
	for rows.Next() {
		var m model.TeamMember
		if err := rows.Scan(&m.ID, &m.TeamID, &m.PlayerID, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func scanBidPg(r rowScanner) (*model.Bid, error) {
	var b model.Bid
	var amount string
	if err := r.Scan(&b.ID, &b.TeamID, &b.PlayerID, &amount, &b.IsSold, &b.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bid %s bid_amount: %w", b.ID, err)
	}
	return &b, nil
}

// isUniqueViolation reports a PostgreSQL unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
