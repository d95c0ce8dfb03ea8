package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"giveawaybot/internal/giveaway"
	logx "giveawaybot/pkg/logx"
)

//go:embed migrations.sql
var sqliteMigrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	// Write transactions take the lock up front so two processes sharing the
	// file cannot both read "active" and then race to write.
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// One connection serializes all statements in this process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const sqliteColumns = `community_id, ref_key, state, expires_at, prize, winner_count,
	required_role, message, created_by, created_at, ended_at`

func (s *sqliteStore) Create(ctx context.Context, g giveaway.Giveaway) error {
	if err := checkNew(g); err != nil {
		return err
	}
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO giveaways(`+sqliteColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,NULL)
		 ON CONFLICT(community_id, ref_key) DO NOTHING`,
		g.CommunityID, EscapeKey(g.Reference), string(giveaway.StateActive),
		timeToMS(g.ExpiresAt), g.Prize, g.WinnerCount,
		nullStr(g.RequiredRole), nullStr(g.Message), nullStr(g.CreatedBy), timeToMS(createdAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite create: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return giveaway.ErrExists
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, key giveaway.Key) (giveaway.Giveaway, error) {
	if err := checkKey(key); err != nil {
		return giveaway.Giveaway{}, err
	}
	return s.load(ctx, s.db, key)
}

func (s *sqliteStore) load(ctx context.Context, q sqlQuerier, key giveaway.Key) (giveaway.Giveaway, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM giveaways WHERE community_id = ? AND ref_key = ?`,
		key.CommunityID, EscapeKey(key.Reference),
	)
	g, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return giveaway.Giveaway{}, giveaway.ErrNotFound
	}
	if err != nil {
		return giveaway.Giveaway{}, fmt.Errorf("sqlite get: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM giveaway_entries WHERE community_id = ? AND ref_key = ? ORDER BY seq`,
		key.CommunityID, EscapeKey(key.Reference),
	)
	if err != nil {
		return giveaway.Giveaway{}, fmt.Errorf("sqlite entries: %w", err)
	}
	defer rows.Close()
	g.Entries = []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return giveaway.Giveaway{}, err
		}
		g.Entries = append(g.Entries, u)
	}
	return g, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSQLite(r rowScanner) (giveaway.Giveaway, error) {
	var (
		g                giveaway.Giveaway
		refKey, state    string
		expires, created int64
		role, msg, by    sql.NullString
		ended            sql.NullInt64
	)
	if err := r.Scan(&g.CommunityID, &refKey, &state, &expires, &g.Prize, &g.WinnerCount,
		&role, &msg, &by, &created, &ended); err != nil {
		return g, err
	}
	g.Reference = UnescapeKey(refKey)
	g.State = giveaway.State(state)
	g.ExpiresAt = msToTime(expires)
	g.RequiredRole = role.String
	g.Message = msg.String
	g.CreatedBy = by.String
	g.CreatedAt = msToTime(created)
	g.EndedAt = msToTime(ended.Int64)
	return g, nil
}

func (s *sqliteStore) ListActive(ctx context.Context) ([]giveaway.Giveaway, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM giveaways WHERE state = 'active' ORDER BY expires_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list active: %w", err)
	}
	var out []giveaway.Giveaway
	for rows.Next() {
		g, err := scanSQLite(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	// The single connection is free again; fetch every active entry at once.
	erows, err := s.db.QueryContext(ctx,
		`SELECT e.community_id, e.ref_key, e.user_id FROM giveaway_entries e
		 JOIN giveaways g ON g.community_id = e.community_id AND g.ref_key = e.ref_key
		 WHERE g.state = 'active' ORDER BY e.seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list entries: %w", err)
	}
	defer erows.Close()
	ix := entryIndex{}
	for erows.Next() {
		var c, r, u string
		if err := erows.Scan(&c, &r, &u); err != nil {
			return nil, err
		}
		ix.add(c, r, u)
	}
	if err := erows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Entries = append([]string{}, ix[out[i].Key()]...)
	}
	return out, nil
}

func (s *sqliteStore) stateOf(ctx context.Context, tx *sql.Tx, key giveaway.Key) (giveaway.State, error) {
	var st string
	err := tx.QueryRowContext(ctx,
		`SELECT state FROM giveaways WHERE community_id = ? AND ref_key = ?`,
		key.CommunityID, EscapeKey(key.Reference),
	).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", giveaway.ErrNotFound
	}
	return giveaway.State(st), err
}

func (s *sqliteStore) countEntries(ctx context.Context, tx *sql.Tx, key giveaway.Key) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM giveaway_entries WHERE community_id = ? AND ref_key = ?`,
		key.CommunityID, EscapeKey(key.Reference),
	).Scan(&n)
	return n, err
}

// mutateEntry runs op inside a transaction after checking the record is
// still active. op reports whether it changed a row.
func (s *sqliteStore) mutateEntry(ctx context.Context, key giveaway.Key, noop error,
	op func(tx *sql.Tx) (sql.Result, error)) (int, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st, err := s.stateOf(ctx, tx, key)
	if err != nil {
		return 0, err
	}
	if st != giveaway.StateActive {
		return 0, giveaway.ErrNotActive
	}
	res, err := op(tx)
	if err != nil {
		return 0, fmt.Errorf("sqlite entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, noop
	}
	count, err := s.countEntries(ctx, tx, key)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	return count, nil
}

func (s *sqliteStore) AddEntry(ctx context.Context, key giveaway.Key, userID string) (int, error) {
	return s.mutateEntry(ctx, key, giveaway.ErrAlreadyEntered, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`INSERT INTO giveaway_entries(community_id, ref_key, user_id) VALUES(?,?,?)
			 ON CONFLICT(community_id, ref_key, user_id) DO NOTHING`,
			key.CommunityID, EscapeKey(key.Reference), userID,
		)
	})
}

func (s *sqliteStore) RemoveEntry(ctx context.Context, key giveaway.Key, userID string) (int, error) {
	return s.mutateEntry(ctx, key, giveaway.ErrNotEntered, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`DELETE FROM giveaway_entries WHERE community_id = ? AND ref_key = ? AND user_id = ?`,
			key.CommunityID, EscapeKey(key.Reference), userID,
		)
	})
}

func (s *sqliteStore) End(ctx context.Context, key giveaway.Key, at time.Time) (giveaway.Giveaway, bool, error) {
	if err := checkKey(key); err != nil {
		return giveaway.Giveaway{}, false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return giveaway.Giveaway{}, false, fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE giveaways SET state = 'ended', ended_at = ?
		 WHERE community_id = ? AND ref_key = ? AND state = 'active'`,
		timeToMS(at), key.CommunityID, EscapeKey(key.Reference),
	)
	if err != nil {
		return giveaway.Giveaway{}, false, fmt.Errorf("sqlite end: %w", err)
	}
	applied := false
	if n, _ := res.RowsAffected(); n > 0 {
		applied = true
	}
	g, err := s.load(ctx, tx, key)
	if err != nil {
		return giveaway.Giveaway{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return giveaway.Giveaway{}, false, fmt.Errorf("sqlite commit: %w", err)
	}
	return g, applied, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, component, action, target, ok, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Component, e.Action, e.Target, e.OK, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}
