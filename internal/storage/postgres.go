package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"giveawaybot/internal/giveaway"
	logx "giveawaybot/pkg/logx"
)

// postgresStore keeps giveaways in PostgreSQL.
//
// Entry mutations lock the giveaway row FOR SHARE and End updates it, so an
// entry either commits before the transition or sees the ended state.
type postgresStore struct {
	pool   *pgxpool.Pool
	schema string
	log    logx.Logger
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func openPostgres(ctx context.Context, cfg PostgresConfig, log logx.Logger) (*postgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	st, err := newPostgresStore(ctx, pool, cfg.Schema, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func newPostgresStore(ctx context.Context, pool *pgxpool.Pool, schema string, log logx.Logger) (*postgresStore, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "giveawaybot"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("postgres: invalid schema identifier %q", schema)
	}
	st := &postgresStore{pool: pool, schema: schema, log: log}
	if err := st.migrate(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) giveaways() string { return pgIdent(s.schema, "giveaways") }
func (s *postgresStore) entries() string   { return pgIdent(s.schema, "giveaway_entries") }
func (s *postgresStore) audit() string     { return pgIdent(s.schema, "audit") }

func (s *postgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + s.giveaways() + ` (
			community_id  TEXT        NOT NULL,
			ref_key       TEXT        NOT NULL,
			state         TEXT        NOT NULL DEFAULT 'active',
			expires_at    TIMESTAMPTZ NOT NULL,
			prize         TEXT        NOT NULL,
			winner_count  INTEGER     NOT NULL CHECK (winner_count >= 1),
			required_role TEXT        NOT NULL DEFAULT '',
			message       TEXT        NOT NULL DEFAULT '',
			created_by    TEXT        NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			ended_at      TIMESTAMPTZ,
			PRIMARY KEY (community_id, ref_key)
		)`,
		`CREATE INDEX IF NOT EXISTS giveaways_state_expires ON ` + s.giveaways() + ` (state, expires_at)`,
		`CREATE TABLE IF NOT EXISTS ` + s.entries() + ` (
			seq          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			community_id TEXT NOT NULL,
			ref_key      TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			UNIQUE (community_id, ref_key, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.audit() + ` (
			id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			at             TIMESTAMPTZ NOT NULL,
			actor_id       BIGINT      NOT NULL,
			actor_username TEXT        NOT NULL DEFAULT '',
			chat_id        BIGINT      NOT NULL,
			component      TEXT        NOT NULL,
			action         TEXT        NOT NULL,
			target         TEXT        NOT NULL,
			ok             BOOLEAN     NOT NULL,
			err            TEXT        NOT NULL DEFAULT '',
			took_ms        BIGINT      NOT NULL,
			meta           TEXT        NOT NULL DEFAULT ''
		)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *postgresStore) Create(ctx context.Context, g giveaway.Giveaway) error {
	if err := checkNew(g); err != nil {
		return err
	}
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.giveaways()+` (community_id, ref_key, state, expires_at, prize, winner_count,
		     required_role, message, created_by, created_at)
		 VALUES ($1, $2, 'active', $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (community_id, ref_key) DO NOTHING`,
		g.CommunityID, EscapeKey(g.Reference), g.ExpiresAt, g.Prize, g.WinnerCount,
		g.RequiredRole, g.Message, g.CreatedBy, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres create: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return giveaway.ErrExists
	}
	return nil
}

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const pgColumns = `community_id, ref_key, state, expires_at, prize, winner_count,
	required_role, message, created_by, created_at, ended_at`

func scanPostgres(r pgx.Row) (giveaway.Giveaway, error) {
	var (
		g      giveaway.Giveaway
		refKey string
		state  string
		ended  *time.Time
	)
	err := r.Scan(&g.CommunityID, &refKey, &state, &g.ExpiresAt, &g.Prize, &g.WinnerCount,
		&g.RequiredRole, &g.Message, &g.CreatedBy, &g.CreatedAt, &ended)
	if err != nil {
		return g, err
	}
	g.Reference = UnescapeKey(refKey)
	g.State = giveaway.State(state)
	if ended != nil {
		g.EndedAt = *ended
	}
	return g, nil
}

func (s *postgresStore) Get(ctx context.Context, key giveaway.Key) (giveaway.Giveaway, error) {
	if err := checkKey(key); err != nil {
		return giveaway.Giveaway{}, err
	}
	return s.load(ctx, s.pool, key)
}

func (s *postgresStore) load(ctx context.Context, q pgQuerier, key giveaway.Key) (giveaway.Giveaway, error) {
	g, err := scanPostgres(q.QueryRow(ctx,
		`SELECT `+pgColumns+` FROM `+s.giveaways()+` WHERE community_id = $1 AND ref_key = $2`,
		key.CommunityID, EscapeKey(key.Reference),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return giveaway.Giveaway{}, giveaway.ErrNotFound
	}
	if err != nil {
		return giveaway.Giveaway{}, fmt.Errorf("postgres get: %w", err)
	}
	rows, err := q.Query(ctx,
		`SELECT user_id FROM `+s.entries()+` WHERE community_id = $1 AND ref_key = $2 ORDER BY seq`,
		key.CommunityID, EscapeKey(key.Reference),
	)
	if err != nil {
		return giveaway.Giveaway{}, fmt.Errorf("postgres entries: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return giveaway.Giveaway{}, fmt.Errorf("postgres entries: %w", err)
	}
	g.Entries = append([]string{}, users...)
	return g, nil
}

func (s *postgresStore) ListActive(ctx context.Context) ([]giveaway.Giveaway, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgColumns+` FROM `+s.giveaways()+` WHERE state = 'active' ORDER BY expires_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres list active: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (giveaway.Giveaway, error) {
		return scanPostgres(r)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres list active: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	erows, err := s.pool.Query(ctx,
		`SELECT e.community_id, e.ref_key, e.user_id FROM `+s.entries()+` e
		 JOIN `+s.giveaways()+` g ON g.community_id = e.community_id AND g.ref_key = e.ref_key
		 WHERE g.state = 'active' ORDER BY e.seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres list entries: %w", err)
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

func (s *postgresStore) mutateEntry(ctx context.Context, key giveaway.Key, noop error, stmt string, userID string) (int, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return 0, fmt.Errorf("postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ref := EscapeKey(key.Reference)
	var state string
	err = tx.QueryRow(ctx,
		`SELECT state FROM `+s.giveaways()+` WHERE community_id = $1 AND ref_key = $2 FOR SHARE`,
		key.CommunityID, ref,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, giveaway.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres lock: %w", err)
	}
	if giveaway.State(state) != giveaway.StateActive {
		return 0, giveaway.ErrNotActive
	}

	ct, err := tx.Exec(ctx, stmt, key.CommunityID, ref, userID)
	if err != nil {
		return 0, fmt.Errorf("postgres entry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return 0, noop
	}
	var n int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM `+s.entries()+` WHERE community_id = $1 AND ref_key = $2`,
		key.CommunityID, ref,
	).Scan(&n); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres commit: %w", err)
	}
	return n, nil
}

func (s *postgresStore) AddEntry(ctx context.Context, key giveaway.Key, userID string) (int, error) {
	return s.mutateEntry(ctx, key, giveaway.ErrAlreadyEntered,
		`INSERT INTO `+s.entries()+` (community_id, ref_key, user_id) VALUES ($1, $2, $3)
		 ON CONFLICT (community_id, ref_key, user_id) DO NOTHING`, userID)
}

func (s *postgresStore) RemoveEntry(ctx context.Context, key giveaway.Key, userID string) (int, error) {
	return s.mutateEntry(ctx, key, giveaway.ErrNotEntered,
		`DELETE FROM `+s.entries()+` WHERE community_id = $1 AND ref_key = $2 AND user_id = $3`, userID)
}

func (s *postgresStore) End(ctx context.Context, key giveaway.Key, at time.Time) (giveaway.Giveaway, bool, error) {
	if err := checkKey(key); err != nil {
		return giveaway.Giveaway{}, false, err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return giveaway.Giveaway{}, false, fmt.Errorf("postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx,
		`UPDATE `+s.giveaways()+` SET state = 'ended', ended_at = $1
		 WHERE community_id = $2 AND ref_key = $3 AND state = 'active'`,
		at, key.CommunityID, EscapeKey(key.Reference),
	)
	if err != nil {
		return giveaway.Giveaway{}, false, fmt.Errorf("postgres end: %w", err)
	}
	g, err := s.load(ctx, tx, key)
	if err != nil {
		return giveaway.Giveaway{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return giveaway.Giveaway{}, false, fmt.Errorf("postgres commit: %w", err)
	}
	return g, ct.RowsAffected() == 1, nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.audit()+` (at, actor_id, actor_username, chat_id, component, action, target, ok, err, took_ms, meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.At, e.ActorID, e.ActorUsername, e.ChatID, e.Component, e.Action, e.Target,
		e.OK, e.Error, e.TookMS, e.MetaJSON,
	)
	return err
}
