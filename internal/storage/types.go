package storage

import (
	"context"
	"errors"
	"time"

	"giveawaybot/internal/giveaway"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": a local SQLite file (default)
//   - "redis": a shared Redis server; atomicity comes from Lua scripts
//   - "postgres": a shared PostgreSQL database via pgx
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s

	Redis    RedisConfig
	Postgres PostgresConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key namespace, default "giveawaybot"
}

type PostgresConfig struct {
	DSN      string
	Schema   string
	MaxConns int32
}

// Store is the giveaway store plus the operator audit log.
type Store interface {
	giveaway.Store
	AppendAudit(ctx context.Context, e AuditEntry) error
	Ping(ctx context.Context) error
}

// AuditEntry records an operator action or a delivery failure.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	Component     string
	Action        string
	Target        string
	OK            bool
	Error         string
	TookMS        int64
	MetaJSON      string
}
