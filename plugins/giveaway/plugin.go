// Package giveaway is the chat surface of the giveaway engine: the
// /giveaway commands, the Enter and Leave buttons, and the announcer that
// edits and replies to the giveaway post.
package giveaway

import (
	"context"
	"sync"
	"time"

	gw "giveawaybot/internal/giveaway"
	"giveawaybot/internal/storage"
	kit "giveawaybot/internal/transport"
	logx "giveawaybot/pkg/logx"
)

const callbackScope = "gw"

type Config struct {
	MaxWinners  int
	MaxDuration time.Duration
	// ButtonRate is presses per second per user; ButtonBurst the bucket size.
	ButtonRate  float64
	ButtonBurst int
	// Location renders expiry times.
	Location *time.Location
}

// Auditor is the slice of the store that records operator actions.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	Service *gw.Service
	Adapter kit.Adapter
	Audit   Auditor
	Logger  logx.Logger
}

type Plugin struct {
	svc   *gw.Service
	ad    kit.Adapter
	audit Auditor
	log   logx.Logger

	mu  sync.RWMutex
	cfg Config

	throttle *throttle
	names    *nameCache
	posts    *postLocks

	now func() time.Time
}

func New(cfg Config, deps Deps) *Plugin {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = withDefaults(cfg)
	return &Plugin{
		svc:      deps.Service,
		ad:       deps.Adapter,
		audit:    deps.Audit,
		log:      log.With(logx.String("plugin", "giveaway")),
		cfg:      cfg,
		throttle: newThrottle(cfg.ButtonRate, cfg.ButtonBurst),
		names:    newNameCache(4096),
		posts:    newPostLocks(),
		now:      time.Now,
	}
}

func (p *Plugin) Name() string { return "giveaway" }

func withDefaults(cfg Config) Config {
	if cfg.MaxWinners <= 0 {
		cfg.MaxWinners = 50
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 90 * 24 * time.Hour
	}
	if cfg.ButtonRate <= 0 {
		cfg.ButtonRate = 1
	}
	if cfg.ButtonBurst <= 0 {
		cfg.ButtonBurst = 3
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return cfg
}

// Reconfigure applies new guard rails on hot reload.
func (p *Plugin) Reconfigure(cfg Config) {
	cfg = withDefaults(cfg)
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	p.throttle.setLimit(cfg.ButtonRate, cfg.ButtonBurst)
}

func (p *Plugin) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Plugin) record(ctx context.Context, e storage.AuditEntry) {
	if p.audit == nil {
		return
	}
	if e.At.IsZero() {
		e.At = p.now()
	}
	e.Component = "giveaway"
	if err := p.audit.AppendAudit(ctx, e); err != nil {
		p.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
