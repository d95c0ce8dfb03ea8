package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/giveaway"
	"giveawaybot/internal/task/engine"
	logx "giveawaybot/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	// SafetyMargin: a giveaway expiring within this window of now is ended
	// right away instead of arming a timer.
	SafetyMargin time.Duration

	// Sweep is a cron spec ("*/2 * * * *", "@every 1m") or Go duration for the
	// overdue sweep. Empty disables it.
	Sweep string

	Timezone string

	// EndTimeout bounds one termination attempt; 0 uses the engine default.
	EndTimeout time.Duration
}

// Terminator ends giveaways. *giveaway.Service implements it.
type Terminator interface {
	Terminate(ctx context.Context, key giveaway.Key) (*giveaway.Outcome, error)
	Redeliver(ctx context.Context, out giveaway.Outcome) error
}

// ActiveLister is the slice of the store the scheduler reads.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]giveaway.Giveaway, error)
}

// DeadLetterFunc is called when a termination exhausts its retries. out is
// non-nil when the giveaway did end but the announcement never went out.
type DeadLetterFunc func(key giveaway.Key, out *giveaway.Outcome, err error, attempts int)

type armed struct {
	timer *time.Timer
	at    time.Time
	ver   uint64
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	engine  *engine.Service
	store   ActiveLister
	term    Terminator
	dead    DeadLetterFunc
	parser  cron.Parser
	c       *cron.Cron
	loc     *time.Location
	sweepID cron.EntryID
	stopped bool

	// Enqueue error throttling, keyed by task name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	tmu    sync.Mutex
	timers map[giveaway.Key]*armed
	ver    uint64

	now func() time.Time
}

// Snapshot is a diagnostic view served on /healthz.
type Snapshot struct {
	Timezone  string          `json:"timezone"`
	Armed     int             `json:"armed"`
	NextFire  time.Time       `json:"next_fire,omitempty"`
	Sweep     string          `json:"sweep,omitempty"`
	NextSweep time.Time       `json:"next_sweep,omitempty"`
	PrevSweep time.Time       `json:"prev_sweep,omitempty"`
	Engine    engine.Snapshot `json:"engine"`
}
