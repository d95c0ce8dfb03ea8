package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/giveaway"
	"giveawaybot/internal/task/engine"
	logx "giveawaybot/pkg/logx"
)

func New(cfg Config, eng *engine.Service, store ActiveLister, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = 0
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		engine: eng,
		store:  store,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers:      map[giveaway.Key]*armed{},
		lastEnqWarn: map[string]time.Time{},
		now:         time.Now,
	}
}

// SetTerminator wires the giveaway service. Timers that fire before this is
// set are logged and left for the sweep.
func (s *Service) SetTerminator(t Terminator) {
	s.mu.Lock()
	s.term = t
	s.mu.Unlock()
}

func (s *Service) SetDeadLetter(fn DeadLetterFunc) {
	s.mu.Lock()
	s.dead = fn
	s.mu.Unlock()
}

// Start starts the overdue sweep. Timers work without Start; RecoverAll may
// run before or after it.
func (s *Service) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.stopped = false
	s.loc = s.loadLocationLocked()
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	if spec := strings.TrimSpace(s.cfg.Sweep); spec != "" {
		sched, err := s.sweepSchedule(spec)
		if err != nil {
			return err
		}
		s.sweepID = c.Schedule(sched, cron.FuncJob(s.enqueueSweep))
	}
	s.c = c
	c.Start()
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.String("sweep", s.cfg.Sweep),
		logx.Duration("safety_margin", s.cfg.SafetyMargin),
	)
	return nil
}

// Stop stops the sweep and every armed timer. Armed giveaways stay active in
// the store and are re-armed by the next RecoverAll.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.sweepID = 0
	s.stopped = true
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	n := len(s.timers)
	for _, a := range s.timers {
		a.timer.Stop()
	}
	clear(s.timers)
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Int("disarmed", n))
}

// Armed returns how many giveaways have a pending timer.
func (s *Service) Armed() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.timers)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	c := s.c
	id := s.sweepID
	loc := s.loc
	sweep := s.cfg.Sweep
	eng := s.engine
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	snap := Snapshot{Timezone: loc.String(), Sweep: sweep}
	if c != nil && id != 0 {
		e := c.Entry(id)
		snap.NextSweep, snap.PrevSweep = e.Next, e.Prev
	}

	s.tmu.Lock()
	snap.Armed = len(s.timers)
	for _, a := range s.timers {
		if snap.NextFire.IsZero() || a.at.Before(snap.NextFire) {
			snap.NextFire = a.at
		}
	}
	s.tmu.Unlock()

	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) terminator() (Terminator, DeadLetterFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.dead
}

func (s *Service) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func endTaskName(key giveaway.Key) string { return "giveaway.end:" + key.String() }
