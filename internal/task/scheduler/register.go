package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giveawaybot/internal/giveaway"
	"giveawaybot/internal/task/engine"
	logx "giveawaybot/pkg/logx"
)

// Register arranges for key to be terminated at expiresAt. An expiry at or
// before now+SafetyMargin fires immediately. Registering a key again replaces
// its timer.
func (s *Service) Register(key giveaway.Key, expiresAt time.Time) {
	if s.isStopped() {
		s.log.Debug("register ignored; scheduler stopped", logx.String("key", key.String()))
		return
	}
	now := s.now()
	if !expiresAt.After(now.Add(s.cfg.SafetyMargin)) {
		s.disarm(key)
		s.log.Debug("giveaway due; ending now", logx.String("key", key.String()), logx.Time("expires_at", expiresAt))
		s.fire(key)
		return
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	// A bumped version makes a replaced timer that already started firing
	// drop out.
	s.ver++
	ver := s.ver
	a := &armed{at: expiresAt, ver: ver}
	a.timer = time.AfterFunc(expiresAt.Sub(now), func() {
		s.tmu.Lock()
		cur, ok := s.timers[key]
		if !ok || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, key)
		s.tmu.Unlock()
		s.fire(key)
	})
	s.timers[key] = a
	s.log.Debug("giveaway armed", logx.String("key", key.String()), logx.Time("at", expiresAt))
}

func (s *Service) disarm(key giveaway.Key) {
	s.tmu.Lock()
	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
		delete(s.timers, key)
	}
	s.tmu.Unlock()
}

func (s *Service) isArmed(key giveaway.Key) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// RecoverAll registers every active giveaway in the store. Call it once at
// startup before accepting new giveaways; overdue ones end immediately.
func (s *Service) RecoverAll(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, errors.New("scheduler: no store")
	}
	list, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: list active: %w", err)
	}
	overdue := 0
	now := s.now()
	for _, g := range list {
		if !g.ExpiresAt.After(now) {
			overdue++
		}
		s.Register(g.Key(), g.ExpiresAt)
	}
	s.log.Info("recovered active giveaways", logx.Int("active", len(list)), logx.Int("overdue", overdue))
	return len(list), nil
}

// fire hands the termination of key to the task engine.
func (s *Service) fire(key giveaway.Key) {
	if s.engine == nil {
		s.log.Error("no task engine; cannot end giveaway", logx.String("key", key.String()))
		return
	}
	job := &endJob{key: key}
	name := endTaskName(key)
	err := s.engine.Enqueue(engine.Task{
		Name:    name,
		Timeout: s.cfg.EndTimeout,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		Run:     func(ctx context.Context) error { return s.runEnd(ctx, job) },
		GiveUp:  func(err error, attempts int) { s.giveUp(job, err, attempts) },
	})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

// endJob is the state of one end task across its attempts. Attempts and the
// give-up hook run sequentially on one worker, so it needs no lock.
type endJob struct {
	key giveaway.Key
	// pending is set once an attempt applied the transition but could not
	// announce it; later attempts only redeliver.
	pending *giveaway.Outcome
}

func (s *Service) runEnd(ctx context.Context, job *endJob) error {
	term, _ := s.terminator()
	if term == nil {
		return engine.NoRetry(errors.New("no terminator wired"))
	}
	if job.pending != nil {
		return term.Redeliver(ctx, *job.pending)
	}
	out, err := term.Terminate(ctx, job.key)
	var aerr *giveaway.AnnounceError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &aerr) && out != nil:
		job.pending = out
		return err
	case errors.Is(err, giveaway.ErrNotFound):
		return engine.NoRetry(err)
	default:
		return err
	}
}

func (s *Service) giveUp(job *endJob, err error, attempts int) {
	if job.pending == nil && (errors.Is(err, engine.ErrStopping) || errors.Is(err, context.Canceled)) {
		// Shutdown, not failure: the giveaway is still active and RecoverAll
		// picks it up on the next start.
		return
	}
	s.log.Error("giveaway termination gave up",
		logx.String("key", job.key.String()),
		logx.Int("attempts", attempts),
		logx.Bool("ended", job.pending != nil),
		logx.Err(err),
	)
	if _, dead := s.terminator(); dead != nil {
		dead(job.key, job.pending, err, attempts)
	}
}
