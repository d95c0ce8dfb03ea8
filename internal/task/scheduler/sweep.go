package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"giveawaybot/internal/task/engine"
	logx "giveawaybot/pkg/logx"
)

const sweepTaskName = "giveaway.sweep"

// sweepSchedule accepts a cron spec ("*/2 * * * *", "@every 1m",
// "@hourly") or a bare Go duration ("90s"). Interval sweeps get a random
// first-run offset so several bots sharing a store do not sweep in lockstep.
func (s *Service) sweepSchedule(spec string) (cron.Schedule, error) {
	every := time.Duration(0)
	switch {
	case strings.HasPrefix(spec, "@every"):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
		if err != nil {
			return nil, fmt.Errorf("scheduler.sweep: %w", err)
		}
		every = d
	case !strings.ContainsAny(spec, " \t@"):
		d, err := time.ParseDuration(spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler.sweep %q: use a cron spec or a duration like 1m", spec)
		}
		every = d
	}
	if every != 0 {
		if every < time.Second {
			return nil, fmt.Errorf("scheduler.sweep: interval %s is below 1s", every)
		}
		sched, _ := makeIntervalScheduleWithSpread(every, time.Now().In(s.loc), sweepTaskName)
		return sched, nil
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler.sweep: %w", err)
	}
	return sched, nil
}

func (s *Service) enqueueSweep() {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name: sweepTaskName,
		Opt:  engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: -1},
		Run: func(ctx context.Context) error {
			_, err := s.Sweep(ctx)
			return err
		},
	})
	if err != nil {
		s.reportEnqueueError(sweepTaskName, err)
	}
}

// Sweep ends overdue active giveaways and arms any active giveaway without a
// timer. It returns how many giveaways it fired or armed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	list, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: list active: %w", err)
	}
	now := s.now()
	touched := 0
	for _, g := range list {
		key := g.Key()
		switch {
		case !g.ExpiresAt.After(now):
			s.fire(key)
			touched++
		case !s.isArmed(key):
			s.Register(key, g.ExpiresAt)
			touched++
		}
	}
	if touched > 0 {
		s.log.Info("sweep picked up giveaways", logx.Int("count", touched), logx.Int("active", len(list)))
	}
	return touched, nil
}
