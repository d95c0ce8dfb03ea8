package scheduler

import (
	"errors"
	"time"

	"giveawaybot/internal/task/engine"
	logx "giveawaybot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// A second trigger for a task that is queued or running is expected.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("trigger skipped; already pending", logx.String("task", name))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	// Keys are per giveaway; drop stale ones so the map does not grow.
	for k, at := range s.lastEnqWarn {
		if now.Sub(at) > time.Minute {
			delete(s.lastEnqWarn, k)
		}
	}
	s.enqMu.Unlock()

	// The sweep retries anything still active, so this is a warning.
	s.log.Warn("failed to enqueue task", logx.String("task", name), logx.Err(err))
}
