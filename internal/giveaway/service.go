package giveaway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"giveawaybot/internal/eventbus"
	logx "giveawaybot/pkg/logx"
)

// EntryRejection is the event payload for a refused Enter or Leave.
type EntryRejection struct {
	Key    Key
	UserID string
	Op     string // "enter" | "leave"
	Reason string
}

// Service owns the giveaway lifecycle: creation, the entry ledger, the
// terminal transition and rerolls. It keeps no authoritative state of its
// own; every decision is made by the store.
type Service struct {
	store Store
	log   logx.Logger
	bus   eventbus.Bus

	mu    sync.RWMutex
	sched Scheduler
	ann   Announcer

	now func() time.Time
}

func NewService(store Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store: store,
		log:   log.With(logx.String("comp", "giveaway")),
		bus:   bus,
		now:   time.Now,
	}
}

// SetScheduler wires the scheduler after construction; the scheduler in turn
// calls Terminate, so the two cannot be built in one step.
func (s *Service) SetScheduler(sc Scheduler) {
	s.mu.Lock()
	s.sched = sc
	s.mu.Unlock()
}

func (s *Service) SetAnnouncer(a Announcer) {
	s.mu.Lock()
	s.ann = a
	s.mu.Unlock()
}

func (s *Service) scheduler() Scheduler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sched
}

func (s *Service) announcer() Announcer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ann
}

func (s *Service) Store() Store { return s.store }

// Create persists a new active giveaway and registers its termination.
func (s *Service) Create(ctx context.Context, p CreateParams) (Giveaway, error) {
	if p.WinnerCount < 1 {
		return Giveaway{}, ErrInvalidWinnerCount
	}
	if strings.TrimSpace(p.CommunityID) == "" || strings.TrimSpace(p.Reference) == "" {
		return Giveaway{}, fmt.Errorf("%w: community and reference are required", ErrInvalidGiveaway)
	}
	if p.ExpiresAt.IsZero() {
		return Giveaway{}, fmt.Errorf("%w: expiry is required", ErrInvalidGiveaway)
	}

	g := Giveaway{
		CommunityID:  p.CommunityID,
		Reference:    p.Reference,
		State:        StateActive,
		ExpiresAt:    p.ExpiresAt,
		Prize:        p.Prize,
		WinnerCount:  p.WinnerCount,
		RequiredRole: p.RequiredRole,
		Message:      p.Message,
		CreatedBy:    p.CreatedBy,
		CreatedAt:    s.now(),
		Entries:      []string{},
	}
	if err := s.store.Create(ctx, g); err != nil {
		return Giveaway{}, err
	}

	s.log.Info("giveaway created",
		logx.String("key", g.Key().String()),
		logx.Time("expires_at", g.ExpiresAt),
		logx.Int("winners", g.WinnerCount),
	)
	eventbus.Publish(s.bus, eventbus.GiveawayCreated, g)

	if sc := s.scheduler(); sc != nil {
		sc.Register(g.Key(), g.ExpiresAt)
	} else {
		s.log.Warn("no scheduler wired; giveaway will end on next recovery", logx.String("key", g.Key().String()))
	}
	return g, nil
}

func (s *Service) Get(ctx context.Context, key Key) (Giveaway, error) {
	return s.store.Get(ctx, key)
}

// Enter adds userID to the giveaway. hasRole reports whether the user holds
// the giveaway's required role; it is ignored when no role is required.
//
// Errors are checked in order: ErrNotActive, ErrAlreadyEntered,
// ErrRoleRequired. The add itself is a single store operation that re-checks
// state and membership, so a concurrent End or duplicate click still fails
// cleanly. The returned record reflects the new entry count.
func (s *Service) Enter(ctx context.Context, key Key, userID string, hasRole bool) (Giveaway, error) {
	g, err := s.store.Get(ctx, key)
	if err != nil {
		return Giveaway{}, err
	}
	switch {
	case !g.Active():
		return g, s.reject(key, userID, "enter", ErrNotActive)
	case g.HasEntry(userID):
		return g, s.reject(key, userID, "enter", ErrAlreadyEntered)
	case g.RequiredRole != "" && !hasRole:
		return g, s.reject(key, userID, "enter", ErrRoleRequired)
	}

	if _, err := s.store.AddEntry(ctx, key, userID); err != nil {
		if IsUserError(err) {
			return g, s.reject(key, userID, "enter", err)
		}
		return Giveaway{}, fmt.Errorf("add entry: %w", err)
	}
	eventbus.Publish(s.bus, eventbus.GiveawayEntered, key)
	return s.refresh(ctx, key, g)
}

// Leave removes userID from the giveaway.
func (s *Service) Leave(ctx context.Context, key Key, userID string) (Giveaway, error) {
	g, err := s.store.Get(ctx, key)
	if err != nil {
		return Giveaway{}, err
	}
	switch {
	case !g.Active():
		return g, s.reject(key, userID, "leave", ErrNotActive)
	case !g.HasEntry(userID):
		return g, s.reject(key, userID, "leave", ErrNotEntered)
	}

	if _, err := s.store.RemoveEntry(ctx, key, userID); err != nil {
		if IsUserError(err) {
			return g, s.reject(key, userID, "leave", err)
		}
		return Giveaway{}, fmt.Errorf("remove entry: %w", err)
	}
	eventbus.Publish(s.bus, eventbus.GiveawayLeft, key)
	return s.refresh(ctx, key, g)
}

func (s *Service) refresh(ctx context.Context, key Key, fallback Giveaway) (Giveaway, error) {
	g, err := s.store.Get(ctx, key)
	if err != nil {
		// The mutation is committed; a stale display is the only loss.
		s.log.Warn("reload after entry change failed", logx.String("key", key.String()), logx.Err(err))
		return fallback, nil
	}
	return g, nil
}

func (s *Service) reject(key Key, userID, op string, err error) error {
	eventbus.Publish(s.bus, eventbus.GiveawayEntryRejected, EntryRejection{
		Key:    key,
		UserID: userID,
		Op:     op,
		Reason: reasonOf(err),
	})
	return err
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrAlreadyEntered):
		return "already_entered"
	case errors.Is(err, ErrNotEntered):
		return "not_entered"
	case errors.Is(err, ErrRoleRequired):
		return "role_required"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}

// Terminate ends the giveaway, draws winners and announces them.
//
// It returns (nil, nil) when the giveaway had already ended or another caller
// won the transition. When the transition applied but the announcement failed,
// it returns the outcome together with an *AnnounceError; the draw is final
// and only Redeliver may be retried.
func (s *Service) Terminate(ctx context.Context, key Key) (*Outcome, error) {
	g, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !g.Active() {
		s.log.Debug("terminate skipped; already ended", logx.String("key", key.String()))
		return nil, nil
	}

	now := s.now()
	ended, applied, err := s.store.End(ctx, key, now)
	if err != nil {
		return nil, fmt.Errorf("end giveaway: %w", err)
	}
	if !applied {
		s.log.Debug("terminate lost the race", logx.String("key", key.String()))
		return nil, nil
	}

	out := &Outcome{
		Giveaway: ended,
		Winners:  Select(ended.Entries, ended.WinnerCount),
		DrawnAt:  now,
	}
	s.log.Info("giveaway ended",
		logx.String("key", key.String()),
		logx.Int("entries", ended.EntryCount()),
		logx.Strings("winners", out.Winners),
	)
	eventbus.Publish(s.bus, eventbus.GiveawayEnded, *out)

	if err := s.Redeliver(ctx, *out); err != nil {
		return out, err
	}
	return out, nil
}

// Redeliver sends the end announcement for an outcome that has already been
// drawn. It never touches the store.
func (s *Service) Redeliver(ctx context.Context, out Outcome) error {
	a := s.announcer()
	if a == nil {
		return nil
	}
	if err := a.AnnounceEnded(ctx, out); err != nil {
		eventbus.Publish(s.bus, eventbus.GiveawayAnnounceFail, out.Giveaway.Key())
		return &AnnounceError{Key: out.Giveaway.Key(), Err: err}
	}
	return nil
}

// Reroll draws count fresh winners from the stored entries. count <= 0 means
// one winner. Unlike the end-of-giveaway draw, asking for more winners than
// there are entries is an error. Prior winners are eligible again.
func (s *Service) Reroll(ctx context.Context, key Key, count int) (Outcome, error) {
	if count <= 0 {
		count = 1
	}
	g, err := s.store.Get(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if count > g.EntryCount() {
		return Outcome{}, ErrInsufficientEntries
	}

	out := Outcome{
		Giveaway: g,
		Winners:  Select(g.Entries, count),
		Reroll:   true,
		DrawnAt:  s.now(),
	}
	s.log.Info("giveaway rerolled",
		logx.String("key", key.String()),
		logx.Int("count", count),
		logx.Strings("winners", out.Winners),
	)
	eventbus.Publish(s.bus, eventbus.GiveawayRerolled, out)

	if a := s.announcer(); a != nil {
		if err := a.AnnounceReroll(ctx, out); err != nil {
			eventbus.Publish(s.bus, eventbus.GiveawayAnnounceFail, key)
			return out, &AnnounceError{Key: key, Err: err}
		}
	}
	return out, nil
}
