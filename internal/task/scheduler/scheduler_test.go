package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/giveaway"
	"giveawaybot/internal/task/engine"
	logx "giveawaybot/pkg/logx"
)

// fakeGiveaways is an in-memory store and terminator with the same
// compare-and-set rule as the real store.
type fakeGiveaways struct {
	mu     sync.Mutex
	active map[giveaway.Key]time.Time

	terminates atomic.Int32
	applied    atomic.Int32
	redelivers atomic.Int32

	// announceFailures makes the first n announcements fail.
	announceFailures atomic.Int32
	// infraErr, if set, is returned by every Terminate.
	infraErr error

	ended chan giveaway.Key
}

func newFake() *fakeGiveaways {
	return &fakeGiveaways{active: map[giveaway.Key]time.Time{}, ended: make(chan giveaway.Key, 16)}
}

func (f *fakeGiveaways) add(key giveaway.Key, at time.Time) {
	f.mu.Lock()
	f.active[key] = at
	f.mu.Unlock()
}

func (f *fakeGiveaways) ListActive(context.Context) ([]giveaway.Giveaway, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]giveaway.Giveaway, 0, len(f.active))
	for k, at := range f.active {
		out = append(out, giveaway.Giveaway{CommunityID: k.CommunityID, Reference: k.Reference, State: giveaway.StateActive, ExpiresAt: at})
	}
	return out, nil
}

func (f *fakeGiveaways) Terminate(ctx context.Context, key giveaway.Key) (*giveaway.Outcome, error) {
	f.terminates.Add(1)
	if f.infraErr != nil {
		return nil, f.infraErr
	}
	f.mu.Lock()
	_, ok := f.active[key]
	delete(f.active, key)
	f.mu.Unlock()
	if !ok {
		return nil, nil
	}
	f.applied.Add(1)
	out := &giveaway.Outcome{Giveaway: giveaway.Giveaway{CommunityID: key.CommunityID, Reference: key.Reference, State: giveaway.StateEnded}}
	if err := f.announce(); err != nil {
		return out, &giveaway.AnnounceError{Key: key, Err: err}
	}
	f.ended <- key
	return out, nil
}

func (f *fakeGiveaways) Redeliver(ctx context.Context, out giveaway.Outcome) error {
	f.redelivers.Add(1)
	if err := f.announce(); err != nil {
		return &giveaway.AnnounceError{Key: out.Giveaway.Key(), Err: err}
	}
	f.ended <- out.Giveaway.Key()
	return nil
}

func (f *fakeGiveaways) announce() error {
	for {
		n := f.announceFailures.Load()
		if n <= 0 {
			return nil
		}
		if f.announceFailures.CompareAndSwap(n, n-1) {
			return errors.New("telegram: 502")
		}
	}
}

type harness struct {
	sched *Service
	eng   *engine.Service
	fake  *fakeGiveaways
}

// newHarness starts an engine and scheduler; the returned stop func must run
// before goleak checks.
func newHarness(t *testing.T, cfg Config, retryMax int) (*harness, func()) {
	t.Helper()
	bus := eventbus.New()
	eng := engine.New(engine.Config{
		Workers:       2,
		RetryMax:      retryMax,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}, logx.Nop(), bus)
	eng.Start(context.Background())

	fake := newFake()
	sched := New(cfg, eng, fake, logx.Nop(), bus)
	sched.SetTerminator(fake)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return &harness{sched: sched, eng: eng, fake: fake}, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Stop(ctx)
		eng.Stop(ctx)
	}
}

func expectEnded(t *testing.T, ch <-chan giveaway.Key, want giveaway.Key) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("ended %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("giveaway %v never ended", want)
	}
}

func expectQuiet(t *testing.T, ch <-chan giveaway.Key, d time.Duration) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected extra end for %v", got)
	case <-time.After(d):
	}
}

var testKey = giveaway.Key{CommunityID: "-1001", Reference: "https://t.me/c/1/5"}

func TestRegisterPastExpiryFiresImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, stop := newHarness(t, Config{SafetyMargin: 3 * time.Second}, 3)
	defer stop()

	h.fake.add(testKey, time.Now().Add(-time.Minute))
	h.sched.Register(testKey, time.Now().Add(-time.Minute))
	expectEnded(t, h.fake.ended, testKey)
	if h.sched.Armed() != 0 {
		t.Fatalf("armed = %d, want 0", h.sched.Armed())
	}
}

func TestRegisterWithinSafetyMarginFiresImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, stop := newHarness(t, Config{SafetyMargin: 3 * time.Second}, 3)
	defer stop()

	at := time.Now().Add(2 * time.Second)
	h.fake.add(testKey, at)
	start := time.Now()
	h.sched.Register(testKey, at)
	expectEnded(t, h.fake.ended, testKey)
	if waited := time.Since(start); waited > time.Second {
		t.Fatalf("waited %v; want an immediate fire", waited)
	}
}

func TestRegisterArmsTimer(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, stop := newHarness(t, Config{SafetyMargin: 10 * time.Millisecond}, 3)
	defer stop()

	at := time.Now().Add(150 * time.Millisecond)
	h.fake.add(testKey, at)
	h.sched.Register(testKey, at)
	if h.sched.Armed() != 1 {
		t.Fatalf("armed = %d, want 1", h.sched.Armed())
	}
	if snap := h.sched.Snapshot(); !snap.NextFire.Equal(at) {
		t.Fatalf("next fire = %v, want %v", snap.NextFire, at)
	}
	expectEnded(t, h.fake.ended, testKey)
	if time.Now().Before(at) {
		t.Fatal("fired before expiry")
	}
	if h.sched.Armed() != 0 {
		t.Fatalf("armed = %d after fire", h.sched.Armed())
	}
}

func TestRegisterReplacesTimer(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, stop := newHarness(t, Config{SafetyMargin: 10 * time.Millisecond}, 3)
	defer stop()

	h.fake.add(testKey, time.Now().Add(time.Hour))
	h.sched.Register(testKey, time.Now().Add(time.Hour))
	h.sched.Register(testKey, time.Now().Add(50*time.Millisecond))
	if h.sched.Armed() != 1 {
		t.Fatalf("armed = %d, want 1", h.sched.Armed())
	}
	expectEnded(t, h.fake.ended, testKey)
	expectQuiet(t, h.fake.ended, 100*time.Millisecond)
	if n := h.fake.applied.Load(); n != 1 {
		t.Fatalf("applied = %d, want 1", n)
	}
}

// A restart finds a giveaway whose expiry passed while the bot was down.
func TestRecoverAllEndsOverdueOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, stop := newHarness(t, Config{SafetyMargin: 3 * time.Second}, 3)
	defer stop()

	future := giveaway.Key{CommunityID: "-1001", Reference: "later"}
	h.fake.add(testKey, time.Now().Add(-10*time.Minute))
	h.fake.add(future, time.Now().Add(time.Hour))

	n, err := h.sched.RecoverAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("recovered %d, want 2", n)
	}
	// A duplicate recovery must not cause a second draw.
	if _, err := h.sched.RecoverAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	expectEnded(t, h.fake.ended, testKey)
	expectQuiet(t, h.fake.ended, 100*time.Millisecond)
	if got := h.fake.applied.Load(); got != 1 {
		t.Fatalf("applied = %d, want 1", got)
	}
	if h.sched.Armed() != 1 {
		t.Fatalf("armed = %d, want 1 for the future giveaway", h.sched.Armed())
	}
}

func TestAnnounceFailureRetriesDeliveryOnly(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, stop := newHarness(t, Config{}, 5)
	defer stop()

	h.fake.announceFailures.Store(2)
	h.fake.add(testKey, time.Now())
	h.sched.Register(testKey, time.Now())

	expectEnded(t, h.fake.ended, testKey)
	if got := h.fake.terminates.Load(); got != 1 {
		t.Fatalf("terminate calls = %d, want 1", got)
	}
	if got := h.fake.redelivers.Load(); got != 2 {
		t.Fatalf("redeliver calls = %d, want 2", got)
	}
}

func TestDeadLetterAfterExhaustedRetries(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, stop := newHarness(t, Config{}, 2)
	defer stop()

	type dead struct {
		key      giveaway.Key
		out      *giveaway.Outcome
		attempts int
	}
	got := make(chan dead, 1)
	h.sched.SetDeadLetter(func(key giveaway.Key, out *giveaway.Outcome, err error, attempts int) {
		got <- dead{key, out, attempts}
	})
	h.fake.infraErr = errors.New("store unreachable")
	h.sched.Register(testKey, time.Now())

	select {
	case d := <-got:
		if d.key != testKey || d.out != nil || d.attempts != 3 {
			t.Fatalf("dead letter = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dead letter not called")
	}
}

func TestSweepFiresOverdueAndArmsMissing(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, stop := newHarness(t, Config{SafetyMargin: 10 * time.Millisecond}, 3)
	defer stop()

	other := giveaway.Key{CommunityID: "-1002", Reference: "from-another-process"}
	h.fake.add(testKey, time.Now().Add(-time.Second))
	h.fake.add(other, time.Now().Add(time.Hour))

	n, err := h.sched.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("sweep touched %d, want 2", n)
	}
	expectEnded(t, h.fake.ended, testKey)
	if h.sched.Armed() != 1 {
		t.Fatalf("armed = %d, want 1", h.sched.Armed())
	}

	// Nothing left to do on a second pass.
	n, err = h.sched.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v", n, err)
	}
}

func TestStopDisarmsAndIgnoresRegister(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, stop := newHarness(t, Config{}, 3)
	defer stop()

	h.sched.Register(testKey, time.Now().Add(time.Hour))
	h.sched.Stop(context.Background())
	if h.sched.Armed() != 0 {
		t.Fatalf("armed = %d after stop", h.sched.Armed())
	}
	h.sched.Register(testKey, time.Now().Add(time.Hour))
	if h.sched.Armed() != 0 {
		t.Fatal("register after stop armed a timer")
	}
}

func TestSweepSpec(t *testing.T) {
	s := New(Config{}, nil, nil, logx.Nop(), nil)
	s.loc = time.UTC
	for _, ok := range []string{"@every 1m", "90s", "*/2 * * * *", "@hourly", "0 */5 * * * *"} {
		if _, err := s.sweepSchedule(ok); err != nil {
			t.Fatalf("sweepSchedule(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"@every soon", "10ms", "whenever", "* * *"} {
		if _, err := s.sweepSchedule(bad); err == nil {
			t.Fatalf("sweepSchedule(%q) accepted", bad)
		}
	}
}

func TestStartRejectsBadSweep(t *testing.T) {
	s := New(Config{Sweep: "@every nope"}, nil, nil, logx.Nop(), nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("bad sweep accepted")
	}
}
