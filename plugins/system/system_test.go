package system

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	rtsup "giveawaybot/internal/runtime/supervisor"
	"giveawaybot/internal/task/engine"
	"giveawaybot/internal/task/scheduler"
	kit "giveawaybot/internal/transport"
	"giveawaybot/internal/transport/fake"
	"giveawaybot/internal/transport/telegram/router"
	logx "giveawaybot/pkg/logx"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func snapshot(running bool) func() scheduler.Snapshot {
	return func() scheduler.Snapshot {
		return scheduler.Snapshot{
			Timezone: "UTC",
			Armed:    2,
			NextFire: time.Now().Add(time.Hour),
			Engine:   engine.Snapshot{Running: running, Workers: 4, QueueCap: 256},
		}
	}
}

func TestReportHealthy(t *testing.T) {
	sups := router.NewSupervisorRegistry()
	sup := rtsup.New(context.Background())
	defer sup.Cancel()
	sups.Set("router", sup)

	p := New(Deps{Scheduler: snapshot(true), Supervisors: sups, Store: pinger{}, StartedAt: time.Now().Add(-90 * time.Second)})
	r, err := p.Report(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", r.Status)
	require.Equal(t, "ok", r.Storage)
	require.Equal(t, "1m30s", r.Uptime)
	require.NotNil(t, r.Scheduler)
	require.Equal(t, 2, r.Scheduler.Armed)
	require.Contains(t, r.Supervisors, "router")
	require.Positive(t, r.Goroutines)
}

func TestReportDegraded(t *testing.T) {
	p := New(Deps{Scheduler: snapshot(false), Store: pinger{err: errors.New("disk gone")}})
	r, err := p.Report(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, errEngineStopped)
	require.Equal(t, "degraded", r.Status)
	require.Equal(t, "disk gone", r.Storage)
}

func TestRenderReport(t *testing.T) {
	p := New(Deps{Scheduler: snapshot(true), Store: pinger{}})
	r, err := p.Report(context.Background())
	require.NoError(t, err)

	out := renderReport(r, time.Now()).String()
	require.Contains(t, out, "Bot Health")
	require.Contains(t, out, "Armed: 2 (UTC)")
	require.Contains(t, out, "queue 0/256")
	require.NotContains(t, out, "Supervisors")
}

func TestDurRel(t *testing.T) {
	cases := map[time.Duration]string{
		42 * time.Second:               "42s",
		5*time.Minute + 3*time.Second:  "5m3s",
		26*time.Hour + 15*time.Minute:  "26h15m",
		3*24*time.Hour + 5*time.Hour:   "3d5h",
		-(2*time.Minute + time.Second): "2m1s",
	}
	for d, want := range cases {
		require.Equal(t, want, durRel(d), d.String())
	}
}

func TestCommands(t *testing.T) {
	const owner int64 = 7
	ctx, cancel := context.WithCancel(context.Background())
	ad := fake.New()
	p := New(Deps{Scheduler: snapshot(true), Store: pinger{}})
	r := router.New(router.Config{Owners: []int64{owner}, Workers: 1}, ad, logx.Nop(), router.NewSupervisorRegistry())
	r.SetRegistry(ctx, p.Commands(), nil)

	updates := make(chan kit.Update, 4)
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, updates)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	send := func(from int64, text string) {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: from, FromID: from, Text: text}}
	}
	waitText := func(n int) string {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for len(ad.Sent()) < n {
			select {
			case <-ad.Activity():
			case <-deadline:
				t.Fatal("no reply")
			}
		}
		return ad.Sent()[n-1].Text
	}

	send(99, "/ping")
	require.Equal(t, "pong", waitText(1))

	send(99, "/health")
	require.True(t, strings.Contains(waitText(2), "not allowed"))

	send(owner, "/health")
	require.Contains(t, waitText(3), "Bot Health")
}
