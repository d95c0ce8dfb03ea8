package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"giveawaybot/internal/config"
	"giveawaybot/internal/observability/httpserver"
	"giveawaybot/internal/transport/fake"
	"giveawaybot/internal/transport/telegram/router"
	logx "giveawaybot/pkg/logx"
	gwplugin "giveawaybot/plugins/giveaway"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "123:abc", OwnerUserIDs: []int64{1}, LogChatID: -100},
		Logging:  config.LoggingConfig{Level: "error"},
	}
}

func TestMapDefaults(t *testing.T) {
	cfg := baseConfig()
	cfg.Scheduler.Timezone = "UTC"
	rt, err := config.Resolve(cfg)
	require.NoError(t, err)

	sc := mapStorageConfig(cfg, rt)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, config.DefaultStoragePath, sc.Path)

	sched := mapSchedulerConfig(rt)
	require.Equal(t, "UTC", sched.Timezone)
	require.Equal(t, config.DefaultSweep, sched.Sweep)
	require.Equal(t, config.DefaultSafetyMargin, sched.SafetyMargin)

	eng := mapEngineConfig(rt)
	require.Equal(t, 2, eng.Workers)
	require.Equal(t, 5, eng.RetryMax)

	gc := mapGiveawayConfig(rt)
	require.Equal(t, 50, gc.MaxWinners)
	require.Equal(t, 90*24*time.Hour, gc.MaxDuration)
	require.Equal(t, time.UTC, gc.Location)

	lc := mapLogConfig(cfg)
	require.Equal(t, int64(-100), lc.Telegram.ChatID)

	hc := mapHTTPConfig(cfg, rt)
	require.False(t, hc.Enabled)
	require.Equal(t, config.DefaultHTTPAddr, hc.Addr)
}

func TestMapStorageDrivers(t *testing.T) {
	cfg := baseConfig()
	cfg.Storage = config.StorageConfig{
		Driver:   "Postgres",
		Postgres: config.PostgresConfig{DSN: "postgres://localhost/g", Schema: "gw", MaxConns: 4},
	}
	rt, err := config.Resolve(cfg)
	require.NoError(t, err)
	sc := mapStorageConfig(cfg, rt)
	require.Equal(t, "postgres", sc.Driver)
	require.Equal(t, "gw", sc.Postgres.Schema)
	require.Equal(t, int32(4), sc.Postgres.MaxConns)
}

func testApp(t *testing.T) *App {
	t.Helper()
	logs, log := logx.New(logx.Config{Level: "error"}, nil)
	t.Cleanup(func() { _ = logs.Close() })
	ad := fake.New()
	sups := router.NewSupervisorRegistry()
	return &App{
		log:      log,
		logs:     logs,
		sups:     sups,
		router:   router.New(router.Config{}, ad, log, sups),
		gwPlugin: gwplugin.New(gwplugin.Config{}, gwplugin.Deps{Adapter: ad}),
		http:     httpserver.New(httpserver.Config{}, prometheus.NewRegistry(), nil, log),
	}
}

func TestApplyConfigTogglesHTTP(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	defer a.http.Stop(ctx)

	off := baseConfig()
	on := baseConfig()
	on.HTTP = config.HTTPConfig{Enabled: true, Addr: "127.0.0.1:0"}

	a.applyConfig(ctx, off, on)
	require.Contains(t, a.sups.Names(), "http")

	a.applyConfig(ctx, on, off)
	require.NotContains(t, a.sups.Names(), "http")
}

func TestApplyConfigIgnoresUnresolvable(t *testing.T) {
	a := testApp(t)
	bad := baseConfig()
	bad.HTTP = config.HTTPConfig{Enabled: true, Addr: "127.0.0.1:0", ReadTimeout: "soon"}

	a.applyConfig(context.Background(), baseConfig(), bad)
	require.NotContains(t, a.sups.Names(), "http")
}
