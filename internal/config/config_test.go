package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: "20s"
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/test.db
scheduler:
  safety_margin: "5s"
task_engine:
  workers: 4
giveaway:
  max_winners: 10
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	require.Same(t, cfg, m.Get())

	rt, err := Resolve(cfg)
	require.NoError(t, err)
	require.Equal(t, 20*time.Second, rt.PollTimeout)
	require.Equal(t, 5*time.Second, rt.SafetyMargin)
	require.Equal(t, DefaultSweep, rt.Sweep)
	require.Equal(t, 4, rt.EngineWorkers)
	require.Equal(t, 256, rt.EngineQueueSize)
	require.Equal(t, 10, rt.MaxWinners)
	require.NoError(t, Validate(cfg))
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"telegram":{"token":"x","bogus":1}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "bogus")
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestResolveDefaults(t *testing.T) {
	rt, err := Resolve(&Config{})
	require.NoError(t, err)
	require.Equal(t, "sqlite", rt.StorageDriver)
	require.Equal(t, DefaultSafetyMargin, rt.SafetyMargin)
	require.Equal(t, 5, rt.EngineRetryMax)
	require.Equal(t, DefaultHTTPAddr, rt.HTTPAddr)
}

func TestResolveSweepOff(t *testing.T) {
	rt, err := Resolve(&Config{Scheduler: SchedulerConfig{Sweep: "off"}})
	require.NoError(t, err)
	require.Empty(t, rt.Sweep)
}

func TestResolveBadDuration(t *testing.T) {
	_, err := Resolve(&Config{Scheduler: SchedulerConfig{SafetyMargin: "soon"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "scheduler.safety_margin")
}

func TestValidateCollectsErrors(t *testing.T) {
	err := Validate(&Config{
		Logging: LoggingConfig{Level: "chatty"},
		Storage: StorageConfig{Driver: "redis"},
		HTTP:    HTTPConfig{Enabled: true, Addr: "0.0.0.0:9090"},
	})
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"telegram.token", "logging.level", "storage.redis.addr", "http.addr"} {
		require.True(t, strings.Contains(msg, want), "missing %q in %q", want, msg)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GIVEAWAYBOT_TELEGRAM_TOKEN", "from-env")
	t.Setenv("GIVEAWAYBOT_REDIS_ADDR", "127.0.0.1:6379")

	cfg := &Config{Telegram: TelegramConfig{Token: "from-file"}}
	require.NoError(t, ApplyEnv(cfg))
	require.Equal(t, "from-env", cfg.Telegram.Token)
	require.Equal(t, "127.0.0.1:6379", cfg.Storage.Redis.Addr)
}

func TestIsLoopbackAddr(t *testing.T) {
	require.True(t, IsLoopbackAddr("127.0.0.1:9090"))
	require.True(t, IsLoopbackAddr("localhost:1"))
	require.True(t, IsLoopbackAddr("[::1]:80"))
	require.False(t, IsLoopbackAddr(":9090"))
	require.False(t, IsLoopbackAddr("10.0.0.1:9090"))
}

func TestSummarizeChangeHidesToken(t *testing.T) {
	a := &Config{HTTP: HTTPConfig{Token: "one"}, Logging: LoggingConfig{Level: "info"}}
	b := &Config{HTTP: HTTPConfig{Token: "two"}, Logging: LoggingConfig{Level: "debug"}}
	changed, _ := SummarizeChange(a, b)
	require.Equal(t, []string{"logging"}, changed)
	require.Empty(t, RequiresRestart(changed))
}

func TestWatchPublishesValidatedReload(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return nil })

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))

	select {
	case cfg := <-ch:
		require.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}
}
