package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "giveawaybot/pkg/logx"
)

const (
	DefaultSafetyMargin = 3 * time.Second
	DefaultSweep        = "@every 1m"
	DefaultStoragePath  = "./data/giveaways.db"
	DefaultHTTPAddr     = "127.0.0.1:9090"
)

// Runtime is the parsed, defaulted view of Config used to build services.
type Runtime struct {
	PollTimeout    time.Duration
	RouterWorkers  int
	HandlerTimeout time.Duration

	StorageDriver      string
	StorageBusyTimeout time.Duration

	SafetyMargin time.Duration
	Sweep        string
	Location     *time.Location

	EngineWorkers        int
	EngineQueueSize      int
	EngineDefaultTimeout time.Duration
	EngineHistorySize    int
	EngineRetryMax       int
	EngineRetryBase      time.Duration
	EngineRetryMaxDelay  time.Duration

	MaxWinners  int
	MaxDuration time.Duration
	ButtonRate  float64
	ButtonBurst int

	HTTPAddr        string
	HTTPReadTimeout time.Duration
	HTTPIdleTimeout time.Duration
}

// Resolve parses durations and fills defaults. It does not check
// cross-field rules; Validate does.
func Resolve(cfg *Config) (Runtime, error) {
	if cfg == nil {
		return Runtime{}, errors.New("config is nil")
	}
	var (
		rt  Runtime
		err error
	)
	d := func(path, raw string, def time.Duration) time.Duration {
		if err != nil {
			return 0
		}
		var v time.Duration
		v, err = ParseDurationOrDefault(path, raw, def)
		return v
	}

	rt.PollTimeout = d("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	rt.HandlerTimeout = d("telegram.handler_timeout", cfg.Telegram.HandlerTimeout, 15*time.Second)
	rt.RouterWorkers = positiveOr(cfg.Telegram.Workers, 8)

	rt.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if rt.StorageDriver == "" {
		rt.StorageDriver = "sqlite"
	}
	rt.StorageBusyTimeout = d("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)

	rt.SafetyMargin = d("scheduler.safety_margin", cfg.Scheduler.SafetyMargin, DefaultSafetyMargin)
	rt.Sweep = strings.TrimSpace(cfg.Scheduler.Sweep)
	if rt.Sweep == "" {
		rt.Sweep = DefaultSweep
	}
	if strings.EqualFold(rt.Sweep, "off") {
		rt.Sweep = ""
	}

	rt.EngineWorkers = positiveOr(cfg.TaskEngine.Workers, 2)
	rt.EngineQueueSize = positiveOr(cfg.TaskEngine.QueueSize, 256)
	rt.EngineDefaultTimeout = d("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout, 30*time.Second)
	rt.EngineHistorySize = positiveOr(cfg.TaskEngine.HistorySize, 200)
	rt.EngineRetryMax = positiveOr(cfg.TaskEngine.RetryMax, 5)
	rt.EngineRetryBase = d("task_engine.retry_base", cfg.TaskEngine.RetryBase, time.Second)
	rt.EngineRetryMaxDelay = d("task_engine.retry_max_delay", cfg.TaskEngine.RetryMaxDelay, time.Minute)

	rt.MaxWinners = positiveOr(cfg.Giveaway.MaxWinners, 50)
	rt.MaxDuration = d("giveaway.max_duration", cfg.Giveaway.MaxDuration, 90*24*time.Hour)
	rt.ButtonRate = cfg.Giveaway.ButtonRate
	if rt.ButtonRate <= 0 {
		rt.ButtonRate = 1
	}
	rt.ButtonBurst = positiveOr(cfg.Giveaway.ButtonBurst, 3)

	rt.HTTPAddr = strings.TrimSpace(cfg.HTTP.Addr)
	if rt.HTTPAddr == "" {
		rt.HTTPAddr = DefaultHTTPAddr
	}
	rt.HTTPReadTimeout = d("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	rt.HTTPIdleTimeout = d("http.idle_timeout", cfg.HTTP.IdleTimeout, 60*time.Second)

	if err != nil {
		return Runtime{}, err
	}

	rt.Location = time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, lerr := time.LoadLocation(tz)
		if lerr != nil {
			return Runtime{}, fmt.Errorf("scheduler.timezone: %w", lerr)
		}
		rt.Location = loc
	}
	return rt, nil
}

// Validate checks everything needed to start the bot.
func Validate(cfg *Config) error {
	rt, err := Resolve(cfg)
	if err != nil {
		return err
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.enabled requires telegram.log_chat_id"))
	}
	switch rt.StorageDriver {
	case "sqlite", "sqlite3":
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			errs = append(errs, errors.New("storage.redis.addr is required"))
		}
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.HTTP.Enabled && !IsLoopbackAddr(rt.HTTPAddr) &&
		strings.TrimSpace(cfg.HTTP.Token) == "" && !cfg.HTTP.AllowInsecure {
		errs = append(errs, fmt.Errorf("http.addr %q is not loopback; set http.token or http.allow_insecure", rt.HTTPAddr))
	}
	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a host:port binds only to loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
