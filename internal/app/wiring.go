package app

import (
	"context"
	"strings"

	"giveawaybot/internal/config"
	"giveawaybot/internal/observability/httpserver"
	"giveawaybot/internal/storage"
	"giveawaybot/internal/task/engine"
	"giveawaybot/internal/task/scheduler"
	logx "giveawaybot/pkg/logx"
	gwplugin "giveawaybot/plugins/giveaway"
)

// The map* helpers turn the on-disk config plus its resolved Runtime into
// service configs. They never fail; Resolve and Validate already did.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config, rt config.Runtime) storage.Config {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = config.DefaultStoragePath
	}
	return storage.Config{
		Driver:      rt.StorageDriver,
		Path:        path,
		BusyTimeout: rt.StorageBusyTimeout,
		Redis: storage.RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		},
		Postgres: storage.PostgresConfig{
			DSN:      cfg.Storage.Postgres.DSN,
			Schema:   cfg.Storage.Postgres.Schema,
			MaxConns: cfg.Storage.Postgres.MaxConns,
		},
	}
}

// OpenStore opens the configured giveaway store.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (storage.Store, error) {
	rt, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	sc := mapStorageConfig(cfg, rt)
	st, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))
	return st, nil
}

func mapEngineConfig(rt config.Runtime) engine.Config {
	return engine.Config{
		Workers:        rt.EngineWorkers,
		QueueSize:      rt.EngineQueueSize,
		DefaultTimeout: rt.EngineDefaultTimeout,
		HistorySize:    rt.EngineHistorySize,
		RetryMax:       rt.EngineRetryMax,
		RetryBase:      rt.EngineRetryBase,
		RetryMaxDelay:  rt.EngineRetryMaxDelay,
	}
}

func mapSchedulerConfig(rt config.Runtime) scheduler.Config {
	return scheduler.Config{
		SafetyMargin: rt.SafetyMargin,
		Sweep:        rt.Sweep,
		Timezone:     rt.Location.String(),
		EndTimeout:   rt.EngineDefaultTimeout,
	}
}

func mapGiveawayConfig(rt config.Runtime) gwplugin.Config {
	return gwplugin.Config{
		MaxWinners:  rt.MaxWinners,
		MaxDuration: rt.MaxDuration,
		ButtonRate:  rt.ButtonRate,
		ButtonBurst: rt.ButtonBurst,
		Location:    rt.Location,
	}
}

func mapHTTPConfig(cfg *config.Config, rt config.Runtime) httpserver.Config {
	return httpserver.Config{
		Enabled:       cfg.HTTP.Enabled,
		Addr:          rt.HTTPAddr,
		Token:         cfg.HTTP.Token,
		AllowInsecure: cfg.HTTP.AllowInsecure,
		Pprof:         cfg.HTTP.Pprof,
		ReadTimeout:   rt.HTTPReadTimeout,
		IdleTimeout:   rt.HTTPIdleTimeout,
	}
}
