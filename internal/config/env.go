package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. GIVEAWAYBOT_TELEGRAM_TOKEN.
const EnvPrefix = "GIVEAWAYBOT"

// envOverrides keeps secrets and deployment-specific values out of the file.
type envOverrides struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	HTTPToken     string `envconfig:"HTTP_TOKEN"`
}

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("process environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, env.TelegramToken)
	set(&cfg.Storage.Driver, env.StorageDriver)
	set(&cfg.Storage.Path, env.StoragePath)
	set(&cfg.Storage.Redis.Addr, env.RedisAddr)
	set(&cfg.Storage.Redis.Password, env.RedisPassword)
	set(&cfg.Storage.Postgres.DSN, env.PostgresDSN)
	set(&cfg.Logging.Level, env.LogLevel)
	set(&cfg.HTTP.Token, env.HTTPToken)
	return nil
}
