package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Unknown keys are
// rejected so typos surface on reload instead of being ignored.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Giveaway   GiveawayConfig   `json:"giveaway"`
	HTTP       HTTPConfig       `json:"http,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChatID receives warnings when logging.telegram is enabled.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout"`

	// Router knobs.
	Workers        int    `json:"workers,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the giveaway store.
//
//	"storage": { "driver": "sqlite", "path": "./data/giveaways.db" }
//
// Drivers: sqlite (default), redis, postgres.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	Redis    RedisConfig    `json:"redis,omitempty"`
	Postgres PostgresConfig `json:"postgres,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type PostgresConfig struct {
	DSN      string `json:"dsn,omitempty"`
	Schema   string `json:"schema,omitempty"`
	MaxConns int32  `json:"max_conns,omitempty"`
}

// SchedulerConfig controls expiry timers.
//
// Defaults:
//   - safety_margin: "3s" (expiries closer than this fire immediately)
//   - sweep: "@every 1m" (cron spec; "" or "off" disables the overdue sweep)
type SchedulerConfig struct {
	SafetyMargin string `json:"safety_margin,omitempty"`
	Sweep        string `json:"sweep,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs terminations.
//
// Defaults: workers 2, queue_size 256, default_timeout "30s",
// history_size 200, retry_max 5, retry_base "1s", retry_max_delay "1m".
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// GiveawayConfig holds guard rails for the chat commands.
type GiveawayConfig struct {
	MaxWinners  int    `json:"max_winners,omitempty"`
	MaxDuration string `json:"max_duration,omitempty"`
	// Button presses allowed per user per second, with a small burst.
	ButtonRate  float64 `json:"button_rate,omitempty"`
	ButtonBurst int     `json:"button_burst,omitempty"`
}

// HTTPConfig controls the operator HTTP server (/healthz, /metrics, pprof).
//
// Prefer a loopback address. A non-loopback bind needs a token or
// allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
