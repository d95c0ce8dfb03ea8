package config

import (
	"reflect"
	"slices"
	"strings"

	logx "giveawaybot/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ between two
// configs, plus log fields that never include secrets.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	fields := make([]logx.Field, 0, 12)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.PollTimeout != nt.PollTimeout || ot.LogChatID != nt.LogChatID ||
		ot.Workers != nt.Workers || ot.HandlerTimeout != nt.HandlerTimeout ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) || ot.Token != nt.Token {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.String("scheduler.safety_margin", newCfg.Scheduler.SafetyMargin),
			logx.String("scheduler.sweep", newCfg.Scheduler.Sweep),
		)
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
	}
	if oldCfg.Giveaway != newCfg.Giveaway {
		changed = append(changed, "giveaway")
		fields = append(fields, logx.Int("giveaway.max_winners", newCfg.Giveaway.MaxWinners))
	}
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	oh.Token, nh.Token = "", ""
	if oh != nh || (oldCfg.HTTP.Token == "") != (newCfg.HTTP.Token == "") {
		changed = append(changed, "http")
		fields = append(fields,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}
	return changed, fields
}

// RequiresRestart reports changed sections holding fields that are only read
// at startup. Owners, the log chat, logging, giveaway and http apply live.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "telegram", "storage", "scheduler", "task_engine":
			out = append(out, c)
		}
	}
	return out
}
