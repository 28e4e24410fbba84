package config

import (
	"reflect"
	"strings"

	logx "castbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens and DSNs are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
		oldCfg.Telegram.LogChat != newCfg.Telegram.LogChat ||
		oldCfg.Telegram.RequestTimeout != newCfg.Telegram.RequestTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Bool("telegram.log_chat_set", strings.TrimSpace(newCfg.Telegram.LogChat) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr), logx.Bool("http.enabled", newCfg.HTTP.Enabled))
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.policy", newCfg.Broadcast.Policy),
			logx.Int("broadcast.batch_size", newCfg.Broadcast.BatchSize),
			logx.Int("broadcast.parallel_limit", newCfg.Broadcast.ParallelLimit),
			logx.String("broadcast.batch_delay", newCfg.Broadcast.BatchDelay),
		)
	}

	if oldCfg.Directory != newCfg.Directory {
		changed = append(changed, "directory")
		attrs = append(attrs, logx.String("directory.driver", newCfg.Directory.Driver))
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
	}

	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules", len(newCfg.Schedules)))
	}

	return changed, attrs
}

// RestartRequired reports whether the change touches sections that are only
// read at startup (listener, directory connection, metrics endpoint).
func RestartRequired(changed []string) bool {
	for _, s := range changed {
		switch s {
		case "http", "directory", "metrics", "telegram":
			return true
		}
	}
	return false
}
