package config

import (
	"castbot/internal/broadcast"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Directory DirectoryConfig `json:"directory"`
	Metrics   MetricsConfig   `json:"metrics"`

	// Schedules are broadcasts triggered by cron specs. They are sent with
	// telegram.token unless the request carries its own bot_token.
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

type TelegramConfig struct {
	// Token is the default bot, used for scheduled broadcasts and the log chat.
	Token string `json:"token"`
	// APIURL overrides https://api.telegram.org (local bot-api servers).
	APIURL string `json:"api_url,omitempty"`
	// LogChat receives warn/error log lines when logging.chat is enabled.
	LogChat string `json:"log_chat,omitempty"`
	// RequestTimeout is a Go duration string (e.g. "30s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HTTPConfig controls the trigger endpoint.
//
// Defaults:
//   - addr: ":3000"
//   - broadcast_path: "/br"
//   - read_timeout: "15s"
//   - write_timeout: "0s" (runs can take minutes; the handler waits for them)
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	BroadcastPath string `json:"broadcast_path,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	MaxBodyBytes  int64  `json:"max_body_bytes,omitempty"`
	// Pprof mounts /debug/pprof/ on the same listener. Keep it off on
	// public interfaces.
	Pprof bool `json:"pprof,omitempty"`
}

// BroadcastConfig holds engine defaults. All durations are Go duration strings.
//
// Defaults:
//   - policy: "parallel"
//   - batch_size: 20
//   - parallel_limit: 5
//   - batch_delay: "1s" (sequential policy only)
//   - rate_per_sec: 0 (no client-side pacing)
//   - artifact_dir: OS temp dir
//   - default_parse_mode: "Markdown" ("none" for plain text)
type BroadcastConfig struct {
	Policy           string  `json:"policy,omitempty"`
	BatchSize        int     `json:"batch_size,omitempty"`
	ParallelLimit    int     `json:"parallel_limit,omitempty"`
	BatchDelay       string  `json:"batch_delay,omitempty"`
	RatePerSec       float64 `json:"rate_per_sec,omitempty"`
	ArtifactDir      string  `json:"artifact_dir,omitempty"`
	DefaultParseMode string  `json:"default_parse_mode,omitempty"`
	// RunTimeout bounds one run; "0s" disables the bound.
	RunTimeout string `json:"run_timeout,omitempty"`
}

// DirectoryConfig selects the paged recipient lookup.
//
// Example:
//
//	"directory": { "driver": "sqlite", "path": "./data/directory.db", "page_size": 500 }
type DirectoryConfig struct {
	Driver   string `json:"driver,omitempty"`
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	DSN      string `json:"dsn,omitempty"` // do not log
	PageSize int    `json:"page_size,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default: "/metrics"
}

// ScheduleConfig is one cron-triggered broadcast.
// Spec accepts 5 or 6 fields (optional seconds) and descriptors like "@daily".
type ScheduleConfig struct {
	Name     string           `json:"name"`
	Spec     string           `json:"spec"`
	Timezone string           `json:"timezone,omitempty"`
	Disabled bool             `json:"disabled,omitempty"`
	Request  broadcast.Params `json:"request"`
}
