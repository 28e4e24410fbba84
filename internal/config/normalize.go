package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/directory"
	"castbot/internal/transport/telegram"
	logx "castbot/pkg/logx"
)

// Normalize fills defaults and rejects values that can never work.
// It is called by Parse, so every committed config is normalized.
func (c *Config) Normalize() error {
	var errs []error

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if _, err := ParseDurationField("telegram.request_timeout", c.Telegram.RequestTimeout); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = ":3000"
	}
	if strings.TrimSpace(c.HTTP.BroadcastPath) == "" {
		c.HTTP.BroadcastPath = "/br"
	}
	if !strings.HasPrefix(c.HTTP.BroadcastPath, "/") {
		errs = append(errs, fmt.Errorf("http.broadcast_path: must start with '/'"))
	}
	for path, raw := range map[string]string{"http.read_timeout": c.HTTP.ReadTimeout, "http.write_timeout": c.HTTP.WriteTimeout} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	b := &c.Broadcast
	if p, ok := broadcast.ParsePolicy(b.Policy); ok {
		b.Policy = string(p)
	} else {
		errs = append(errs, fmt.Errorf("broadcast.policy: unknown policy %q", b.Policy))
	}
	if b.BatchSize < 0 || b.ParallelLimit < 0 || b.RatePerSec < 0 {
		errs = append(errs, errors.New("broadcast: batch_size, parallel_limit and rate_per_sec must be >= 0"))
	}
	for path, raw := range map[string]string{"broadcast.batch_delay": b.BatchDelay, "broadcast.run_timeout": b.RunTimeout} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if strings.TrimSpace(b.DefaultParseMode) == "" {
		b.DefaultParseMode = "Markdown"
	}

	switch d := strings.ToLower(strings.TrimSpace(c.Directory.Driver)); d {
	case "", "none", "http", "https", "sqlite", "sqlite3", "postgres", "postgresql", "pgx", "redis":
		c.Directory.Driver = d
	default:
		errs = append(errs, fmt.Errorf("directory.driver: %w: %s", directory.ErrUnknownDriver, d))
	}
	if _, err := ParseDurationField("directory.timeout", c.Directory.Timeout); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(c.Metrics.Path) == "" {
		c.Metrics.Path = "/metrics"
	}

	seen := map[string]bool{}
	for i, s := range c.Schedules {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("schedules[%d].name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(s.Spec) == "" {
			errs = append(errs, fmt.Errorf("schedules[%d] (%s): spec is required", i, name))
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("schedules[%d] (%s): %w", i, name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// EngineConfig converts the broadcast section.
func (c *Config) EngineConfig() (broadcast.Config, error) {
	b := c.Broadcast
	policy, ok := broadcast.ParsePolicy(b.Policy)
	if !ok {
		return broadcast.Config{}, fmt.Errorf("broadcast.policy: unknown policy %q", b.Policy)
	}
	delay := broadcast.DefaultBatchDelay
	if strings.TrimSpace(b.BatchDelay) != "" {
		d, err := ParseDurationField("broadcast.batch_delay", b.BatchDelay)
		if err != nil {
			return broadcast.Config{}, err
		}
		delay = d
	}
	return broadcast.Config{
		Batching: broadcast.Batching{
			Policy:        policy,
			Size:          b.BatchSize,
			ParallelLimit: b.ParallelLimit,
			Delay:         delay,
		},
		RatePerSec:       b.RatePerSec,
		ArtifactDir:      b.ArtifactDir,
		DefaultParseMode: b.DefaultParseMode,
	}, nil
}

// RunTimeout bounds a single run; 0 means unbounded.
func (c *Config) RunTimeout() time.Duration {
	d, _ := ParseDurationField("broadcast.run_timeout", c.Broadcast.RunTimeout)
	return d
}

func (c *Config) DirectorySettings() (directory.Config, error) {
	d := c.Directory
	timeout, err := ParseDurationField("directory.timeout", d.Timeout)
	if err != nil {
		return directory.Config{}, err
	}
	return directory.Config{
		Driver:   d.Driver,
		URL:      d.URL,
		Path:     d.Path,
		DSN:      d.DSN,
		PageSize: d.PageSize,
		Timeout:  timeout,
		Prefix:   d.Prefix,
	}, nil
}

func (c *Config) TelegramSettings() (telegram.Config, error) {
	timeout, err := ParseDurationOrDefault("telegram.request_timeout", c.Telegram.RequestTimeout, 30*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{APIURL: c.Telegram.APIURL, Timeout: timeout}, nil
}

func (c *Config) LogConfig() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat:    logx.ChatConfig{Enabled: l.Chat.Enabled, MinLevel: l.Chat.MinLevel, RatePerSec: l.Chat.RatePerSec},
	}
}
