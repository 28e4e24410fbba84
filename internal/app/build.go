package app

import (
	"fmt"
	"strings"

	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/directory"
	"castbot/internal/metrics"
	"castbot/internal/schedule"
	"castbot/internal/transport"
	"castbot/internal/transport/telegram"
	logx "castbot/pkg/logx"
)

// Engine bundles a broadcast engine with the resources it owns.
type Engine struct {
	*broadcast.Engine
	Bots      transport.Factory
	Directory directory.Directory
	Metrics   *metrics.Broadcast
}

// Close releases the directory connection.
func (e *Engine) Close() error {
	if e.Directory == nil {
		return nil
	}
	return e.Directory.Close()
}

// BuildEngine wires the engine from cfg. The serve and send commands share it.
func BuildEngine(cfg *config.Config, log logx.Logger) (*Engine, error) {
	tc, err := cfg.TelegramSettings()
	if err != nil {
		return nil, err
	}
	ec, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	dc, err := cfg.DirectorySettings()
	if err != nil {
		return nil, err
	}
	dir, err := directory.Open(dc, log)
	if err != nil {
		return nil, err
	}

	var m *metrics.Broadcast
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
	}
	bots := telegram.NewFactory(tc, log.With(logx.String("comp", "telegram")))
	return &Engine{
		Engine:    broadcast.NewEngine(ec, bots, dir, m, log),
		Bots:      bots,
		Directory: dir,
		Metrics:   m,
	}, nil
}

func scheduleJobs(cfg *config.Config) []schedule.Job {
	jobs := make([]schedule.Job, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		if s.Disabled {
			continue
		}
		jobs = append(jobs, schedule.Job{
			Name:     strings.TrimSpace(s.Name),
			Spec:     s.Spec,
			Timezone: s.Timezone,
			Params:   s.Request,
		})
	}
	return jobs
}

// validate runs the checks that need packages config cannot import.
func validate(cfg *config.Config) error {
	if _, err := cfg.EngineConfig(); err != nil {
		return err
	}
	if _, err := cfg.DirectorySettings(); err != nil {
		return err
	}
	for _, j := range scheduleJobs(cfg) {
		if _, err := schedule.Parse(j.Spec, j.Timezone); err != nil {
			return fmt.Errorf("schedules %q: %w", j.Name, err)
		}
		if _, err := j.Params.Request(); err != nil {
			return fmt.Errorf("schedules %q: %w", j.Name, err)
		}
	}
	return nil
}
