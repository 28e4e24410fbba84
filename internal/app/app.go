package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"castbot/internal/config"
	"castbot/internal/httpapi"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/schedule"
	"castbot/internal/transport"
	"castbot/internal/transport/telegram"
	logx "castbot/pkg/logx"
)

// App is the long-running service: HTTP trigger, scheduled broadcasts and
// config hot reload around one broadcast engine.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	engine *Engine
	sched  *schedule.Service
	http   *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	// The log chat sink posts with the default bot. Chat is set before the
	// final Apply so enabling the sink never races an empty target.
	var sender transport.Messenger
	if tok := strings.TrimSpace(cfg.Telegram.Token); tok != "" {
		tc, err := cfg.TelegramSettings()
		if err != nil {
			return nil, err
		}
		bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
		if sender, err = telegram.New(tc, tok, bootLog); err != nil {
			return nil, err
		}
	}
	logCfg := cfg.LogConfig()
	chatEnabled := logCfg.Chat.Enabled
	logCfg.Chat.Enabled = false
	logSvc, log := logx.New(logCfg, sender)
	logSvc.SetChat(transport.Recipient(strings.TrimSpace(cfg.Telegram.LogChat)))
	logCfg.Chat.Enabled = chatEnabled
	logSvc.Apply(logCfg)

	eng, err := BuildEngine(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	sched := schedule.New(eng, log)
	sched.SetRunTimeout(cfg.RunTimeout())
	if err := sched.Apply(scheduleJobs(cfg), cfg.Telegram.Token); err != nil {
		_ = eng.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		engine: eng,
		sched:  sched,
	}
	if cfg.HTTP.Enabled {
		hc, err := httpConfig(cfg)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		opts := []httpapi.Option{httpapi.WithHealth(a.health), httpapi.WithPprof(cfg.HTTP.Pprof)}
		if cfg.Metrics.Enabled {
			opts = append(opts, httpapi.WithMetrics(eng.Metrics.Handler()))
		}
		a.http = httpapi.New(hc, eng, log, opts...)
	}
	return a, nil
}

func httpConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:          cfg.HTTP.Addr,
		BroadcastPath: cfg.HTTP.BroadcastPath,
		MetricsPath:   cfg.Metrics.Path,
		ReadTimeout:   read,
		WriteTimeout:  write,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		RunTimeout:    cfg.RunTimeout(),
	}, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Match GOMAXPROCS to the container CPU quota.
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		a.log.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		a.log.Warn("GOMAXPROCS not adjusted", logx.Err(err))
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	ready := func() { notifySystemd(a.log, "READY=1") }
	if a.http != nil {
		a.sup.Go("http", func(c context.Context) error {
			return a.http.Serve(c, ready)
		})
	} else {
		ready()
	}

	a.sup.GoRestart("schedule", a.sched.Run, supervisor.RestartPolicy{MinBackoff: time.Second, MaxBackoff: 30 * time.Second})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.apply(last, cfg)
				last = cfg
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.RestartPolicy{MinBackoff: time.Second, MaxBackoff: time.Minute})

	a.log.Info("app started", logx.Bool("http", a.http != nil))
	return nil
}

// apply pushes a reloaded config into the live components.
func (a *App) apply(prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.SetChat(transport.Recipient(strings.TrimSpace(cfg.Telegram.LogChat)))
	a.logs.Apply(cfg.LogConfig())

	if ec, err := cfg.EngineConfig(); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ec)
	}

	a.sched.SetRunTimeout(cfg.RunTimeout())
	if err := a.sched.Apply(scheduleJobs(cfg), cfg.Telegram.Token); err != nil {
		a.log.Warn("invalid schedules; keeping previous", logx.Err(err))
	}

	if config.RestartRequired(sections) {
		a.log.Warn("config change needs a restart to take full effect", logx.String("changed", strings.Join(sections, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() any {
	out := map[string]any{"schedules": a.sched.Snapshot()}
	if a.sup != nil {
		out["tasks"] = a.sup.Tasks()
	}
	return out
}

// Stop cancels every component and waits for them within ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, "STOPPING=1")

	var err error
	if a.sup != nil {
		if werr := a.sup.Stop(ctx); werr != nil && ctx.Err() != nil {
			err = fmt.Errorf("stop: %w", werr)
			a.log.Warn("stop deadline reached; some goroutines are still running", logx.Int64("active", a.sup.Active()))
		}
	}
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *App) close() error {
	err := a.engine.Close()
	if lerr := a.logs.Close(); err == nil {
		err = lerr
	}
	return err
}
