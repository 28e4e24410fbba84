package broadcast

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"castbot/internal/directory"
	"castbot/internal/metrics"
	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// Config holds the hot-reloadable engine defaults.
type Config struct {
	Batching Batching
	// RatePerSec paces delivery attempts across all runs; 0 disables pacing.
	RatePerSec float64
	// ArtifactDir holds failure logs while runs are in flight.
	ArtifactDir string
	// DefaultParseMode applies when a request does not set one; "none" sends plain text.
	DefaultParseMode string
}

// Engine runs broadcasts. It is safe for concurrent use; concurrent runs
// share only the configuration and the optional rate limiter.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	bots    transport.Factory
	dir     directory.Directory
	metrics *metrics.Broadcast
	log     logx.Logger

	// Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	newID func() string
}

// NewEngine builds an engine. dir may be nil (literal recipient lists only)
// and m may be nil (no metrics).
func NewEngine(cfg Config, bots transport.Factory, dir directory.Directory, m *metrics.Broadcast, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		bots:    bots,
		dir:     dir,
		metrics: m,
		log:     log.With(logx.String("comp", "broadcast")),
		sleep:   sleepCtx,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	e.Apply(cfg)
	return e
}

// Apply swaps the defaults used by runs started afterwards.
func (e *Engine) Apply(cfg Config) {
	cfg.Batching = cfg.Batching.normalized()
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	e.mu.Lock()
	old := e.cfg
	e.cfg = cfg
	// Keep the limiter state when the rate did not change.
	if e.limiter == nil || old.RatePerSec != cfg.RatePerSec {
		e.limiter = lim
	}
	e.mu.Unlock()

	e.log.Debug("broadcast config applied",
		logx.String("policy", string(cfg.Batching.Policy)),
		logx.Int("batch_size", cfg.Batching.Size),
		logx.Int("parallel_limit", cfg.Batching.ParallelLimit),
		logx.Duration("batch_delay", cfg.Batching.Delay),
		logx.Any("rate_per_sec", cfg.RatePerSec),
	)
}

func (e *Engine) config() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

func (e *Engine) parseMode(requested string, cfg Config) string {
	m := strings.TrimSpace(requested)
	if m == "" {
		m = strings.TrimSpace(cfg.DefaultParseMode)
	}
	if strings.EqualFold(m, "none") {
		return ""
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
