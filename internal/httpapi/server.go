// Package httpapi serves the broadcast trigger, health and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"castbot/internal/broadcast"
	logx "castbot/pkg/logx"
)

// Runner executes one broadcast to completion.
type Runner interface {
	Run(ctx context.Context, req broadcast.Request) (*broadcast.Result, error)
}

type Config struct {
	Addr          string
	BroadcastPath string
	MetricsPath   string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxBodyBytes  int64
	// RunTimeout bounds a triggered run; 0 means unbounded. A run never ends
	// because its client went away, only on RunTimeout or server shutdown.
	RunTimeout time.Duration
}

const defaultMaxBody = 1 << 20

// Server owns the listener. Handlers are reachable through Handler for tests.
type Server struct {
	cfg     Config
	runner  Runner
	log     logx.Logger
	metrics http.Handler
	health  func() any
	pprof   bool

	mu   sync.Mutex
	addr string
	// life is the Serve context; runs are cancelled when it ends.
	life context.Context
}

type Option func(*Server)

// WithMetrics mounts h on cfg.MetricsPath.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithPprof mounts the runtime profiler under /debug/pprof/.
func WithPprof(enabled bool) Option { return func(s *Server) { s.pprof = enabled } }

// WithHealth adds fn's result to the /healthz body.
func WithHealth(fn func() any) Option { return func(s *Server) { s.health = fn } }

func New(cfg Config, runner Runner, log logx.Logger, opts ...Option) *Server {
	if cfg.BroadcastPath == "" {
		cfg.BroadcastPath = "/br"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, runner: runner, log: log.With(logx.String("comp", "http"))}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.BroadcastPath, s.handleBroadcast)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle(s.cfg.MetricsPath, s.metrics)
	}
	if s.pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Addr reports the bound address while serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve listens until ctx is done, then drains in-flight requests for up to
// shutdownGrace. onListening, if set, runs once the socket is bound.
func (s *Server) Serve(ctx context.Context, onListening func()) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.life = ctx
	s.mu.Unlock()
	s.log.Info("http listening", logx.String("addr", s.Addr()), logx.String("broadcast_path", s.cfg.BroadcastPath))
	if onListening != nil {
		onListening()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown incomplete; closing", logx.Err(err))
		_ = srv.Close()
	}
	s.mu.Lock()
	s.addr = ""
	s.life = nil
	s.mu.Unlock()
	return nil
}

const shutdownGrace = 30 * time.Second

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	p, err := decodeParams(r, s.cfg.MaxBodyBytes)
	if errors.Is(err, errMethod) {
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "Method not allowed."})
		return
	}
	if err != nil {
		s.badRequest(w, err)
		return
	}
	req, err := p.Request()
	if err != nil {
		s.badRequest(w, err)
		return
	}
	req.Origin = "http"

	ctx, cancel := s.runContext(r)
	defer cancel()

	res, err := s.runner.Run(ctx, req)
	if err != nil {
		if broadcast.IsValidation(err) {
			s.badRequest(w, err)
			return
		}
		s.log.Error("broadcast failed", logx.String("remote", r.RemoteAddr), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Error during broadcast.",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
		*broadcast.Result
	}{"Broadcast completed successfully.", res})
}

// runContext detaches the run from the client connection. It keeps the
// request's values, and is cancelled only by RunTimeout or by the end of Serve.
func (s *Server) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if s.cfg.RunTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.cfg.RunTimeout)
		parent := cancel
		cancel = func() { cancelTimeout(); parent() }
	}
	s.mu.Lock()
	life := s.life
	s.mu.Unlock()
	if life == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(life, cancel)
	return ctx, func() { stop(); cancel() }
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	msg := err.Error()
	var ve *broadcast.ValidationError
	if errors.As(err, &ve) {
		msg = ve.Message
	}
	s.log.Debug("broadcast request rejected", logx.Err(err))
	writeJSON(w, http.StatusBadRequest, map[string]string{"message": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		body["runtime"] = s.health()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
