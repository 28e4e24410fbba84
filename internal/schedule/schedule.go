// Package schedule triggers configured broadcasts from cron specs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"castbot/internal/broadcast"
	logx "castbot/pkg/logx"
)

// Runner executes one broadcast to completion.
type Runner interface {
	Run(ctx context.Context, req broadcast.Request) (*broadcast.Result, error)
}

// Job is one scheduled broadcast. An empty Params.BotToken uses the default token.
type Job struct {
	Name     string
	Spec     string
	Timezone string
	Params   broadcast.Params
}

// Outcome is the last result of a job, for /healthz.
type Outcome struct {
	Name     string        `json:"name"`
	Next     time.Time     `json:"next,omitempty"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	State    string        `json:"state,omitempty"`
	Error    string        `json:"error,omitempty"`
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse validates spec in the given timezone ("" is the local zone).
func Parse(spec, tz string) (cron.Schedule, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errors.New("empty cron spec")
	}
	return parser.Parse(withZone(spec, tz))
}

func withZone(spec, tz string) string {
	spec = strings.TrimSpace(spec)
	if tz = strings.TrimSpace(tz); tz != "" {
		return "CRON_TZ=" + tz + " " + spec
	}
	return spec
}

type Service struct {
	runner  Runner
	log     logx.Logger
	timeout time.Duration

	mu           sync.Mutex
	c            *cron.Cron
	ctx          context.Context
	jobs         map[string]Job
	entries      map[string]cron.EntryID
	outcomes     map[string]Outcome
	defaultToken string
}

func New(runner Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		runner:   runner,
		log:      log.With(logx.String("comp", "schedule")),
		ctx:      context.Background(),
		jobs:     map[string]Job{},
		entries:  map[string]cron.EntryID{},
		outcomes: map[string]Outcome{},
	}
}

// SetRunTimeout bounds each scheduled run; 0 means unbounded.
func (s *Service) SetRunTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// Apply replaces the job set. It validates every spec first and changes
// nothing when one is invalid. Runs in flight are not interrupted.
func (s *Service) Apply(jobs []Job, defaultToken string) error {
	for _, j := range jobs {
		if _, err := Parse(j.Spec, j.Timezone); err != nil {
			return fmt.Errorf("schedule %q: %w", j.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultToken = strings.TrimSpace(defaultToken)

	if s.c != nil {
		for _, id := range s.entries {
			s.c.Remove(id)
		}
	}
	s.jobs = make(map[string]Job, len(jobs))
	s.entries = make(map[string]cron.EntryID, len(jobs))
	for _, j := range jobs {
		s.jobs[j.Name] = j
		if s.c != nil {
			if err := s.addLocked(j); err != nil {
				return err
			}
		}
	}
	s.log.Info("schedules applied", logx.Int("jobs", len(jobs)))
	return nil
}

func (s *Service) addLocked(j Job) error {
	name := j.Name
	id, err := s.c.AddFunc(withZone(j.Spec, j.Timezone), func() { s.fire(name) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.ctx = ctx
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	for _, j := range s.jobs {
		if err := s.addLocked(j); err != nil {
			s.log.Warn("schedule skipped", logx.String("name", j.Name), logx.Err(err))
		}
	}
	c := s.c
	s.mu.Unlock()

	c.Start()
	s.log.Info("scheduler started")
	<-ctx.Done()
	<-c.Stop().Done()

	s.mu.Lock()
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()
	return nil
}

// Trigger runs the named job now, synchronously.
func (s *Service) Trigger(ctx context.Context, name string) (*broadcast.Result, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	token := s.defaultToken
	timeout := s.timeout
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown schedule %q", name)
	}

	req, err := j.Params.Request()
	if err != nil {
		return nil, err
	}
	if req.Token == "" {
		req.Token = token
	}
	req.Origin = "schedule:" + name

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	started := time.Now()
	res, err := s.runner.Run(ctx, req)

	o := Outcome{Name: name, LastRun: started, Duration: time.Since(started)}
	if res != nil {
		o.State = string(res.State)
	}
	if err != nil {
		o.Error = err.Error()
	}
	s.mu.Lock()
	s.outcomes[name] = o
	s.mu.Unlock()
	return res, err
}

func (s *Service) fire(name string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	res, err := s.Trigger(ctx, name)
	if err != nil {
		s.log.Error("scheduled broadcast failed", logx.String("name", name), logx.Err(err))
		return
	}
	s.log.Info("scheduled broadcast finished",
		logx.String("name", name),
		logx.String("run", res.RunID),
		logx.Int("success", res.Success),
		logx.Int("total", res.Total),
	)
}

// Snapshot lists jobs with their next fire time and last outcome.
func (s *Service) Snapshot() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outcome, 0, len(s.jobs))
	for name := range s.jobs {
		o := s.outcomes[name]
		o.Name = name
		if id, ok := s.entries[name]; ok && s.c != nil {
			o.Next = s.c.Entry(id).Next
		}
		out = append(out, o)
	}
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
