package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"castbot/internal/broadcast"
	logx "castbot/pkg/logx"
)

type fakeRunner struct {
	mu   sync.Mutex
	reqs []broadcast.Request
	ran  chan struct{}
}

func newFakeRunner() *fakeRunner { return &fakeRunner{ran: make(chan struct{}, 16)} }

func (f *fakeRunner) Run(_ context.Context, req broadcast.Request) (*broadcast.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	f.ran <- struct{}{}
	if req.Token == "" {
		return nil, errors.New("no token")
	}
	return &broadcast.Result{RunID: "r", State: broadcast.StateDone, Total: 1, Success: 1}, nil
}

func job(name, spec string) Job {
	return Job{
		Name: name,
		Spec: spec,
		Params: broadcast.Params{
			AdminID: "900",
			UsersID: broadcast.IDList{"1"},
			Type:    "text",
			Text:    "scheduled",
		},
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		spec, tz string
		ok       bool
	}{
		{"*/5 * * * *", "", true},
		{"0 */5 * * * *", "", true},
		{"@daily", "", true},
		{"@every 90s", "", true},
		{"0 9 * * 1", "Asia/Jakarta", true},
		{"", "", false},
		{"not a spec", "", false},
		{"0 9 * * *", "Mars/Olympus", false},
	}
	for _, tc := range cases {
		_, err := Parse(tc.spec, tc.tz)
		if (err == nil) != tc.ok {
			t.Fatalf("Parse(%q, %q) err = %v, want ok=%v", tc.spec, tc.tz, err, tc.ok)
		}
	}
}

func TestApplyRejectsInvalidAndKeepsJobs(t *testing.T) {
	t.Parallel()

	s := New(newFakeRunner(), logx.Nop())
	if err := s.Apply([]Job{job("a", "@daily")}, "tok"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply([]Job{job("b", "bogus")}, "tok"); err == nil {
		t.Fatal("expected invalid spec error")
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Name != "a" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestTriggerUsesDefaultToken(t *testing.T) {
	t.Parallel()

	r := newFakeRunner()
	s := New(r, logx.Nop())
	if err := s.Apply([]Job{job("news", "@daily")}, "123:default"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	res, err := s.Trigger(context.Background(), "news")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if res.Success != 1 {
		t.Fatalf("result = %+v", res)
	}

	r.mu.Lock()
	got := r.reqs[0]
	r.mu.Unlock()
	if got.Token != "123:default" || got.Origin != "schedule:news" || got.Admin != "900" {
		t.Fatalf("request = %+v", got)
	}

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].State != string(broadcast.StateDone) || snap[0].Error != "" {
		t.Fatalf("snapshot = %+v", snap)
	}

	if _, err := s.Trigger(context.Background(), "missing"); err == nil {
		t.Fatal("expected unknown schedule error")
	}
}

func TestTriggerKeepsOwnToken(t *testing.T) {
	t.Parallel()

	r := newFakeRunner()
	s := New(r, logx.Nop())
	j := job("own", "@daily")
	j.Params.BotToken = "999:own"
	if err := s.Apply([]Job{j}, "123:default"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := s.Trigger(context.Background(), "own"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reqs[0].Token != "999:own" {
		t.Fatalf("token = %q", r.reqs[0].Token)
	}
}

func TestRunFiresJobs(t *testing.T) {
	t.Parallel()

	r := newFakeRunner()
	s := New(r, logx.Nop())
	if err := s.Apply([]Job{job("tick", "* * * * * *")}, "tok"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-r.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not fire")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
