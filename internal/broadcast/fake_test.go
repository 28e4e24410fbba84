package broadcast

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"castbot/internal/directory"
	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

const testAdmin transport.Recipient = "900"

// fakeBot is a scripted Messenger. Each recipient pops one error per send
// attempt from its script; an exhausted script means success.
type fakeBot struct {
	mu sync.Mutex

	script   map[transport.Recipient][]error
	panics   map[transport.Recipient]bool
	sends    map[transport.Recipient]int
	pinErr   error
	pins     int
	edits    []string
	editErr  error
	adminErr error
	status   []string
	docs     []string
	docName  []string
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		script: map[transport.Recipient][]error{},
		panics: map[transport.Recipient]bool{},
		sends:  map[transport.Recipient]int{},
	}
}

func (b *fakeBot) fail(to transport.Recipient, errs ...error) {
	b.mu.Lock()
	b.script[to] = append(b.script[to], errs...)
	b.mu.Unlock()
}

func (b *fakeBot) Send(ctx context.Context, to transport.Recipient, p transport.Payload, opt *transport.SendOptions) (transport.MessageRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if to == testAdmin {
		if b.adminErr != nil {
			return transport.MessageRef{}, b.adminErr
		}
		b.status = append(b.status, p.Text)
		return transport.MessageRef{Chat: to, ChatID: 900, MessageID: 42}, nil
	}
	b.sends[to]++
	if b.panics[to] {
		panic("boom")
	}
	if q := b.script[to]; len(q) > 0 {
		err := q[0]
		b.script[to] = q[1:]
		if err != nil {
			return transport.MessageRef{}, err
		}
	}
	return transport.MessageRef{Chat: to, MessageID: 1}, nil
}

func (b *fakeBot) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.editErr != nil {
		return b.editErr
	}
	b.edits = append(b.edits, text)
	return nil
}

func (b *fakeBot) Pin(ctx context.Context, ref transport.MessageRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pins++
	return b.pinErr
}

func (b *fakeBot) SendDocument(ctx context.Context, to transport.Recipient, doc transport.Document) (transport.MessageRef, error) {
	data, err := io.ReadAll(doc.Reader)
	if err != nil {
		return transport.MessageRef{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = append(b.docs, string(data))
	b.docName = append(b.docName, doc.Name)
	return transport.MessageRef{Chat: to, MessageID: 43}, nil
}

func (b *fakeBot) totalSends() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.sends {
		n += c
	}
	return n
}

// fakeClock advances on Sleep instead of blocking.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

// fakeDirectory serves fixed pages.
type fakeDirectory struct {
	pages   [][]string
	err     error
	errPage int
	fetched []int
	mu      sync.Mutex
}

func (d *fakeDirectory) FetchPage(ctx context.Context, key string, page int) (directory.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetched = append(d.fetched, page)
	if d.err != nil && page == d.errPage {
		return directory.Page{}, d.err
	}
	total := 0
	for _, p := range d.pages {
		total += len(p)
	}
	if page < 1 || page > len(d.pages) {
		return directory.Page{TotalUsers: total, TotalPages: len(d.pages)}, nil
	}
	return directory.Page{IDs: d.pages[page-1], TotalUsers: total, TotalPages: len(d.pages)}, nil
}

func (d *fakeDirectory) Close() error { return nil }

type testEnv struct {
	engine *Engine
	bot    *fakeBot
	clock  *fakeClock
	dir    string
}

func newTestEnv(t *testing.T, cfg Config, dir directory.Directory) *testEnv {
	t.Helper()
	bot := newFakeBot()
	clock := newFakeClock()
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = t.TempDir()
	}
	factory := func(token string) (transport.Messenger, error) {
		if token == "bad" {
			return nil, errors.New("telegram token is invalid")
		}
		return bot, nil
	}
	e := NewEngine(cfg, factory, dir, nil, logx.Nop())
	e.sleep = clock.Sleep
	e.now = clock.Now
	e.newID = func() string { return "run-1" }
	return &testEnv{engine: e, bot: bot, clock: clock, dir: cfg.ArtifactDir}
}

func newRun(env *testEnv) *RunState {
	return newRunState("run-1", env.bot, testAdmin, logx.Nop(), env.clock.Now)
}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + strconv.Itoa(i+1)
	}
	return out
}

func textRequest(recipients ...string) Request {
	return Request{
		Token:   "123:abc",
		Admin:   testAdmin,
		Source:  directory.Static(recipients...),
		Payload: transport.Payload{Kind: transport.KindText, Text: "hello"},
	}
}

func apiErr(code int, desc string) error {
	return &transport.APIError{Code: code, Description: desc}
}

func rateLimited(after time.Duration) error {
	return &transport.APIError{Code: 429, Description: "Too Many Requests: retry after", RetryAfter: after}
}
