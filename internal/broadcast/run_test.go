package broadcast

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"castbot/internal/directory"
	"castbot/internal/transport"
)

func assertNoArtifacts(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("artifact dir not empty: %v", entries)
	}
}

func TestRunScenarioAllSucceed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	res, err := env.engine.Run(context.Background(), textRequest(ids("u", 50)...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone || res.Total != 50 || res.Success != 50 || res.Batches != 3 {
		t.Fatalf("result=%+v", res)
	}
	if res.Breakdown != (Breakdown{}) || res.LogAttached {
		t.Fatalf("result=%+v", res)
	}
	if len(env.bot.docs) != 0 {
		t.Fatalf("failure log uploaded without failures")
	}
	if len(env.bot.status) != 1 || !strings.Contains(env.bot.status[0], "Total users: 50") {
		t.Fatalf("initial status=%q", env.bot.status)
	}
	// One group of 3 batches (limit 5) plus the final report.
	if len(env.bot.edits) != 2 {
		t.Fatalf("edits=%d want 2", len(env.bot.edits))
	}
	if !strings.Contains(env.bot.edits[0], "Batches Completed: 3/3") {
		t.Fatalf("progress edit=%q", env.bot.edits[0])
	}
	final := env.bot.edits[1]
	if !strings.HasPrefix(final, "✅ Broadcast Completed:") || !strings.Contains(final, "Successfully Sent: 50") {
		t.Fatalf("final edit=%q", final)
	}
	assertNoArtifacts(t, env.dir)
}

func TestRunScenarioRecipientErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	env.bot.fail("x", apiErr(400, "Bad Request: chat not found"))
	env.bot.fail("y", apiErr(403, "Forbidden: bot was blocked by the user"))

	res, err := env.engine.Run(context.Background(), textRequest("x", "y", "z"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success != 1 || res.Breakdown != (Breakdown{Invalid: 1, Blocked: 1}) {
		t.Fatalf("result=%+v", res)
	}
	if res.LogAttached || len(env.bot.docs) != 0 {
		t.Fatalf("failure log attached without other failures")
	}
	assertNoArtifacts(t, env.dir)
}

func TestRunScenarioRateLimitedThenSuccess(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	env.bot.fail("u1", rateLimited(2*time.Second))

	res, err := env.engine.Run(context.Background(), textRequest("u1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success != 1 || res.Breakdown.Total() != 0 {
		t.Fatalf("result=%+v", res)
	}
	if res.Elapsed < 2*time.Second {
		t.Fatalf("elapsed=%s want >= 2s", res.Elapsed)
	}
	if env.bot.sends["u1"] != 2 {
		t.Fatalf("sends=%d want 2", env.bot.sends["u1"])
	}
}

func TestRunAttachesLogForOtherFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	env.bot.fail("u2", errors.New("connection reset by peer"))
	env.bot.fail("u3", apiErr(403, "Forbidden: user is deactivated"))

	res, err := env.engine.Run(context.Background(), textRequest(ids("u", 4)...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.LogAttached || len(env.bot.docs) != 1 {
		t.Fatalf("LogAttached=%v docs=%d", res.LogAttached, len(env.bot.docs))
	}
	doc := env.bot.docs[0]
	if !strings.HasPrefix(doc, failureLogHeader) {
		t.Fatalf("doc header=%q", doc)
	}
	for _, want := range []string{"u2 | Other: connection reset by peer\n", "u3 | Deleted\n"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("doc missing %q:\n%s", want, doc)
		}
	}
	assertNoArtifacts(t, env.dir)
}

func TestRunDirectoryPages(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{pages: [][]string{ids("a", 10), ids("b", 10), ids("c", 5)}}
	for _, size := range []int{3, 10, 20} {
		env := newTestEnv(t, Config{}, dir)
		req := textRequest()
		req.Source = directory.Lookup("vip")
		req.Batching.Size = size

		res, err := env.engine.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("batch size %d: Run: %v", size, err)
		}
		if res.Total != 25 || res.Success != 25 || res.Pages != 3 {
			t.Fatalf("batch size %d: result=%+v", size, res)
		}
		if n := env.bot.totalSends(); n != 25 {
			t.Fatalf("batch size %d: sends=%d", size, n)
		}
	}
}

func TestRunDirectorySuccessIsCumulative(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{pages: [][]string{ids("a", 10), ids("b", 10), ids("c", 5)}}
	env := newTestEnv(t, Config{}, dir)
	env.bot.fail("b1", apiErr(403, "Forbidden: bot was blocked by the user"))
	req := textRequest()
	req.Source = directory.Lookup("vip")

	res, err := env.engine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success != 24 || res.Success+res.Breakdown.Total() != res.Total {
		t.Fatalf("result=%+v", res)
	}
	final := env.bot.edits[len(env.bot.edits)-1]
	if !strings.Contains(final, "Successfully Sent: 24") || !strings.Contains(final, "Total Users: 25") {
		t.Fatalf("final=%q", final)
	}
}

func TestRunDirectoryEmptyPageDoesNotStopPaging(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{pages: [][]string{ids("a", 10), {}, ids("c", 5)}}
	env := newTestEnv(t, Config{}, dir)
	req := textRequest()
	req.Source = directory.Lookup("vip")

	res, err := env.engine.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 15 || res.Success != 15 {
		t.Fatalf("result=%+v", res)
	}
	if n := env.bot.totalSends(); n != 15 {
		t.Fatalf("sends=%d", n)
	}
	if got := fmt.Sprint(dir.fetched); got != "[1 2 3]" {
		t.Fatalf("fetched pages=%s", got)
	}
}

// growingDirectory always claims one more page than the one requested.
type growingDirectory struct{ fetched int }

func (d *growingDirectory) FetchPage(_ context.Context, _ string, page int) (directory.Page, error) {
	d.fetched++
	return directory.Page{IDs: []string{fmt.Sprintf("g%d", page)}, TotalUsers: page + 1, TotalPages: page + 1}, nil
}

func (d *growingDirectory) Close() error { return nil }

func TestRunDirectoryPagingIsBounded(t *testing.T) {
	t.Parallel()

	dir := &growingDirectory{}
	env := newTestEnv(t, Config{}, dir)
	req := textRequest()
	req.Source = directory.Lookup("vip")

	if _, err := env.engine.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := 2 + maxExtraPages; dir.fetched != want {
		t.Fatalf("fetched %d pages, want %d", dir.fetched, want)
	}
	if n := env.bot.totalSends(); n != dir.fetched {
		t.Fatalf("sends=%d fetched=%d", n, dir.fetched)
	}
}

func TestRunTotalsInvariant(t *testing.T) {
	t.Parallel()

	outcomes := []error{
		nil,
		apiErr(400, "Bad Request: chat not found"),
		apiErr(403, "Forbidden: bot was blocked by the user"),
		apiErr(403, "Forbidden: user is deactivated"),
		errors.New("EOF"),
		rateLimited(time.Second),
	}
	for _, policy := range []Policy{PolicyParallel, PolicySequential} {
		env := newTestEnv(t, Config{Batching: Batching{Policy: policy, Size: 7, ParallelLimit: 2, Delay: time.Second}}, nil)
		recipients := ids("u", 97)
		for i, id := range recipients {
			if err := outcomes[i%len(outcomes)]; err != nil {
				env.bot.fail(transport.Recipient(id), err)
			}
		}
		res, err := env.engine.Run(context.Background(), textRequest(recipients...))
		if err != nil {
			t.Fatalf("%s: Run: %v", policy, err)
		}
		if res.Success+res.Breakdown.Total() != 97 || res.Total != 97 {
			t.Fatalf("%s: result=%+v", policy, res)
		}
		// Rate-limited recipients end up delivered.
		wantSuccess := 0
		for i := range recipients {
			if j := i % len(outcomes); j == 0 || j == 5 {
				wantSuccess++
			}
		}
		if res.Success != wantSuccess {
			t.Fatalf("%s: success=%d want %d", policy, res.Success, wantSuccess)
		}
	}
}

func TestRunValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Request){
		"token":        func(r *Request) { r.Token = "" },
		"admin":        func(r *Request) { r.Admin = "" },
		"recipients":   func(r *Request) { r.Source = directory.Source{} },
		"kind":         func(r *Request) { r.Payload.Kind = "" },
		"both":         func(r *Request) { r.Source.Key = "vip" },
		"batch size":   func(r *Request) { r.Batching.Size = -1 },
		"button":       func(r *Request) { r.Options.Buttons = [][]transport.Button{{{Text: "go"}}} },
		"bad token":    func(r *Request) { r.Token = "bad" },
		"no directory": func(r *Request) { r.Source = directory.Lookup("vip") },
	}
	for name, mutate := range cases {
		env := newTestEnv(t, Config{}, nil)
		req := textRequest("u1")
		mutate(&req)
		_, err := env.engine.Run(context.Background(), req)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: err=%v want *ValidationError", name, err)
		}
		if env.bot.totalSends() != 0 || len(env.bot.status) != 0 {
			t.Fatalf("%s: traffic generated for an invalid request", name)
		}
	}
}

func TestRunAbortsWhenSinkFails(t *testing.T) {
	t.Parallel()

	t.Run("announce", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Config{}, nil)
		env.bot.adminErr = apiErr(400, "Bad Request: chat not found")

		res, err := env.engine.Run(context.Background(), textRequest("u1", "u2"))
		var ie *InfrastructureError
		if !errors.As(err, &ie) || ie.Stage != StateAnnounced {
			t.Fatalf("err=%v", err)
		}
		if res == nil || res.State != StateAborted {
			t.Fatalf("result=%+v", res)
		}
		if env.bot.totalSends() != 0 {
			t.Fatalf("recipients contacted after a failed announcement")
		}
		assertNoArtifacts(t, env.dir)
	})

	t.Run("progress", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Config{}, nil)
		env.bot.editErr = errors.New("dial tcp: network is unreachable")

		_, err := env.engine.Run(context.Background(), textRequest(ids("u", 5)...))
		var ie *InfrastructureError
		if !errors.As(err, &ie) || ie.Stage != StateDispatching {
			t.Fatalf("err=%v", err)
		}
		if !IsInfrastructure(err) {
			t.Fatalf("IsInfrastructure=false")
		}
		assertNoArtifacts(t, env.dir)
	})

	t.Run("directory", func(t *testing.T) {
		t.Parallel()
		dir := &fakeDirectory{pages: [][]string{ids("a", 3), ids("b", 3)}, err: errors.New("directory down"), errPage: 2}
		env := newTestEnv(t, Config{}, dir)
		req := textRequest()
		req.Source = directory.Lookup("vip")

		res, err := env.engine.Run(context.Background(), req)
		var ie *InfrastructureError
		if !errors.As(err, &ie) || ie.Stage != StateDispatching {
			t.Fatalf("err=%v", err)
		}
		if res.Success != 3 {
			t.Fatalf("first page should have been delivered: %+v", res)
		}
		last := env.bot.edits[len(env.bot.edits)-1]
		if !strings.HasPrefix(last, "⛔ Broadcast Aborted:") {
			t.Fatalf("abort notice=%q", last)
		}
		assertNoArtifacts(t, env.dir)
	})
}

func TestRunRetriesRateLimitedStatusEdits(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	calls := 0
	bot := &editLimitedBot{fakeBot: env.bot, limited: 2, calls: &calls}
	env.engine.bots = func(string) (transport.Messenger, error) { return bot, nil }

	res, err := env.engine.Run(context.Background(), textRequest("u1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success != 1 || calls < 3 {
		t.Fatalf("result=%+v edit calls=%d", res, calls)
	}
}

// editLimitedBot answers the first `limited` edits with 429.
type editLimitedBot struct {
	*fakeBot
	limited int
	calls   *int
}

func (b *editLimitedBot) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	*b.calls++
	if *b.calls <= b.limited {
		return rateLimited(time.Second)
	}
	return b.fakeBot.EditText(ctx, ref, text, opt)
}

func TestRunParseModeDefault(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{DefaultParseMode: "Markdown"}, nil)
	var seen []string
	bot := &optsRecorder{fakeBot: env.bot, seen: &seen}
	env.engine.bots = func(string) (transport.Messenger, error) { return bot, nil }

	req := textRequest("u1")
	if _, err := env.engine.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	req.Options.ParseMode = "none"
	if _, err := env.engine.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fmt.Sprint(seen) != "[Markdown ]" {
		t.Fatalf("parse modes=%q", seen)
	}
}

type optsRecorder struct {
	*fakeBot
	seen *[]string
}

func (b *optsRecorder) Send(ctx context.Context, to transport.Recipient, p transport.Payload, opt *transport.SendOptions) (transport.MessageRef, error) {
	if to != testAdmin {
		b.fakeBot.mu.Lock()
		*b.seen = append(*b.seen, opt.ParseMode)
		b.fakeBot.mu.Unlock()
	}
	return b.fakeBot.Send(ctx, to, p, opt)
}
