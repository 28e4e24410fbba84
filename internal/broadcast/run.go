package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// sinkAttempts bounds retries of operator-chat calls that hit the rate limit.
const sinkAttempts = 5

// Run executes one broadcast end to end:
// intake, announced, dispatching, reporting, done (or aborted).
//
// A *ValidationError means nothing was sent. An *InfrastructureError means
// the run was aborted; the partial Result is returned alongside it.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	cfg, _ := e.config()

	// intake
	if err := req.Validate(); err != nil {
		e.metrics.Rejected()
		return nil, err
	}
	lookup := req.Source.IsLookup()
	if lookup && e.dir == nil {
		e.metrics.Rejected()
		return nil, invalidf("directory_key", "directory lookup is not configured")
	}
	bot, err := e.bots(req.Token)
	if err != nil {
		e.metrics.Rejected()
		return nil, invalidf("bot_token", "%v", err)
	}

	batching := req.Batching.apply(cfg.Batching).normalized()
	opts := req.Options
	opts.ParseMode = e.parseMode(opts.ParseMode, cfg)

	runID := e.newID()
	log := e.log.With(logx.String("run", runID))
	run := newRunState(runID, bot, req.Admin, log, e.now)

	e.metrics.RunStarted()
	defer func() {
		e.metrics.RunFinished(string(run.State()), e.now().Sub(run.started))
	}()

	log.Info("broadcast accepted",
		logx.String("origin", req.Origin),
		logx.String("kind", string(req.Payload.Kind)),
		logx.Bool("lookup", lookup),
		logx.String("policy", string(batching.Policy)),
		logx.Int("batch_size", batching.Size),
	)

	first := pageOf(req.Source.IDs)
	if lookup {
		first, err = e.fetchPage(ctx, req.Source.Key, 1)
		if err != nil {
			return e.abort(run, nil, StateIntake, "fetch directory page 1", err)
		}
	}

	// announced
	run.setState(StateAnnounced)
	fl, err := CreateFailureLog(cfg.ArtifactDir, runID)
	if err != nil {
		return e.abort(run, nil, StateAnnounced, "create failure log", err)
	}
	defer func() {
		if err := fl.Remove(); err != nil {
			log.Warn("failure log cleanup failed", logx.String("path", fl.Path()), logx.Err(err))
		}
	}()
	run.mu.Lock()
	run.failLog = fl
	run.mu.Unlock()

	declared := max(first.TotalUsers, len(first.IDs))
	var ref transport.MessageRef
	err = e.sink(ctx, func() error {
		var err error
		ref, err = bot.Send(ctx, req.Admin, transport.Payload{Kind: transport.KindText, Text: initialText(declared)}, &transport.SendOptions{DisablePreview: true})
		return err
	})
	if err != nil {
		return e.abort(run, fl, StateAnnounced, "post initial status", err)
	}
	run.status = ref

	// dispatching
	run.setState(StateDispatching)
	onUnit := func() error {
		text := run.Snapshot().StatusText()
		return e.sink(ctx, func() error { return bot.EditText(ctx, run.status, text, nil) })
	}
	totalPages := max(first.TotalPages, 1)
	// A directory that keeps growing mid-run may raise TotalPages; bound the
	// walk so it cannot page forever.
	pageLimit := totalPages + maxExtraPages
	page := first
	for n := 1; ; n++ {
		if n > 1 {
			page, err = e.fetchPage(ctx, req.Source.Key, n)
			if err != nil {
				return e.abort(run, fl, StateDispatching, fmt.Sprintf("fetch directory page %d", n), err)
			}
			totalPages = min(max(totalPages, page.TotalPages), pageLimit)
		}
		recipients := page.IDs
		batches := Partition(recipients, batching.Size)
		run.beginPage(n, totalPages, page.TotalUsers, len(recipients), len(batches), batching.Size)
		log.Debug("dispatching page", logx.Int("page", n), logx.Int("pages", totalPages), logx.Int("recipients", len(recipients)), logx.Int("batches", len(batches)))

		if _, err := e.RunAllBatches(ctx, run, batches, req.Payload, &opts, batching, onUnit); err != nil {
			return e.abort(run, fl, StateDispatching, "update status", err)
		}
		// Empty pages do not end the walk; TotalPages alone decides.
		if !lookup || n >= totalPages {
			break
		}
	}

	// reporting
	run.setState(StateReporting)
	run.settle()
	rep := run.Snapshot()
	if err := e.sink(ctx, func() error { return bot.EditText(ctx, run.status, rep.FinalText(), nil) }); err != nil {
		return e.abort(run, fl, StateReporting, "post final report", err)
	}
	attached := false
	if rep.Breakdown.Other > 0 {
		if err := e.uploadLog(ctx, run, fl, rep); err != nil {
			return e.abort(run, fl, StateReporting, "upload failure log", err)
		}
		attached = true
	}
	if err := fl.Remove(); err != nil {
		log.Warn("failure log cleanup failed", logx.String("path", fl.Path()), logx.Err(err))
	}

	run.setState(StateDone)
	res := run.result(StateDone, attached)
	log.Info("broadcast finished",
		logx.Int("total", res.Total),
		logx.Int("success", res.Success),
		logx.Int("blocked", res.Breakdown.Blocked),
		logx.Int("deleted", res.Breakdown.Deleted),
		logx.Int("invalid", res.Breakdown.Invalid),
		logx.Int("other", res.Breakdown.Other),
		logx.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func pageOf(ids []string) directoryPage {
	return directoryPage{IDs: toRecipients(ids), TotalUsers: len(ids), TotalPages: 1}
}

// directoryPage is a directory.Page with recipients already converted.
type directoryPage struct {
	IDs        []transport.Recipient
	TotalUsers int
	TotalPages int
}

func (e *Engine) fetchPage(ctx context.Context, key string, n int) (directoryPage, error) {
	p, err := e.dir.FetchPage(ctx, key, n)
	if err != nil {
		return directoryPage{}, err
	}
	return directoryPage{IDs: toRecipients(p.IDs), TotalUsers: p.TotalUsers, TotalPages: p.TotalPages}, nil
}

func toRecipients(ids []string) []transport.Recipient {
	out := make([]transport.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, transport.Recipient(strings.TrimSpace(id)))
	}
	return out
}

// sink calls the operator chat, waiting out rate limits a few times.
func (e *Engine) sink(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		v := Classify(err)
		if !v.Retry || attempt >= sinkAttempts {
			return err
		}
		if serr := e.sleep(ctx, v.RetryAfter); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

func (e *Engine) uploadLog(ctx context.Context, run *RunState, fl *FailureLog, rep ProgressReport) error {
	f, err := fl.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	caption := fmt.Sprintf("Broadcast failures: %s other, %s total", num(rep.Breakdown.Other), num(rep.Breakdown.Total()))
	return e.sink(ctx, func() error {
		if _, err := f.Seek(0, 0); err != nil {
			return err
		}
		_, err := run.bot.SendDocument(ctx, run.admin, transport.Document{
			Name:    "broadcast_failures_" + run.ID + ".txt",
			Caption: caption,
			Reader:  f,
		})
		return err
	})
}

// abort ends the run in StateAborted. The status message, when one was
// posted, is edited best-effort; the failure log is removed regardless.
func (e *Engine) abort(run *RunState, fl *FailureLog, stage State, op string, cause error) (*Result, error) {
	ierr := &InfrastructureError{Stage: stage, Op: op, Err: cause}
	run.setState(StateAborted)
	run.log.Error("broadcast aborted", logx.String("stage", string(stage)), logx.String("op", op), logx.Err(cause))

	if run.status.MessageID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := run.bot.EditText(ctx, run.status, abortedText(run.Snapshot(), ierr), nil); err != nil {
			run.log.Debug("abort notice failed", logx.Err(err))
		}
		cancel()
	}
	if fl != nil {
		if err := fl.Remove(); err != nil {
			run.log.Warn("failure log cleanup failed", logx.String("path", fl.Path()), logx.Err(err))
		}
	}
	return run.result(StateAborted, false), ierr
}
