package broadcast

import (
	"context"
	"fmt"

	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// Deliver sends p to one recipient and records the terminal outcome in run.
//
// Rate-limited attempts are retried after the server-supplied delay, without
// a retry cap and without affecting other recipients. Every other failure is
// classified and counted once. Deliver never panics and never returns an
// error; it reports whether the recipient received the message.
func (e *Engine) Deliver(ctx context.Context, run *RunState, to transport.Recipient, p transport.Payload, opts *transport.SendOptions) (ok bool) {
	recorded := false
	defer func() {
		if r := recover(); r != nil {
			run.log.Error("delivery panic", logx.String("to", string(to)), logx.Any("panic", r))
			if !recorded {
				e.fail(run, to, Verdict{Category: CategoryOther, Reason: fmt.Sprintf("panic: %v", r)})
			}
			ok = false
		}
	}()

	if err := p.Validate(); err != nil {
		recorded = true
		e.fail(run, to, Classify(err))
		return false
	}
	if opts == nil {
		opts = &transport.SendOptions{}
	}
	_, lim := e.config()

	for attempt := 1; ; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				recorded = true
				e.fail(run, to, Classify(ctxErr(ctx, err)))
				return false
			}
		}
		if err := ctx.Err(); err != nil {
			recorded = true
			e.fail(run, to, Classify(err))
			return false
		}

		ref, err := run.bot.Send(ctx, to, p, opts)
		if err == nil {
			recorded = true
			run.recordSuccess()
			e.metrics.Delivery("success")
			if opts.Pin {
				e.pin(ctx, run, ref)
			}
			return true
		}

		v := Classify(err)
		if !v.Retry {
			recorded = true
			e.fail(run, to, v)
			return false
		}
		e.metrics.RateLimited()
		run.log.Debug("rate limited, retrying",
			logx.String("to", string(to)),
			logx.Int("attempt", attempt),
			logx.Duration("retry_after", v.RetryAfter),
		)
		if err := e.sleep(ctx, v.RetryAfter); err != nil {
			recorded = true
			e.fail(run, to, Classify(ctxErr(ctx, err)))
			return false
		}
	}
}

// pin is best-effort: errors and panics are logged and dropped.
func (e *Engine) pin(ctx context.Context, run *RunState, ref transport.MessageRef) {
	defer func() {
		if r := recover(); r != nil {
			run.log.Debug("pin panic", logx.Any("panic", r))
		}
	}()
	if err := run.bot.Pin(ctx, ref); err != nil {
		run.log.Debug("pin failed", logx.String("to", string(ref.Chat)), logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}

func (e *Engine) fail(run *RunState, to transport.Recipient, v Verdict) {
	run.recordFailure(to, v)
	e.metrics.Delivery(string(v.Category))
	if v.Category == CategoryOther {
		run.log.Warn("delivery failed", logx.String("to", string(to)), logx.String("reason", v.Reason))
		return
	}
	run.log.Debug("delivery failed", logx.String("to", string(to)), logx.String("category", string(v.Category)))
}

// ctxErr prefers the context's own error over a wrapper (rate.Limiter.Wait
// reports deadline problems in its own words).
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
