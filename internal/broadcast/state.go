package broadcast

import (
	"sync"
	"time"

	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// RunState is owned by one run. Deliveries write to it concurrently; all
// mutations go through mu.
type RunState struct {
	ID    string
	bot   transport.Messenger
	admin transport.Recipient
	log   logx.Logger
	now   func() time.Time

	// status is written once when the run is announced.
	status  transport.MessageRef
	started time.Time
	failLog *FailureLog

	mu         sync.Mutex
	state      State
	declared   int
	processed  int
	success    int
	breakdown  Breakdown
	completed  int
	batches    int
	page       int
	totalPages int
}

func newRunState(id string, bot transport.Messenger, admin transport.Recipient, log logx.Logger, now func() time.Time) *RunState {
	if now == nil {
		now = time.Now
	}
	return &RunState{
		ID:      id,
		bot:     bot,
		admin:   admin,
		log:     log,
		now:     now,
		started: now(),
		state:   StateIntake,
	}
}

func (r *RunState) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	r.log.Debug("run state changed", logx.String("from", string(prev)), logx.String("to", string(s)))
}

func (r *RunState) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *RunState) recordSuccess() {
	r.mu.Lock()
	r.success++
	r.mu.Unlock()
}

// recordFailure counts a terminal failure once and appends it to the failure log.
func (r *RunState) recordFailure(to transport.Recipient, v Verdict) {
	r.mu.Lock()
	r.breakdown.add(v.Category)
	fl := r.failLog
	r.mu.Unlock()

	if fl != nil {
		if err := fl.Append(string(to), v.LogReason()); err != nil {
			r.log.Warn("failure log append failed", logx.String("to", string(to)), logx.Err(err))
		}
	}
}

// beginPage registers the recipients of one directory page (or the whole
// static list) and re-estimates the total number of batches.
func (r *RunState) beginPage(page, totalPages, declared, recipients, batches, batchSize int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = page
	r.totalPages = totalPages
	if declared > r.declared {
		r.declared = declared
	}
	r.processed += recipients
	remaining := r.declared - r.processed
	est := 0
	if remaining > 0 && batchSize > 0 {
		est = (remaining + batchSize - 1) / batchSize
	}
	r.batches = r.completed + batches + est
}

func (r *RunState) batchesDone(n int) {
	r.mu.Lock()
	r.completed += n
	if r.completed > r.batches {
		r.batches = r.completed
	}
	r.mu.Unlock()
}

// ProgressReport is a point-in-time view of a run.
type ProgressReport struct {
	CompletedBatches int
	TotalBatches     int
	TotalRecipients  int
	SuccessCount     int
	Breakdown        Breakdown
	Elapsed          time.Duration
	Page             int
	TotalPages       int
}

// Snapshot is a pure read of the run counters.
func (r *RunState) Snapshot() ProgressReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.declared
	if r.processed > total {
		total = r.processed
	}
	return ProgressReport{
		CompletedBatches: r.completed,
		TotalBatches:     r.batches,
		TotalRecipients:  total,
		SuccessCount:     r.success,
		Breakdown:        r.breakdown,
		Elapsed:          r.now().Sub(r.started),
		Page:             r.page,
		TotalPages:       r.totalPages,
	}
}

func (r *RunState) processedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed
}

// settle fixes the total to what was actually dispatched once no more pages follow.
func (r *RunState) settle() {
	r.mu.Lock()
	r.declared = r.processed
	r.batches = r.completed
	r.mu.Unlock()
}

func (r *RunState) result(state State, attached bool) *Result {
	p := r.Snapshot()
	return &Result{
		RunID:       r.ID,
		State:       state,
		Total:       r.processedCount(),
		Success:     p.SuccessCount,
		Breakdown:   p.Breakdown,
		Batches:     p.CompletedBatches,
		Pages:       p.Page,
		Elapsed:     p.Elapsed,
		ElapsedText: formatElapsed(p.Elapsed),
		LogAttached: attached,
	}
}
