package broadcast

import (
	"strings"
	"time"

	"castbot/internal/directory"
	"castbot/internal/transport"
)

// Category is a terminal failure class.
type Category string

const (
	CategoryBlocked Category = "blocked"
	CategoryDeleted Category = "deleted"
	CategoryInvalid Category = "invalid"
	CategoryOther   Category = "other"
)

// Label is the operator-facing name used in reports and the failure log.
func (c Category) Label() string {
	switch c {
	case CategoryBlocked:
		return "Blocked"
	case CategoryDeleted:
		return "Deleted"
	case CategoryInvalid:
		return "Invalid ID"
	default:
		return "Other"
	}
}

// Breakdown counts failures per category. Counters only grow during a run.
type Breakdown struct {
	Blocked int `json:"blocked"`
	Deleted int `json:"deleted"`
	Invalid int `json:"invalid"`
	Other   int `json:"other"`
}

func (b *Breakdown) add(c Category) {
	switch c {
	case CategoryBlocked:
		b.Blocked++
	case CategoryDeleted:
		b.Deleted++
	case CategoryInvalid:
		b.Invalid++
	default:
		b.Other++
	}
}

func (b Breakdown) Get(c Category) int {
	switch c {
	case CategoryBlocked:
		return b.Blocked
	case CategoryDeleted:
		return b.Deleted
	case CategoryInvalid:
		return b.Invalid
	default:
		return b.Other
	}
}

func (b Breakdown) Total() int { return b.Blocked + b.Deleted + b.Invalid + b.Other }

// Policy selects how batches advance.
type Policy string

const (
	// PolicyParallel keeps up to ParallelLimit batches in flight.
	PolicyParallel Policy = "parallel"
	// PolicySequential runs one batch at a time with Delay between batches.
	PolicySequential Policy = "sequential"
)

func ParsePolicy(s string) (Policy, bool) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyParallel:
		return PolicyParallel, true
	case PolicySequential:
		return PolicySequential, true
	}
	return "", false
}

const (
	DefaultBatchSize     = 20
	DefaultParallelLimit = 5
	DefaultBatchDelay    = time.Second
	// DefaultRetryAfter applies when a 429 response carries no retry hint.
	DefaultRetryAfter = time.Second
)

// maxExtraPages is how far past page 1's TotalPages a run may follow a
// directory that grows while it is being walked.
const maxExtraPages = 10

// Batching is the effective batching configuration of one run.
type Batching struct {
	Policy        Policy
	Size          int
	ParallelLimit int
	Delay         time.Duration
}

func (b Batching) normalized() Batching {
	if p, ok := ParsePolicy(string(b.Policy)); ok {
		b.Policy = p
	} else {
		b.Policy = PolicyParallel
	}
	if b.Size <= 0 {
		b.Size = DefaultBatchSize
	}
	if b.ParallelLimit <= 0 {
		b.ParallelLimit = DefaultParallelLimit
	}
	if b.Delay < 0 {
		b.Delay = 0
	}
	return b
}

// BatchingOverrides are per-request values; zero keeps the configured default.
// The policy itself is not overridable.
type BatchingOverrides struct {
	Size          int
	ParallelLimit int
	Delay         time.Duration
	// DelaySet distinguishes an explicit zero delay from "not set".
	DelaySet bool
}

func (o BatchingOverrides) apply(b Batching) Batching {
	if o.Size > 0 {
		b.Size = o.Size
	}
	if o.ParallelLimit > 0 {
		b.ParallelLimit = o.ParallelLimit
	}
	if o.DelaySet || o.Delay > 0 {
		b.Delay = o.Delay
	}
	return b
}

// Request is one validated broadcast.
type Request struct {
	Token    string
	Admin    transport.Recipient
	Source   directory.Source
	Payload  transport.Payload
	Options  transport.SendOptions
	Batching BatchingOverrides
	// Origin names what triggered the run (http, cli, schedule:<name>); logging only.
	Origin string
}

// State is a run orchestrator state.
type State string

const (
	StateIntake      State = "intake"
	StateAnnounced   State = "announced"
	StateDispatching State = "dispatching"
	StateReporting   State = "reporting"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// Result summarizes a finished run.
type Result struct {
	RunID       string        `json:"run_id"`
	State       State         `json:"state"`
	Total       int           `json:"total_users"`
	Success     int           `json:"success"`
	Breakdown   Breakdown     `json:"breakdown"`
	Batches     int           `json:"batches"`
	Pages       int           `json:"pages"`
	Elapsed     time.Duration `json:"-"`
	ElapsedText string        `json:"elapsed"`
	LogAttached bool          `json:"log_attached"`
}
