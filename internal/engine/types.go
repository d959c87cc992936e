package engine

import (
	"time"

	"github.com/hostops/bwcarry/internal/auditlog"
	"github.com/hostops/bwcarry/internal/planner"
)

// WorkItem is one resource's quota triple, extracted from its roster
// snapshot. Immutable once queued; owned exclusively by the worker
// processing it.
type WorkItem struct {
	VPSID         string
	Bandwidth     int64
	UsedBandwidth int64
	PlanID        string
}

// ResourceTask is sent to workers for processing.
type ResourceTask struct {
	Item     WorkItem
	Attempt  int // retry count
	MaxRetry int // max attempts before failure
}

// Outcome classifies a processed resource.
type Outcome int

const (
	// OutcomeChanged: both mutations completed; an audit record exists.
	OutcomeChanged Outcome = iota
	// OutcomeReset: usage was reset but the quota was left untouched
	// (unlimited plans).
	OutcomeReset
	// OutcomeSkipped: no remote calls were made (skip policy, dry run).
	OutcomeSkipped
	// OutcomeFailed: the resource's processing aborted on an error.
	OutcomeFailed
)

// ResourceResult is returned from workers to the collector: exactly
// one per queued work item.
type ResourceResult struct {
	Task     ResourceTask
	Decision planner.Decision
	Outcome  Outcome
	Record   *auditlog.ChangeRecord // non-nil only for OutcomeChanged
	Err      error                  // non-nil only for OutcomeFailed
}

// RunResult is the aggregate outcome of one invocation.
type RunResult struct {
	RunID     string
	Processed int // all resources driven through the engine
	Changed   int // quota rewritten and audit record emitted
	Skipped   int // no remote calls made
	Failed    int
	Success   bool // false if any resource failed
	Started   time.Time
	Finished  time.Time
}
