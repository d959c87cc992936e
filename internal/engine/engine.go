// Package engine implements the reset orchestration: roster fan-out
// through a bounded worker pool, per-resource mutation with failure
// isolation, and a consolidated run result.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostops/bwcarry/internal/auditlog"
	"github.com/hostops/bwcarry/internal/config"
	"github.com/hostops/bwcarry/internal/logging"
	"github.com/hostops/bwcarry/internal/metrics"
	"github.com/hostops/bwcarry/internal/panel"
	"github.com/hostops/bwcarry/internal/planner"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Engine coordinates the fetch → plan → mutate workflow.
type Engine struct {
	client    *panel.Client
	executor  *Executor
	workers   int
	maxRetry  int
	backoffMs int
	log       *slog.Logger
}

// New creates an engine from configuration. The overuse policy must
// already be validated by the caller.
func New(cfg config.EngineConfig, client *panel.Client, audit *auditlog.Log, policy planner.OverusePolicy) *Engine {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	maxRetry := cfg.RetryAttempts
	if maxRetry < 1 {
		maxRetry = 1
	}
	backoffMs := cfg.RetryBackoffMs
	if backoffMs < 100 {
		backoffMs = 1000
	}

	return &Engine{
		client:    client,
		executor:  NewExecutor(client, audit, policy, cfg.DryRun),
		workers:   workers,
		maxRetry:  maxRetry,
		backoffMs: backoffMs,
		log:       logging.Component("engine"),
	}
}

// RunAll fetches the full roster and drives every resource through
// the executor. A roster fetch failure is fatal for the run; any
// per-resource failure only marks the run result unsuccessful.
func (e *Engine) RunAll(ctx context.Context) (*RunResult, error) {
	roster, err := e.client.FetchRoster(ctx)
	if err != nil {
		return nil, err
	}

	if m := metrics.Get(); m != nil {
		m.SetRosterSize(float64(len(roster)))
	}

	return e.run(ctx, "all", itemsFromRoster(roster)), nil
}

// RunOne looks up a single resource and processes just that one.
// A missing id is a terminal, non-fatal failure of the invocation.
func (e *Engine) RunOne(ctx context.Context, vpsID string) (*RunResult, error) {
	snap, err := e.client.LookupVPS(ctx, vpsID)
	if err != nil {
		return nil, err
	}

	return e.run(ctx, "single", []WorkItem{itemFromSnapshot(snap)}), nil
}

// ListRoster returns the roster snapshots sorted by id, for the
// read-only diagnostic mode.
func (e *Engine) ListRoster(ctx context.Context) ([]panel.Snapshot, error) {
	roster, err := e.client.FetchRoster(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]panel.Snapshot, 0, len(roster))
	for _, snap := range roster {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// run drains the work items through the bounded worker pool and
// finalizes the run result once every item has produced exactly one
// outcome.
func (e *Engine) run(ctx context.Context, mode string, items []WorkItem) *RunResult {
	result := &RunResult{
		RunID:   uuid.New().String(),
		Started: time.Now(),
	}

	e.log.Info("starting run",
		"run_id", result.RunID,
		"mode", mode,
		"resources", len(items),
		"workers", e.workers,
	)

	workQueue := make(chan ResourceTask, e.workers*2)
	results := make(chan ResourceResult, e.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go e.workerLoop(ctx, i, workQueue, results, &wg)
	}

	// Dispatcher
	go func() {
		defer close(workQueue)
		for _, item := range items {
			task := ResourceTask{Item: item, Attempt: 0, MaxRetry: e.maxRetry}
			select {
			case <-ctx.Done():
				return
			case workQueue <- task:
			}
			if m := metrics.Get(); m != nil {
				m.SetQueueDepth(float64(len(workQueue)))
			}
		}
	}()

	// Close results when workers finish
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collector: one outcome per work item, no ordering requirement.
	for res := range results {
		result.Processed++

		switch res.Outcome {
		case OutcomeChanged:
			result.Changed++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
		}

		if m := metrics.Get(); m != nil {
			m.IncProcessed(mode)
			switch res.Outcome {
			case OutcomeChanged:
				m.IncChanged(mode)
			case OutcomeSkipped:
				m.IncSkipped(mode)
			case OutcomeFailed:
				m.IncFailed(mode)
			}
		}
	}

	result.Finished = time.Now()
	result.Success = result.Failed == 0

	elapsed := result.Finished.Sub(result.Started)
	e.log.Info("run complete",
		"run_id", result.RunID,
		"processed", result.Processed,
		"changed", result.Changed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"success", result.Success,
		"duration", elapsed.String(),
	)

	if m := metrics.Get(); m != nil {
		m.ObserveRunDuration(elapsed.Seconds())
		m.SetLastRunSuccess(result.Success)
	}

	return result
}

// workerLoop processes tasks until the queue closes. Each task runs to
// completion (reset, validate, update, validate, log) before the next
// is taken.
func (e *Engine) workerLoop(ctx context.Context, workerID int, tasks <-chan ResourceTask, results chan<- ResourceResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for task := range tasks {
		select {
		case <-ctx.Done():
			results <- ResourceResult{
				Task:    task,
				Outcome: OutcomeFailed,
				Err:     ctx.Err(),
			}
			continue
		default:
		}

		results <- e.processTask(ctx, workerID, task)
	}
}

// processTask runs one resource through the executor, retrying the
// whole item with exponential backoff when retries are configured.
// Retrying after a partial mutation is safe: the reset is idempotent
// and the new limit was computed from the original snapshot.
func (e *Engine) processTask(ctx context.Context, workerID int, task ResourceTask) ResourceResult {
	correlationID := logging.GenerateCorrelationID()
	log := logging.WorkerLogger(workerID).With(
		"correlation_id", correlationID,
		"vpsid", task.Item.VPSID,
	)

	outcome, decision, record, err := e.executor.Process(ctx, log, task.Item)

	if outcome == OutcomeFailed && err != nil && ctx.Err() == nil && task.Attempt < task.MaxRetry-1 {
		log.Warn("resource failed, retrying", "attempt", task.Attempt+1, "error", err)

		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts()
		}

		backoff := time.Duration(e.backoffMs*(1<<task.Attempt)) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ResourceResult{Task: task, Decision: decision, Outcome: OutcomeFailed, Err: ctx.Err()}
		}

		task.Attempt++
		return e.processTask(ctx, workerID, task)
	}

	return ResourceResult{
		Task:     task,
		Decision: decision,
		Outcome:  outcome,
		Record:   record,
		Err:      err,
	}
}

// itemsFromRoster converts the read-only roster into queued work items.
func itemsFromRoster(roster map[string]panel.Snapshot) []WorkItem {
	ids := make([]string, 0, len(roster))
	for id := range roster {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]WorkItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, itemFromSnapshot(roster[id]))
	}
	return items
}

func itemFromSnapshot(snap panel.Snapshot) WorkItem {
	return WorkItem{
		VPSID:         snap.ID,
		Bandwidth:     snap.Bandwidth,
		UsedBandwidth: snap.UsedBandwidth,
		PlanID:        snap.PlanID,
	}
}
