package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostops/bwcarry/internal/auditlog"
	"github.com/hostops/bwcarry/internal/panel"
	"github.com/hostops/bwcarry/internal/planner"
)

// Executor drives the two-step remote mutation for one resource:
// reset usage, validate, then update the quota carrying the unchanged
// plan id, validate again. Exactly one ChangeRecord is emitted per
// resource that completes both steps.
type Executor struct {
	client *panel.Client
	audit  *auditlog.Log
	policy planner.OverusePolicy
	dryRun bool
}

// NewExecutor creates a mutation executor.
func NewExecutor(client *panel.Client, audit *auditlog.Log, policy planner.OverusePolicy, dryRun bool) *Executor {
	return &Executor{
		client: client,
		audit:  audit,
		policy: policy,
		dryRun: dryRun,
	}
}

// Process plans and applies the carry-over for one work item. Errors
// are returned in the result, never propagated to the run: one
// resource's failure must not abort another's processing.
func (e *Executor) Process(ctx context.Context, log *slog.Logger, item WorkItem) (Outcome, planner.Decision, *auditlog.ChangeRecord, error) {
	d := planner.Plan(item.Bandwidth, item.UsedBandwidth, e.policy)

	log = log.With(
		"decision", d.Kind.String(),
		"bandwidth", item.Bandwidth,
		"used", item.UsedBandwidth,
	)

	if !d.ResetUsage {
		log.Info("resource skipped")
		return OutcomeSkipped, d, nil, nil
	}

	if e.dryRun {
		if d.UpdateQuota {
			log.Info("dry run: would reset usage and update quota", "new_limit", d.NewLimit)
		} else {
			log.Info("dry run: would reset usage only")
		}
		return OutcomeSkipped, d, nil, nil
	}

	if err := e.client.ResetBandwidth(ctx, item.VPSID); err != nil {
		log.Error("usage reset failed", "error", err)
		return OutcomeFailed, d, nil, fmt.Errorf("reset usage: %w", err)
	}

	if !d.UpdateQuota {
		// Unlimited plan: the quota is never rewritten. This is the
		// idempotency guard that keeps unlimited resources a no-op on
		// the quota side.
		log.Info("usage reset, quota untouched")
		return OutcomeReset, d, nil, nil
	}

	if err := e.client.UpdateBandwidth(ctx, item.VPSID, d.NewLimit, item.PlanID); err != nil {
		// Usage is already reset but the quota write failed. The state
		// is ambiguous from the panel's perspective, so say so loudly.
		log.Error("quota update failed after successful usage reset",
			"new_limit", d.NewLimit, "error", err)
		return OutcomeFailed, d, nil, fmt.Errorf("update quota after reset: %w", err)
	}

	rec := &auditlog.ChangeRecord{
		Time:        time.Now(),
		VPSID:       item.VPSID,
		UsedBefore:  item.UsedBandwidth,
		LimitBefore: item.Bandwidth,
		NewLimit:    d.NewLimit,
		PlanID:      item.PlanID,
	}
	if err := e.audit.Append(*rec); err != nil {
		// The mutation is applied; a failed audit write must not mark
		// the resource failed, but it has to reach the run log.
		log.Warn("audit append failed", "error", err)
	}

	log.Info("carry-over applied", "new_limit", d.NewLimit, "plan", item.PlanID)
	return OutcomeChanged, d, rec, nil
}
