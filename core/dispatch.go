package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Dispatcher routes a verified change event through the dedup guard and,
// when the claim is won, invokes the pipeline exactly once. The pipeline
// runs detached from the request context so a client disconnect cannot
// strand an in_progress claim.
type Dispatcher struct {
	guard    *DedupGuard
	pipeline Pipeline
	store    StateStore
	timeout  time.Duration
	logger   Logger
	nowFn    func() time.Time
}

func NewDispatcher(guard *DedupGuard, pipeline Pipeline, store StateStore, timeout time.Duration, logger Logger, nowFn func() time.Time) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultPipelineTimeout
	}
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		guard:    guard,
		pipeline: pipeline,
		store:    store,
		timeout:  timeout,
		logger:   logger,
		nowFn:    nowFn,
	}
}

// Dispatch claims the event fingerprint and processes it. Duplicate
// deliveries return a deduped outcome without touching the pipeline.
func (d *Dispatcher) Dispatch(ctx context.Context, wf WorkflowConfig, event ChangeEvent) (DispatchOutcome, error) {
	if d == nil || d.guard == nil || d.pipeline == nil {
		return DispatchOutcome{}, fmt.Errorf("core: dispatcher requires a guard and a pipeline")
	}

	if event.Handshake() {
		return DispatchOutcome{
			WorkflowID: wf.WorkflowID,
			Detail:     "channel handshake acknowledged",
		}, nil
	}

	fingerprint := Fingerprint(event, wf.BucketWidth, d.eventTime(event))
	return d.run(ctx, wf, fingerprint)
}

// Run triggers the workflow outside of a provider notification. Forced
// runs fingerprint on the trigger instant alone so they never collide
// with an earlier record.
func (d *Dispatcher) Run(ctx context.Context, wf WorkflowConfig, force bool) (DispatchOutcome, error) {
	if d == nil || d.guard == nil || d.pipeline == nil {
		return DispatchOutcome{}, fmt.Errorf("core: dispatcher requires a guard and a pipeline")
	}
	event := ChangeEvent{
		ResourceID:    "manual:" + wf.WorkflowID,
		ResourceState: "run",
		ReceivedAt:    d.nowFn(),
	}
	width := wf.BucketWidth
	if force {
		width = time.Nanosecond
	}
	fingerprint := Fingerprint(event, width, event.ReceivedAt)
	return d.run(ctx, wf, fingerprint)
}

func (d *Dispatcher) run(ctx context.Context, wf WorkflowConfig, fingerprint string) (DispatchOutcome, error) {
	claim, err := d.guard.Claim(ctx, wf.WorkflowID, fingerprint)
	if err != nil {
		return DispatchOutcome{}, err
	}
	outcome := DispatchOutcome{
		WorkflowID:  wf.WorkflowID,
		Fingerprint: fingerprint,
		Claim:       claim,
	}
	if claim.Duplicate() {
		outcome.Deduped = true
		outcome.Detail = "already processed"
		return outcome, nil
	}

	// Detach from the request context: provider webhooks time out fast and
	// retry, and an abandoned request must not cancel a claimed run.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	startedAt := d.nowFn()
	summary, pipelineErr := d.pipeline.Process(runCtx, wf)
	summary.Duration = d.nowFn().Sub(startedAt)

	reason := ""
	if pipelineErr != nil {
		reason = pipelineErr.Error()
	}
	if completeErr := d.guard.Complete(runCtx, wf.WorkflowID, fingerprint, pipelineErr == nil, reason); completeErr != nil {
		if d.logger != nil {
			d.logger.Error("dedup completion failed",
				"workflow_id", wf.WorkflowID,
				"fingerprint", fingerprint,
				"error", completeErr.Error(),
			)
		}
	}
	d.recordRunStatus(runCtx, wf.WorkflowID, fingerprint, summary, pipelineErr)

	if pipelineErr != nil {
		outcome.Detail = reason
		return outcome, NewPipelineError(fmt.Sprintf("workflow %q: %v", wf.WorkflowID, pipelineErr))
	}
	outcome.Summary = summary
	outcome.Detail = "processed"
	return outcome, nil
}

func (d *Dispatcher) eventTime(event ChangeEvent) time.Time {
	if !event.ReceivedAt.IsZero() {
		return event.ReceivedAt
	}
	return d.nowFn()
}

// Status returns the persisted last-run summary for a workflow.
func (d *Dispatcher) Status(ctx context.Context, workflowID string) (RunStatus, bool, error) {
	if d == nil || d.store == nil {
		return RunStatus{}, false, fmt.Errorf("core: dispatcher requires a store")
	}
	value, _, found, err := d.store.Get(ctx, statusKey(workflowID))
	if err != nil {
		return RunStatus{}, false, NewStoreUnavailableError(fmt.Sprintf("run status read: %v", err))
	}
	if !found {
		return RunStatus{}, false, nil
	}
	var status RunStatus
	if err := json.Unmarshal(value, &status); err != nil {
		return RunStatus{}, false, fmt.Errorf("core: run status decode: %w", err)
	}
	return status, true, nil
}

func (d *Dispatcher) recordRunStatus(ctx context.Context, workflowID, fingerprint string, summary ProcessingSummary, runErr error) {
	if d.store == nil {
		return
	}
	status := RunStatus{
		WorkflowID:  workflowID,
		Fingerprint: fingerprint,
		Success:     runErr == nil,
		Summary:     summary,
		RanAt:       d.nowFn(),
	}
	if runErr != nil {
		status.Detail = strings.TrimSpace(runErr.Error())
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := d.store.Put(ctx, statusKey(workflowID), payload); err != nil && d.logger != nil {
		d.logger.Warn("run status persist failed",
			"workflow_id", workflowID,
			"error", err.Error(),
		)
	}
}
