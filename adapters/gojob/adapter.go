package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDWatchRenew  = "outbound.watch.renew"
	JobIDWorkflowRun = "outbound.workflow.run"

	paramWorkflowID = "workflow_id"
	paramForce      = "force"
)

// Service is the slice of the dispatch engine the queue path needs.
type Service interface {
	RenewWatch(ctx context.Context, workflowID string) (core.WatchChannel, error)
	RunWorkflow(ctx context.Context, workflowID string, force bool) (core.DispatchOutcome, error)
}

// RenewMessage builds the execution message for a watch renewal. The
// idempotency key collapses duplicate renewals for the same workflow
// that land in the queue before the first one drains.
func RenewMessage(workflowID string) *job.ExecutionMessage {
	workflowID = strings.TrimSpace(workflowID)
	return &job.ExecutionMessage{
		JobID:          JobIDWatchRenew,
		Parameters:     map[string]any{paramWorkflowID: workflowID},
		IdempotencyKey: JobIDWatchRenew + ":" + workflowID,
	}
}

// RunMessage builds the execution message for a manual workflow run.
func RunMessage(workflowID string, force bool) *job.ExecutionMessage {
	workflowID = strings.TrimSpace(workflowID)
	return &job.ExecutionMessage{
		JobID: JobIDWorkflowRun,
		Parameters: map[string]any{
			paramWorkflowID: workflowID,
			paramForce:      force,
		},
		IdempotencyKey: fmt.Sprintf("%s:%s:%v", JobIDWorkflowRun, workflowID, force),
	}
}

// Enqueuer publishes renewal and run work onto a go-job queue.
type Enqueuer struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuer(enqueuer queue.Enqueuer) *Enqueuer {
	return &Enqueuer{enqueuer: enqueuer}
}

func (e *Enqueuer) EnqueueRenew(ctx context.Context, workflowID string) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(workflowID) == "" {
		return fmt.Errorf("gojob: workflow id is required")
	}
	_, err := e.enqueuer.Enqueue(ctx, RenewMessage(workflowID))
	return err
}

func (e *Enqueuer) EnqueueRun(ctx context.Context, workflowID string, force bool) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(workflowID) == "" {
		return fmt.Errorf("gojob: workflow id is required")
	}
	_, err := e.enqueuer.Enqueue(ctx, RunMessage(workflowID, force))
	return err
}

// ErrUnknownJob marks messages whose JobID the executor does not own.
// The worker dead-letters these instead of requeueing.
var ErrUnknownJob = errors.New("gojob: unknown job id")

// Executor runs dequeued execution messages against the dispatch engine.
type Executor struct {
	service Service
	logger  glog.Logger
}

func NewExecutor(service Service, logger glog.Logger) *Executor {
	if logger == nil {
		logger = glog.Nop()
	}
	return &Executor{service: service, logger: logger}
}

func (x *Executor) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if x == nil || x.service == nil {
		return fmt.Errorf("gojob: service is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	workflowID, err := workflowFromParameters(msg.Parameters)
	if err != nil {
		return err
	}

	switch msg.JobID {
	case JobIDWatchRenew:
		channel, err := x.service.RenewWatch(ctx, workflowID)
		if err != nil {
			return err
		}
		x.logger.Info("watch renewed",
			"workflow_id", workflowID,
			"channel_id", channel.ChannelID,
			"expiration", channel.Expiration,
		)
		return nil
	case JobIDWorkflowRun:
		outcome, err := x.service.RunWorkflow(ctx, workflowID, forceFromParameters(msg.Parameters))
		if err != nil {
			return err
		}
		x.logger.Info("workflow run finished",
			"workflow_id", workflowID,
			"deduped", outcome.Deduped,
			"rows_written", outcome.Summary.RowsWritten,
		)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobID)
	}
}

// RetryPolicy bounds requeue behavior for failed deliveries.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

func (p RetryPolicy) nackOptions(attempt int, err error) queue.NackOptions {
	opts := queue.NackOptions{
		Disposition: queue.NackDispositionRetry,
		Delay:       p.RetryDelay,
		Reason:      err.Error(),
	}
	if errors.Is(err, ErrUnknownJob) {
		opts.Disposition = queue.NackDispositionDeadLetter
		return opts
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		opts.Disposition = queue.NackDispositionDeadLetter
	}
	return opts
}

// Worker drains a queue, executing each delivery and acking or nacking
// per the retry policy. Attempts are counted by idempotency key.
type Worker struct {
	dequeuer queue.Dequeuer
	executor *Executor
	policy   RetryPolicy
	logger   glog.Logger
	attempts map[string]int
}

func NewWorker(dequeuer queue.Dequeuer, executor *Executor, policy RetryPolicy, logger glog.Logger) *Worker {
	if logger == nil {
		logger = glog.Nop()
	}
	return &Worker{
		dequeuer: dequeuer,
		executor: executor,
		policy:   policy,
		logger:   logger,
		attempts: map[string]int{},
	}
}

// ProcessOne dequeues and executes a single delivery. Returns the
// execution error after the delivery has been acked or nacked.
func (w *Worker) ProcessOne(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.executor == nil {
		return fmt.Errorf("gojob: worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()

	execErr := w.executor.Execute(ctx, msg)
	if execErr == nil {
		w.clearAttempts(msg)
		return delivery.Ack(ctx)
	}

	attempt := w.bumpAttempts(msg)
	opts := w.policy.nackOptions(attempt, execErr)
	w.logger.Warn("job delivery failed",
		"job_id", jobID(msg),
		"attempt", attempt,
		"disposition", string(opts.Disposition),
		"error", execErr,
	)
	if opts.Disposition == queue.NackDispositionDeadLetter {
		w.clearAttempts(msg)
	}
	if err := delivery.Nack(ctx, opts); err != nil {
		return err
	}
	return execErr
}

// Run drains deliveries until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.ProcessOne(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (w *Worker) bumpAttempts(msg *job.ExecutionMessage) int {
	key := attemptKey(msg)
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) clearAttempts(msg *job.ExecutionMessage) {
	delete(w.attempts, attemptKey(msg))
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if msg.IdempotencyKey != "" {
		return msg.IdempotencyKey
	}
	return msg.JobID
}

func jobID(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return msg.JobID
}

func workflowFromParameters(params map[string]any) (string, error) {
	raw, ok := params[paramWorkflowID]
	if !ok {
		return "", fmt.Errorf("gojob: %s parameter is required", paramWorkflowID)
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("gojob: %s parameter must be a non empty string", paramWorkflowID)
	}
	return strings.TrimSpace(value), nil
}

func forceFromParameters(params map[string]any) bool {
	value, _ := params[paramForce].(bool)
	return value
}
