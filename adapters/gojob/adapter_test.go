package gojob

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

func TestRenewMessageShape(t *testing.T) {
	msg := RenewMessage(" reimbursement ")
	if msg.JobID != JobIDWatchRenew {
		t.Fatalf("unexpected job id: %q", msg.JobID)
	}
	if msg.Parameters[paramWorkflowID] != "reimbursement" {
		t.Fatalf("expected trimmed workflow parameter, got %#v", msg.Parameters)
	}
	if msg.IdempotencyKey != "outbound.watch.renew:reimbursement" {
		t.Fatalf("unexpected idempotency key: %q", msg.IdempotencyKey)
	}
}

func TestRunMessageCarriesForce(t *testing.T) {
	msg := RunMessage("daily", true)
	if msg.JobID != JobIDWorkflowRun {
		t.Fatalf("unexpected job id: %q", msg.JobID)
	}
	if msg.Parameters[paramForce] != true {
		t.Fatalf("expected force parameter, got %#v", msg.Parameters)
	}
	if msg.IdempotencyKey != "outbound.workflow.run:daily:true" {
		t.Fatalf("unexpected idempotency key: %q", msg.IdempotencyKey)
	}
}

func TestEnqueuerPublishesMessages(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	adapter := NewEnqueuer(enqueuer)

	if err := adapter.EnqueueRenew(ctx, "daily"); err != nil {
		t.Fatalf("enqueue renew: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDWatchRenew {
		t.Fatalf("expected renew message, got %#v", enqueuer.last)
	}

	if err := adapter.EnqueueRun(ctx, "daily", false); err != nil {
		t.Fatalf("enqueue run: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDWorkflowRun {
		t.Fatalf("expected run message, got %#v", enqueuer.last)
	}

	if err := adapter.EnqueueRenew(ctx, "  "); err == nil {
		t.Fatalf("expected workflow id requirement")
	}
}

func TestExecutorDispatchesByJobID(t *testing.T) {
	ctx := context.Background()
	renewed := false
	ran := false
	svc := stubService{
		renewFn: func(_ context.Context, workflowID string) (core.WatchChannel, error) {
			renewed = true
			if workflowID != "daily" {
				t.Fatalf("unexpected renew workflow: %q", workflowID)
			}
			return core.WatchChannel{ChannelID: "chan-1"}, nil
		},
		runFn: func(_ context.Context, workflowID string, force bool) (core.DispatchOutcome, error) {
			ran = true
			if workflowID != "daily" || !force {
				t.Fatalf("unexpected run payload: %q force=%v", workflowID, force)
			}
			return core.DispatchOutcome{WorkflowID: "daily"}, nil
		},
	}
	executor := NewExecutor(svc, nil)

	if err := executor.Execute(ctx, RenewMessage("daily")); err != nil {
		t.Fatalf("execute renew: %v", err)
	}
	if !renewed {
		t.Fatalf("expected renew invocation")
	}

	if err := executor.Execute(ctx, RunMessage("daily", true)); err != nil {
		t.Fatalf("execute run: %v", err)
	}
	if !ran {
		t.Fatalf("expected run invocation")
	}
}

func TestExecutorRejectsUnknownJob(t *testing.T) {
	executor := NewExecutor(stubService{}, nil)
	err := executor.Execute(context.Background(), &job.ExecutionMessage{
		JobID:      "outbound.unknown",
		Parameters: map[string]any{paramWorkflowID: "daily"},
	})
	if err == nil {
		t.Fatalf("expected unknown job error")
	}
}

func TestExecutorRequiresWorkflowParameter(t *testing.T) {
	executor := NewExecutor(stubService{}, nil)
	err := executor.Execute(context.Background(), &job.ExecutionMessage{JobID: JobIDWatchRenew})
	if err == nil {
		t.Fatalf("expected workflow parameter requirement")
	}
}

func TestWorkerAcksSuccessfulDelivery(t *testing.T) {
	delivery := &stubQueueDelivery{msg: RenewMessage("daily")}
	worker := NewWorker(
		&stubQueueDequeuer{delivery: delivery},
		NewExecutor(stubService{
			renewFn: func(context.Context, string) (core.WatchChannel, error) {
				return core.WatchChannel{}, nil
			},
		}, nil),
		RetryPolicy{},
		nil,
	)

	if err := worker.ProcessOne(context.Background()); err != nil {
		t.Fatalf("process one: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected ack on success")
	}
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	delivery := &stubQueueDelivery{msg: RenewMessage("daily")}
	worker := NewWorker(
		&stubQueueDequeuer{delivery: delivery},
		NewExecutor(stubService{
			renewFn: func(context.Context, string) (core.WatchChannel, error) {
				return core.WatchChannel{}, fmt.Errorf("channel registration failed")
			},
		}, nil),
		RetryPolicy{MaxAttempts: 2, RetryDelay: 5 * time.Second},
		nil,
	)

	if err := worker.ProcessOne(ctx); err == nil {
		t.Fatalf("expected first attempt failure")
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionRetry {
		t.Fatalf("first failure should retry: %#v", delivery.nackOpts)
	}
	if delivery.nackOpts.Delay != 5*time.Second {
		t.Fatalf("expected retry delay, got %v", delivery.nackOpts.Delay)
	}

	if err := worker.ProcessOne(ctx); err == nil {
		t.Fatalf("expected second attempt failure")
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("max attempts should dead letter: %#v", delivery.nackOpts)
	}
}

func TestWorkerDeadLettersUnknownJobImmediately(t *testing.T) {
	delivery := &stubQueueDelivery{msg: &job.ExecutionMessage{
		JobID:      "outbound.unknown",
		Parameters: map[string]any{paramWorkflowID: "daily"},
	}}
	worker := NewWorker(
		&stubQueueDequeuer{delivery: delivery},
		NewExecutor(stubService{}, nil),
		RetryPolicy{MaxAttempts: 5},
		nil,
	)

	if err := worker.ProcessOne(context.Background()); err == nil {
		t.Fatalf("expected unknown job failure")
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("unknown jobs should dead letter: %#v", delivery.nackOpts)
	}
}

type stubService struct {
	renewFn func(ctx context.Context, workflowID string) (core.WatchChannel, error)
	runFn   func(ctx context.Context, workflowID string, force bool) (core.DispatchOutcome, error)
}

func (s stubService) RenewWatch(ctx context.Context, workflowID string) (core.WatchChannel, error) {
	if s.renewFn == nil {
		return core.WatchChannel{}, fmt.Errorf("renew not configured")
	}
	return s.renewFn(ctx, workflowID)
}

func (s stubService) RunWorkflow(ctx context.Context, workflowID string, force bool) (core.DispatchOutcome, error) {
	if s.runFn == nil {
		return core.DispatchOutcome{}, fmt.Errorf("run not configured")
	}
	return s.runFn(ctx, workflowID, force)
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	s.last = msg
	var receipt queue.EnqueueReceipt
	return receipt, nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}
