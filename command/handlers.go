package command

import (
	"context"

	"github.com/Outbound-Project/outbound-bot/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	EnsureActiveWatch(ctx context.Context, workflowID string) (core.WatchChannel, error)
	RenewWatch(ctx context.Context, workflowID string) (core.WatchChannel, error)
	StopWatch(ctx context.Context, workflowID string) error
	HandleNotification(ctx context.Context, workflowID string, event core.ChangeEvent) (core.DispatchOutcome, error)
	RunWorkflow(ctx context.Context, workflowID string, force bool) (core.DispatchOutcome, error)
	SweepDedup(ctx context.Context, workflowID string)
}

type EnsureWatchCommand struct {
	service MutatingService
}

func NewEnsureWatchCommand(service MutatingService) *EnsureWatchCommand {
	return &EnsureWatchCommand{service: service}
}

func (c *EnsureWatchCommand) Execute(ctx context.Context, msg EnsureWatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: watch service is required")
	}
	out, err := c.service.EnsureActiveWatch(ctx, msg.WorkflowID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RenewWatchCommand struct {
	service MutatingService
}

func NewRenewWatchCommand(service MutatingService) *RenewWatchCommand {
	return &RenewWatchCommand{service: service}
}

func (c *RenewWatchCommand) Execute(ctx context.Context, msg RenewWatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: watch service is required")
	}
	out, err := c.service.RenewWatch(ctx, msg.WorkflowID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type StopWatchCommand struct {
	service MutatingService
}

func NewStopWatchCommand(service MutatingService) *StopWatchCommand {
	return &StopWatchCommand{service: service}
}

func (c *StopWatchCommand) Execute(ctx context.Context, msg StopWatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: watch service is required")
	}
	return c.service.StopWatch(ctx, msg.WorkflowID)
}

type DispatchNotificationCommand struct {
	service MutatingService
}

func NewDispatchNotificationCommand(service MutatingService) *DispatchNotificationCommand {
	return &DispatchNotificationCommand{service: service}
}

func (c *DispatchNotificationCommand) Execute(ctx context.Context, msg DispatchNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.HandleNotification(ctx, msg.WorkflowID, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RunWorkflowCommand struct {
	service MutatingService
}

func NewRunWorkflowCommand(service MutatingService) *RunWorkflowCommand {
	return &RunWorkflowCommand{service: service}
}

func (c *RunWorkflowCommand) Execute(ctx context.Context, msg RunWorkflowMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: run service is required")
	}
	out, err := c.service.RunWorkflow(ctx, msg.WorkflowID, msg.Force)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SweepDedupCommand struct {
	service MutatingService
}

func NewSweepDedupCommand(service MutatingService) *SweepDedupCommand {
	return &SweepDedupCommand{service: service}
}

func (c *SweepDedupCommand) Execute(ctx context.Context, msg SweepDedupMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dedup service is required")
	}
	c.service.SweepDedup(ctx, msg.WorkflowID)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
