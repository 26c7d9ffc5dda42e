package gocommand

import (
	"context"
	"fmt"

	outboundcommand "github.com/Outbound-Project/outbound-bot/command"
	"github.com/Outbound-Project/outbound-bot/core"
	outboundquery "github.com/Outbound-Project/outbound-bot/query"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
)

// Backend is the engine surface the message bus exposes: every mutating
// operation plus the status readers.
type Backend interface {
	outboundcommand.MutatingService
	outboundquery.WatchStatusReader
	outboundquery.WorkflowStatusReader
	outboundquery.WorkflowLister
}

// Bus registers the engine's commands and queries on a go-command
// registry and subscribes them to the dispatcher.
type Bus struct {
	registry *gocmd.Registry
	subs     []commanddispatcher.Subscription
}

func NewBus(registry *gocmd.Registry) *Bus {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *gocmd.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// Wire subscribes every engine command and query against the backend.
func (b *Bus) Wire(backend Backend, runnerOpts ...runner.Option) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if backend == nil {
		return fmt.Errorf("gocommand: backend is required")
	}

	if err := wireCommand(b, outboundcommand.NewEnsureWatchCommand(backend), runnerOpts); err != nil {
		return err
	}
	if err := wireCommand(b, outboundcommand.NewRenewWatchCommand(backend), runnerOpts); err != nil {
		return err
	}
	if err := wireCommand(b, outboundcommand.NewStopWatchCommand(backend), runnerOpts); err != nil {
		return err
	}
	if err := wireCommand(b, outboundcommand.NewDispatchNotificationCommand(backend), runnerOpts); err != nil {
		return err
	}
	if err := wireCommand(b, outboundcommand.NewRunWorkflowCommand(backend), runnerOpts); err != nil {
		return err
	}
	if err := wireCommand(b, outboundcommand.NewSweepDedupCommand(backend), runnerOpts); err != nil {
		return err
	}

	if err := wireQuery(b, outboundquery.NewWatchStatusQuery(backend), runnerOpts); err != nil {
		return err
	}
	if err := wireQuery(b, outboundquery.NewWorkflowStatusQuery(backend), runnerOpts); err != nil {
		return err
	}
	return wireQuery(b, outboundquery.NewListWorkflowsQuery(backend), runnerOpts)
}

func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return b.registry.Initialize()
}

// Close drops every dispatcher subscription the bus holds.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, sub := range b.subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	b.subs = nil
}

func wireCommand[T any](b *Bus, cmd gocmd.Commander[T], runnerOpts []runner.Option) error {
	sub := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.subs = append(b.subs, sub)
	return nil
}

func wireQuery[T any, R any](b *Bus, qry gocmd.Querier[T, R], runnerOpts []runner.Option) error {
	sub := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := b.registry.RegisterCommand(qry); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.subs = append(b.subs, sub)
	return nil
}

// EnsureWatch dispatches a watch ensure through the bus and collects
// the resulting channel.
func EnsureWatch(ctx context.Context, workflowID string) (core.WatchChannel, error) {
	return dispatchWithResult[core.WatchChannel](ctx, outboundcommand.EnsureWatchMessage{WorkflowID: workflowID})
}

func RenewWatch(ctx context.Context, workflowID string) (core.WatchChannel, error) {
	return dispatchWithResult[core.WatchChannel](ctx, outboundcommand.RenewWatchMessage{WorkflowID: workflowID})
}

func StopWatch(ctx context.Context, workflowID string) error {
	return commanddispatcher.Dispatch(ctx, outboundcommand.StopWatchMessage{WorkflowID: workflowID})
}

func DispatchNotification(ctx context.Context, workflowID string, event core.ChangeEvent) (core.DispatchOutcome, error) {
	return dispatchWithResult[core.DispatchOutcome](ctx, outboundcommand.DispatchNotificationMessage{
		WorkflowID: workflowID,
		Event:      event,
	})
}

func RunWorkflow(ctx context.Context, workflowID string, force bool) (core.DispatchOutcome, error) {
	return dispatchWithResult[core.DispatchOutcome](ctx, outboundcommand.RunWorkflowMessage{
		WorkflowID: workflowID,
		Force:      force,
	})
}

func SweepDedup(ctx context.Context, workflowID string) error {
	return commanddispatcher.Dispatch(ctx, outboundcommand.SweepDedupMessage{WorkflowID: workflowID})
}

func WatchStatus(ctx context.Context, workflowID string) (core.WatchStatus, error) {
	return commanddispatcher.Query[outboundquery.WatchStatusMessage, core.WatchStatus](
		ctx, outboundquery.WatchStatusMessage{WorkflowID: workflowID},
	)
}

func WorkflowStatus(ctx context.Context, workflowID string) (outboundquery.WorkflowStatusResult, error) {
	return commanddispatcher.Query[outboundquery.WorkflowStatusMessage, outboundquery.WorkflowStatusResult](
		ctx, outboundquery.WorkflowStatusMessage{WorkflowID: workflowID},
	)
}

func ListWorkflows(ctx context.Context) ([]string, error) {
	return commanddispatcher.Query[outboundquery.ListWorkflowsMessage, []string](
		ctx, outboundquery.ListWorkflowsMessage{},
	)
}

func dispatchWithResult[R any, T any](ctx context.Context, msg T) (R, error) {
	var zero R
	collector := gocmd.NewResult[R]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := commanddispatcher.Dispatch(ctx, msg); err != nil {
		return zero, err
	}
	out, ok := collector.Load()
	if !ok {
		return zero, nil
	}
	return out, nil
}
