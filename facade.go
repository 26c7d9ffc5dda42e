package outbound

import (
	"fmt"

	outboundcommand "github.com/Outbound-Project/outbound-bot/command"
	outboundquery "github.com/Outbound-Project/outbound-bot/query"
)

type CommandQueryService interface {
	outboundcommand.MutatingService
	outboundquery.WatchStatusReader
	outboundquery.WorkflowStatusReader
	outboundquery.WorkflowLister
}

type Commands struct {
	EnsureWatch          *outboundcommand.EnsureWatchCommand
	RenewWatch           *outboundcommand.RenewWatchCommand
	StopWatch            *outboundcommand.StopWatchCommand
	DispatchNotification *outboundcommand.DispatchNotificationCommand
	RunWorkflow          *outboundcommand.RunWorkflowCommand
	SweepDedup           *outboundcommand.SweepDedupCommand
}

type Queries struct {
	WatchStatus    *outboundquery.WatchStatusQuery
	WorkflowStatus *outboundquery.WorkflowStatusQuery
	ListWorkflows  *outboundquery.ListWorkflowsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("outbound: command/query service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		EnsureWatch:          outboundcommand.NewEnsureWatchCommand(service),
		RenewWatch:           outboundcommand.NewRenewWatchCommand(service),
		StopWatch:            outboundcommand.NewStopWatchCommand(service),
		DispatchNotification: outboundcommand.NewDispatchNotificationCommand(service),
		RunWorkflow:          outboundcommand.NewRunWorkflowCommand(service),
		SweepDedup:           outboundcommand.NewSweepDedupCommand(service),
	}
	facade.queries = Queries{
		WatchStatus:    outboundquery.NewWatchStatusQuery(service),
		WorkflowStatus: outboundquery.NewWorkflowStatusQuery(service),
		ListWorkflows:  outboundquery.NewListWorkflowsQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
