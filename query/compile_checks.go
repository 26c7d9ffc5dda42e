package query

import (
	"github.com/Outbound-Project/outbound-bot/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[WatchStatusMessage, core.WatchStatus]        = (*WatchStatusQuery)(nil)
	_ gocmd.Querier[WorkflowStatusMessage, WorkflowStatusResult] = (*WorkflowStatusQuery)(nil)
	_ gocmd.Querier[ListWorkflowsMessage, []string]              = (*ListWorkflowsQuery)(nil)
)
