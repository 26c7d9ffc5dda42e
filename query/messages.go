package query

import (
	"fmt"
	"strings"
)

const (
	TypeWatchStatus    = "outbound.query.watch.status"
	TypeWorkflowStatus = "outbound.query.workflow.status"
	TypeListWorkflows  = "outbound.query.workflow.list"
)

type WatchStatusMessage struct {
	WorkflowID string
}

func (WatchStatusMessage) Type() string { return TypeWatchStatus }

func (m WatchStatusMessage) Validate() error {
	return requireWorkflowID(m.WorkflowID)
}

type WorkflowStatusMessage struct {
	WorkflowID string
}

func (WorkflowStatusMessage) Type() string { return TypeWorkflowStatus }

func (m WorkflowStatusMessage) Validate() error {
	return requireWorkflowID(m.WorkflowID)
}

type ListWorkflowsMessage struct{}

func (ListWorkflowsMessage) Type() string { return TypeListWorkflows }

func (ListWorkflowsMessage) Validate() error { return nil }

func requireWorkflowID(workflowID string) error {
	if strings.TrimSpace(workflowID) == "" {
		return fmt.Errorf("query: workflow id is required")
	}
	return nil
}
