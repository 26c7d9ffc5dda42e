package command

import (
	"fmt"
	"strings"

	"github.com/Outbound-Project/outbound-bot/core"
)

const (
	TypeEnsureWatch          = "outbound.command.watch.ensure"
	TypeRenewWatch           = "outbound.command.watch.renew"
	TypeStopWatch            = "outbound.command.watch.stop"
	TypeDispatchNotification = "outbound.command.notification.dispatch"
	TypeRunWorkflow          = "outbound.command.workflow.run"
	TypeSweepDedup           = "outbound.command.dedup.sweep"
)

type EnsureWatchMessage struct {
	WorkflowID string
}

func (EnsureWatchMessage) Type() string { return TypeEnsureWatch }

func (m EnsureWatchMessage) Validate() error {
	return requireWorkflowID(m.WorkflowID)
}

type RenewWatchMessage struct {
	WorkflowID string
}

func (RenewWatchMessage) Type() string { return TypeRenewWatch }

func (m RenewWatchMessage) Validate() error {
	return requireWorkflowID(m.WorkflowID)
}

type StopWatchMessage struct {
	WorkflowID string
}

func (StopWatchMessage) Type() string { return TypeStopWatch }

func (m StopWatchMessage) Validate() error {
	return requireWorkflowID(m.WorkflowID)
}

type DispatchNotificationMessage struct {
	WorkflowID string
	Event      core.ChangeEvent
}

func (DispatchNotificationMessage) Type() string { return TypeDispatchNotification }

func (m DispatchNotificationMessage) Validate() error {
	if err := requireWorkflowID(m.WorkflowID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Event.ResourceState) == "" {
		return fmt.Errorf("command: resource state is required")
	}
	if !m.Event.Handshake() && strings.TrimSpace(m.Event.ResourceID) == "" {
		return fmt.Errorf("command: resource id is required")
	}
	return nil
}

type RunWorkflowMessage struct {
	WorkflowID string
	Force      bool
}

func (RunWorkflowMessage) Type() string { return TypeRunWorkflow }

func (m RunWorkflowMessage) Validate() error {
	return requireWorkflowID(m.WorkflowID)
}

type SweepDedupMessage struct {
	WorkflowID string
}

func (SweepDedupMessage) Type() string { return TypeSweepDedup }

func (m SweepDedupMessage) Validate() error {
	return requireWorkflowID(m.WorkflowID)
}

func requireWorkflowID(workflowID string) error {
	if strings.TrimSpace(workflowID) == "" {
		return fmt.Errorf("command: workflow id is required")
	}
	return nil
}
