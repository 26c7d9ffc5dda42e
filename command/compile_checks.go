package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[EnsureWatchMessage]          = (*EnsureWatchCommand)(nil)
	_ gocmd.Commander[RenewWatchMessage]           = (*RenewWatchCommand)(nil)
	_ gocmd.Commander[StopWatchMessage]            = (*StopWatchCommand)(nil)
	_ gocmd.Commander[DispatchNotificationMessage] = (*DispatchNotificationCommand)(nil)
	_ gocmd.Commander[RunWorkflowMessage]          = (*RunWorkflowCommand)(nil)
	_ gocmd.Commander[SweepDedupMessage]           = (*SweepDedupCommand)(nil)
)
