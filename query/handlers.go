package query

import (
	"context"

	"github.com/Outbound-Project/outbound-bot/core"
)

type WatchStatusReader interface {
	WatchStatus(ctx context.Context, workflowID string) (core.WatchStatus, error)
}

type WorkflowStatusReader interface {
	WorkflowStatus(ctx context.Context, workflowID string) (core.RunStatus, bool, error)
}

type WorkflowLister interface {
	WorkflowIDs() []string
}

// WorkflowStatusResult wraps the persisted run summary so a workflow that
// has never run reads as found=false rather than a zero-valued status.
type WorkflowStatusResult struct {
	Status core.RunStatus `json:"status,omitzero"`
	Found  bool           `json:"found"`
}

type WatchStatusQuery struct {
	reader WatchStatusReader
}

func NewWatchStatusQuery(reader WatchStatusReader) *WatchStatusQuery {
	return &WatchStatusQuery{reader: reader}
}

func (q *WatchStatusQuery) Query(ctx context.Context, msg WatchStatusMessage) (core.WatchStatus, error) {
	if q == nil || q.reader == nil {
		return core.WatchStatus{}, queryDependencyError("query: watch status reader is required")
	}
	return q.reader.WatchStatus(ctx, msg.WorkflowID)
}

type WorkflowStatusQuery struct {
	reader WorkflowStatusReader
}

func NewWorkflowStatusQuery(reader WorkflowStatusReader) *WorkflowStatusQuery {
	return &WorkflowStatusQuery{reader: reader}
}

func (q *WorkflowStatusQuery) Query(ctx context.Context, msg WorkflowStatusMessage) (WorkflowStatusResult, error) {
	if q == nil || q.reader == nil {
		return WorkflowStatusResult{}, queryDependencyError("query: workflow status reader is required")
	}
	status, found, err := q.reader.WorkflowStatus(ctx, msg.WorkflowID)
	if err != nil {
		return WorkflowStatusResult{}, err
	}
	return WorkflowStatusResult{Status: status, Found: found}, nil
}

type ListWorkflowsQuery struct {
	lister WorkflowLister
}

func NewListWorkflowsQuery(lister WorkflowLister) *ListWorkflowsQuery {
	return &ListWorkflowsQuery{lister: lister}
}

func (q *ListWorkflowsQuery) Query(ctx context.Context, msg ListWorkflowsMessage) ([]string, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: workflow lister is required")
	}
	return q.lister.WorkflowIDs(), nil
}
