package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
)

func TestWatchStatusQuery_DelegatesToReader(t *testing.T) {
	expected := core.WatchStatus{
		WorkflowID: "reimbursement",
		State:      core.WatchStateActive,
		Channel: core.WatchChannel{
			ChannelID:  "chan-1",
			Expiration: time.Date(2025, time.September, 2, 10, 0, 0, 0, time.UTC),
		},
	}
	reader := stubStatusReader{
		watchStatusFn: func(_ context.Context, workflowID string) (core.WatchStatus, error) {
			if workflowID != "reimbursement" {
				t.Fatalf("unexpected workflow: %q", workflowID)
			}
			return expected, nil
		},
	}

	got, err := NewWatchStatusQuery(reader).Query(context.Background(), WatchStatusMessage{WorkflowID: "reimbursement"})
	if err != nil {
		t.Fatalf("query watch status: %v", err)
	}
	if got.State != expected.State || got.Channel.ChannelID != expected.Channel.ChannelID {
		t.Fatalf("unexpected watch status: %#v", got)
	}
}

func TestWorkflowStatusQuery_WrapsFound(t *testing.T) {
	reader := stubStatusReader{
		workflowStatusFn: func(_ context.Context, workflowID string) (core.RunStatus, bool, error) {
			if workflowID != "daily" {
				t.Fatalf("unexpected workflow: %q", workflowID)
			}
			return core.RunStatus{WorkflowID: "daily", Success: true}, true, nil
		},
	}

	got, err := NewWorkflowStatusQuery(reader).Query(context.Background(), WorkflowStatusMessage{WorkflowID: "daily"})
	if err != nil {
		t.Fatalf("query workflow status: %v", err)
	}
	if !got.Found || !got.Status.Success {
		t.Fatalf("unexpected workflow status: %#v", got)
	}
}

func TestWorkflowStatusQuery_NeverRan(t *testing.T) {
	reader := stubStatusReader{
		workflowStatusFn: func(context.Context, string) (core.RunStatus, bool, error) {
			return core.RunStatus{}, false, nil
		},
	}

	got, err := NewWorkflowStatusQuery(reader).Query(context.Background(), WorkflowStatusMessage{WorkflowID: "daily"})
	if err != nil {
		t.Fatalf("query workflow status: %v", err)
	}
	if got.Found {
		t.Fatalf("expected found=false for a workflow that never ran")
	}
}

func TestListWorkflowsQuery_ReturnsConfiguredIDs(t *testing.T) {
	got, err := NewListWorkflowsQuery(stubStatusReader{
		workflowIDs: []string{"daily", "reimbursement"},
	}).Query(context.Background(), ListWorkflowsMessage{})
	if err != nil {
		t.Fatalf("query workflow list: %v", err)
	}
	if len(got) != 2 || got[0] != "daily" || got[1] != "reimbursement" {
		t.Fatalf("unexpected workflow list: %#v", got)
	}
}

func TestQueries_RequireReader(t *testing.T) {
	if _, err := NewWatchStatusQuery(nil).Query(context.Background(), WatchStatusMessage{WorkflowID: "daily"}); err == nil {
		t.Fatalf("expected dependency error for watch status")
	}
	if _, err := NewWorkflowStatusQuery(nil).Query(context.Background(), WorkflowStatusMessage{WorkflowID: "daily"}); err == nil {
		t.Fatalf("expected dependency error for workflow status")
	}
	if _, err := NewListWorkflowsQuery(nil).Query(context.Background(), ListWorkflowsMessage{}); err == nil {
		t.Fatalf("expected dependency error for workflow list")
	}
}

func TestQueries_PropagateReaderError(t *testing.T) {
	reader := stubStatusReader{
		watchStatusFn: func(context.Context, string) (core.WatchStatus, error) {
			return core.WatchStatus{}, fmt.Errorf("store unavailable")
		},
	}
	if _, err := NewWatchStatusQuery(reader).Query(context.Background(), WatchStatusMessage{WorkflowID: "daily"}); err == nil {
		t.Fatalf("expected reader error to propagate")
	}
}

func TestMessages_Validate(t *testing.T) {
	if err := (WatchStatusMessage{}).Validate(); err == nil {
		t.Fatalf("expected workflow id requirement")
	}
	if err := (WorkflowStatusMessage{WorkflowID: "  "}).Validate(); err == nil {
		t.Fatalf("expected workflow id requirement")
	}
	if err := (ListWorkflowsMessage{}).Validate(); err != nil {
		t.Fatalf("list workflows message: %v", err)
	}
}

type stubStatusReader struct {
	watchStatusFn    func(ctx context.Context, workflowID string) (core.WatchStatus, error)
	workflowStatusFn func(ctx context.Context, workflowID string) (core.RunStatus, bool, error)
	workflowIDs      []string
}

func (s stubStatusReader) WatchStatus(ctx context.Context, workflowID string) (core.WatchStatus, error) {
	if s.watchStatusFn == nil {
		return core.WatchStatus{}, fmt.Errorf("watch status not configured")
	}
	return s.watchStatusFn(ctx, workflowID)
}

func (s stubStatusReader) WorkflowStatus(ctx context.Context, workflowID string) (core.RunStatus, bool, error) {
	if s.workflowStatusFn == nil {
		return core.RunStatus{}, false, fmt.Errorf("workflow status not configured")
	}
	return s.workflowStatusFn(ctx, workflowID)
}

func (s stubStatusReader) WorkflowIDs() []string {
	return s.workflowIDs
}

var (
	_ WatchStatusReader    = stubStatusReader{}
	_ WorkflowStatusReader = stubStatusReader{}
	_ WorkflowLister       = stubStatusReader{}
)
