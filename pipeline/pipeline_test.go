package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
)

type stubExtractor struct {
	table Table
	err   error
}

func (s *stubExtractor) Extract(context.Context, core.WorkflowConfig) (Table, error) {
	return s.table, s.err
}

type stubWriter struct {
	statuses  []string
	rows      int
	writes    int
	writeErr  error
	statusErr error
}

func (s *stubWriter) WriteRows(_ context.Context, _ core.WorkflowConfig, table Table) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.writes++
	s.rows = len(table.Rows)
	return len(table.Rows), nil
}

func (s *stubWriter) UpdateStatus(_ context.Context, _ core.WorkflowConfig, value string) error {
	if s.statusErr != nil {
		return s.statusErr
	}
	s.statuses = append(s.statuses, value)
	return nil
}

type stubRenderer struct {
	images [][]byte
	err    error
}

func (s *stubRenderer) Render(context.Context, core.WorkflowConfig) ([][]byte, error) {
	return s.images, s.err
}

type stubNotifier struct {
	texts         []string
	images        int
	imageAttempts int
	imageErr      error
	textErr       error
	imageErrN     int
}

func (s *stubNotifier) NotifyText(_ context.Context, _ core.WorkflowConfig, text string) error {
	if s.textErr != nil {
		return s.textErr
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *stubNotifier) NotifyImage(_ context.Context, _ core.WorkflowConfig, _ []byte) error {
	s.imageAttempts++
	if s.imageErr != nil && s.imageAttempts == s.imageErrN {
		return s.imageErr
	}
	s.images++
	return nil
}

func rowsTable(n int) Table {
	table := Table{Header: []string{"TO Number"}}
	for i := 0; i < n; i++ {
		table.Rows = append(table.Rows, []string{"TO"})
	}
	return table
}

func testUnit(t *testing.T, extractor Extractor, writer TabularWriter, opts ...UnitOption) *Unit {
	t.Helper()
	opts = append(opts, WithNowFunc(func() time.Time {
		return time.Date(2025, 9, 1, 15, 4, 0, 0, time.UTC)
	}))
	unit, err := NewUnit(extractor, writer, opts...)
	if err != nil {
		t.Fatalf("new unit: %v", err)
	}
	return unit
}

func kindOf(t *testing.T, err error) ErrorKind {
	t.Helper()
	var stage *Error
	if !errors.As(err, &stage) {
		t.Fatalf("expected pipeline error, got %v", err)
	}
	return stage.Kind
}

func TestProcessWritesRowsAndNotifies(t *testing.T) {
	writer := &stubWriter{}
	notifier := &stubNotifier{}
	unit := testUnit(t, &stubExtractor{table: rowsTable(3)}, writer,
		WithRenderer(&stubRenderer{images: [][]byte{{1}, {2}}}),
		WithNotifier(notifier),
	)

	summary, err := unit.Process(context.Background(), core.WorkflowConfig{WorkflowID: "reimbursement"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.RowsWritten != 3 || summary.ImagesSent != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(writer.statuses) != 2 || writer.statuses[0] != "Fetching data..." {
		t.Fatalf("unexpected status sequence %v", writer.statuses)
	}
	if writer.statuses[1] != "3:04 PM Sep-1" {
		t.Fatalf("unexpected completion status %q", writer.statuses[1])
	}
	if len(notifier.texts) != 1 {
		t.Fatalf("expected one text notification, got %v", notifier.texts)
	}
}

func TestProcessEmptyTableSkipsWriteAndImages(t *testing.T) {
	writer := &stubWriter{}
	notifier := &stubNotifier{}
	unit := testUnit(t, &stubExtractor{}, writer, WithNotifier(notifier))

	summary, err := unit.Process(context.Background(), core.WorkflowConfig{WorkflowID: "reimbursement"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Detail != "no new data" || summary.RowsWritten != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if writer.writes != 0 {
		t.Fatal("expected no row writes for empty table")
	}
	if len(writer.statuses) != 2 {
		t.Fatalf("expected status refresh even without rows, got %v", writer.statuses)
	}
	if len(notifier.texts) != 0 {
		t.Fatalf("expected no announcement without rows, got %v", notifier.texts)
	}
}

func TestProcessExtractFailureIsSourceUnavailable(t *testing.T) {
	unit := testUnit(t, &stubExtractor{err: errors.New("folder gone")}, &stubWriter{})

	_, err := unit.Process(context.Background(), core.WorkflowConfig{WorkflowID: "reimbursement"})
	if kind := kindOf(t, err); kind != ErrorSourceUnavailable {
		t.Fatalf("unexpected kind %q", kind)
	}
}

func TestProcessTransformFailure(t *testing.T) {
	unit := testUnit(t, &stubExtractor{table: rowsTable(1)}, &stubWriter{})

	_, err := unit.Process(context.Background(), core.WorkflowConfig{
		WorkflowID: "reimbursement",
		Filters:    map[string][]string{"Missing Column": {"x"}},
	})
	if kind := kindOf(t, err); kind != ErrorTransformFailed {
		t.Fatalf("unexpected kind %q", kind)
	}
}

func TestProcessWriteFailure(t *testing.T) {
	unit := testUnit(t, &stubExtractor{table: rowsTable(1)}, &stubWriter{writeErr: errors.New("api quota")})

	_, err := unit.Process(context.Background(), core.WorkflowConfig{WorkflowID: "reimbursement"})
	if kind := kindOf(t, err); kind != ErrorWriteFailed {
		t.Fatalf("unexpected kind %q", kind)
	}
}

func TestProcessRenderFailure(t *testing.T) {
	unit := testUnit(t, &stubExtractor{table: rowsTable(1)}, &stubWriter{},
		WithRenderer(&stubRenderer{err: errors.New("grid fetch failed")}),
		WithNotifier(&stubNotifier{}),
	)

	_, err := unit.Process(context.Background(), core.WorkflowConfig{WorkflowID: "reimbursement"})
	if kind := kindOf(t, err); kind != ErrorRenderFailed {
		t.Fatalf("unexpected kind %q", kind)
	}
}

func TestProcessNotifyTextFailure(t *testing.T) {
	unit := testUnit(t, &stubExtractor{table: rowsTable(1)}, &stubWriter{},
		WithNotifier(&stubNotifier{textErr: errors.New("webhook down")}),
	)

	_, err := unit.Process(context.Background(), core.WorkflowConfig{WorkflowID: "reimbursement"})
	if kind := kindOf(t, err); kind != ErrorNotifyFailed {
		t.Fatalf("unexpected kind %q", kind)
	}
}

func TestProcessToleratesSingleImageFailure(t *testing.T) {
	notifier := &stubNotifier{imageErr: errors.New("image too large"), imageErrN: 1}
	unit := testUnit(t, &stubExtractor{table: rowsTable(1)}, &stubWriter{},
		WithRenderer(&stubRenderer{images: [][]byte{{1}, {2}}}),
		WithNotifier(notifier),
	)

	summary, err := unit.Process(context.Background(), core.WorkflowConfig{WorkflowID: "reimbursement"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.ImagesSent != 1 {
		t.Fatalf("expected one image to survive, got %d", summary.ImagesSent)
	}
	if len(notifier.texts) != 1 {
		t.Fatal("expected text announcement despite image failure")
	}
}

func TestProcessSkipImages(t *testing.T) {
	notifier := &stubNotifier{}
	unit := testUnit(t, &stubExtractor{table: rowsTable(1)}, &stubWriter{},
		WithRenderer(&stubRenderer{images: [][]byte{{1}}}),
		WithNotifier(notifier),
	)

	summary, err := unit.Process(context.Background(), core.WorkflowConfig{
		WorkflowID: "reimbursement",
		SkipImages: true,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.ImagesSent != 0 || notifier.images != 0 {
		t.Fatalf("expected images skipped, summary=%+v sent=%d", summary, notifier.images)
	}
	if len(notifier.texts) != 1 {
		t.Fatal("expected text announcement with images skipped")
	}
}

func TestProcessWithoutNotifierStopsAfterWrite(t *testing.T) {
	writer := &stubWriter{}
	unit := testUnit(t, &stubExtractor{table: rowsTable(2)}, writer)

	summary, err := unit.Process(context.Background(), core.WorkflowConfig{WorkflowID: "reimbursement"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.RowsWritten != 2 || summary.ImagesSent != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
