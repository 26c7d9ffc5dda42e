// Package pipeline runs the per-workflow unit of work: pull archives
// from the source folder, transform tabular rows, write them to the
// destination sheet, then render and announce the result.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
	"github.com/goliatone/go-logger/glog"
)

type ErrorKind string

const (
	ErrorSourceUnavailable ErrorKind = "source_unavailable"
	ErrorTransformFailed   ErrorKind = "transform_failed"
	ErrorWriteFailed       ErrorKind = "write_failed"
	ErrorRenderFailed      ErrorKind = "render_failed"
	ErrorNotifyFailed      ErrorKind = "notify_failed"
)

// Error tags a stage failure with its kind. Callers treat every kind
// as the same dedup outcome; the kind is for logs and operators.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("pipeline %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func stageError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Extractor pulls fresh rows for the workflow from its source folder.
type Extractor interface {
	Extract(ctx context.Context, wf core.WorkflowConfig) (Table, error)
}

// TabularWriter owns the destination sheet: row writes and the status
// cell the original dashboard watches.
type TabularWriter interface {
	WriteRows(ctx context.Context, wf core.WorkflowConfig, table Table) (int, error)
	UpdateStatus(ctx context.Context, wf core.WorkflowConfig, value string) error
}

// Renderer turns the written sheet into shareable images.
type Renderer interface {
	Render(ctx context.Context, wf core.WorkflowConfig) ([][]byte, error)
}

// Notifier announces a finished import to the workflow's channel.
type Notifier interface {
	NotifyText(ctx context.Context, wf core.WorkflowConfig, text string) error
	NotifyImage(ctx context.Context, wf core.WorkflowConfig, image []byte) error
}

const (
	statusFetching = "Fetching data..."

	// Hour without a leading zero, then abbreviated month and day,
	// matching the dashboard's status-cell convention.
	statusTimestampLayout = "3:04 PM Jan-2"
)

type Unit struct {
	extractor Extractor
	writer    TabularWriter
	renderer  Renderer
	notifier  Notifier
	logger    core.Logger
	nowFn     func() time.Time
}

type UnitOption func(*Unit)

func WithRenderer(renderer Renderer) UnitOption {
	return func(u *Unit) {
		u.renderer = renderer
	}
}

func WithNotifier(notifier Notifier) UnitOption {
	return func(u *Unit) {
		u.notifier = notifier
	}
}

func WithLogger(logger core.Logger) UnitOption {
	return func(u *Unit) {
		if logger != nil {
			u.logger = logger
		}
	}
}

func WithNowFunc(nowFn func() time.Time) UnitOption {
	return func(u *Unit) {
		if nowFn != nil {
			u.nowFn = nowFn
		}
	}
}

func NewUnit(extractor Extractor, writer TabularWriter, opts ...UnitOption) (*Unit, error) {
	if extractor == nil {
		return nil, fmt.Errorf("pipeline: extractor is required")
	}
	if writer == nil {
		return nil, fmt.Errorf("pipeline: tabular writer is required")
	}
	unit := &Unit{
		extractor: extractor,
		writer:    writer,
		renderer:  NopRenderer{},
		logger:    glog.Nop(),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(unit)
		}
	}
	return unit, nil
}

func (u *Unit) Process(ctx context.Context, wf core.WorkflowConfig) (core.ProcessingSummary, error) {
	startedAt := u.nowFn()

	if err := u.writer.UpdateStatus(ctx, wf, statusFetching); err != nil {
		return core.ProcessingSummary{}, stageError(ErrorWriteFailed, err)
	}

	table, err := u.extractor.Extract(ctx, wf)
	if err != nil {
		return core.ProcessingSummary{}, stageError(ErrorSourceUnavailable, err)
	}
	table, err = table.Transform(wf.Filters, wf.Columns)
	if err != nil {
		return core.ProcessingSummary{}, stageError(ErrorTransformFailed, err)
	}

	statusNow := u.nowFn().Format(statusTimestampLayout)
	if table.Empty() {
		if err := u.writer.UpdateStatus(ctx, wf, statusNow); err != nil {
			return core.ProcessingSummary{}, stageError(ErrorWriteFailed, err)
		}
		return core.ProcessingSummary{
			Duration: u.nowFn().Sub(startedAt),
			Detail:   "no new data",
		}, nil
	}

	rows, err := u.writer.WriteRows(ctx, wf, table)
	if err != nil {
		return core.ProcessingSummary{}, stageError(ErrorWriteFailed, err)
	}
	if err := u.writer.UpdateStatus(ctx, wf, statusNow); err != nil {
		return core.ProcessingSummary{}, stageError(ErrorWriteFailed, err)
	}

	imagesSent, err := u.announce(ctx, wf, statusNow)
	if err != nil {
		return core.ProcessingSummary{}, err
	}

	return core.ProcessingSummary{
		RowsWritten: rows,
		ImagesSent:  imagesSent,
		Duration:    u.nowFn().Sub(startedAt),
	}, nil
}

func (u *Unit) announce(ctx context.Context, wf core.WorkflowConfig, statusNow string) (int, error) {
	if u.notifier == nil {
		return 0, nil
	}

	imagesSent := 0
	if !wf.SkipImages {
		images, err := u.renderer.Render(ctx, wf)
		if err != nil {
			return 0, stageError(ErrorRenderFailed, err)
		}
		for _, image := range images {
			if err := u.notifier.NotifyImage(ctx, wf, image); err != nil {
				u.logger.Warn("pipeline image notification failed",
					"workflow_id", wf.WorkflowID, "error", err)
				continue
			}
			imagesSent++
		}
	} else {
		u.logger.Info("pipeline image notifications skipped", "workflow_id", wf.WorkflowID)
	}

	message := fmt.Sprintf("Sharing %s update as of %s. Thank you!", wf.WorkflowID, statusNow)
	if err := u.notifier.NotifyText(ctx, wf, message); err != nil {
		return imagesSent, stageError(ErrorNotifyFailed, err)
	}
	return imagesSent, nil
}

// NopRenderer satisfies Renderer for deployments that never attach
// images. Bitmap rendering lives outside this module.
type NopRenderer struct{}

func (NopRenderer) Render(context.Context, core.WorkflowConfig) ([][]byte, error) {
	return nil, nil
}

var _ core.Pipeline = (*Unit)(nil)
var _ Renderer = NopRenderer{}
