package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidDedupStatusTransition = errors.New("core: invalid dedup status transition")
	ErrUnknownWorkflow              = errors.New("core: workflow not configured")
	ErrWatchNotFound                = errors.New("core: no watch channel registered")
)

// WatchChannel is the persisted record of a provider push channel. At most
// one non-expired channel exists per workflow; the watch manager owns the
// record under the key "watch:<workflow_id>".
type WatchChannel struct {
	WorkflowID string    `json:"workflow_id"`
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	PageToken  string    `json:"page_token,omitempty"`
	Expiration time.Time `json:"expiration"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c WatchChannel) Expired(now time.Time) bool {
	return !c.Expiration.After(now)
}

// ExpiringWithin reports whether the channel needs renewal: already expired
// or inside the renewal lead window before expiration.
func (c WatchChannel) ExpiringWithin(now time.Time, lead time.Duration) bool {
	if c.Expired(now) {
		return true
	}
	return c.Expiration.Sub(now) <= lead
}

type WatchState string

const (
	WatchStateActive   WatchState = "active"
	WatchStateExpiring WatchState = "expiring"
	WatchStateExpired  WatchState = "expired"
	WatchStateMissing  WatchState = "missing"
)

type WatchStatus struct {
	WorkflowID string       `json:"workflow_id"`
	State      WatchState   `json:"state"`
	Channel    WatchChannel `json:"channel,omitzero"`
}

type DedupStatus string

const (
	DedupStatusInProgress DedupStatus = "in_progress"
	DedupStatusSucceeded  DedupStatus = "succeeded"
	DedupStatusFailed     DedupStatus = "failed"
)

// DedupRecord tracks one claimed fingerprint. Transitions:
// in_progress -> succeeded or in_progress -> failed, exactly once.
// Succeeded records are never reclaimed; failed records stay failed, a
// retry from a later time bucket lands on a fresh fingerprint.
type DedupRecord struct {
	Fingerprint string      `json:"fingerprint"`
	WorkflowID  string      `json:"workflow_id"`
	Status      DedupStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	ClaimedAt   time.Time   `json:"claimed_at"`
	CompletedAt time.Time   `json:"completed_at,omitzero"`
	LastError   string      `json:"last_error,omitempty"`
}

func (r *DedupRecord) TransitionTo(status DedupStatus, reason string, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status != DedupStatusInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidDedupStatusTransition, r.Status, status)
	}
	switch status {
	case DedupStatusSucceeded, DedupStatusFailed:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidDedupStatusTransition, r.Status, status)
	}
	r.Status = status
	r.CompletedAt = now
	if strings.TrimSpace(reason) != "" {
		r.LastError = strings.TrimSpace(reason)
	}
	return nil
}

type ClaimResult string

const (
	ClaimResultClaimed           ClaimResult = "claimed"
	ClaimResultAlreadyInProgress ClaimResult = "already_in_progress"
	ClaimResultAlreadySucceeded  ClaimResult = "already_succeeded"
	ClaimResultAlreadyFailed     ClaimResult = "already_failed"
)

// Duplicate reports whether the claim outcome means the event was already
// handled and the caller should acknowledge without processing.
func (r ClaimResult) Duplicate() bool {
	switch r {
	case ClaimResultAlreadyInProgress, ClaimResultAlreadySucceeded, ClaimResultAlreadyFailed:
		return true
	}
	return false
}

// ChangeEvent is a normalized provider push notification.
type ChangeEvent struct {
	ResourceID    string
	ResourceState string
	ChannelID     string
	MessageNumber int64
	ReceivedAt    time.Time
}

// Handshake reports whether the event is the provider's channel
// confirmation ping, which is acknowledged without dispatch.
func (e ChangeEvent) Handshake() bool {
	return strings.EqualFold(strings.TrimSpace(e.ResourceState), "sync")
}

type DispatchOutcome struct {
	WorkflowID  string            `json:"workflow_id"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Claim       ClaimResult       `json:"claim,omitempty"`
	Deduped     bool              `json:"deduped"`
	Detail      string            `json:"detail,omitempty"`
	Summary     ProcessingSummary `json:"summary,omitzero"`
}

// ProcessingSummary reports what one pipeline run produced.
type ProcessingSummary struct {
	RowsWritten int           `json:"rows_written"`
	ImagesSent  int           `json:"images_sent"`
	Duration    time.Duration `json:"duration_ms"`
	Detail      string        `json:"detail,omitempty"`
}

// RunStatus is the persisted last-run summary for a workflow, stored under
// "status:<workflow_id>".
type RunStatus struct {
	WorkflowID  string            `json:"workflow_id"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Success     bool              `json:"success"`
	Detail      string            `json:"detail,omitempty"`
	Summary     ProcessingSummary `json:"summary,omitzero"`
	RanAt       time.Time         `json:"ran_at"`
}

func watchKey(workflowID string) string {
	return "watch:" + strings.TrimSpace(workflowID)
}

func dedupKey(workflowID, fingerprint string) string {
	return "dedup:" + strings.TrimSpace(workflowID) + ":" + strings.TrimSpace(fingerprint)
}

func statusKey(workflowID string) string {
	return "status:" + strings.TrimSpace(workflowID)
}
