package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DedupGuard provides at-most-once claims over the state store. All
// coordination goes through CompareAndSwap so claims hold across
// processes sharing the same store.
type DedupGuard struct {
	store StateStore
	nowFn func() time.Time
}

func NewDedupGuard(store StateStore, nowFn func() time.Time) *DedupGuard {
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &DedupGuard{store: store, nowFn: nowFn}
}

// Claim attempts to take ownership of a fingerprint. Exactly one caller
// across all processes observes ClaimResultClaimed for a given fingerprint;
// everyone else gets the terminal state of the existing record.
func (g *DedupGuard) Claim(ctx context.Context, workflowID, fingerprint string) (ClaimResult, error) {
	if g == nil || g.store == nil {
		return "", fmt.Errorf("core: dedup guard requires a state store")
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return "", fmt.Errorf("core: fingerprint is required")
	}
	key := dedupKey(workflowID, fingerprint)

	for attempt := 0; attempt < 2; attempt++ {
		value, _, found, err := g.store.Get(ctx, key)
		if err != nil {
			return "", NewStoreUnavailableError(fmt.Sprintf("dedup claim read: %v", err))
		}
		if found {
			return classifyExisting(value)
		}

		record := DedupRecord{
			Fingerprint: fingerprint,
			WorkflowID:  strings.TrimSpace(workflowID),
			Status:      DedupStatusInProgress,
			Attempts:    1,
			ClaimedAt:   g.nowFn(),
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return "", fmt.Errorf("core: dedup record encode: %w", err)
		}
		swapped, err := g.store.CompareAndSwap(ctx, key, "", payload)
		if err != nil {
			return "", NewStoreUnavailableError(fmt.Sprintf("dedup claim write: %v", err))
		}
		if swapped {
			return ClaimResultClaimed, nil
		}
		// Lost the create race; the next read classifies the winner's record.
	}
	return ClaimResultAlreadyInProgress, nil
}

// Complete records the terminal state of a claimed fingerprint. A store
// failure here leaves the record in_progress; the staleness window is
// bounded by the time-bucket width.
func (g *DedupGuard) Complete(ctx context.Context, workflowID, fingerprint string, success bool, reason string) error {
	if g == nil || g.store == nil {
		return fmt.Errorf("core: dedup guard requires a state store")
	}
	key := dedupKey(workflowID, strings.TrimSpace(fingerprint))

	value, version, found, err := g.store.Get(ctx, key)
	if err != nil {
		return NewStoreUnavailableError(fmt.Sprintf("dedup complete read: %v", err))
	}
	if !found {
		return fmt.Errorf("core: dedup record %q not found", key)
	}
	var record DedupRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return fmt.Errorf("core: dedup record decode: %w", err)
	}

	status := DedupStatusSucceeded
	if !success {
		status = DedupStatusFailed
	}
	if err := record.TransitionTo(status, reason, g.nowFn()); err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("core: dedup record encode: %w", err)
	}
	swapped, err := g.store.CompareAndSwap(ctx, key, version, payload)
	if err != nil {
		return NewStoreUnavailableError(fmt.Sprintf("dedup complete write: %v", err))
	}
	if !swapped {
		return fmt.Errorf("core: dedup record %q changed during completion", key)
	}
	return nil
}

// Sweep removes dedup records older than the retention window. Backends
// without key enumeration are skipped; correctness never depends on the
// sweep running.
func (g *DedupGuard) Sweep(ctx context.Context, workflowID string, retention time.Duration) (int, error) {
	if g == nil || g.store == nil || retention <= 0 {
		return 0, nil
	}
	lister, ok := g.store.(PrefixLister)
	if !ok {
		return 0, nil
	}
	keys, err := lister.Keys(ctx, "dedup:"+strings.TrimSpace(workflowID)+":")
	if err != nil {
		return 0, NewStoreUnavailableError(fmt.Sprintf("dedup sweep list: %v", err))
	}

	cutoff := g.nowFn().Add(-retention)
	removed := 0
	for _, key := range keys {
		value, _, found, err := g.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var record DedupRecord
		if err := json.Unmarshal(value, &record); err != nil {
			continue
		}
		if record.Status == DedupStatusInProgress || record.ClaimedAt.After(cutoff) {
			continue
		}
		if err := g.store.Delete(ctx, key); err == nil {
			removed++
		}
	}
	return removed, nil
}

func classifyExisting(value []byte) (ClaimResult, error) {
	var record DedupRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return "", fmt.Errorf("core: dedup record decode: %w", err)
	}
	switch record.Status {
	case DedupStatusSucceeded:
		return ClaimResultAlreadySucceeded, nil
	case DedupStatusFailed:
		return ClaimResultAlreadyFailed, nil
	default:
		return ClaimResultAlreadyInProgress, nil
	}
}
