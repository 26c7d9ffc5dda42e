package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WatchManager owns the watch channel record per workflow. Renewal uses a
// CAS write so concurrent renewers converge on a single winner; the loser
// stops the channel it just registered and adopts the stored record.
type WatchManager struct {
	store    StateStore
	provider WatchProvider
	config   WatchConfig
	token    string
	logger   Logger
	nowFn    func() time.Time
	newID    func() string
}

func NewWatchManager(store StateStore, provider WatchProvider, cfg WatchConfig, webhookToken string, logger Logger, nowFn func() time.Time) *WatchManager {
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &WatchManager{
		store:    store,
		provider: provider,
		config:   cfg,
		token:    webhookToken,
		logger:   logger,
		nowFn:    nowFn,
		newID:    uuid.NewString,
	}
}

// EnsureActive returns the current channel, renewing it first when it is
// missing, expired, or inside the renewal lead window. The returned bool
// reports whether this call registered a new channel.
func (m *WatchManager) EnsureActive(ctx context.Context, wf WorkflowConfig) (WatchChannel, bool, error) {
	if m == nil || m.store == nil || m.provider == nil {
		return WatchChannel{}, false, fmt.Errorf("core: watch manager requires a store and a provider")
	}
	now := m.nowFn()
	key := watchKey(wf.WorkflowID)

	value, version, found, err := m.store.Get(ctx, key)
	if err != nil {
		return WatchChannel{}, false, NewStoreUnavailableError(fmt.Sprintf("watch read: %v", err))
	}

	var current WatchChannel
	if found {
		if err := json.Unmarshal(value, &current); err != nil {
			return WatchChannel{}, false, fmt.Errorf("core: watch record decode: %w", err)
		}
		if !current.ExpiringWithin(now, m.config.RenewalLead()) {
			return current, false, nil
		}
	}

	return m.renew(ctx, wf, current, found, version)
}

// Renew registers a replacement channel regardless of how much lifetime
// the current one has left.
func (m *WatchManager) Renew(ctx context.Context, wf WorkflowConfig) (WatchChannel, error) {
	if m == nil || m.store == nil || m.provider == nil {
		return WatchChannel{}, fmt.Errorf("core: watch manager requires a store and a provider")
	}
	key := watchKey(wf.WorkflowID)
	value, version, found, err := m.store.Get(ctx, key)
	if err != nil {
		return WatchChannel{}, NewStoreUnavailableError(fmt.Sprintf("watch read: %v", err))
	}
	var current WatchChannel
	if found {
		if err := json.Unmarshal(value, &current); err != nil {
			return WatchChannel{}, fmt.Errorf("core: watch record decode: %w", err)
		}
	}
	channel, _, err := m.renew(ctx, wf, current, found, version)
	return channel, err
}

func (m *WatchManager) renew(ctx context.Context, wf WorkflowConfig, current WatchChannel, found bool, version string) (WatchChannel, bool, error) {
	now := m.nowFn()
	lifetime := m.config.Lifetime
	if lifetime <= 0 {
		lifetime = defaultWatchLifetime
	}

	registration, err := m.provider.Register(ctx, RegisterWatchRequest{
		WorkflowID:  wf.WorkflowID,
		ChannelID:   m.newID(),
		FolderID:    wf.SourceFolderID,
		CallbackURL: wf.CallbackURL,
		Token:       m.token,
		TTL:         lifetime,
	})
	if err != nil {
		return WatchChannel{}, false, NewChannelRegistrationError(fmt.Sprintf("changes.watch for %q: %v", wf.WorkflowID, err))
	}

	pageToken := current.PageToken
	if !found || strings.TrimSpace(pageToken) == "" {
		token, tokenErr := m.provider.StartPageToken(ctx)
		if tokenErr != nil {
			m.stopChannel(ctx, registration.ChannelID, registration.ResourceID, "page token bootstrap failed")
			return WatchChannel{}, false, NewChannelRegistrationError(fmt.Sprintf("start page token for %q: %v", wf.WorkflowID, tokenErr))
		}
		pageToken = token
	}

	replacement := WatchChannel{
		WorkflowID: wf.WorkflowID,
		ChannelID:  registration.ChannelID,
		ResourceID: registration.ResourceID,
		PageToken:  pageToken,
		Expiration: registration.Expiration,
		CreatedAt:  now,
	}
	if replacement.Expiration.IsZero() {
		replacement.Expiration = now.Add(lifetime)
	}

	payload, err := json.Marshal(replacement)
	if err != nil {
		return WatchChannel{}, false, fmt.Errorf("core: watch record encode: %w", err)
	}
	expected := ""
	if found {
		expected = version
	}
	swapped, err := m.store.CompareAndSwap(ctx, watchKey(wf.WorkflowID), expected, payload)
	if err != nil {
		m.stopChannel(ctx, registration.ChannelID, registration.ResourceID, "watch persist failed")
		return WatchChannel{}, false, NewStoreUnavailableError(fmt.Sprintf("watch write: %v", err))
	}
	if !swapped {
		// Another renewer won the race. Discard the channel we just
		// registered and adopt theirs.
		m.stopChannel(ctx, registration.ChannelID, registration.ResourceID, "lost renewal race")
		winner, err := m.load(ctx, wf.WorkflowID)
		if err != nil {
			return WatchChannel{}, false, err
		}
		return winner, false, nil
	}

	if found && current.ChannelID != "" && current.ChannelID != replacement.ChannelID {
		m.stopChannel(ctx, current.ChannelID, current.ResourceID, "superseded by renewal")
	}
	return replacement, true, nil
}

// Status reports the stored channel and its derived lifecycle state.
func (m *WatchManager) Status(ctx context.Context, workflowID string) (WatchStatus, error) {
	if m == nil || m.store == nil {
		return WatchStatus{}, fmt.Errorf("core: watch manager requires a store")
	}
	channel, err := m.load(ctx, workflowID)
	if err != nil {
		if err == ErrWatchNotFound {
			return WatchStatus{WorkflowID: workflowID, State: WatchStateMissing}, nil
		}
		return WatchStatus{}, err
	}

	now := m.nowFn()
	state := WatchStateActive
	switch {
	case channel.Expired(now):
		state = WatchStateExpired
	case channel.ExpiringWithin(now, m.config.RenewalLead()):
		state = WatchStateExpiring
	}
	return WatchStatus{WorkflowID: workflowID, State: state, Channel: channel}, nil
}

// Stop tears down the channel and removes the record. Provider stop
// failures are logged; the record is removed regardless so a later
// EnsureActive starts clean.
func (m *WatchManager) Stop(ctx context.Context, workflowID string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("core: watch manager requires a store")
	}
	channel, err := m.load(ctx, workflowID)
	if err != nil {
		if err == ErrWatchNotFound {
			return nil
		}
		return err
	}
	m.stopChannel(ctx, channel.ChannelID, channel.ResourceID, "stop requested")
	if err := m.store.Delete(ctx, watchKey(workflowID)); err != nil {
		return NewStoreUnavailableError(fmt.Sprintf("watch delete: %v", err))
	}
	return nil
}

func (m *WatchManager) load(ctx context.Context, workflowID string) (WatchChannel, error) {
	value, _, found, err := m.store.Get(ctx, watchKey(workflowID))
	if err != nil {
		return WatchChannel{}, NewStoreUnavailableError(fmt.Sprintf("watch read: %v", err))
	}
	if !found {
		return WatchChannel{}, ErrWatchNotFound
	}
	var channel WatchChannel
	if err := json.Unmarshal(value, &channel); err != nil {
		return WatchChannel{}, fmt.Errorf("core: watch record decode: %w", err)
	}
	return channel, nil
}

func (m *WatchManager) stopChannel(ctx context.Context, channelID, resourceID, reason string) {
	if m.provider == nil || strings.TrimSpace(channelID) == "" {
		return
	}
	if err := m.provider.Stop(ctx, channelID, resourceID); err != nil && m.logger != nil {
		m.logger.Warn("watch channel stop failed",
			"channel_id", channelID,
			"reason", reason,
			"error", err.Error(),
		)
	}
}
