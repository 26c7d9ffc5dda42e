package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

func fixedNow(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type stubWatchProvider struct {
	mu             sync.Mutex
	registered     []RegisterWatchRequest
	stopped        []string
	registerErr    error
	pageTokenErr   error
	pageToken      string
	expirationFunc func(req RegisterWatchRequest) time.Time
}

func (p *stubWatchProvider) Register(_ context.Context, req RegisterWatchRequest) (WatchRegistration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.registerErr != nil {
		return WatchRegistration{}, p.registerErr
	}
	p.registered = append(p.registered, req)
	expiration := time.Time{}
	if p.expirationFunc != nil {
		expiration = p.expirationFunc(req)
	}
	return WatchRegistration{
		ChannelID:  req.ChannelID,
		ResourceID: "resource-" + req.WorkflowID,
		Expiration: expiration,
	}, nil
}

func (p *stubWatchProvider) Stop(_ context.Context, channelID string, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = append(p.stopped, channelID)
	return nil
}

func (p *stubWatchProvider) StartPageToken(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pageTokenErr != nil {
		return "", p.pageTokenErr
	}
	if p.pageToken == "" {
		return "token-1", nil
	}
	return p.pageToken, nil
}

func (p *stubWatchProvider) registeredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.registered)
}

func (p *stubWatchProvider) stoppedChannels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.stopped))
	copy(out, p.stopped)
	return out
}

type stubPipeline struct {
	mu      sync.Mutex
	calls   int
	err     error
	summary ProcessingSummary
	block   chan struct{}
}

func (p *stubPipeline) Process(ctx context.Context, _ WorkflowConfig) (ProcessingSummary, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ProcessingSummary{}, ctx.Err()
		}
	}
	if p.err != nil {
		return ProcessingSummary{}, p.err
	}
	return p.summary, nil
}

func (p *stubPipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// failingStateStore fails selected operations to exercise the
// store-unavailable paths.
type failingStateStore struct {
	inner   StateStore
	failGet bool
	failCAS bool
	failPut bool
}

func (s *failingStateStore) Get(ctx context.Context, key string) ([]byte, string, bool, error) {
	if s.failGet {
		return nil, "", false, fmt.Errorf("state store unreachable")
	}
	return s.inner.Get(ctx, key)
}

func (s *failingStateStore) Put(ctx context.Context, key string, value []byte) error {
	if s.failPut {
		return fmt.Errorf("state store unreachable")
	}
	return s.inner.Put(ctx, key, value)
}

func (s *failingStateStore) CompareAndSwap(ctx context.Context, key string, expectedVersion string, value []byte) (bool, error) {
	if s.failCAS {
		return false, fmt.Errorf("state store unreachable")
	}
	return s.inner.CompareAndSwap(ctx, key, expectedVersion, value)
}

func (s *failingStateStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func testWorkflow(id string) WorkflowConfig {
	return WorkflowConfig{
		WorkflowID:     id,
		SourceFolderID: "folder-" + id,
		SheetID:        "sheet-" + id,
		TabName:        "Data",
		CallbackURL:    "https://callback.example/" + id,
		BucketWidth:    2 * time.Minute,
	}
}

func testServiceConfig(workflowIDs ...string) Config {
	cfg := DefaultConfig()
	cfg.Webhook.Token = "secret"
	cfg.Workflows = map[string]WorkflowConfig{}
	for _, id := range workflowIDs {
		cfg.Workflows[id] = testWorkflow(id)
	}
	return cfg
}
