package core

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	defaultRenewInitialBackoff = 30 * time.Second
	defaultRenewMaxBackoff     = 15 * time.Minute
)

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRenewInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRenewMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// RenewalRunner keeps one goroutine per workflow that re-checks the watch
// channel on an interval, backing off on registration failure. Failures
// are logged and retried; the stale channel record stays in place until a
// replacement registration succeeds. The runner also sweeps expired dedup
// records when the store supports key enumeration.
type RenewalRunner struct {
	service  *Service
	backoff  BackoffScheduler
	interval time.Duration
	jitterFn func(time.Duration) time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewRenewalRunner(service *Service, backoff BackoffScheduler, interval time.Duration) *RenewalRunner {
	if backoff == nil {
		backoff = ExponentialBackoffScheduler{
			Initial: defaultRenewInitialBackoff,
			Max:     defaultRenewMaxBackoff,
		}
	}
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &RenewalRunner{
		service:  service,
		backoff:  backoff,
		interval: interval,
		jitterFn: jitterDelay,
	}
}

// Start launches the per-workflow renewal loops. Calling Start twice is a
// no-op until Stop is called.
func (r *RenewalRunner) Start(ctx context.Context) {
	if r == nil || r.service == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	workflows := r.service.WorkflowIDs()
	var wg sync.WaitGroup
	for _, workflowID := range workflows {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.loop(runCtx, id)
		}(workflowID)
	}
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(r.done)
}

// Stop cancels the loops and waits for them to drain.
func (r *RenewalRunner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.started = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (r *RenewalRunner) loop(ctx context.Context, workflowID string) {
	attempt := 0
	for {
		_, err := r.service.EnsureActiveWatch(ctx, workflowID)
		if err != nil {
			attempt++
			delay := r.jitterFn(r.backoff.NextDelay(attempt))
			if waitErr := waitWithContext(ctx, delay); waitErr != nil {
				return
			}
			continue
		}
		attempt = 0
		r.service.SweepDedup(ctx, workflowID)

		if waitErr := waitWithContext(ctx, r.jitterFn(r.interval)); waitErr != nil {
			return
		}
	}
}

func jitterDelay(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	// Up to 10% spread keeps replicas from renewing in lockstep.
	spread := int64(delay / 10)
	if spread <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(spread))
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
