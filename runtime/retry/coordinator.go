// Package retry tracks classified retryable failures and emits
// backoff-governed retry signals. The coordinator never re-invokes the
// failed operation itself: a periodic sweep moves due items onto the
// signal queue and consumers act on them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/faults"
	"github.com/YIKHLEF/ClinicBoost-sub004/observe"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/queue"
)

var (
	ErrNotRetryable      = errors.New("retry: failure is not retryable")
	ErrAttemptsExhausted = errors.New("retry: max attempts exhausted")
)

// Item is one tracked failure awaiting its next attempt.
type Item struct {
	Key         string      `json:"key"`
	Service     string      `json:"service"`
	ProviderID  string      `json:"providerId,omitempty"`
	Kind        faults.Kind `json:"kind"`
	Attempts    int         `json:"attempts"`
	NextAttempt time.Time   `json:"nextAttempt"`
	EnqueuedAt  time.Time   `json:"enqueuedAt"`
	LastError   string      `json:"lastError,omitempty"`
}

type Coordinator struct {
	mu     sync.Mutex
	items  map[string]*Item
	policy Policy
	queue  queue.Queue
	sink   observe.Sink
	now    func() time.Time
}

type Option func(*Coordinator)

func WithPolicy(policy Policy) Option {
	return func(c *Coordinator) { c.policy = NormalizePolicy(policy) }
}

func WithSink(sink observe.Sink) Option {
	return func(c *Coordinator) {
		if sink != nil {
			c.sink = sink
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCoordinator(q queue.Queue, opts ...Option) (*Coordinator, error) {
	if q == nil {
		return nil, fmt.Errorf("retry signal queue is required")
	}
	c := &Coordinator{
		items:  make(map[string]*Item),
		policy: DefaultPolicy(),
		queue:  q,
		sink:   observe.NoopSink{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type SubmitOption func(*submitOptions)

type submitOptions struct {
	key string
}

// WithKey resubmits against an existing item so its attempt count carries
// over; used when a retried operation fails again.
func WithKey(key string) SubmitOption {
	return func(o *submitOptions) { o.key = key }
}

// Submit registers a classified failure for retry. Returns the item key, or
// ErrNotRetryable / ErrAttemptsExhausted when the item cannot be tracked.
func (c *Coordinator) Submit(ctx context.Context, service, providerID string, cls faults.Classified, opts ...SubmitOption) (string, error) {
	if !cls.Retryable {
		_ = c.sink.Emit(ctx, observe.Event{
			Kind:       observe.KindRetry,
			Level:      observe.LevelWarn,
			ServiceTag: service,
			ProviderID: providerID,
			Name:       "not_retryable",
			Message:    string(cls.Kind),
			Error:      cls.Message,
		})
		return "", ErrNotRetryable
	}

	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	now := c.now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	key := so.key
	item, exists := c.items[key]
	if key == "" || !exists {
		if key == "" {
			key = fmt.Sprintf("%s|%s|%d", service, cls.Kind, now.UnixNano())
		}
		item = &Item{
			Key:        key,
			Service:    service,
			ProviderID: providerID,
			Kind:       cls.Kind,
			EnqueuedAt: now,
		}
		c.items[key] = item
	}

	item.Attempts++
	item.LastError = cls.Message
	if item.Attempts > c.policy.MaxAttempts {
		delete(c.items, key)
		_ = c.sink.Emit(ctx, observe.Event{
			Kind:       observe.KindRetry,
			Level:      observe.LevelWarn,
			ServiceTag: service,
			ProviderID: providerID,
			Name:       "dropped",
			Message:    fmt.Sprintf("dropping %s after %d attempts", cls.Kind, c.policy.MaxAttempts),
			Error:      cls.Message,
		})
		return "", ErrAttemptsExhausted
	}

	delay := cls.RetryAfter
	if delay <= 0 {
		delay = c.policy.Backoff(item.Attempts)
	}
	item.NextAttempt = now.Add(delay)

	c.pruneLocked(ctx)

	_ = c.sink.Emit(ctx, observe.Event{
		Kind:       observe.KindRetry,
		ServiceTag: service,
		ProviderID: providerID,
		Name:       "scheduled",
		Message:    string(cls.Kind),
		Attributes: map[string]any{"attempt": item.Attempts, "delayMs": delay.Milliseconds()},
	})
	return key, nil
}

// Sweep emits a retry-ready signal for every due item and removes it from
// the tracking map. Returns the number of signals emitted.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	now := c.now().UTC()

	c.mu.Lock()
	due := make([]*Item, 0)
	for key, item := range c.items {
		if now.Sub(item.EnqueuedAt) > c.policy.ItemTTL {
			delete(c.items, key)
			continue
		}
		if !item.NextAttempt.After(now) {
			due = append(due, item)
			delete(c.items, key)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].NextAttempt.Before(due[j].NextAttempt) })

	emitted := 0
	var firstErr error
	for _, item := range due {
		_, err := c.queue.Enqueue(ctx, queue.Signal{
			RetryKey:    item.Key,
			Service:     item.Service,
			Kind:        string(item.Kind),
			ProviderID:  item.ProviderID,
			Attempt:     item.Attempts,
			MaxAttempts: c.policy.MaxAttempts,
			Reason:      item.LastError,
			EnqueuedAt:  item.EnqueuedAt,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// Put the item back so the next sweep retries the enqueue.
			c.mu.Lock()
			c.items[item.Key] = item
			c.mu.Unlock()
			continue
		}
		emitted++
	}
	return emitted, firstErr
}

// Run sweeps on the policy interval until the context is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.policy.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				_ = c.sink.Emit(ctx, observe.Event{
					Kind:       observe.KindRetry,
					Level:      observe.LevelWarn,
					ServiceTag: "retry",
					Name:       "sweep_error",
					Error:      err.Error(),
				})
			}
		}
	}
}

// Items returns a snapshot of tracked items, soonest first.
func (c *Coordinator) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttempt.Before(out[j].NextAttempt) })
	return out
}

// pruneLocked drops the oldest items when the map exceeds its bound.
// Caller must hold the lock.
func (c *Coordinator) pruneLocked(ctx context.Context) {
	if len(c.items) <= c.policy.MaxItems {
		return
	}
	all := make([]*Item, 0, len(c.items))
	for _, item := range c.items {
		all = append(all, item)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].EnqueuedAt.Before(all[j].EnqueuedAt) })
	for _, item := range all[:len(all)-c.policy.MaxItems] {
		delete(c.items, item.Key)
		_ = c.sink.Emit(ctx, observe.Event{
			Kind:       observe.KindRetry,
			Level:      observe.LevelWarn,
			ServiceTag: item.Service,
			ProviderID: item.ProviderID,
			Name:       "pruned",
			Message:    fmt.Sprintf("retry map over %d entries, dropping oldest", c.policy.MaxItems),
		})
	}
}
