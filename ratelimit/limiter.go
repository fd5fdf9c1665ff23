// Package ratelimit bounds outbound call rate per key and window. The
// counter backend is pluggable so the same algorithm works in-process or
// against a shared store for multi-instance deployments.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/observe"
)

const (
	defaultMaxRequests = 60
	defaultWindow      = time.Minute
)

// Result reports one limit check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"resetTime"`
	TotalHits  int64         `json:"totalHits"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

type Limiter struct {
	storage Storage
	max     int64
	window  time.Duration
	sink    observe.Sink
	now     func() time.Time
}

type Option func(*Limiter)

func WithMaxRequests(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.max = int64(n)
		}
	}
}

func WithWindow(w time.Duration) Option {
	return func(l *Limiter) {
		if w > 0 {
			l.window = w
		}
	}
}

func WithSink(sink observe.Sink) Option {
	return func(l *Limiter) {
		if sink != nil {
			l.sink = sink
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(storage Storage, opts ...Option) (*Limiter, error) {
	if storage == nil {
		return nil, fmt.Errorf("ratelimit storage is required")
	}
	l := &Limiter{
		storage: storage,
		max:     defaultMaxRequests,
		window:  defaultWindow,
		sink:    observe.NoopSink{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check counts a hit against the key's current window. On storage errors it
// fails open: the request is allowed and the fault is logged, never
// propagated.
func (l *Limiter) Check(ctx context.Context, key string) Result {
	now := l.now()
	windowStart := now.Truncate(l.window)
	reset := windowStart.Add(l.window)
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, windowStart.Unix())

	hits, err := l.storage.Increment(ctx, bucket, l.window)
	if err != nil {
		_ = l.sink.Emit(ctx, observe.Event{
			Kind:       observe.KindLimiter,
			Level:      observe.LevelWarn,
			ServiceTag: "ratelimit",
			Name:       "storage_error",
			Message:    "failing open",
			Error:      err.Error(),
			Attributes: map[string]any{"key": key},
		})
		return Result{Allowed: true, Remaining: int(l.max), ResetTime: reset}
	}

	res := Result{
		Allowed:   hits <= l.max,
		Remaining: int(l.max - hits),
		ResetTime: reset,
		TotalHits: hits,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = reset.Sub(now)
		_ = l.sink.Emit(ctx, observe.Event{
			Kind:       observe.KindLimiter,
			Level:      observe.LevelWarn,
			ServiceTag: "ratelimit",
			Name:       "limit_exceeded",
			Attributes: map[string]any{"key": key, "hits": hits, "max": l.max},
		})
	}
	return res
}

// Reset clears the key's current window.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	windowStart := l.now().Truncate(l.window)
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, windowStart.Unix())
	return l.storage.Delete(ctx, bucket)
}
