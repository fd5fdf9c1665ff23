package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/faults"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/queue"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestCoordinatorSubmitAndSweep(t *testing.T) {
	q := queue.NewMemoryQueue()
	clock, advance := testClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	c, err := NewCoordinator(q,
		WithPolicy(Policy{MaxAttempts: 3, BaseDelay: time.Second}),
		WithNow(clock),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	cls := faults.Classify("sync", errors.New("request timeout"))
	key, err := c.Submit(ctx, "sync", "cal-primary", cls)
	if err != nil {
		t.Fatal(err)
	}

	// Not due yet.
	if n, _ := c.Sweep(ctx); n != 0 {
		t.Fatalf("sweep before backoff emitted %d signals, want 0", n)
	}

	advance(2 * time.Second)
	n, err := c.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("sweep emitted %d signals, want 1", n)
	}

	deliveries, _ := q.Claim(ctx, "test", 0, 10)
	if len(deliveries) != 1 {
		t.Fatalf("claimed %d, want 1", len(deliveries))
	}
	sig := deliveries[0].Signal
	if sig.RetryKey != key {
		t.Errorf("signal retryKey = %q, want %q", sig.RetryKey, key)
	}
	if sig.Kind != string(faults.KindNetworkTimeout) {
		t.Errorf("signal kind = %q, want %q", sig.Kind, faults.KindNetworkTimeout)
	}
	if sig.Attempt != 1 {
		t.Errorf("signal attempt = %d, want 1", sig.Attempt)
	}
	if len(c.Items()) != 0 {
		t.Error("swept item must leave the tracking map")
	}
}

func TestCoordinatorRejectsNonRetryable(t *testing.T) {
	c, _ := NewCoordinator(queue.NewMemoryQueue())
	cls := faults.Classify("sync", errors.New("401 unauthorized"))
	if _, err := c.Submit(context.Background(), "sync", "", cls); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("err = %v, want ErrNotRetryable", err)
	}
}

func TestCoordinatorDropsAfterMaxAttempts(t *testing.T) {
	clock, _ := testClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	c, _ := NewCoordinator(queue.NewMemoryQueue(),
		WithPolicy(Policy{MaxAttempts: 3, BaseDelay: time.Second}),
		WithNow(clock),
	)
	ctx := context.Background()
	cls := faults.Classify("sync", errors.New("timeout"))

	key, err := c.Submit(ctx, "sync", "p1", cls)
	if err != nil {
		t.Fatal(err)
	}
	for attempt := 2; attempt <= 3; attempt++ {
		if _, err := c.Submit(ctx, "sync", "p1", cls, WithKey(key)); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
	}
	// Attempt 4 is dropped, never retried silently forever.
	if _, err := c.Submit(ctx, "sync", "p1", cls, WithKey(key)); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("attempt 4 err = %v, want ErrAttemptsExhausted", err)
	}
	if len(c.Items()) != 0 {
		t.Error("exhausted item must be removed")
	}
}

func TestCoordinatorHonorsServerRetryAfter(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock, advance := testClock(start)
	q := queue.NewMemoryQueue()
	c, _ := NewCoordinator(q,
		WithPolicy(Policy{MaxAttempts: 3, BaseDelay: time.Second}),
		WithNow(clock),
	)
	ctx := context.Background()

	cls := faults.Classify("sync", errors.New("429 too many requests, retry-after: 30"))
	if _, err := c.Submit(ctx, "sync", "p1", cls); err != nil {
		t.Fatal(err)
	}

	items := c.Items()
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if want := start.Add(30 * time.Second); !items[0].NextAttempt.Equal(want) {
		t.Fatalf("nextAttempt = %s, want %s", items[0].NextAttempt, want)
	}

	advance(10 * time.Second)
	if n, _ := c.Sweep(ctx); n != 0 {
		t.Fatal("item became due before server retry-after elapsed")
	}
	advance(25 * time.Second)
	if n, _ := c.Sweep(ctx); n != 1 {
		t.Fatal("item not due after server retry-after elapsed")
	}
}

func TestCoordinatorPrunesOldest(t *testing.T) {
	clock, advance := testClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	c, _ := NewCoordinator(queue.NewMemoryQueue(),
		WithPolicy(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxItems: 2}),
		WithNow(clock),
	)
	ctx := context.Background()
	cls := faults.Classify("sync", errors.New("timeout"))
	for i := 0; i < 5; i++ {
		if _, err := c.Submit(ctx, "sync", "p1", cls); err != nil {
			t.Fatal(err)
		}
		advance(time.Millisecond)
	}
	if got := len(c.Items()); got > 2 {
		t.Fatalf("items = %d, want <= 2 after pruning", got)
	}
}
