package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Signal{RetryKey: "sync|network_timeout|1", Service: "sync", Kind: "network_timeout"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected message id")
	}

	deliveries, err := q.Claim(ctx, "worker-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("claimed %d deliveries, want 1", len(deliveries))
	}
	if deliveries[0].Signal.RetryKey != "sync|network_timeout|1" {
		t.Fatalf("unexpected retry key %q", deliveries[0].Signal.RetryKey)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 1 || stats.StreamLength != 0 {
		t.Fatalf("stats = %+v, want pending=1 streamLength=0", stats)
	}

	if err := q.Ack(ctx, "worker-1", deliveries[0].ID); err != nil {
		t.Fatal(err)
	}
	stats, _ = q.Stats(ctx)
	if stats.Pending != 0 {
		t.Fatalf("pending = %d after ack, want 0", stats.Pending)
	}
}

func TestMemoryQueueNackRequeues(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	q.Enqueue(ctx, Signal{RetryKey: "k1"})
	deliveries, _ := q.Claim(ctx, "worker-1", 0, 1)
	if err := q.Nack(ctx, "worker-1", deliveries, "transient"); err != nil {
		t.Fatal(err)
	}

	again, _ := q.Claim(ctx, "worker-1", time.Millisecond, 1)
	if len(again) != 1 || again[0].Signal.RetryKey != "k1" {
		t.Fatalf("nacked delivery not reclaimed: %+v", again)
	}
}

func TestMemoryQueueDeadLetter(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	q.Enqueue(ctx, Signal{RetryKey: "k1"})
	deliveries, _ := q.Claim(ctx, "worker-1", 0, 1)
	if _, err := q.DeadLetter(ctx, deliveries[0], "attempts exhausted"); err != nil {
		t.Fatal(err)
	}

	dlq, err := q.ListDLQ(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dlq) != 1 {
		t.Fatalf("dlq length = %d, want 1", len(dlq))
	}
	if reason := dlq[0].Signal.Metadata["dead_letter_reason"]; reason != "attempts exhausted" {
		t.Fatalf("dead letter reason = %v", reason)
	}
}

func TestMemoryQueueRequiresRetryKey(t *testing.T) {
	q := NewMemoryQueue()
	if _, err := q.Enqueue(context.Background(), Signal{}); err == nil {
		t.Fatal("expected error for missing retry key")
	}
}
