package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is the in-process default for single-instance deployments.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []Delivery
	pending map[string]Delivery
	dlq     []Delivery
	closed  bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[string]Delivery),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, signal Signal) (string, error) {
	_ = ctx
	if signal.RetryKey == "" {
		return "", fmt.Errorf("retryKey is required")
	}
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.EnqueuedAt.IsZero() {
		signal.EnqueuedAt = time.Now().UTC()
	}
	if signal.Metadata == nil {
		signal.Metadata = map[string]any{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", fmt.Errorf("queue is closed")
	}
	q.ready = append(q.ready, Delivery{
		ID:     signal.ID,
		Stream: "memory",
		Signal: signal,
	})
	return signal.ID, nil
}

func (q *MemoryQueue) Claim(ctx context.Context, consumer string, block time.Duration, count int) ([]Delivery, error) {
	_ = ctx
	_ = block
	if consumer == "" {
		return nil, fmt.Errorf("consumer is required")
	}
	if count <= 0 {
		count = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return []Delivery{}, nil
	}
	if count > len(q.ready) {
		count = len(q.ready)
	}
	now := time.Now().UTC()
	out := make([]Delivery, 0, count)
	for _, d := range q.ready[:count] {
		d.Received = now
		q.pending[d.ID] = d
		out = append(out, d)
	}
	q.ready = q.ready[count:]
	return out, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, consumer string, messageIDs ...string) error {
	_ = ctx
	_ = consumer
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range messageIDs {
		delete(q.pending, id)
	}
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, consumer string, deliveries []Delivery, reason string) error {
	_ = ctx
	_ = consumer
	_ = reason
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range deliveries {
		if _, ok := q.pending[d.ID]; !ok {
			continue
		}
		delete(q.pending, d.ID)
		q.ready = append(q.ready, d)
	}
	return nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, delivery Delivery, reason string) (string, error) {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()
	if delivery.Signal.Metadata == nil {
		delivery.Signal.Metadata = map[string]any{}
	}
	delivery.Signal.Metadata["dead_letter_reason"] = reason
	delete(q.pending, delivery.ID)
	q.dlq = append(q.dlq, delivery)
	return delivery.ID, nil
}

func (q *MemoryQueue) ListDLQ(ctx context.Context, limit int) ([]Delivery, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Delivery, 0, limit)
	for i := len(q.dlq) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, q.dlq[i])
	}
	return out, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		StreamLength: int64(len(q.ready)),
		DLQLength:    int64(len(q.dlq)),
		Pending:      int64(len(q.pending)),
	}, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
