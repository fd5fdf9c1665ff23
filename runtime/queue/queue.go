// Package queue decouples retry scheduling from execution: the retry
// coordinator enqueues retry-ready signals here and the daemon consumes
// them, so scheduling is testable by inspecting queue contents.
package queue

import (
	"context"
	"time"
)

// Signal marks one classified failure whose backoff has elapsed.
type Signal struct {
	ID          string         `json:"id"`
	Service     string         `json:"service"`
	Kind        string         `json:"kind"`
	ProviderID  string         `json:"providerId,omitempty"`
	RetryKey    string         `json:"retryKey"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"maxAttempts"`
	Reason      string         `json:"reason,omitempty"`
	NotBefore   *time.Time     `json:"notBefore,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueuedAt"`
}

type Delivery struct {
	ID       string    `json:"id"`
	Stream   string    `json:"stream"`
	Signal   Signal    `json:"signal"`
	Received time.Time `json:"received"`
}

type Stats struct {
	StreamLength int64 `json:"streamLength"`
	DLQLength    int64 `json:"dlqLength"`
	Pending      int64 `json:"pending"`
}

type Queue interface {
	Enqueue(ctx context.Context, signal Signal) (string, error)
	Claim(ctx context.Context, consumer string, block time.Duration, count int) ([]Delivery, error)
	Ack(ctx context.Context, consumer string, messageIDs ...string) error
	Nack(ctx context.Context, consumer string, deliveries []Delivery, reason string) error
	DeadLetter(ctx context.Context, delivery Delivery, reason string) (string, error)
	ListDLQ(ctx context.Context, limit int) ([]Delivery, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
