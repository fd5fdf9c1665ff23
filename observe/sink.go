package observe

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type NoopSink struct{}

func (NoopSink) Emit(ctx context.Context, event Event) error {
	_ = ctx
	_ = event
	return nil
}

type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 0 {
		return NoopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// LogSink writes events as single-line structured entries through the
// standard logger.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()
	var b strings.Builder
	fmt.Fprintf(&b, "level=%s kind=%s", event.Level, event.Kind)
	if event.ServiceTag != "" {
		fmt.Fprintf(&b, " service=%s", event.ServiceTag)
	}
	if event.ProviderID != "" {
		fmt.Fprintf(&b, " provider=%s", event.ProviderID)
	}
	if event.DataType != "" {
		fmt.Fprintf(&b, " dataType=%s", event.DataType)
	}
	if event.Status != "" {
		fmt.Fprintf(&b, " status=%s", event.Status)
	}
	if event.Name != "" {
		fmt.Fprintf(&b, " name=%s", event.Name)
	}
	if event.DurationMs > 0 {
		fmt.Fprintf(&b, " durationMs=%d", event.DurationMs)
	}
	if event.Message != "" {
		fmt.Fprintf(&b, " msg=%q", event.Message)
	}
	if event.Error != "" {
		fmt.Fprintf(&b, " error=%q", event.Error)
	}
	if len(event.Attributes) > 0 {
		keys := make([]string, 0, len(event.Attributes))
		for k := range event.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, event.Attributes[k])
		}
	}
	s.logger.Println(b.String())
	return nil
}

type AsyncSink struct {
	downstream Sink
	queue      chan Event
	once       sync.Once
}

func NewAsyncSink(downstream Sink, buffer int) *AsyncSink {
	if downstream == nil {
		downstream = NoopSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	as := &AsyncSink{
		downstream: downstream,
		queue:      make(chan Event, buffer),
	}
	go as.loop()
	return as
}

func (s *AsyncSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- event:
		return nil
	default:
		// Drop on pressure to avoid blocking the sync hot path.
		return nil
	}
}

func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.queue) })
}

func (s *AsyncSink) loop() {
	for event := range s.queue {
		_ = s.downstream.Emit(context.Background(), event)
	}
}
