package observe

import "time"

type Kind string

type Status string

type Level string

const (
	KindPass     Kind = "pass"
	KindRecord   Kind = "record"
	KindConflict Kind = "conflict"
	KindRetry    Kind = "retry"
	KindLimiter  Kind = "limiter"
	KindProbe    Kind = "probe"
	KindCustom   Kind = "custom"
)

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a structured log record emitted by the sync engine and its
// supporting services. ServiceTag identifies the originating subsystem
// (e.g. "sync", "ratelimit", "retry", a provider id).
type Event struct {
	ID         string         `json:"id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level,omitempty"`
	ServiceTag string         `json:"serviceTag,omitempty"`
	ProviderID string         `json:"providerId,omitempty"`
	DataType   string         `json:"dataType,omitempty"`
	Kind       Kind           `json:"kind"`
	Status     Status         `json:"status,omitempty"`
	Name       string         `json:"name,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Kind == "" {
		e.Kind = KindCustom
	}
	if e.Level == "" {
		if e.Status == StatusFailed {
			e.Level = LevelError
		} else {
			e.Level = LevelInfo
		}
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
}
