package sched

import "time"

// Job represents one provider's recurring sync schedule.
type Job struct {
	Key      string        `json:"key"`
	Interval time.Duration `json:"interval"`
	Enabled  bool          `json:"enabled"`
	LastRun  time.Time     `json:"lastRun,omitempty"`
	NextRun  time.Time     `json:"nextRun,omitempty"`
	LastErr  string        `json:"lastError,omitempty"`
	RunCount int           `json:"runCount"`
}

// JobRun records one firing of a job.
type JobRun struct {
	At         time.Time `json:"at"`
	DurationMS int64     `json:"durationMs"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// RunFunc is called by the scheduler to execute a job. The key is the
// provider id the job was registered under.
type RunFunc func(key string) error
