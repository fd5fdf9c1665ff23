// Package sched drives recurring per-provider sync passes plus an
// on-demand trigger path sharing the same run function.
package sched

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"

	"github.com/YIKHLEF/ClinicBoost-sub004/observe"
)

// Scheduler manages one recurring timer per enabled provider.
type Scheduler struct {
	mu      sync.RWMutex
	cron    *robcron.Cron
	jobs    map[string]*managedJob
	runFunc RunFunc
	sink    observe.Sink
	started bool
	maxRuns int
}

type managedJob struct {
	Job
	entryID robcron.EntryID
	runs    []JobRun
}

type Option func(*Scheduler)

func WithSink(sink observe.Sink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// New creates a new Scheduler. The runFunc is invoked for each triggered job.
func New(runFunc RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:    robcron.New(),
		jobs:    make(map[string]*managedJob),
		runFunc: runFunc,
		sink:    observe.NoopSink{},
		maxRuns: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a recurring job. Returns an error if the key is duplicate
// or the interval is not positive.
func (s *Scheduler) Add(key string, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		return fmt.Errorf("job key is required")
	}
	if interval <= 0 {
		return fmt.Errorf("job interval must be positive, got %s", interval)
	}
	if _, exists := s.jobs[key]; exists {
		return fmt.Errorf("job %q already exists", key)
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.executeJob(key)
	})
	if err != nil {
		return fmt.Errorf("invalid interval %s: %w", interval, err)
	}

	mj := &managedJob{
		Job: Job{
			Key:      key,
			Interval: interval,
			Enabled:  true,
		},
		entryID: entryID,
	}

	entry := s.cron.Entry(entryID)
	if !entry.Next.IsZero() {
		mj.NextRun = entry.Next
	}

	s.jobs[key] = mj
	return nil
}

func (s *Scheduler) executeJob(key string) {
	_ = s.runAndRecord(key, "schedule", true)
}

// Remove deletes a job by key. Future firings stop immediately; an
// in-flight run is not aborted.
func (s *Scheduler) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mj, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("job %q not found", key)
	}
	s.cron.Remove(mj.entryID)
	delete(s.jobs, key)
	return nil
}

// List returns all registered jobs sorted by key.
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, mj := range s.jobs {
		j := mj.Job
		entry := s.cron.Entry(mj.entryID)
		if !entry.Next.IsZero() {
			j.NextRun = entry.Next
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key < out[k].Key })
	return out
}

// Get returns a single job by key.
func (s *Scheduler) Get(key string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mj, ok := s.jobs[key]
	if !ok {
		return Job{}, false
	}
	j := mj.Job
	entry := s.cron.Entry(mj.entryID)
	if !entry.Next.IsZero() {
		j.NextRun = entry.Next
	}
	return j, true
}

// SetEnabled enables or disables a job without removing it. Disabled jobs
// keep their timer but skip execution.
func (s *Scheduler) SetEnabled(key string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mj, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("job %q not found", key)
	}
	mj.Enabled = enabled
	return nil
}

// Trigger manually executes a job immediately, regardless of its schedule.
func (s *Scheduler) Trigger(key string) error {
	return s.runAndRecord(key, "manual", false)
}

// History returns recent run history for a job, newest first.
func (s *Scheduler) History(key string, limit int) ([]JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mj, ok := s.jobs[key]
	if !ok {
		return nil, fmt.Errorf("job %q not found", key)
	}
	if limit <= 0 || limit > len(mj.runs) {
		limit = len(mj.runs)
	}
	out := make([]JobRun, 0, limit)
	for i := len(mj.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, mj.runs[i])
	}
	return out, nil
}

func (s *Scheduler) runAndRecord(key, trigger string, skipIfDisabled bool) error {
	s.mu.RLock()
	mj, ok := s.jobs[key]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("job %q not found", key)
	}
	if skipIfDisabled && !mj.Enabled {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	started := time.Now()
	err := s.runFunc(key)
	finished := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	mj2, ok := s.jobs[key]
	if !ok {
		return err
	}
	mj2.LastRun = finished
	mj2.RunCount++
	run := JobRun{
		At:         finished,
		DurationMS: finished.Sub(started).Milliseconds(),
		Trigger:    trigger,
	}
	event := observe.Event{
		Kind:       observe.KindPass,
		ServiceTag: "sched",
		ProviderID: key,
		Name:       "job_" + trigger,
		DurationMs: run.DurationMS,
	}
	if err != nil {
		mj2.LastErr = err.Error()
		run.Status = "failed"
		run.Error = err.Error()
		event.Status = observe.StatusFailed
		event.Error = err.Error()
	} else {
		mj2.LastErr = ""
		run.Status = "completed"
		event.Status = observe.StatusCompleted
	}
	_ = s.sink.Emit(context.Background(), event)
	mj2.runs = append(mj2.runs, run)
	if s.maxRuns > 0 && len(mj2.runs) > s.maxRuns {
		mj2.runs = mj2.runs[len(mj2.runs)-s.maxRuns:]
	}
	entry := s.cron.Entry(mj2.entryID)
	if !entry.Next.IsZero() {
		mj2.NextRun = entry.Next
	}
	return err
}

// Start begins the scheduler. Non-blocking.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.cron.Stop()
		s.started = false
	}
}
