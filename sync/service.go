package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/faults"
	"github.com/YIKHLEF/ClinicBoost-sub004/observe"
	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
	"github.com/YIKHLEF/ClinicBoost-sub004/ratelimit"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/queue"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/retry"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/sched"
)

var (
	ErrNotEnabled   = errors.New("sync: provider is not enabled")
	ErrPassInFlight = errors.New("sync: a pass is already running for this provider")
)

const historySize = 50

// AdapterResolver maps a provider to the adapter that speaks its protocol.
type AdapterResolver func(p provider.Provider) (Adapter, error)

// PassRecord is one completed pass in the service history.
type PassRecord struct {
	ProviderID string `json:"providerId"`
	Result     Result `json:"result"`
}

// Service is the operator-facing sync surface: it gates passes on enable
// state, rate limits, and single-flight, runs them through the engine, and
// feeds failures to the retry coordinator.
type Service struct {
	registry *provider.Registry
	adapters AdapterResolver
	engine   *Engine
	resolver *Resolver
	limiter  *ratelimit.Limiter
	retries  *retry.Coordinator
	sched    *sched.Scheduler
	sink     observe.Sink
	windowFn func(now time.Time) Window
	now      func() time.Time

	mu       stdsync.Mutex
	inflight map[string]bool
	history  []PassRecord
}

type ServiceOption func(*Service)

func WithLimiter(l *ratelimit.Limiter) ServiceOption {
	return func(s *Service) { s.limiter = l }
}

func WithRetries(c *retry.Coordinator) ServiceOption {
	return func(s *Service) { s.retries = c }
}

func WithScheduler(sc *sched.Scheduler) ServiceOption {
	return func(s *Service) { s.sched = sc }
}

func WithServiceSink(sink observe.Sink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithWindowFunc(fn func(now time.Time) Window) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.windowFn = fn
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// DefaultWindow covers the recent past plus the scheduling horizon.
func DefaultWindow(now time.Time) Window {
	return Window{From: now.Add(-7 * 24 * time.Hour), To: now.Add(60 * 24 * time.Hour)}
}

func NewService(registry *provider.Registry, adapters AdapterResolver, engine *Engine, resolver *Resolver, opts ...ServiceOption) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if adapters == nil {
		return nil, fmt.Errorf("adapter resolver is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("sync engine is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("conflict resolver is required")
	}
	s := &Service{
		registry: registry,
		adapters: adapters,
		engine:   engine,
		resolver: resolver,
		sink:     observe.NoopSink{},
		windowFn: DefaultWindow,
		now:      time.Now,
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SyncProvider runs one pass for the provider. Disabled providers short
// circuit before any I/O. Concurrent triggers for the same provider return
// ErrPassInFlight; other providers are unaffected.
func (s *Service) SyncProvider(ctx context.Context, id string) (Result, error) {
	return s.syncProvider(ctx, id, false)
}

// retrying suppresses fresh retry-item minting: a pass run on behalf of a
// retry signal resubmits under the signal's key in HandleRetrySignal, so a
// failure here must not open a second lineage for the same fault.
func (s *Service) syncProvider(ctx context.Context, id string, retrying bool) (Result, error) {
	p, err := s.registry.Get(id)
	if err != nil {
		return Result{}, err
	}
	if !p.Enabled {
		return Result{}, fmt.Errorf("%w: %s", ErrNotEnabled, id)
	}

	s.mu.Lock()
	if s.inflight[id] {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrPassInFlight, id)
	}
	s.inflight[id] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}()

	if s.limiter != nil {
		if rl := s.limiter.Check(ctx, id); !rl.Allowed {
			cls := faults.Classified{
				Kind:       faults.KindRateLimited,
				Service:    string(p.Type),
				Retryable:  true,
				RetryAfter: rl.RetryAfter,
				Message:    fmt.Sprintf("sync pass for %s rate limited", id),
			}
			if !retrying {
				s.submitRetry(ctx, p, cls, "")
			}
			return Result{}, cls
		}
	}

	adapter, err := s.adapters(p)
	if err != nil {
		return Result{}, fmt.Errorf("resolve adapter for %q: %w", id, err)
	}

	_ = s.registry.SetStatus(ctx, id, provider.StatusSyncing, nil)
	_ = s.sink.Emit(ctx, observe.Event{
		Kind:       observe.KindPass,
		Status:     observe.StatusStarted,
		ServiceTag: "sync",
		ProviderID: id,
	})

	result := s.engine.RunPass(ctx, adapter, p, s.windowFn(s.now()))

	s.recordHistory(id, result)
	s.settleStatus(ctx, id, result)
	if !retrying {
		s.submitFailures(ctx, p, result)
	}

	status := observe.StatusCompleted
	if !result.Success {
		status = observe.StatusFailed
	}
	_ = s.sink.Emit(ctx, observe.Event{
		Kind:       observe.KindPass,
		Status:     status,
		ServiceTag: "sync",
		ProviderID: id,
		DurationMs: result.DurationMs,
		Attributes: map[string]any{
			"processed": result.RecordsProcessed,
			"created":   result.RecordsCreated,
			"updated":   result.RecordsUpdated,
			"skipped":   result.RecordsSkipped,
			"conflicts": len(result.Conflicts),
			"errors":    len(result.Errors),
		},
	})
	return result, nil
}

// SyncAll runs a pass for every enabled provider, sequentially, and never
// stops early: one provider's failure does not block the others.
func (s *Service) SyncAll(ctx context.Context) map[string]Result {
	out := make(map[string]Result)
	for _, p := range s.registry.List() {
		if !p.Enabled {
			continue
		}
		result, err := s.SyncProvider(ctx, p.ID)
		if err != nil {
			if errors.Is(err, ErrPassInFlight) {
				continue
			}
			result = Result{Success: false, Errors: []string{err.Error()}, Timestamp: s.now().UTC()}
		}
		out[p.ID] = result
	}
	return out
}

// settleStatus moves the provider out of syncing. A provider disabled mid
// pass goes to disconnected rather than connected.
func (s *Service) settleStatus(ctx context.Context, id string, result Result) {
	finished := s.now().UTC()
	current, err := s.registry.Get(id)
	if err != nil {
		return
	}
	status := provider.StatusConnected
	switch {
	case !current.Enabled:
		status = provider.StatusDisconnected
	case !result.Success:
		status = provider.StatusError
	}
	_ = s.registry.SetStatus(ctx, id, status, &finished)
}

func (s *Service) submitFailures(ctx context.Context, p provider.Provider, result Result) {
	if s.retries == nil {
		return
	}
	for _, msg := range result.Errors {
		cls := faults.Classify(string(p.Type), errors.New(msg))
		if !cls.Retryable {
			continue
		}
		s.submitRetry(ctx, p, cls, "")
	}
}

func (s *Service) submitRetry(ctx context.Context, p provider.Provider, cls faults.Classified, key string) {
	if s.retries == nil {
		return
	}
	var opts []retry.SubmitOption
	if key != "" {
		opts = append(opts, retry.WithKey(key))
	}
	if _, err := s.retries.Submit(ctx, string(p.Type), p.ID, cls, opts...); err != nil &&
		!errors.Is(err, retry.ErrAttemptsExhausted) && !errors.Is(err, retry.ErrNotRetryable) {
		_ = s.sink.Emit(ctx, observe.Event{
			Kind:       observe.KindRetry,
			Status:     observe.StatusFailed,
			ServiceTag: "sync",
			ProviderID: p.ID,
			Error:      err.Error(),
		})
	}
}

// HandleRetrySignal re-runs the pass a retry signal points at. On another
// failure the item is resubmitted under the same key so attempts keep
// counting up.
func (s *Service) HandleRetrySignal(ctx context.Context, sig queue.Signal) error {
	if sig.ProviderID == "" {
		return fmt.Errorf("retry signal %s has no provider", sig.ID)
	}
	result, err := s.syncProvider(ctx, sig.ProviderID, true)
	if err != nil {
		if errors.Is(err, ErrNotEnabled) || errors.Is(err, ErrPassInFlight) {
			return nil
		}
		p, gerr := s.registry.Get(sig.ProviderID)
		if gerr != nil {
			return err
		}
		var cls faults.Classified
		if !errors.As(err, &cls) {
			cls = faults.Classify(sig.Service, err)
		}
		s.submitRetry(ctx, p, cls, sig.RetryKey)
		return err
	}
	if !result.Success {
		if p, gerr := s.registry.Get(sig.ProviderID); gerr == nil {
			cls := faults.Classified{
				Kind:      faults.Kind(sig.Kind),
				Service:   sig.Service,
				Retryable: true,
				Message:   fmt.Sprintf("retried pass for %s still failing", sig.ProviderID),
			}
			s.submitRetry(ctx, p, cls, sig.RetryKey)
		}
	}
	return nil
}

// History returns recent pass records, newest first.
func (s *Service) History(limit int) []PassRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]PassRecord, 0, limit)
	for i := len(s.history) - 1; i >= len(s.history)-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func (s *Service) recordHistory(id string, result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, PassRecord{ProviderID: id, Result: result})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

// PendingConflicts lists conflicts parked under the manual policy.
func (s *Service) PendingConflicts() []Conflict {
	return s.resolver.Pending()
}

// ResolveConflict applies an operator decision and performs the resulting
// writes immediately. A conflict whose writes fail goes back on the pending
// list so the decision can be retried.
func (s *Service) ResolveConflict(ctx context.Context, id string, resolution Resolution) (Conflict, error) {
	conflict, outcome, err := s.resolver.Resolve(id, resolution)
	if err != nil {
		return Conflict{}, err
	}
	p, err := s.registry.Get(conflict.ProviderID)
	if err != nil {
		s.resolver.Repark(conflict)
		return conflict, err
	}
	adapter, err := s.adapters(p)
	if err != nil {
		s.resolver.Repark(conflict)
		return conflict, fmt.Errorf("resolve adapter for %q: %w", p.ID, err)
	}
	if failures := s.engine.ApplyResolution(ctx, adapter, p, conflict, outcome); len(failures) > 0 {
		s.resolver.Repark(conflict)
		return conflict, fmt.Errorf("apply resolution for conflict %s: %s", id, failures[0])
	}
	return conflict, nil
}

// ScheduleHooks wires provider enable/disable into the scheduler. With no
// scheduler configured the hooks are no-ops.
func (s *Service) ScheduleHooks() provider.ScheduleHooks {
	if s.sched == nil {
		return provider.ScheduleHooks{}
	}
	return provider.ScheduleHooks{
		Start: func(p provider.Provider) error {
			interval := time.Duration(p.Settings.SyncFrequencyMinutes) * time.Minute
			if err := s.sched.Add(p.ID, interval); err != nil {
				// Already scheduled; just make sure it fires.
				return s.sched.SetEnabled(p.ID, true)
			}
			return nil
		},
		Stop: func(id string) {
			_ = s.sched.Remove(id)
		},
	}
}
