package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/observe"
)

var (
	ErrProviderNotFound = errors.New("provider: not found")
	ErrValidationFailed = errors.New("provider: credential validation failed")
)

// ConfigStore persists provider snapshots (credentials excluded).
type ConfigStore interface {
	Save(ctx context.Context, snapshot Snapshot) error
	LoadAll(ctx context.Context) ([]Snapshot, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Prober performs the configuration-time credential/connectivity check for
// a provider. Implementations must not retry internally.
type Prober interface {
	Probe(ctx context.Context, p Provider) error
}

// ScheduleHooks let the registry start and stop a provider's recurring
// schedule without depending on the scheduler package.
type ScheduleHooks struct {
	Start func(p Provider) error
	Stop  func(id string)
}

// Registry is the authoritative in-memory map of provider id to Provider,
// persisted on every mutation.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	store     ConfigStore
	prober    Prober
	hooks     ScheduleHooks
	sink      observe.Sink
	now       func() time.Time
}

type RegistryOption func(*Registry)

func WithScheduleHooks(hooks ScheduleHooks) RegistryOption {
	return func(r *Registry) { r.hooks = hooks }
}

func WithSink(sink observe.Sink) RegistryOption {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

func WithNow(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(store ConfigStore, prober Prober, opts ...RegistryOption) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	r := &Registry{
		providers: make(map[string]*Provider),
		store:     store,
		prober:    prober,
		sink:      observe.NoopSink{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SetHooks installs schedule hooks after construction. The registry and
// the sync service reference each other, so the hooks arrive late.
func (r *Registry) SetHooks(hooks ScheduleHooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = hooks
}

// DefaultProviders is the seed set registered on first start. All are
// created disabled with default settings.
func DefaultProviders() []Provider {
	return []Provider{
		{ID: "cal-primary", DisplayName: "Primary Calendar", Type: TypeCalendar},
		{ID: "cal-secondary", DisplayName: "Secondary Calendar", Type: TypeCalendar},
		{ID: "ehr-exchange", DisplayName: "Clinical Data Exchange", Type: TypeClinical},
	}
}

// Register seeds providers, skipping ids already present (e.g. restored
// from the config store). Seeded providers start disabled.
func (r *Registry) Register(ctx context.Context, seed ...Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range seed {
		if p.ID == "" {
			return fmt.Errorf("provider id is required")
		}
		if _, exists := r.providers[p.ID]; exists {
			continue
		}
		p.Enabled = false
		p.Status = StatusDisconnected
		if p.Settings.SyncFrequencyMinutes == 0 {
			p.Settings = DefaultSettings()
		}
		cp := p
		r.providers[p.ID] = &cp
		if err := r.store.Save(ctx, cp.Snapshot()); err != nil {
			return fmt.Errorf("persist provider %q: %w", p.ID, err)
		}
	}
	return nil
}

// Restore loads persisted snapshots into the registry. Restored providers
// come back disabled until credentials are supplied again: credentials are
// never persisted, so an enabled snapshot cannot sync.
func (r *Registry) Restore(ctx context.Context) error {
	snapshots, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load provider snapshots: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, snap := range snapshots {
		r.providers[snap.ID] = &Provider{
			ID:          snap.ID,
			DisplayName: snap.DisplayName,
			Type:        snap.Type,
			Enabled:     false,
			Settings:    snap.Settings,
			Status:      StatusDisconnected,
			LastSyncAt:  snap.LastSyncAt,
		}
	}
	return nil
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return *p, nil
}

func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Configure validates the supplied credentials with a live probe, then
// updates and persists the provider. On probe failure the provider's
// status is set to error and it stays disabled.
func (r *Registry) Configure(ctx context.Context, id string, creds Credentials, patch SettingsPatch) (Provider, error) {
	r.mu.RLock()
	current, ok := r.providers[id]
	if !ok {
		r.mu.RUnlock()
		return Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	candidate := *current
	r.mu.RUnlock()

	if creds == nil {
		return Provider{}, fmt.Errorf("%w: credentials are required", ErrValidationFailed)
	}
	if creds.ProviderType() != candidate.Type {
		return Provider{}, fmt.Errorf("%w: credentials are for type %q, provider is %q",
			ErrValidationFailed, creds.ProviderType(), candidate.Type)
	}

	candidate.Credentials = creds
	candidate.Settings = candidate.Settings.Apply(patch)

	if err := creds.Validate(); err != nil {
		r.markError(ctx, id)
		return Provider{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if err := r.prober.Probe(ctx, candidate); err != nil {
		r.markError(ctx, id)
		_ = r.sink.Emit(ctx, observe.Event{
			Kind:       observe.KindProbe,
			Status:     observe.StatusFailed,
			ServiceTag: "provider",
			ProviderID: id,
			Error:      err.Error(),
		})
		return Provider{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	r.mu.Lock()
	p, ok := r.providers[id]
	if !ok {
		r.mu.Unlock()
		return Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	p.Credentials = creds
	p.Settings = candidate.Settings
	p.Status = StatusConnected
	snap := p.Snapshot()
	out := *p
	r.mu.Unlock()

	if err := r.store.Save(ctx, snap); err != nil {
		return out, fmt.Errorf("persist provider %q: %w", id, err)
	}
	_ = r.sink.Emit(ctx, observe.Event{
		Kind:       observe.KindProbe,
		Status:     observe.StatusCompleted,
		ServiceTag: "provider",
		ProviderID: id,
	})
	return out, nil
}

// SetEnabled flips the enable state. Enabling requires configured
// credentials and starts the schedule; disabling stops future firings,
// letting any in-flight pass finish.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) (Provider, error) {
	r.mu.Lock()
	p, ok := r.providers[id]
	if !ok {
		r.mu.Unlock()
		return Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	if enabled && p.Credentials == nil {
		r.mu.Unlock()
		return Provider{}, fmt.Errorf("%w: provider %q has no credentials configured", ErrValidationFailed, id)
	}
	p.Enabled = enabled
	if enabled {
		p.Status = StatusConnected
	} else {
		p.Status = StatusDisconnected
	}
	snap := p.Snapshot()
	out := *p
	r.mu.Unlock()

	if err := r.store.Save(ctx, snap); err != nil {
		return out, fmt.Errorf("persist provider %q: %w", id, err)
	}
	if enabled {
		if r.hooks.Start != nil {
			if err := r.hooks.Start(out); err != nil {
				return out, fmt.Errorf("start schedule for %q: %w", id, err)
			}
		}
	} else if r.hooks.Stop != nil {
		r.hooks.Stop(id)
	}
	return out, nil
}

// SetStatus transitions the provider's sync status; used by the sync
// service around passes. lastSync, when non-nil, updates LastSyncAt.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status, lastSync *time.Time) error {
	r.mu.Lock()
	p, ok := r.providers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	p.Status = status
	if lastSync != nil {
		t := lastSync.UTC()
		p.LastSyncAt = &t
	}
	snap := p.Snapshot()
	r.mu.Unlock()

	if err := r.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("persist provider %q: %w", id, err)
	}
	return nil
}

// Destroy removes all provider state, including the persisted snapshot and
// any schedule.
func (r *Registry) Destroy(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.providers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	delete(r.providers, id)
	r.mu.Unlock()

	if r.hooks.Stop != nil {
		r.hooks.Stop(id)
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete provider %q: %w", id, err)
	}
	return nil
}

func (r *Registry) markError(ctx context.Context, id string) {
	r.mu.Lock()
	p, ok := r.providers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Status = StatusError
	p.Enabled = false
	snap := p.Snapshot()
	r.mu.Unlock()
	_ = r.store.Save(ctx, snap)
}
