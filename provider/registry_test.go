package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeStore struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string]Snapshot)}
}

func (f *fakeStore) Save(ctx context.Context, snapshot Snapshot) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.snapshots[snapshot.ID] = snapshot
	return nil
}

func (f *fakeStore) LoadAll(ctx context.Context) ([]Snapshot, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Snapshot, 0, len(f.snapshots))
	for _, s := range f.snapshots {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, id)
	return nil
}

func (f *fakeStore) Close() error { return nil }

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) Probe(ctx context.Context, p Provider) error {
	_ = ctx
	_ = p
	f.calls++
	return f.err
}

func validCalendarCreds() CalendarCredentials {
	return CalendarCredentials{APIKey: "key", BaseURL: "https://cal.example.com", CalendarID: "main"}
}

func newTestRegistry(t *testing.T, prober *fakeProber) (*Registry, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	r, err := NewRegistry(store, prober)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Register(context.Background(), DefaultProviders()...); err != nil {
		t.Fatal(err)
	}
	return r, store
}

func TestRegisterSeedsDisabled(t *testing.T) {
	r, store := newTestRegistry(t, &fakeProber{})
	providers := r.List()
	if len(providers) != 3 {
		t.Fatalf("len(providers) = %d, want 3", len(providers))
	}
	for _, p := range providers {
		if p.Enabled {
			t.Errorf("provider %s seeded enabled", p.ID)
		}
		if p.Status != StatusDisconnected {
			t.Errorf("provider %s status = %s, want disconnected", p.ID, p.Status)
		}
	}
	if len(store.snapshots) != 3 {
		t.Fatalf("persisted %d snapshots, want 3", len(store.snapshots))
	}
}

func TestConfigureUnknownProvider(t *testing.T) {
	r, _ := newTestRegistry(t, &fakeProber{})
	_, err := r.Configure(context.Background(), "nope", validCalendarCreds(), SettingsPatch{})
	if !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("err = %v, want ErrProviderNotFound", err)
	}
}

func TestConfigureProbeFailure(t *testing.T) {
	prober := &fakeProber{err: errors.New("401 unauthorized")}
	r, _ := newTestRegistry(t, prober)

	_, err := r.Configure(context.Background(), "cal-primary", validCalendarCreds(), SettingsPatch{})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed", err)
	}

	p, _ := r.Get("cal-primary")
	if p.Status != StatusError {
		t.Errorf("status = %s, want error", p.Status)
	}
	if p.Enabled {
		t.Error("provider must not be enabled after failed validation")
	}
}

func TestConfigureMissingCredentialField(t *testing.T) {
	prober := &fakeProber{}
	r, _ := newTestRegistry(t, prober)

	creds := CalendarCredentials{BaseURL: "https://cal.example.com"}
	_, err := r.Configure(context.Background(), "cal-primary", creds, SettingsPatch{})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed", err)
	}
	if prober.calls != 0 {
		t.Error("probe must not be attempted with incomplete credentials")
	}
}

func TestConfigureTypeMismatch(t *testing.T) {
	r, _ := newTestRegistry(t, &fakeProber{})
	creds := ClinicalCredentials{ClientID: "a", ClientSecret: "b", BaseURL: "https://ehr.example.com"}
	_, err := r.Configure(context.Background(), "cal-primary", creds, SettingsPatch{})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed", err)
	}
}

func TestConfigureSuccessAppliesPatch(t *testing.T) {
	r, store := newTestRegistry(t, &fakeProber{})

	freq := 15
	policy := PolicyMerge
	p, err := r.Configure(context.Background(), "cal-primary", validCalendarCreds(), SettingsPatch{
		SyncFrequencyMinutes: &freq,
		ConflictPolicy:       &policy,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Settings.SyncFrequencyMinutes != 15 || p.Settings.ConflictPolicy != PolicyMerge {
		t.Fatalf("patch not applied: %+v", p.Settings)
	}
	if p.Status != StatusConnected {
		t.Fatalf("status = %s, want connected", p.Status)
	}

	snap, ok := store.snapshots["cal-primary"]
	if !ok {
		t.Fatal("snapshot not persisted")
	}
	if snap.Settings.SyncFrequencyMinutes != 15 {
		t.Fatal("persisted snapshot missing patched settings")
	}
}

func TestSetEnabledRequiresCredentials(t *testing.T) {
	r, _ := newTestRegistry(t, &fakeProber{})
	if _, err := r.SetEnabled(context.Background(), "cal-primary", true); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed", err)
	}
}

func TestSetEnabledStartsAndStopsSchedule(t *testing.T) {
	store := newFakeStore()
	started := []string{}
	stopped := []string{}
	r, err := NewRegistry(store, &fakeProber{}, WithScheduleHooks(ScheduleHooks{
		Start: func(p Provider) error { started = append(started, p.ID); return nil },
		Stop:  func(id string) { stopped = append(stopped, id) },
	}))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := r.Register(ctx, DefaultProviders()...); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Configure(ctx, "cal-primary", validCalendarCreds(), SettingsPatch{}); err != nil {
		t.Fatal(err)
	}

	if _, err := r.SetEnabled(ctx, "cal-primary", true); err != nil {
		t.Fatal(err)
	}
	if len(started) != 1 || started[0] != "cal-primary" {
		t.Fatalf("schedule starts = %v", started)
	}

	if _, err := r.SetEnabled(ctx, "cal-primary", false); err != nil {
		t.Fatal(err)
	}
	if len(stopped) != 1 || stopped[0] != "cal-primary" {
		t.Fatalf("schedule stops = %v", stopped)
	}
	p, _ := r.Get("cal-primary")
	if p.Status != StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", p.Status)
	}
}

func TestDestroyRemovesAllState(t *testing.T) {
	r, store := newTestRegistry(t, &fakeProber{})
	if err := r.Destroy(context.Background(), "cal-primary"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("cal-primary"); !errors.Is(err, ErrProviderNotFound) {
		t.Fatal("provider still present after destroy")
	}
	if _, ok := store.snapshots["cal-primary"]; ok {
		t.Fatal("snapshot still persisted after destroy")
	}
}

func TestRestoreComesBackDisabled(t *testing.T) {
	r, store := newTestRegistry(t, &fakeProber{})
	ctx := context.Background()
	if _, err := r.Configure(ctx, "cal-primary", validCalendarCreds(), SettingsPatch{}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SetEnabled(ctx, "cal-primary", true); err != nil {
		t.Fatal(err)
	}

	// Simulate a fresh process restoring from the same store.
	r2, err := NewRegistry(store, &fakeProber{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r2.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	p, err := r2.Get("cal-primary")
	if err != nil {
		t.Fatal(err)
	}
	if p.Enabled {
		t.Error("restored provider must be disabled until credentials are supplied")
	}
	if p.Credentials != nil {
		t.Error("credentials must never survive persistence")
	}
}
