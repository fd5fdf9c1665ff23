package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
	syncengine "github.com/YIKHLEF/ClinicBoost-sub004/sync"
)

type stubConfigStore struct {
	snaps map[string]provider.Snapshot
}

func (s *stubConfigStore) Save(_ context.Context, snap provider.Snapshot) error {
	s.snaps[snap.ID] = snap
	return nil
}

func (s *stubConfigStore) LoadAll(context.Context) ([]provider.Snapshot, error) { return nil, nil }

func (s *stubConfigStore) Delete(_ context.Context, id string) error {
	delete(s.snaps, id)
	return nil
}

func (s *stubConfigStore) Close() error { return nil }

type stubProber struct{}

func (stubProber) Probe(context.Context, provider.Provider) error { return nil }

type stubAdapter struct {
	external []syncengine.Entity
}

func (a *stubAdapter) Name() string { return "stub" }

func (a *stubAdapter) FetchRecords(context.Context, provider.Provider, string, syncengine.Window) ([]syncengine.Entity, error) {
	return append([]syncengine.Entity(nil), a.external...), nil
}

func (a *stubAdapter) CreateRecord(context.Context, provider.Provider, syncengine.Entity) (string, error) {
	return "ext-created", nil
}

func (a *stubAdapter) UpdateRecord(context.Context, provider.Provider, string, syncengine.Entity) error {
	return nil
}

func (a *stubAdapter) Probe(context.Context, provider.Provider) error { return nil }

type stubStore struct {
	records map[string]syncengine.Entity
	nextID  int
}

func (s *stubStore) QueryByWindow(_ context.Context, entityType string, _ syncengine.Window) ([]syncengine.Entity, error) {
	var out []syncengine.Entity
	for _, e := range s.records {
		if e.EntityType == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubStore) Insert(_ context.Context, _ string, e syncengine.Entity) (string, error) {
	s.nextID++
	id := fmt.Sprintf("apt-%d", s.nextID)
	e.InternalID = id
	s.records[id] = e
	return id, nil
}

func (s *stubStore) UpdateByID(_ context.Context, _, id string, e syncengine.Entity) error {
	e.InternalID = id
	s.records[id] = e
	return nil
}

func newTestServer(t *testing.T) (*Server, *stubAdapter) {
	t.Helper()
	ctx := context.Background()

	registry, err := provider.NewRegistry(&stubConfigStore{snaps: map[string]provider.Snapshot{}}, stubProber{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := registry.Register(ctx, provider.DefaultProviders()...); err != nil {
		t.Fatalf("register: %v", err)
	}

	adapter := &stubAdapter{}
	resolver := syncengine.NewResolver()
	engine := syncengine.NewEngine(&stubStore{records: map[string]syncengine.Entity{}}, resolver)
	service, err := syncengine.NewService(registry,
		func(provider.Provider) (syncengine.Adapter, error) { return adapter, nil },
		engine, resolver)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewServer(":0", registry, service, nil), adapter
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestListProviders(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Handler(), http.MethodGet, "/api/v1/providers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var snaps []provider.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("providers = %d, want 3 defaults", len(snaps))
	}
	for _, snap := range snaps {
		if snap.Enabled {
			t.Fatalf("provider %s seeded enabled", snap.ID)
		}
	}
}

func TestConfigureEnableAndSync(t *testing.T) {
	server, adapter := newTestServer(t)
	handler := server.Handler()
	at := time.Now().UTC().Add(time.Hour)
	adapter.external = []syncengine.Entity{{
		ExternalID:   "ext-1",
		EntityType:   "appointment",
		Fields:       map[string]string{"title": "Checkup", "start_time": at.Format(time.RFC3339)},
		LastModified: at,
		Origin:       syncengine.OriginExternal,
	}}

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/providers/cal-primary", configureRequest{
		Calendar: &provider.CalendarCredentials{APIKey: "k", BaseURL: "https://cal.example"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("configure status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/providers/cal-primary/enabled", enableRequest{Enabled: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/providers/cal-primary/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result syncengine.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Success || result.RecordsCreated != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestSyncDisabledProvider(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/providers/cal-primary/sync", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestSyncUnknownProvider(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/providers/nope/sync", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestConfigureValidationFailure(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Handler(), http.MethodPut, "/api/v1/providers/cal-primary", configureRequest{
		Calendar: &provider.CalendarCredentials{APIKey: "", BaseURL: "https://cal.example"},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}
}

func TestResolveUnknownConflict(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/conflicts/nope/resolve", resolveRequest{
		Resolution: syncengine.ResolutionMerge,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
