package clinical

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
	syncengine "github.com/YIKHLEF/ClinicBoost-sub004/sync"
)

func ehrProvider(baseURL string) provider.Provider {
	return provider.Provider{
		ID:   "ehr-exchange",
		Type: provider.TypeClinical,
		Credentials: provider.ClinicalCredentials{
			ClientID:     "client",
			ClientSecret: "secret",
			TenantID:     "tenant-7",
			BaseURL:      baseURL,
		},
		Settings: provider.DefaultSettings(),
	}
}

func TestFetchRecords(t *testing.T) {
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	var gotTenant, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = r.Header.Get("X-Tenant-ID")
		gotPath = r.URL.Path
		user, pass, _ := r.BasicAuth()
		if user != "client" || pass != "secret" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		_ = json.NewEncoder(w).Encode(listResourcesResponse{Resources: []wireResource{
			{ID: "res-1", ResourceType: "appointment", Attributes: map[string]string{"title": "Lab Work"}, LastUpdated: at},
		}})
	}))
	defer server.Close()

	window := syncengine.Window{From: at.Add(-time.Hour), To: at.Add(time.Hour)}
	got, err := New().FetchRecords(context.Background(), ehrProvider(server.URL), "appointment", window)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotTenant != "tenant-7" {
		t.Fatalf("tenant header = %q", gotTenant)
	}
	if gotPath != "/api/v1/appointment" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(got) != 1 || got[0].ExternalID != "res-1" || got[0].Field("title") != "Lab Work" {
		t.Fatalf("entities = %+v", got)
	}
}

func TestCreateAndUpdateRecord(t *testing.T) {
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(createResourceResponse{ID: "res-new"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	entity := syncengine.Entity{
		InternalID:   "pat-1",
		EntityType:   "patient",
		Fields:       map[string]string{"name": "Doe"},
		LastModified: at,
	}
	p := ehrProvider(server.URL)

	id, err := New().CreateRecord(context.Background(), p, entity)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "res-new" {
		t.Fatalf("id = %q", id)
	}
	if err := New().UpdateRecord(context.Background(), p, id, entity); err != nil {
		t.Fatalf("update: %v", err)
	}

	want := []string{"POST /api/v1/patient", "PUT /api/v1/patient/res-new"}
	if len(methods) != 2 || methods[0] != want[0] || methods[1] != want[1] {
		t.Fatalf("requests = %v, want %v", methods, want)
	}
}

func TestProbeAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	if err := New().Probe(context.Background(), ehrProvider(server.URL)); err == nil {
		t.Fatal("expected probe failure on 401")
	}
}
