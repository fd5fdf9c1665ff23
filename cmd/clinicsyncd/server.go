package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/faults"
	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/sched"
	syncengine "github.com/YIKHLEF/ClinicBoost-sub004/sync"
)

// Server is the operator surface: provider lifecycle, manual sync
// triggers, conflict review, and pass history.
type Server struct {
	registry  *provider.Registry
	service   *syncengine.Service
	scheduler *sched.Scheduler
	mux       *http.ServeMux
	http      *http.Server
}

func NewServer(addr string, registry *provider.Registry, service *syncengine.Service, scheduler *sched.Scheduler) *Server {
	if strings.TrimSpace(addr) == "" {
		addr = ":8087"
	}
	s := &Server{
		registry:  registry,
		service:   service,
		scheduler: scheduler,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/v1/providers", s.handleProviders)
	s.mux.HandleFunc("/api/v1/providers/", s.handleProviderActions)
	s.mux.HandleFunc("/api/v1/conflicts", s.handleConflicts)
	s.mux.HandleFunc("/api/v1/conflicts/", s.handleConflictActions)
	s.mux.HandleFunc("/api/v1/history", s.handleHistory)
	s.mux.HandleFunc("/api/v1/schedule", s.handleSchedule)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	providers := s.registry.List()
	out := make([]provider.Snapshot, 0, len(providers))
	for _, p := range providers {
		out = append(out, p.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

type configureRequest struct {
	Calendar *provider.CalendarCredentials `json:"calendarCredentials,omitempty"`
	Clinical *provider.ClinicalCredentials `json:"clinicalCredentials,omitempty"`
	Settings provider.SettingsPatch        `json:"settings"`
}

type enableRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleProviderActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/providers/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("provider id is required"))
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			p, err := s.registry.Get(id)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, p.Snapshot())
		case http.MethodPut:
			s.configureProvider(w, r, id)
		case http.MethodDelete:
			if err := s.registry.Destroy(r.Context(), id); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
	case "enabled":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var req enableRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		p, err := s.registry.SetEnabled(r.Context(), id, req.Enabled)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, p.Snapshot())
	case "sync":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		result, err := s.service.SyncProvider(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unsupported provider endpoint"))
	}
}

func (s *Server) configureProvider(w http.ResponseWriter, r *http.Request, id string) {
	p, err := s.registry.Get(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	var creds provider.Credentials
	switch {
	case req.Calendar != nil:
		creds = *req.Calendar
	case req.Clinical != nil:
		creds = *req.Clinical
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("credentials for provider type %q are required", p.Type))
		return
	}

	configured, err := s.registry.Configure(r.Context(), id, creds, req.Settings)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, configured.Snapshot())
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, s.service.PendingConflicts())
}

type resolveRequest struct {
	Resolution syncengine.Resolution `json:"resolution"`
}

func (s *Server) handleConflictActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/conflicts/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "resolve" {
		writeError(w, http.StatusNotFound, fmt.Errorf("unsupported conflict endpoint"))
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	switch req.Resolution {
	case syncengine.ResolutionInternalWins, syncengine.ResolutionExternalWins, syncengine.ResolutionMerge:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown resolution %q", req.Resolution))
		return
	}
	conflict, err := s.service.ResolveConflict(r.Context(), id, req.Resolution)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, conflict)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, s.service.History(0))
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, []sched.Job{})
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.List())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	var cls faults.Classified
	if errors.As(err, &cls) && cls.Kind == faults.KindRateLimited {
		return http.StatusTooManyRequests
	}
	switch {
	case errors.Is(err, provider.ErrProviderNotFound), errors.Is(err, syncengine.ErrConflictNotFound):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, syncengine.ErrNotEnabled):
		return http.StatusConflict
	case errors.Is(err, syncengine.ErrPassInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
