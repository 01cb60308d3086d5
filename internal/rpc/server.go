package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/posservice/posd/internal/types"
)

// Scheduler is the subset of *scheduler.Scheduler the RPC surface needs.
// Declared as an interface so this package never imports internal/scheduler
// directly, keeping the dependency direction outward from the core.
type Scheduler interface {
	AddJob(ctx context.Context, req types.AddJobRequest) (types.Job, error)
	UpdateJobStatus(job types.Job)
	AbortJob(ctx context.Context, req types.AbortJobRequest) error
	GetJob(ctx context.Context, id uint64) (types.Job, bool)
	GetAllJobs(ctx context.Context) []types.Job
	GetConfig(ctx context.Context) types.Config
	SetConfig(ctx context.Context, cfg types.Config) error
	Subscribe(ctx context.Context, filter uint64) (uint64, <-chan types.Job, error)
	GetProviders(ctx context.Context) []types.Provider
}

// Server exposes the Scheduler's operations over HTTP+JSON (spec.md §6.1).
type Server struct {
	sched  Scheduler
	logger *slog.Logger
	router *mux.Router
}

// NewServer builds the router; call Handler() to get an http.Handler.
func NewServer(sched Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{sched: sched, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/providers", s.handleGetProviders).Methods(http.MethodGet)
	s.router.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	s.router.HandleFunc("/config", s.handleSetConfig).Methods(http.MethodPut)
	s.router.HandleFunc("/jobs", s.handleAddJob).Methods(http.MethodPost)
	s.router.HandleFunc("/jobs", s.handleGetAllJobs).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/stream", s.handleStream).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{id}/abort", s.handleAbortJob).Methods(http.MethodPost)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleGetProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.sched.GetProviders(r.Context())
	out := make([]providerDTO, len(providers))
	for i, p := range providers {
		out[i] = toProviderDTO(p)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toConfigDTO(s.sched.GetConfig(r.Context())))
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var dto configDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := dto.toConfig()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sched.SetConfig(r.Context(), cfg); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	var dto addJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := dto.toRequest()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.sched.AddJob(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toJobDTO(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	job, ok := s.sched.GetJob(r.Context(), id)
	if !ok {
		s.writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobDTO(job))
}

func (s *Server) handleGetAllJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.sched.GetAllJobs(r.Context())
	out := make([]jobDTO, len(jobs))
	for i, j := range jobs {
		out[i] = toJobDTO(j)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAbortJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var dto abortJobDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.sched.AbortJob(r.Context(), types.AbortJobRequest{ID: id, DeleteJob: dto.DeleteJob, DeleteData: dto.DeleteData}); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream implements SubscribeJobStatusStream (spec.md §6.1): a
// chunked sequence of JSON-encoded Job objects, one per line, flushed as
// each status update arrives.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filter := uint64(0)
	if raw := r.URL.Query().Get("id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		filter = id
	}

	_, ch, err := s.sched.Subscribe(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)

	for {
		select {
		case <-r.Context().Done():
			return
		case job, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(toJobDTO(job)); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func parseID(raw string) (uint64, error) {
	return strconv.ParseUint(raw, 10, 64)
}

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "job not found" }

// ListenAndServe is a small convenience wrapper matching the teacher's
// thin cmd/*/main.go entrypoints.
func ListenAndServe(addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
