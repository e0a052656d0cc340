// Package httpapi exposes a Service over HTTP: GET / runs a query, POST /
// submits a mutation job, and POST /init declares a table's columns.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rowdb/rowdb/service"
)

// errorResponse matches the {"msg": "..."} shape the original query
// language's error responses use.
type errorResponse struct {
	Msg string `json:"msg"`
}

// resultResponse matches the {"result": ...} shape of a successful
// response.
type resultResponse struct {
	Result any `json:"result"`
}

// initRequest is the body of POST /init.
type initRequest struct {
	Columns []string `json:"columns"`
}

// jobRequest is the body of POST /.
type jobRequest struct {
	Job string `json:"job"`
}

// Server is the HTTP front end for a Service. Query and job handling run on
// a bounded worker pool: a request beyond maxWorkers concurrent requests
// waits for a slot rather than spawning unbounded goroutines against the
// storage backend.
type Server struct {
	svc        *service.Service
	httpServer *http.Server
	sem        *semaphore.Weighted
}

// NewServer builds a Server listening on addr and routing to svc, admitting
// at most maxWorkers concurrent queries or jobs. maxWorkers <= 0 falls back
// to 10, matching the original prototype's default pool size.
func NewServer(svc *service.Service, addr string, maxWorkers int) *Server {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	s := &Server{svc: svc, sem: semaphore.NewWeighted(int64(maxWorkers))}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/init", s.handleInit)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.loggingMiddleware(mux),
	}
	return s
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleQuery(w, r)
	case http.MethodPost:
		s.handleJob(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "No valid parameters provided")
		return
	}

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "request cancelled waiting for a worker")
		return
	}
	defer s.sem.Release(1)

	slog.Debug("httpapi: received query", "query", query)
	result, err := s.svc.Query(r.Context(), query)
	if err != nil {
		slog.Error("httpapi: query failed", "query", query, "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: result})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Job == "" {
		writeError(w, http.StatusBadRequest, "No valid job parameter provided")
		return
	}

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "request cancelled waiting for a worker")
		return
	}
	defer s.sem.Release(1)

	slog.Debug("httpapi: received job", "job", req.Job)
	if err := s.svc.Submit(r.Context(), req.Job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: "Success"})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Columns) == 0 {
		writeError(w, http.StatusBadRequest, "columns are required")
		return
	}

	if err := s.svc.Init(r.Context(), req.Columns); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: "Database initialized successfully"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("httpapi: request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("httpapi: failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Msg: msg})
}
