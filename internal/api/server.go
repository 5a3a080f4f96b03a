// Package api implements the HTTP and WebSocket observer surface:
// task CRUD, message posting (which starts or resumes runs), transcript
// and state inspection, project download, and the live event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/artifex-labs/artifex/internal/buildinfo"
	"github.com/artifex-labs/artifex/internal/conversation"
	"github.com/artifex-labs/artifex/internal/events"
	"github.com/artifex-labs/artifex/internal/project"
	"github.com/artifex-labs/artifex/internal/state"
)

// TaskRunner drives a task's execution. Satisfied by *loop.Loop.
type TaskRunner interface {
	Execute(ctx context.Context, task, userPrompt string) error
	FollowUp(ctx context.Context, task, userPrompt string) error
}

// ConversationStore is the message log surface the API serves.
type ConversationStore interface {
	Append(task, origin, text string) (*conversation.Message, error)
	All(task string) ([]conversation.Message, error)
	Tasks() ([]string, error)
	Delete(task string) error
}

// StateStore is the snapshot surface the API serves.
type StateStore interface {
	Latest(task string) (*state.Snapshot, error)
	Stack(task string) ([]state.Snapshot, error)
	Delete(task string) error
}

// ProjectStore is the project-directory surface the API serves.
type ProjectStore interface {
	Zip(task string) ([]byte, error)
	Delete(task string) error
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int

	runner       TaskRunner
	conversation ConversationStore
	state        StateStore
	projects     ProjectStore
	bus          *events.Bus
	logger       *slog.Logger

	runs   *runManager
	server *http.Server
}

// NewServer creates an API server over the given collaborators.
func NewServer(address string, port int, runner TaskRunner, conv ConversationStore, st StateStore, projects ProjectStore, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:      address,
		port:         port,
		runner:       runner,
		conversation: conv,
		state:        st,
		projects:     projects,
		bus:          bus,
		logger:       logger.With("component", "api"),
		runs:         newRunManager(),
	}
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive the mux through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	mux.HandleFunc("GET /api/tasks", s.handleTaskList)
	mux.HandleFunc("POST /api/tasks", s.handleTaskCreate)
	mux.HandleFunc("DELETE /api/tasks/{name}", s.handleTaskDelete)

	mux.HandleFunc("GET /api/tasks/{name}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/tasks/{name}/messages", s.handleMessagePost)
	mux.HandleFunc("GET /api/tasks/{name}/state", s.handleStateStack)
	mux.HandleFunc("GET /api/tasks/{name}/status", s.handleStatus)
	mux.HandleFunc("GET /api/tasks/{name}/project.zip", s.handleProjectZip)

	mux.HandleFunc("GET /ws/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long for websocket upgrades
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and cancels every active run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.runs.CancelAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]string{
		"name":    "Artifex",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

// taskSlug normalizes the path parameter; empty slugs are a client error.
func taskSlug(r *http.Request) (string, bool) {
	slug := project.Slug(r.PathValue("name"))
	return slug, slug != ""
}
