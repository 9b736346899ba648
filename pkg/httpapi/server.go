// Package httpapi exposes manager operations over a small JSON HTTP API.
// Every response is wrapped in the envelope {"success", "data", "error"}.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
	"github.com/core-tools/hsu-shuriken-go/pkg/manager"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server serves the shuriken HTTP API on a loopback listener.
type Server struct {
	manager  manager.Manager
	listener net.Listener
	server   *http.Server
	mux      *http.ServeMux
	done     chan struct{}
	stopOnce sync.Once
	logger   logging.Logger
}

// NewServer binds a loopback listener on the given port. Port 0 lets the
// kernel pick a free port. The server does not accept connections until
// Start is called.
func NewServer(mgr manager.Manager, port int, logger logging.Logger) (*Server, error) {
	if mgr == nil {
		return nil, errors.NewValidationError("manager is required", nil)
	}
	if port < 0 || port > 65535 {
		return nil, errors.NewValidationError("invalid HTTP port number", nil).
			WithContext("port", port).
			WithContext("valid_range", "0-65535")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, errors.NewIOError("failed to bind HTTP listener", err).
			WithContext("port", port)
	}

	s := &Server{
		manager:  mgr,
		listener: listener,
		done:     make(chan struct{}),
		logger:   logger,
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/api/shurikens/list", s.handleList)
	s.mux.HandleFunc("/api/shurikens/list/states", s.handleListStates)
	s.mux.HandleFunc("/api/shurikens/start/", s.handleStart)
	s.mux.HandleFunc("/api/shurikens/stop/", s.handleStop)
	s.mux.HandleFunc("/api/stop", s.handleShutdown)

	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start serves requests on a background goroutine and returns immediately.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("HTTP API listening on %s", s.Address())

	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("HTTP API server error: %v", err)
		}
	}()

	go func() {
		select {
		case <-s.done:
		case <-ctx.Done():
			s.stopOnce.Do(func() { close(s.done) })
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("HTTP API shutdown failed: %v", err)
		}
	}()

	return nil
}

// Stop shuts the listener down gracefully, waiting for in-flight requests
// up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infof("Stopping HTTP API")
	s.stopOnce.Do(func() { close(s.done) })

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.NewIOError("HTTP API shutdown failed", err)
	}
	return nil
}

// Done is closed once shutdown has been requested, either through Stop
// or through the /api/stop route.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Address returns the listener's bound address. With port 0 it carries
// the kernel-assigned port.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// HTTP handlers

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, errors.NewValidationError("method not allowed", nil))
		return
	}

	units := s.manager.List()
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	s.sendSuccess(w, names)
}

func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, errors.NewValidationError("method not allowed", nil))
		return
	}

	states := make(map[string]string)
	for _, u := range s.manager.List() {
		states[u.Name] = string(u.State)
	}
	s.sendSuccess(w, states)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name, ok := s.unitName(w, r, "/api/shurikens/start/")
	if !ok {
		return
	}

	if err := s.manager.Start(name); err != nil {
		s.sendError(w, statusForError(err), err)
		return
	}
	s.sendSuccess(w, nil)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name, ok := s.unitName(w, r, "/api/shurikens/stop/")
	if !ok {
		return
	}

	if err := s.manager.Stop(name); err != nil {
		s.sendError(w, statusForError(err), err)
		return
	}
	s.sendSuccess(w, nil)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, errors.NewValidationError("method not allowed", nil))
		return
	}

	s.logger.Infof("Shutdown requested over HTTP API")
	s.sendSuccess(w, nil)
	// Shutdown waits for in-flight handlers, so the trigger must outlive
	// this one. The goroutine spawned by Start picks it up.
	s.stopOnce.Do(func() { close(s.done) })
}

// unitName extracts and validates the shuriken name path segment.
func (s *Server) unitName(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, errors.NewValidationError("method not allowed", nil))
		return "", false
	}

	name := r.URL.Path[len(prefix):]
	if name == "" {
		s.sendError(w, http.StatusBadRequest, errors.NewValidationError("shuriken name is required", nil))
		return "", false
	}
	return name, true
}

// Helper methods

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encErr := json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()}); encErr != nil {
		s.logger.Errorf("Failed to encode error response: %v", encErr)
	}

	s.logger.Warnf("Request error: %v (status: %d)", err, statusCode)
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsAlreadyRunning(err), errors.IsNotRunning(err), errors.IsStillRunning(err):
		return http.StatusConflict
	case errors.HasType(err, errors.ErrorTypeValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
