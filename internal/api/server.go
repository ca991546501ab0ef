// Package api runs configured jobs on demand over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/sink"

	"github.com/sirupsen/logrus"
)

// Server encapsulates the HTTP server, router and job registry. Every job
// runs against the same store with the server's keys and endpoints.
type Server struct {
	mux   *http.ServeMux
	base  *config.Config
	store sink.Store
	http  *fetch.Client

	mu   sync.RWMutex
	jobs map[string]*jobEntry
	wg   sync.WaitGroup
}

type jobEntry struct {
	status *JobStatus
	cancel context.CancelFunc // allows cancellation via DELETE /jobs/{id}
}

// NewServer builds a server for base, whose job sections are ignored.
func NewServer(base *config.Config, store sink.Store) *Server {
	s := &Server{
		mux:   http.NewServeMux(),
		base:  base,
		store: store,
		http:  fetch.NewClient(base.HTTP),
		jobs:  make(map[string]*jobEntry),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/jobs", s.handleJobs)     // GET, POST /jobs
	s.mux.HandleFunc("/jobs/", s.handleJobByID) // GET/DELETE /jobs/{id}
}

// Handler returns the router wrapped in the logging and recovery middlewares.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.loggingMiddleware(s.mux))
}

// Run serves on port until ctx is cancelled, then cancels running jobs and
// waits for them to stop.
func (s *Server) Run(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("HTTP server running on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.CancelAll()
	s.wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// CancelAll cancels every job still queued or running.
func (s *Server) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.jobs {
		entry.cancel()
	}
}

// Simple request logger middleware.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.Infof("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware catches panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logrus.Errorf("panic recovered: %v", rec)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
