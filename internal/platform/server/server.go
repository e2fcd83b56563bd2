package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Server wraps an http.Server with graceful shutdown and the background
// maintenance jobs that live as long as it does.
type Server struct {
	srv  *http.Server
	jobs []job
}

type job struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
}

// New creates a Server that listens on addr and routes to handler.
func New(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Every registers fn to run each interval while the server is running.
// It must be called before Run.
func (s *Server) Every(name string, interval time.Duration, fn func(context.Context)) {
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
}

// Run starts the server and blocks until ctx is cancelled, then gracefully
// shuts down. Background jobs stop before Run returns.
func (s *Server) Run(ctx context.Context) error {
	jobCtx, stopJobs := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runJob(jobCtx, j)
		}()
	}
	defer func() {
		stopJobs()
		wg.Wait()
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func runJob(ctx context.Context, j job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			j.fn(ctx)
			slog.Debug("background job finished", "job", j.name, "duration", time.Since(start))
		}
	}
}
