// Package daemon runs poudctl as a long-lived service: it reconciles on
// a timer and whenever the manifest changes, and serves a small HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"poudctl/internal/config"
	"poudctl/internal/jailhouse"
)

// Manager is the part of jailhouse.Manager the daemon drives.
type Manager interface {
	Reconcile(ctx context.Context, desired jailhouse.Desired) (*jailhouse.RunReport, error)
	ListJails() []*jailhouse.JailState
	GetJail(name string) (*jailhouse.JailState, error)
	LastRun() *jailhouse.RunReport
}

// Config holds the configuration for the daemon.
type Config struct {
	Manager   Manager
	Load      func() (jailhouse.Desired, error) // reads the current manifest
	Watcher   *config.Watcher                   // optional
	Addr      string
	Interval  time.Duration // zero disables periodic passes
	AuditPath string
	Manifest  string // reported by /api/status
	Logger    *slog.Logger
}

// Server is the reconcile daemon.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	started time.Time
	trigger chan struct{}

	mu      sync.Mutex
	running bool
}

// NewServer creates a daemon.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if cfg.Load == nil {
		return nil, fmt.Errorf("manifest loader is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "daemon"),
		started: time.Now(),
		trigger: make(chan struct{}, 1),
	}
	if cfg.Watcher != nil {
		cfg.Watcher.OnReload(func(*config.Manifest) {
			s.logger.Info("manifest changed, scheduling reconcile")
			s.Trigger()
		})
	}
	return s, nil
}

// Trigger schedules a reconcile pass. Requests made while one is already
// pending collapse into it.
func (s *Server) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Running reports whether a pass is in progress.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ListenAndServe listens on cfg.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the API on ln plus the reconcile loop, and shuts both down
// when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("HTTP API listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if s.cfg.Watcher != nil {
		if err := s.cfg.Watcher.Start(ctx); err != nil {
			s.logger.Warn("manifest watcher disabled", "error", err)
		} else {
			defer s.cfg.Watcher.Stop()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		s.logger.Warn("HTTP shutdown", "error", shutdownErr)
	}
	wg.Wait()
	s.logger.Info("stopped")
	return err
}

func (s *Server) loop(ctx context.Context) {
	var tick <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.reconcile(ctx)
		case <-s.trigger:
			s.reconcile(ctx)
		}
	}
}

func (s *Server) reconcile(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	desired, err := s.cfg.Load()
	if err != nil {
		s.logger.Error("load manifest", "error", err)
		return
	}
	run, err := s.cfg.Manager.Reconcile(ctx, desired)
	if err != nil {
		s.logger.Error("reconcile failed", "error", err)
		return
	}
	s.logger.Info("reconcile succeeded", "run", run.RunID, "changed", run.Changed)
}
