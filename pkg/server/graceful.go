// Package server runs the admin HTTP endpoint and coordinates process
// shutdown for everything registered with it.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// ShutdownFunc releases a resource during shutdown
type ShutdownFunc func(ctx context.Context) error

// GracefulServer wraps an HTTP server with graceful shutdown capabilities.
// Resources registered with OnShutdown are released after the HTTP server
// stops, newest first.
type GracefulServer struct {
	server         *http.Server
	logger         logging.Logger
	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	shutdownErr    error
	hooksMu        sync.Mutex
	hooks          []namedHook
	configReloadFn ConfigReloadFunc
	configMu       sync.RWMutex
}

type namedHook struct {
	name string
	fn   ShutdownFunc
}

// NewGracefulServer creates a new graceful HTTP server
func NewGracefulServer(addr string, handler http.Handler, logger logging.Logger) *GracefulServer {
	return &GracefulServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger:     logging.OrNop(logger).With(logging.Component("admin")),
		shutdownCh: make(chan struct{}),
	}
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a graceful stop.
func (gs *GracefulServer) Start() error {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	return gs.Serve(ln)
}

// Serve serves on ln until Shutdown
func (gs *GracefulServer) Serve(ln net.Listener) error {
	gs.logger.Info("admin server listening", logging.String("addr", ln.Addr().String()))
	if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// OnShutdown registers fn to run during Shutdown
func (gs *GracefulServer) OnShutdown(name string, fn ShutdownFunc) {
	gs.hooksMu.Lock()
	defer gs.hooksMu.Unlock()
	gs.hooks = append(gs.hooks, namedHook{name: name, fn: fn})
}

// Shutdown stops the HTTP server and runs the shutdown hooks within timeout.
// Only the first call does any work; later calls return its result.
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("initiating graceful shutdown", logging.Duration("timeout", timeout))

		var errs []error
		if err := gs.server.Shutdown(ctx); err != nil {
			gs.logger.Error("admin server shutdown failed", logging.Error(err))
			errs = append(errs, err)
		}

		gs.hooksMu.Lock()
		hooks := append([]namedHook(nil), gs.hooks...)
		gs.hooksMu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			if err := hooks[i].fn(ctx); err != nil {
				gs.logger.Error("shutdown hook failed",
					logging.String("hook", hooks[i].name),
					logging.Error(err))
				errs = append(errs, err)
			}
		}

		gs.shutdownErr = errors.Join(errs...)
		if gs.shutdownErr == nil {
			gs.logger.Info("shutdown complete")
		}
	})
	return gs.shutdownErr
}

// WaitForSignal blocks until SIGINT or SIGTERM, or until ctx is done, and
// then shuts down. SIGHUP triggers ReloadConfig without stopping.
func (gs *GracefulServer) WaitForSignal(ctx context.Context, timeout time.Duration) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return gs.Shutdown(timeout)
		case <-gs.shutdownCh:
			// Once blocks until the in-flight Shutdown finishes.
			return gs.Shutdown(timeout)
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				gs.logger.Info("received SIGHUP, reloading configuration")
				_ = gs.ReloadConfig()
				continue
			}
			gs.logger.Info("received signal, shutting down", logging.String("signal", sig.String()))
			return gs.Shutdown(timeout)
		}
	}
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// SetConfigReloadFunc sets the function to call when configuration reload is triggered
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Info("configuration reload requested, but no reload function configured")
		return nil
	}

	if err := reloadFn(); err != nil {
		gs.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}

	gs.logger.Info("configuration reloaded")
	return nil
}
