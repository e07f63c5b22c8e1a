package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// TestGracefulServer_ShutdownRunsHooksInReverse tests hook ordering
func TestGracefulServer_ShutdownRunsHooksInReverse(t *testing.T) {
	gs := NewGracefulServer("127.0.0.1:0", okHandler(), logging.NewNopLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- gs.Serve(ln) }()

	var order []string
	gs.OnShutdown("engine", func(ctx context.Context) error {
		order = append(order, "engine")
		return nil
	})
	gs.OnShutdown("protocol", func(ctx context.Context) error {
		order = append(order, "protocol")
		return nil
	})

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if err := gs.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve returned %v after graceful stop", err)
	}

	if len(order) != 2 || order[0] != "protocol" || order[1] != "engine" {
		t.Errorf("Expected hooks [protocol engine], got %v", order)
	}
	if !gs.IsShuttingDown() {
		t.Error("IsShuttingDown should be true after Shutdown")
	}

	// Second call is a no-op returning the same result.
	if err := gs.Shutdown(time.Second); err != nil {
		t.Errorf("Second Shutdown error: %v", err)
	}
	if len(order) != 2 {
		t.Errorf("Hooks ran again: %v", order)
	}
}

// TestGracefulServer_ShutdownCollectsHookErrors tests error aggregation
func TestGracefulServer_ShutdownCollectsHookErrors(t *testing.T) {
	gs := NewGracefulServer("127.0.0.1:0", okHandler(), nil)

	boom := errors.New("wal close failed")
	ran := false
	gs.OnShutdown("engine", func(ctx context.Context) error { return boom })
	gs.OnShutdown("protocol", func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := gs.Shutdown(time.Second)
	if !errors.Is(err, boom) {
		t.Errorf("Shutdown error = %v, want %v", err, boom)
	}
	if !ran {
		t.Error("A failing hook must not stop later hooks")
	}
}

// TestGracefulServer_WaitForSignal tests SIGHUP reload followed by context cancel
func TestGracefulServer_WaitForSignal(t *testing.T) {
	gs := NewGracefulServer("127.0.0.1:0", okHandler(), nil)

	reloaded := make(chan struct{}, 1)
	gs.SetConfigReloadFunc(func() error {
		reloaded <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.WaitForSignal(ctx, time.Second) }()

	// Give signal.Notify time to register.
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("Failed to send SIGHUP: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP did not trigger a reload")
	}
	if gs.IsShuttingDown() {
		t.Error("Server should not be shutting down after SIGHUP")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForSignal error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSignal did not return after cancel")
	}
	if !gs.IsShuttingDown() {
		t.Error("Expected shutdown after context cancel")
	}
}

// TestGracefulServer_ReloadConfig tests the ReloadConfig method
func TestGracefulServer_ReloadConfig(t *testing.T) {
	gs := NewGracefulServer(":0", okHandler(), nil)

	if err := gs.ReloadConfig(); err != nil {
		t.Errorf("ReloadConfig() without a function should succeed, got %v", err)
	}

	gs.SetConfigReloadFunc(func() error { return http.ErrServerClosed })
	if err := gs.ReloadConfig(); err != http.ErrServerClosed {
		t.Errorf("ReloadConfig() error = %v, want %v", err, http.ErrServerClosed)
	}
}
