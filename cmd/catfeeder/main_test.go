package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// simulatedConfig is a minimal config that needs no hardware, broker or
// serial port.
func simulatedConfig(dbPath string) string {
	return `
device:
  id: test-feeder
  timezone: UTC

hardware:
  driver: simulated

feeder:
  timing:
    motor_timeout: 2s
    rearm_delay: 100ms
    stop_grace: 50ms
    simulated_cycle: 300ms
    max_empty_attempts: 5
  machines:
    - name: left
      motor_pin: 17
  schedule:
    - time: "07:30"
      portions: 1

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

display:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("CATFEEDER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidDriver verifies validation errors stop startup.
func TestRun_InvalidDriver(t *testing.T) {
	path := writeConfig(t, `
device:
  id: test-feeder
hardware:
  driver: relay-board
`)
	t.Setenv("CATFEEDER_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an unknown hardware driver")
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("CATFEEDER_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("CATFEEDER_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_SimulatedStartupAndShutdown runs the daemon on simulated hardware
// until the context expires.
func TestRun_SimulatedStartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, simulatedConfig(filepath.Join(dir, "feeder.db")))
	t.Setenv("CATFEEDER_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error: %v", err)
	}
}

// TestRun_SignalFeed sends SIGUSR1 and checks the daemon keeps running
// until shutdown.
func TestRun_SignalFeed(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, simulatedConfig(filepath.Join(dir, "feeder.db")))
	t.Setenv("CATFEEDER_CONFIG", path)

	// Keep the signals from terminating the test binary if they arrive
	// before run installs its handler.
	guard := make(chan os.Signal, 2)
	signal.Notify(guard, syscall.SIGUSR1, syscall.SIGHUP)
	defer signal.Stop(guard)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	time.Sleep(300 * time.Millisecond)
	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("sending SIGUSR1: %v", err)
	}
	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("sending SIGHUP: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after the context expired")
	}
}
