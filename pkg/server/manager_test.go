package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

// writeScript drops an executable shell script into a temp dir so the
// manager can launch it as the server binary. The script ignores the
// generated flags.
func writeScript(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-server")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake server: %v", err)
	}
	return path
}

// startWithScript runs the manager against an inline shell script.
func startWithScript(t *testing.T, m *Manager, script string, sink LogSink) error {
	t.Helper()
	cfg := Config{
		ServerPath:   writeScript(t, script),
		Address:      "127.0.0.1",
		Port:         4723,
		ReadyTimeout: 5 * time.Second,
	}
	return m.Start(context.Background(), cfg, sink)
}

func TestManagerStartStop(t *testing.T) {
	var mu sync.Mutex
	var lines []automation.LogRecord
	sink := func(r automation.LogRecord) {
		mu.Lock()
		lines = append(lines, r)
		mu.Unlock()
	}

	m := NewManager(nil)
	err := startWithScript(t, m, "#!/bin/sh\necho '[HTTP] listener started'\nsleep 30\n", sink)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !m.Running() {
		t.Fatal("manager should hold a handle after Start")
	}

	mu.Lock()
	got := len(lines)
	mu.Unlock()
	if got == 0 {
		t.Error("expected startup log lines in sink")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if m.Running() {
		t.Fatal("manager should release the handle after Stop")
	}
}

func TestManagerStartFailsWhenProcessExitsEarly(t *testing.T) {
	m := NewManager(nil)
	err := startWithScript(t, m, "#!/bin/sh\necho '[error] port in use'\nexit 1\n", func(automation.LogRecord) {})
	if err == nil {
		t.Fatal("expected start error for early exit")
	}
	if m.Running() {
		t.Fatal("no handle should remain after a failed start")
	}

	// A clean start right after a failed one must work.
	err = startWithScript(t, m, "#!/bin/sh\necho '[HTTP] listener started'\nsleep 30\n", func(automation.LogRecord) {})
	if err != nil {
		t.Fatalf("subsequent clean start failed: %v", err)
	}
	defer m.Stop()
}

func TestManagerDoubleStartRejected(t *testing.T) {
	m := NewManager(nil)
	if err := startWithScript(t, m, "#!/bin/sh\necho '[HTTP] listener started'\nsleep 30\n", nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	err := startWithScript(t, m, "#!/bin/sh\necho '[HTTP] listener started'\nsleep 30\n", nil)
	if !errors.Is(err, automation.ErrServerAlreadyRunning) {
		t.Fatalf("expected ErrServerAlreadyRunning, got %v", err)
	}
}

func TestManagerConcurrentStartsLaunchOneProcess(t *testing.T) {
	m := NewManager(nil)
	cfg := Config{
		ServerPath:   writeScript(t, "#!/bin/sh\necho '[HTTP] listener started'\nsleep 30\n"),
		Address:      "127.0.0.1",
		Port:         4723,
		ReadyTimeout: 5 * time.Second,
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Start(context.Background(), cfg, nil)
		}()
	}
	wg.Wait()
	close(errs)
	defer m.Stop()

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, automation.ErrServerAlreadyRunning):
			rejected++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("expected exactly one launch and one rejection, got ok=%d rejected=%d", ok, rejected)
	}
	if !m.Running() {
		t.Fatal("manager should hold the surviving handle")
	}
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager(nil)
	if err := m.Stop(); !errors.Is(err, automation.ErrServerNotRunning) {
		t.Fatalf("expected ErrServerNotRunning, got %v", err)
	}
}

func TestParseRecordLevels(t *testing.T) {
	cases := map[string]automation.LogLevel{
		"[debug] verbose detail":   automation.LogLevelDebug,
		"[warn] deprecated cap":    automation.LogLevelWarn,
		"[WARNING] deprecated":     automation.LogLevelWarn,
		"[error] it broke":         automation.LogLevelError,
		"[HTTP] listener started":  automation.LogLevelInfo,
		"no prefix at all":         automation.LogLevelInfo,
		"[Appium] Welcome to v2.0": automation.LogLevelInfo,
	}
	for line, want := range cases {
		if got := parseRecord(line).Level; got != want {
			t.Errorf("parseRecord(%q).Level = %q, want %q", line, got, want)
		}
	}
}
