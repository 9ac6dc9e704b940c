// Package server owns the embedded automation server process: it launches
// the binary, feeds its output into the log pipeline, and tears it down.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

// LogSink receives each line of server output as a parsed record.
type LogSink func(automation.LogRecord)

// Manager owns at most one running embedded server. All state is instance
// state so independent managers can coexist in tests.
type Manager struct {
	log *slog.Logger

	mu       sync.Mutex
	starting bool
	cmd      *exec.Cmd
	waitDone chan struct{}
}

// NewManager creates a Manager. A nil logger discards ambient logs.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{log: log}
}

// Running reports whether a server handle is currently held.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd != nil
}

// Start launches the embedded server with cfg and blocks until the server
// reports it is listening, the process exits early, or the ready timeout
// elapses. Every output line is handed to sink before Start returns, so
// startup-time log lines are not lost. On failure any partially started
// process is killed best-effort.
func (m *Manager) Start(ctx context.Context, cfg Config, sink LogSink) error {
	// The starting flag holds the slot while the launch is in flight, so a
	// concurrent Start cannot spawn a second process between the check and
	// the handle assignment.
	m.mu.Lock()
	if m.cmd != nil || m.starting {
		m.mu.Unlock()
		return automation.ErrServerAlreadyRunning
	}
	m.starting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}()

	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return automation.WrapError("config", "invalid server config", err)
	}
	if sink == nil {
		sink = func(automation.LogRecord) {}
	}

	m.log.Info("starting embedded server",
		slog.String("path", cfg.ServerPath),
		slog.Any("args", cfg.argsMap()))

	cmd := exec.Command(cfg.ServerPath, cfg.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return automation.WrapError("start", "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return automation.WrapError("start", "stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return automation.WrapError("start", "server failed to launch", err)
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	var scanners sync.WaitGroup
	scanners.Add(2)
	go m.scan(stdout, sink, func(line string) {
		if strings.Contains(line, cfg.ReadyPattern) {
			readyOnce.Do(func() { close(ready) })
		}
	}, &scanners)
	go m.scan(stderr, sink, nil, &scanners)

	waitDone := make(chan struct{})
	go func() {
		scanners.Wait()
		_ = cmd.Wait()
		close(waitDone)
	}()

	timeout := time.NewTimer(cfg.ReadyTimeout)
	defer timeout.Stop()

	select {
	case <-ready:
	case <-waitDone:
		return automation.NewError("start", "server exited before it was ready")
	case <-timeout.C:
		m.kill(cmd, waitDone)
		return automation.NewError("start", fmt.Sprintf("server not ready after %s", cfg.ReadyTimeout))
	case <-ctx.Done():
		m.kill(cmd, waitDone)
		return automation.WrapError("start", "server start aborted", ctx.Err())
	}

	m.mu.Lock()
	m.cmd = cmd
	m.waitDone = waitDone
	m.mu.Unlock()
	m.log.Info("embedded server ready", slog.Int("pid", cmd.Process.Pid))
	return nil
}

// Stop terminates the embedded server and releases the handle. Returns
// ErrServerNotRunning when there is nothing to stop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cmd, waitDone := m.cmd, m.waitDone
	m.cmd, m.waitDone = nil, nil
	m.mu.Unlock()

	if cmd == nil {
		return automation.ErrServerNotRunning
	}
	m.kill(cmd, waitDone)
	m.log.Info("embedded server stopped")
	return nil
}

func (m *Manager) kill(cmd *exec.Cmd, waitDone chan struct{}) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if waitDone != nil {
		select {
		case <-waitDone:
		case <-time.After(3 * time.Second):
			m.log.Warn("embedded server did not exit after kill")
		}
	}
}

func (m *Manager) scan(r io.Reader, sink LogSink, onLine func(string), wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if onLine != nil {
			onLine(line)
		}
		sink(parseRecord(line))
	}
}

// parseRecord classifies a raw output line. Server output is prefixed like
// "[debug] ..." or "[HTTP] ..."; unknown prefixes default to info.
func parseRecord(line string) automation.LogRecord {
	level := automation.LogLevelInfo
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "[") {
		if end := strings.Index(trimmed, "]"); end > 0 {
			switch strings.ToLower(trimmed[1:end]) {
			case "debug":
				level = automation.LogLevelDebug
			case "warn", "warning":
				level = automation.LogLevelWarn
			case "error":
				level = automation.LogLevelError
			}
		}
	}
	return automation.LogRecord{Level: level, Message: line}
}
