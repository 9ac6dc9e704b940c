// Package webdriver adapts a remote JSON-wire automation endpoint to the
// automation.Session port. The command surface is closed: Invoke only
// accepts names from a known table, so a typo is a typed error rather than
// an arbitrary remote fault.
package webdriver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

// Driver builds Session adapters for remote endpoints.
type Driver struct {
	httpClient *http.Client
}

// NewDriver creates a Driver. A nil httpClient falls back to
// http.DefaultClient.
func NewDriver(httpClient *http.Client) *Driver {
	return &Driver{httpClient: httpClient}
}

// Attach constructs an unconnected adapter for the given endpoint. No I/O
// happens until Init.
func (d *Driver) Attach(req automation.SessionRequest) automation.Session {
	return &Session{
		client:  newClient(req, d.httpClient),
		request: req,
	}
}

// Session is a JSON-wire automation session.
type Session struct {
	client  *client
	request automation.SessionRequest

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// Init opens the remote session with the desired capabilities.
func (s *Session) Init(ctx context.Context, caps automation.Capabilities) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	body := map[string]any{"desiredCapabilities": caps}
	wire, err := s.client.do(ctx, http.MethodPost, "/session", body)
	if err != nil {
		return automation.WrapError("init", "session handshake failed", err)
	}
	id := wire.SessionID
	if id == "" {
		// W3C-style endpoints nest the id inside value.
		var value struct {
			SessionID string `json:"sessionId"`
		}
		if len(wire.Value) > 0 {
			_ = json.Unmarshal(wire.Value, &value)
		}
		id = value.SessionID
	}
	if id == "" {
		return automation.NewError("init", "endpoint returned no session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// A concurrent Quit won the race; the remote session is orphaned
		// from the caller's point of view, so end it now.
		sid := id
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = s.client.do(ctx, http.MethodDelete, "/session/"+sid, nil)
		}()
		return automation.ErrSessionClosed
	}
	s.sessionID = id
	return nil
}

// Quit ends the remote session. Idempotent.
func (s *Session) Quit(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	id := s.sessionID
	s.mu.Unlock()

	if id == "" {
		return nil
	}
	if _, err := s.client.do(ctx, http.MethodDelete, "/session/"+id, nil); err != nil {
		return automation.WrapError("quit", "session teardown failed", err)
	}
	return nil
}

// Source returns the current page source.
func (s *Session) Source(ctx context.Context) (string, error) {
	id, err := s.activeID()
	if err != nil {
		return "", err
	}
	wire, err := s.client.do(ctx, http.MethodGet, "/session/"+id+"/source", nil)
	if err != nil {
		return "", automation.WrapError("source", "page source fetch failed", err)
	}
	var source string
	if err := json.Unmarshal(wire.Value, &source); err != nil {
		return "", automation.WrapError("source", "unexpected source payload", err)
	}
	return source, nil
}

// Screenshot returns the current screen as decoded image bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	id, err := s.activeID()
	if err != nil {
		return nil, err
	}
	wire, err := s.client.do(ctx, http.MethodGet, "/session/"+id+"/screenshot", nil)
	if err != nil {
		return nil, automation.WrapError("screenshot", "screenshot fetch failed", err)
	}
	var encoded string
	if err := json.Unmarshal(wire.Value, &encoded); err != nil {
		return nil, automation.WrapError("screenshot", "unexpected screenshot payload", err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, automation.WrapError("screenshot", "screenshot is not valid base64", err)
	}
	return data, nil
}

// Invoke runs a named method from the known command table with positional
// arguments.
func (s *Session) Invoke(ctx context.Context, method string, args []any) error {
	cmd, ok := commands[method]
	if !ok {
		return fmt.Errorf("%w: %q", automation.ErrUnknownMethod, method)
	}
	id, err := s.activeID()
	if err != nil {
		return err
	}
	path, body, err := cmd.resolve(args)
	if err != nil {
		return err
	}
	if _, err := s.client.do(ctx, cmd.httpMethod, "/session/"+id+path, body); err != nil {
		return automation.WrapError("invoke", fmt.Sprintf("%s failed", method), err)
	}
	return nil
}

func (s *Session) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return automation.ErrSessionClosed
	}
	return nil
}

func (s *Session) activeID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", automation.ErrSessionClosed
	}
	if s.sessionID == "" {
		return "", automation.ErrSessionNotInitialized
	}
	return s.sessionID, nil
}
