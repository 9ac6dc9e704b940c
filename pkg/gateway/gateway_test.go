package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
	"github.com/wheelhouse-dev/wheelhouse/pkg/broker"
	"github.com/wheelhouse-dev/wheelhouse/pkg/bus"
)

// fakeSession completes instantly and serves canned page state.
type fakeSession struct {
	mu    sync.Mutex
	quits int
}

func (f *fakeSession) Init(ctx context.Context, caps automation.Capabilities) error { return nil }

func (f *fakeSession) Quit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	return nil
}

func (f *fakeSession) Source(ctx context.Context) (string, error) { return "<hierarchy/>", nil }

func (f *fakeSession) Screenshot(ctx context.Context) ([]byte, error) { return []byte{1, 2}, nil }

func (f *fakeSession) Invoke(ctx context.Context, method string, args []any) error { return nil }

type fakeDriver struct{}

func (fakeDriver) Attach(req automation.SessionRequest) automation.Session { return &fakeSession{} }

func newTestGateway(t *testing.T) (*httptest.Server, *bus.MemoryBus) {
	t.Helper()
	memBus := bus.NewMemoryBus()
	reg := prometheus.NewRegistry()
	b := broker.New(fakeDriver{}, memBus, broker.WithMetricsRegisterer(reg))
	if _, err := b.BindRPC(context.Background()); err != nil {
		t.Fatalf("BindRPC: %v", err)
	}
	gw := New(b, memBus, reg)
	srv := httptest.NewServer(gw.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { memBus.Close() })
	return srv, memBus
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil pulls frames until one matches the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %q: %v", wantType, err)
		}
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if env.Type == wantType {
			return env
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()
	frame, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestGateway(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestGateway(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDefaultArgsRoundTrip(t *testing.T) {
	srv, _ := newTestGateway(t)
	conn := dial(t, srv)

	send(t, conn, Envelope{ID: "req-1", Type: "get-default-args"})
	env := readUntil(t, conn, "get-default-args-response")

	if env.ID != "req-1" {
		t.Fatalf("correlation id not echoed: %q", env.ID)
	}
	if !strings.Contains(string(env.Payload), "port") {
		t.Fatalf("default args missing port: %s", env.Payload)
	}
}

func TestCreateSessionEventsReachWindow(t *testing.T) {
	srv, _ := newTestGateway(t)
	conn := dial(t, srv)

	payload, _ := json.Marshal(automation.SessionRequest{Host: "127.0.0.1", Port: 4723})
	send(t, conn, Envelope{Type: "appium-create-new-session", Payload: payload})

	readUntil(t, conn, broker.EventNewSessionStarted)
	readUntil(t, conn, broker.EventNewSessionReady)
}

func TestCommandRequestReturnsPageState(t *testing.T) {
	srv, _ := newTestGateway(t)
	conn := dial(t, srv)

	payload, _ := json.Marshal(automation.SessionRequest{})
	send(t, conn, Envelope{Type: "appium-create-new-session", Payload: payload})
	readUntil(t, conn, broker.EventNewSessionReady)

	cmd, _ := json.Marshal(map[string]any{"methodName": "click", "args": []any{"el-1"}})
	send(t, conn, Envelope{Type: "appium-client-command-request", Payload: cmd})
	env := readUntil(t, conn, broker.EventCommandResponse)

	var result broker.CommandResponsePayload
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		t.Fatalf("bad command response: %v", err)
	}
	if result.Source != "<hierarchy/>" {
		t.Fatalf("unexpected source: %q", result.Source)
	}
	if len(result.Screenshot) == 0 {
		t.Fatal("expected screenshot bytes")
	}
}

func TestWindowCloseTearsDownSession(t *testing.T) {
	srv, memBus := newTestGateway(t)
	conn := dial(t, srv)

	done := make(chan struct{}, 1)
	sub, err := memBus.Subscribe(context.Background(),
		"wheelhouse.requester.*."+broker.EventSessionDone,
		func(*bus.Message) []byte {
			done <- struct{}{}
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	payload, _ := json.Marshal(automation.SessionRequest{})
	send(t, conn, Envelope{Type: "appium-create-new-session", Payload: payload})
	readUntil(t, conn, broker.EventNewSessionReady)

	conn.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("expected session-done after window close")
	}
}

func TestUnknownEventType(t *testing.T) {
	srv, _ := newTestGateway(t)
	conn := dial(t, srv)

	send(t, conn, Envelope{ID: "x", Type: "make-coffee"})
	env := readUntil(t, conn, "invalid-event")
	if !strings.Contains(string(env.Payload), "make-coffee") {
		t.Fatalf("error detail should name the event: %s", env.Payload)
	}
}
