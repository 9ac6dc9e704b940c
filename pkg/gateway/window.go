package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
	"github.com/wheelhouse-dev/wheelhouse/pkg/broker"
	"github.com/wheelhouse-dev/wheelhouse/pkg/bus"
	"github.com/wheelhouse-dev/wheelhouse/pkg/registry"
	"github.com/wheelhouse-dev/wheelhouse/pkg/server"
)

// Inbound event names from the front-end.
const (
	inStartServer   = "start-server"
	inStopServer    = "stop-server"
	inDefaultArgs   = "get-default-args"
	inArgsMetadata  = "get-args-metadata"
	inCreateSession = "appium-create-new-session"
	inClientCommand = "appium-client-command-request"
	inSessionQuit   = "quit-session"
	outInvalidEvent = "invalid-event"
	responseSuffix  = "-response"
)

// Envelope is the websocket framing for both directions. ID correlates a
// synchronous request with its response.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// commandPayload is the body of an appium-client-command-request.
type commandPayload struct {
	MethodName string `json:"methodName"`
	Args       []any  `json:"args"`
}

// window is one connected front-end window: a websocket, a requester
// identity, and the bus subscriptions feeding it.
type window struct {
	gw        *Gateway
	conn      *websocket.Conn
	requester registry.RequesterID
	outbound  chan []byte
	log       *slog.Logger
}

func newWindow(gw *Gateway, conn *websocket.Conn) *window {
	id := ulid.Make().String()
	return &window{
		gw:        gw,
		conn:      conn,
		requester: registry.RequesterID(id),
		outbound:  make(chan []byte, 256),
		log:       gw.log.With(slog.String("requester", id)),
	}
}

// run pumps the connection until it closes, then tears the session down.
func (w *window) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subs := w.subscribe(ctx)
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()

	go w.writePump(ctx)
	w.readPump(ctx)

	// Window closed: its session goes with it.
	w.gw.broker.KillSession(context.Background(), w.requester)
	w.log.Debug("window disconnected")
}

// subscribe wires this window to its requester-scoped events and the
// server-wide broadcasts (lifecycle acks, log batches).
func (w *window) subscribe(ctx context.Context) []bus.Subscription {
	forward := func(msg *bus.Message) []byte {
		parts := strings.Split(msg.Subject, ".")
		event := parts[len(parts)-1]
		frame, err := json.Marshal(Envelope{Type: event, Payload: msg.Data})
		if err != nil {
			return nil
		}
		select {
		case w.outbound <- frame:
		default:
			w.log.Warn("outbound buffer full, dropping event", slog.String("event", event))
		}
		return nil
	}

	var subs []bus.Subscription
	for _, pattern := range []string{
		bus.RequesterPattern(string(w.requester)),
		bus.ServerPattern(),
	} {
		sub, err := w.gw.bus.Subscribe(ctx, pattern, forward)
		if err != nil {
			w.log.Error("subscribe failed", slog.String("pattern", pattern), slog.Any("error", err))
			continue
		}
		subs = append(subs, sub)
	}
	return subs
}

func (w *window) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-w.outbound:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = w.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *window) readPump(ctx context.Context) {
	defer w.conn.Close()
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			w.send(Envelope{Type: outInvalidEvent, Payload: detail("malformed envelope")})
			continue
		}
		w.dispatch(ctx, env)
	}
}

// dispatch runs one inbound event. Asynchronous operations are handed to
// the broker on their own goroutine; their outcomes come back over the bus.
func (w *window) dispatch(ctx context.Context, env Envelope) {
	switch env.Type {
	case inStartServer:
		var cfg server.Config
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &cfg); err != nil {
				w.send(Envelope{ID: env.ID, Type: outInvalidEvent, Payload: detail("bad server config")})
				return
			}
		}
		go func() { _ = w.gw.broker.StartServer(context.Background(), cfg) }()

	case inStopServer:
		go func() { _ = w.gw.broker.StopServer() }()

	case inDefaultArgs, inArgsMetadata:
		w.answerRPC(ctx, env)

	case inCreateSession:
		var req automation.SessionRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			w.send(Envelope{ID: env.ID, Type: outInvalidEvent, Payload: detail("bad session request")})
			return
		}
		go w.gw.broker.CreateSession(context.Background(), w.requester, req)

	case inClientCommand:
		var cmd commandPayload
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			w.send(Envelope{ID: env.ID, Type: outInvalidEvent, Payload: detail("bad command request")})
			return
		}
		go w.gw.broker.Execute(context.Background(), w.requester, cmd.MethodName, cmd.Args)

	case inSessionQuit:
		go w.gw.broker.KillSession(context.Background(), w.requester)

	default:
		w.send(Envelope{ID: env.ID, Type: outInvalidEvent, Payload: detail("unknown event type: " + env.Type)})
	}
}

// answerRPC performs the synchronous request/reply operations in-band,
// echoing the caller's correlation id.
func (w *window) answerRPC(ctx context.Context, env Envelope) {
	reply, err := w.gw.bus.Request(ctx, bus.RPCSubject(env.Type), nil, rpcTimeout)
	if err != nil {
		w.log.Warn("rpc failed", slog.String("operation", env.Type), slog.Any("error", err))
		w.send(Envelope{ID: env.ID, Type: env.Type + responseSuffix, Payload: detail(err.Error())})
		return
	}
	w.send(Envelope{ID: env.ID, Type: env.Type + responseSuffix, Payload: reply})
}

func (w *window) send(env Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case w.outbound <- frame:
	default:
		w.log.Warn("outbound buffer full, dropping reply", slog.String("type", env.Type))
	}
}

func detail(message string) json.RawMessage {
	data, _ := json.Marshal(broker.ErrorPayload{Message: message})
	return data
}
