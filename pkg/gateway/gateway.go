// Package gateway is the UI-layer transport: each front-end window holds
// one websocket connection, and that connection is the window's requester
// identity. Inbound envelopes become broker calls; broker events addressed
// to the requester (or broadcast server-wide) flow back out.
package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wheelhouse-dev/wheelhouse/pkg/broker"
	"github.com/wheelhouse-dev/wheelhouse/pkg/bus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// rpcTimeout bounds the synchronous get-default-args /
	// get-args-metadata round-trips over the bus.
	rpcTimeout = 5 * time.Second
)

// Gateway serves the websocket endpoint plus health and metrics.
type Gateway struct {
	broker   *broker.Broker
	bus      bus.MessageBus
	log      *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the ambient structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// New creates a Gateway bridging the bus and broker to websocket clients.
// gatherer backs the /metrics endpoint; pass the registry the broker's
// collectors registered on.
func New(b *broker.Broker, eventBus bus.MessageBus, gatherer prometheus.Gatherer, opts ...Option) *Gateway {
	g := &Gateway{
		broker: b,
		bus:    eventBus,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Front-end windows are local; the broker is not exposed
			// to arbitrary origins in this deployment.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(slog.String("component", "gateway"))

	r := chi.NewRouter()
	r.Get("/healthz", g.handleHealth)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/ws", g.handleSocket)
	g.router = r
	return g
}

// Router returns the HTTP handler.
func (g *Gateway) Router() http.Handler {
	return g.router
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	newWindow(g, conn).run(r.Context())
}
