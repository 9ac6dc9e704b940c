// Package broker is the single entry point the UI layer talks to. It owns
// the embedded server lifecycle, the per-requester session registry, and
// command dispatch, and publishes every outcome as a typed event on the bus.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
	"github.com/wheelhouse-dev/wheelhouse/pkg/bus"
	"github.com/wheelhouse-dev/wheelhouse/pkg/logbatch"
	"github.com/wheelhouse-dev/wheelhouse/pkg/registry"
	"github.com/wheelhouse-dev/wheelhouse/pkg/server"
)

// quitTimeout bounds the teardown call for a session being destroyed on a
// path that has no caller-supplied context.
const quitTimeout = 10 * time.Second

// Broker composes the server lifecycle manager, session registry, and
// command dispatcher behind one facade. All shared state is instance state;
// independent brokers can coexist in one process.
type Broker struct {
	driver   automation.Driver
	bus      bus.MessageBus
	sessions *registry.Registry
	server   *server.Manager
	logs     *logbatch.Aggregator
	metrics  *Metrics
	log      *slog.Logger

	// lifecycleMu serializes server start/stop and the registry
	// replace-then-register sequence. Adapter I/O happens outside it.
	lifecycleMu sync.Mutex
}

// Option configures a Broker.
type Option func(*options)

type options struct {
	log         *slog.Logger
	registerer  prometheus.Registerer
	logInterval time.Duration
}

// WithLogger sets the ambient structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetricsRegisterer sets where broker collectors register.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogInterval overrides the log flush tick.
func WithLogInterval(interval time.Duration) Option {
	return func(o *options) { o.logInterval = interval }
}

// New creates a Broker publishing events on eventBus and reaching remote
// endpoints through driver.
func New(driver automation.Driver, eventBus bus.MessageBus, opts ...Option) *Broker {
	o := &options{
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		registerer:  prometheus.NewRegistry(),
		logInterval: logbatch.DefaultInterval,
	}
	for _, opt := range opts {
		opt(o)
	}

	b := &Broker{
		driver:   driver,
		bus:      eventBus,
		sessions: registry.New(),
		server:   server.NewManager(o.log.With(slog.String("component", "server"))),
		metrics:  NewMetrics(o.registerer),
		log:      o.log.With(slog.String("component", "broker")),
	}
	b.logs = logbatch.New(o.logInterval, b.flushLogs)
	return b
}

// flushLogs delivers one batch of server output as a single event.
func (b *Broker) flushLogs(batch []automation.LogRecord) {
	b.metrics.LogBatchesFlushed.Inc()
	b.metrics.LogRecordsFlushed.Add(float64(len(batch)))
	b.publishServer(EventLogBatch, LogBatchPayload{Records: batch})
}

// StartServer launches the embedded server. The log flush timer starts
// before the server comes up so startup-time lines are not lost; a failed
// start stops the timer again. The outcome is published as
// appium-start-ok or appium-start-error and also returned.
func (b *Broker) StartServer(ctx context.Context, cfg server.Config) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	// A duplicate start must not touch the aggregator: stopping it here
	// would silence log batches for the server that is already running.
	if b.server.Running() {
		err := automation.ErrServerAlreadyRunning
		b.metrics.ServerStartErrors.Inc()
		b.publishServer(EventStartError, ErrorPayload{Message: err.Error()})
		return err
	}

	b.logs.Start()
	if err := b.server.Start(ctx, cfg, b.logs.Append); err != nil {
		b.logs.Stop()
		b.metrics.ServerStartErrors.Inc()
		b.publishServer(EventStartError, ErrorPayload{Message: err.Error()})
		return err
	}
	b.metrics.ServerStarts.Inc()
	b.publishServer(EventStartOK, struct{}{})
	return nil
}

// StopServer closes the embedded server. The log timer is stopped
// unconditionally; teardown is not contingent on a clean close.
func (b *Broker) StopServer() error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	err := b.server.Stop()
	b.logs.Stop()
	b.logs.Flush()
	if err != nil {
		b.publishServer(EventStopError, ErrorPayload{Message: err.Error()})
		return err
	}
	b.metrics.ServerStops.Inc()
	b.publishServer(EventStopOK, struct{}{})
	return nil
}

// DefaultArgs returns the default server configuration as a flat map.
func (b *Broker) DefaultArgs() map[string]any {
	return server.DefaultArgs()
}

// ArgsMetadata returns argument metadata filtered to the default args.
func (b *Broker) ArgsMetadata() []server.ArgMetadata {
	return server.ArgsMetadata()
}

// CreateSession opens a new automation session for a requester. Any
// existing session for the same requester is destroyed first. The entry is
// registered before initialization completes so a concurrent kill can find
// and cancel it; acceptance (appium-new-session-successful) is emitted
// immediately, completion (ready/failed) asynchronously.
func (b *Broker) CreateSession(ctx context.Context, requester registry.RequesterID, req automation.SessionRequest) {
	b.lifecycleMu.Lock()
	if previous := b.sessions.Remove(requester); previous != nil {
		b.metrics.ActiveSessions.Dec()
		b.lifecycleMu.Unlock()
		b.destroyEntry(previous)
		b.publishRequester(requester, EventSessionDone, struct{}{})
		b.lifecycleMu.Lock()
	}

	// Initialization outlives the inbound request, so its context hangs
	// off the background context; the registry entry holds the cancel.
	initCtx, cancel := context.WithCancel(context.Background())
	session := b.driver.Attach(req)
	entry, displaced := b.sessions.Register(requester, session, req, cancel)
	b.metrics.ActiveSessions.Inc()
	b.lifecycleMu.Unlock()

	// A concurrent create can slip in between the Remove above and the
	// Register (the adapter teardown happens outside the lock). Its entry
	// loses the slot and must be torn down like any other replacement.
	if displaced != nil {
		b.metrics.ActiveSessions.Dec()
		b.destroyEntry(displaced)
	}

	b.log.Debug("session accepted",
		slog.String("session", entry.ID),
		slog.String("requester", string(requester)))
	b.publishRequester(requester, EventNewSessionStarted, struct{}{})

	go b.initialize(initCtx, entry)
}

// initialize runs the session handshake as a supervised task. Every outcome
// becomes an event; nothing escapes.
func (b *Broker) initialize(ctx context.Context, entry *registry.Entry) {
	err := entry.Session.Init(ctx, entry.Request.DesiredCapabilities)

	if err == nil {
		if current, ok := b.sessions.Get(entry.Requester); ok && current == entry {
			b.metrics.SessionsCreated.Inc()
			b.publishRequester(entry.Requester, EventNewSessionReady, struct{}{})
			return
		}
		// A kill won the race after the handshake finished. The kill
		// path already emitted session-done; just end the orphan.
		b.quietQuit(entry.Session)
		return
	}

	if ctx.Err() != nil || errors.Is(err, automation.ErrSessionClosed) {
		// Cancelled by a kill or a replacement create; that path owns
		// the events.
		b.log.Debug("session init cancelled", slog.String("requester", string(entry.Requester)))
		return
	}

	// Genuine handshake failure: tear down the just-registered entry. If
	// the entry was already displaced by a racing create, that create owns
	// the requester's events now; emitting failed/done here would report a
	// death the replacement session never had.
	removed := b.sessions.RemoveEntry(entry.Requester, entry)
	if removed {
		b.metrics.ActiveSessions.Dec()
	}
	b.quietQuit(entry.Session)
	b.metrics.SessionsFailed.Inc()
	b.log.Warn("session init failed",
		slog.String("session", entry.ID),
		slog.String("requester", string(entry.Requester)),
		slog.Any("error", err))
	if removed {
		b.publishRequester(entry.Requester, EventNewSessionFailed, ErrorPayload{Message: err.Error()})
		b.publishRequester(entry.Requester, EventSessionDone, struct{}{})
	}
}

// KillSession destroys a requester's session if one exists: cancels any
// in-flight initialization, awaits the adapter's quit, and emits exactly
// one session-done. Silently idempotent when no entry exists.
func (b *Broker) KillSession(ctx context.Context, requester registry.RequesterID) {
	entry := b.sessions.Remove(requester)
	if entry == nil {
		return
	}
	b.metrics.ActiveSessions.Dec()
	b.destroyEntry(entry)
	b.publishRequester(requester, EventSessionDone, struct{}{})
}

// Execute dispatches one client command. "quit" delegates to KillSession;
// every other method is invoked on the requester's adapter and followed by
// a page-source + screenshot refresh bundled into one response event. All
// failures surface as a single error event for the requester.
func (b *Broker) Execute(ctx context.Context, requester registry.RequesterID, method string, args []any) {
	if method == "quit" {
		b.KillSession(ctx, requester)
		return
	}
	b.metrics.CommandsExecuted.WithLabelValues(method).Inc()

	entry, ok := b.sessions.Get(requester)
	if !ok {
		b.commandError(requester, automation.ErrNoActiveSession)
		return
	}

	// "source" would be re-fetched by the refresh step anyway; invoking
	// it twice is a wasted network round-trip.
	if method != "source" {
		if err := entry.Session.Invoke(ctx, method, args); err != nil {
			b.commandError(requester, err)
			return
		}
	}

	source, err := entry.Session.Source(ctx)
	if err != nil {
		b.commandError(requester, fmt.Errorf("refresh source: %w", err))
		return
	}
	screenshot, err := entry.Session.Screenshot(ctx)
	if err != nil {
		b.commandError(requester, fmt.Errorf("refresh screenshot: %w", err))
		return
	}

	b.publishRequester(requester, EventCommandResponse, CommandResponsePayload{
		Source:     source,
		Screenshot: screenshot,
	})
}

func (b *Broker) commandError(requester registry.RequesterID, err error) {
	b.metrics.CommandErrors.Inc()
	b.log.Warn("command failed",
		slog.String("requester", string(requester)),
		slog.Any("error", err))
	b.publishRequester(requester, EventCommandError, ErrorPayload{Message: err.Error()})
}

// BindRPC answers the synchronous request/reply operations over the bus.
// The returned subscriptions stay live until unsubscribed or the bus closes.
func (b *Broker) BindRPC(ctx context.Context) ([]bus.Subscription, error) {
	var subs []bus.Subscription

	defaultArgs, err := b.bus.Subscribe(ctx, bus.RPCSubject(RPCDefaultArgs), func(*bus.Message) []byte {
		return mustJSON(b.DefaultArgs())
	})
	if err != nil {
		return nil, err
	}
	subs = append(subs, defaultArgs)

	metadata, err := b.bus.Subscribe(ctx, bus.RPCSubject(RPCArgsMetadata), func(*bus.Message) []byte {
		return mustJSON(b.ArgsMetadata())
	})
	if err != nil {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		return nil, err
	}
	subs = append(subs, metadata)
	return subs, nil
}

// Shutdown tears down all sessions, the embedded server, and the log
// pipeline. Session-done events still flow so windows can settle.
func (b *Broker) Shutdown(ctx context.Context) {
	for _, entry := range b.sessions.All() {
		b.KillSession(ctx, entry.Requester)
	}
	if b.server.Running() {
		_ = b.StopServer()
	} else {
		b.logs.Stop()
	}
}

// destroyEntry cancels and quits an entry already removed from the
// registry. Secondary quit errors are logged and swallowed.
func (b *Broker) destroyEntry(entry *registry.Entry) {
	entry.Cancel()
	b.quietQuit(entry.Session)
}

func (b *Broker) quietQuit(session automation.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()
	if err := session.Quit(ctx); err != nil {
		b.log.Debug("session quit failed", slog.Any("error", err))
	}
}
