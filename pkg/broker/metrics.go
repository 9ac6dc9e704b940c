package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks broker counters. Collectors register on the registry the
// broker is constructed with, so independent brokers never collide.
type Metrics struct {
	SessionsCreated prometheus.Counter
	SessionsFailed  prometheus.Counter
	ActiveSessions  prometheus.Gauge

	CommandsExecuted *prometheus.CounterVec
	CommandErrors    prometheus.Counter

	ServerStarts      prometheus.Counter
	ServerStartErrors prometheus.Counter
	ServerStops       prometheus.Counter

	LogBatchesFlushed prometheus.Counter
	LogRecordsFlushed prometheus.Counter
}

// NewMetrics creates and registers the broker's collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := newFactory(reg)

	m := &Metrics{
		SessionsCreated: factory.counter("wheelhouse_sessions_created_total",
			"Automation sessions successfully initialized."),
		SessionsFailed: factory.counter("wheelhouse_sessions_failed_total",
			"Automation sessions that failed to initialize."),
		ActiveSessions: factory.gauge("wheelhouse_sessions_active",
			"Currently registered automation sessions."),
		CommandsExecuted: factory.counterVec("wheelhouse_commands_total",
			"Dispatched client commands by method.", []string{"method"}),
		CommandErrors: factory.counter("wheelhouse_command_errors_total",
			"Client commands that returned an error event."),
		ServerStarts: factory.counter("wheelhouse_server_starts_total",
			"Successful embedded server starts."),
		ServerStartErrors: factory.counter("wheelhouse_server_start_errors_total",
			"Failed embedded server starts."),
		ServerStops: factory.counter("wheelhouse_server_stops_total",
			"Embedded server stops."),
		LogBatchesFlushed: factory.counter("wheelhouse_log_batches_total",
			"Log batches delivered to the UI layer."),
		LogRecordsFlushed: factory.counter("wheelhouse_log_records_total",
			"Individual log records delivered to the UI layer."),
	}
	return m
}

// factory is a tiny helper so every collector registers on the
// broker's registry rather than the global default.
type factory struct {
	reg prometheus.Registerer
}

func newFactory(reg prometheus.Registerer) factory {
	return factory{reg: reg}
}

func (f factory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	f.reg.MustRegister(g)
	return g
}
