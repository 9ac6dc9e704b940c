package broker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
	"github.com/wheelhouse-dev/wheelhouse/pkg/bus"
	"github.com/wheelhouse-dev/wheelhouse/pkg/registry"
)

// Outbound event names. These are the wire contract with the UI layer and
// must not change without coordinating with the front-end.
const (
	EventStartOK    = "appium-start-ok"
	EventStartError = "appium-start-error"
	EventStopOK     = "appium-stop-ok"
	EventStopError  = "appium-stop-error"

	EventNewSessionStarted = "appium-new-session-successful"
	EventNewSessionReady   = "appium-new-session-ready"
	EventNewSessionFailed  = "appium-new-session-failed"
	EventSessionDone       = "appium-session-done"

	EventCommandResponse = "appium-client-command-response"
	EventCommandError    = "appium-client-command-response-error"

	EventLogBatch = "appium-log-line"
)

// Request/reply operation names.
const (
	RPCDefaultArgs  = "get-default-args"
	RPCArgsMetadata = "get-args-metadata"
)

// ErrorPayload carries a human-readable failure detail.
type ErrorPayload struct {
	Message string `json:"message"`
}

// CommandResponsePayload is the unified success response to a dispatched
// command. Screenshot marshals as base64.
type CommandResponsePayload struct {
	Source     string `json:"source"`
	Screenshot []byte `json:"screenshot,omitempty"`
}

// LogBatchPayload is one flush tick's worth of server output.
type LogBatchPayload struct {
	Records []automation.LogRecord `json:"records"`
}

// publishServer emits a broadcast server-level event.
func (b *Broker) publishServer(event string, payload any) {
	b.publish(bus.ServerSubject(event), event, payload)
}

// publishRequester emits an event addressed to one requester.
func (b *Broker) publishRequester(requester registry.RequesterID, event string, payload any) {
	b.publish(bus.RequesterSubject(string(requester), event), event, payload)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func (b *Broker) publish(subject, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("marshal event payload", slog.String("event", event), slog.Any("error", err))
		return
	}
	if err := b.bus.Publish(context.Background(), subject, data); err != nil {
		b.log.Error("publish event", slog.String("subject", subject), slog.Any("error", err))
	}
}
