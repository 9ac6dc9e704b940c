package automation

// Capabilities is the desired-capability set handed to a remote endpoint
// when a session is initialized.
type Capabilities map[string]any

// SessionRequest carries everything needed to reach a remote automation
// endpoint and open a session against it.
type SessionRequest struct {
	DesiredCapabilities Capabilities `json:"desiredCapabilities"`
	Host                string       `json:"host"`
	Port                int          `json:"port"`
	Username            string       `json:"username,omitempty"`
	AccessKey           string       `json:"accessKey,omitempty"`
	HTTPS               bool         `json:"https"`
}

// CommandResult is the unified response to a dispatched command: after the
// named method runs, the page source and a screenshot are re-fetched so the
// caller always sees current page state.
type CommandResult struct {
	Source     string `json:"source"`
	Screenshot []byte `json:"screenshot,omitempty"`
}

// LogLevel classifies a single line emitted by the embedded server.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogRecord is one line of embedded-server output, ordered by emission.
type LogRecord struct {
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}
