package automation

import "context"

// Driver builds adapter instances for remote automation endpoints.
type Driver interface {
	// Attach constructs an unconnected session adapter bound to the
	// endpoint and credentials in req. The adapter does no I/O until
	// Init is called, so callers may register it before initialization
	// completes.
	Attach(req SessionRequest) Session
}

// Session is the port implemented by automation client adapters.
type Session interface {
	// Init performs the session handshake with the desired capabilities.
	Init(ctx context.Context, caps Capabilities) error

	// Quit ends the session. Safe to call more than once.
	Quit(ctx context.Context) error

	// Source returns the current page source.
	Source(ctx context.Context) (string, error)

	// Screenshot returns the current screen as raw image bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Invoke runs a named method with positional arguments. The method
	// name must belong to the adapter's known command set; unknown names
	// fail with ErrUnknownMethod.
	Invoke(ctx context.Context, method string, args []any) error
}
