package bus

import "fmt"

// Subject layout:
//
//	wheelhouse.server.<event>               broadcast server lifecycle + log batches
//	wheelhouse.requester.<id>.<event>       per-window session traffic
//	wheelhouse.rpc.<operation>              request/reply operations
const (
	serverPrefix    = "wheelhouse.server"
	requesterPrefix = "wheelhouse.requester"
	rpcPrefix       = "wheelhouse.rpc"
)

// ServerSubject returns the broadcast subject for a server-level event.
func ServerSubject(event string) string {
	return fmt.Sprintf("%s.%s", serverPrefix, event)
}

// RequesterSubject returns the subject for one requester's event.
func RequesterSubject(requester, event string) string {
	return fmt.Sprintf("%s.%s.%s", requesterPrefix, requester, event)
}

// RequesterPattern subscribes to everything addressed to one requester.
func RequesterPattern(requester string) string {
	return fmt.Sprintf("%s.%s.>", requesterPrefix, requester)
}

// ServerPattern subscribes to all server-level events.
func ServerPattern() string {
	return serverPrefix + ".>"
}

// RPCSubject returns the request/reply subject for a named operation.
func RPCSubject(operation string) string {
	return fmt.Sprintf("%s.%s", rpcPrefix, operation)
}
