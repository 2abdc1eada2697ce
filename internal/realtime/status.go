// Package realtime implements the client synchronization layer: the
// connection lifecycle, the typed message router, and the state store
// that derives the visible task tree from the server event stream.
package realtime

// ConnState is the lifecycle state of the server connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFailed       ConnState = "failed"
)

// Status is the externally visible connection status. Attempt is the
// reconnect attempt number while State is StateReconnecting, zero
// otherwise.
type Status struct {
	State   ConnState
	Attempt int
}
