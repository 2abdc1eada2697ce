package realtime

import (
	"encoding/json"
	"log/slog"

	"github.com/teillan/taskwire/internal/protocol"
)

// Handler consumes the payload of one inbound message. The payload is
// passed raw; the handler validates its shape.
type Handler func(data json.RawMessage)

// Router deserializes inbound frames and dispatches them to the handler
// registered for their type. Parse and type failures are isolated: one
// malformed frame is logged and discarded without disturbing the stream.
type Router struct {
	handlers map[protocol.MessageType]Handler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[protocol.MessageType]Handler)}
}

// Handle registers the handler for one message type, replacing any
// previous registration.
func (r *Router) Handle(t protocol.MessageType, h Handler) {
	r.handlers[t] = h
}

// Dispatch parses one raw frame and invokes the matching handler.
// Frames are dispatched in exactly the order they are received; no
// reordering or coalescing happens here.
func (r *Router) Dispatch(raw []byte) {
	msg, err := protocol.Unmarshal(raw)
	if err != nil {
		slog.Error("dropping malformed frame", "error", err)
		return
	}
	if !msg.Type.Known() {
		slog.Warn("ignoring unknown message type", "type", msg.Type)
		return
	}
	h, ok := r.handlers[msg.Type]
	if !ok {
		slog.Debug("no handler registered", "type", msg.Type)
		return
	}
	h(msg.Data)
}
