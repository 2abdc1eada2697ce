package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/teillan/taskwire/internal/protocol"
)

// session is one connected client. Reconnects with the same clientId
// replace the previous session.
type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket sessions keyed by client identity and routes
// protocol messages to the handlers.
type Hub struct {
	store *Store

	mu       sync.RWMutex
	sessions map[string]*session
	// usernames survive a session's disconnect so a reconnecting client
	// keeps its display name.
	usernames map[string]string
}

// NewHub creates a hub backed by the given store.
func NewHub(store *Store) *Hub {
	return &Hub{
		store:     store,
		sessions:  make(map[string]*session),
		usernames: make(map[string]string),
	}
}

// ServeWS handles a WebSocket upgrade and manages the session lifecycle.
// The client identity arrives as the clientId query parameter; an
// upgrade without one is rejected.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		http.Error(w, "clientId is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	sess := &session{
		id:   clientID,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register(sess)

	// A reconnecting client that already announced a name gets its
	// server-side state replayed as if it had re-announced itself.
	h.mu.RLock()
	name := h.usernames[clientID]
	h.mu.RUnlock()
	if name != "" {
		go func() {
			time.Sleep(100 * time.Millisecond)
			h.handleSetUsername(clientID, protocol.SetUsernameRequest{Username: name})
		}()
	}

	ctx := r.Context()
	go sess.writePump(ctx)
	h.readPump(ctx, sess)
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	if old, ok := h.sessions[s.id]; ok {
		close(old.send)
		old.conn.Close(websocket.StatusPolicyViolation, "superseded by new session")
	}
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()
	slog.Info("client connected", "clientId", s.id, "sessions", n)
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.id]; ok && cur == s {
		delete(h.sessions, s.id)
		close(s.send)
	}
	n := len(h.sessions)
	h.mu.Unlock()
	slog.Info("client disconnected", "clientId", s.id, "sessions", n)
}

// readPump reads frames from the connection and dispatches them. A
// frame that fails to parse is dropped; the connection stays up.
func (h *Hub) readPump(ctx context.Context, s *session) {
	defer func() {
		h.unregister(s)
		s.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			slog.Debug("ws read ended", "clientId", s.id, "error", err)
			return
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			slog.Error("unmarshal frame", "clientId", s.id, "error", err)
			continue
		}
		h.handle(s.id, msg)
	}
}

// writePump writes queued messages to the connection.
func (s *session) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// sendTo queues a message for one client. Unknown or gone clients are
// silently skipped. The lock is held across the send: register and
// unregister close the channel under the write lock, so releasing it
// before the select would race a send against the close.
func (h *Hub) sendTo(clientID string, t protocol.MessageType, payload any) {
	data, err := protocol.Marshal(t, payload)
	if err != nil {
		slog.Error("marshal message", "type", t, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[clientID]
	if !ok {
		return
	}
	select {
	case s.send <- data:
	default:
		// Client too slow, skip
	}
}

// broadcast queues a message for every connected client.
func (h *Hub) broadcast(t protocol.MessageType, payload any) {
	data, err := protocol.Marshal(t, payload)
	if err != nil {
		slog.Error("marshal broadcast", "type", t, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		select {
		case s.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) sendError(clientID, code, message string) {
	h.sendTo(clientID, protocol.TypeError, protocol.ServerError{Code: code, Message: message})
}

// Close terminates every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		s.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.sessions, id)
	}
}
