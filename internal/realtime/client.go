package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/teillan/taskwire/internal/identity"
	"github.com/teillan/taskwire/internal/protocol"
	"github.com/teillan/taskwire/internal/tasklist"
)

// Options configures a Client.
type Options struct {
	// Endpoint is the server WebSocket URL.
	Endpoint string
	// DataDir holds the durable identity file.
	DataDir string
	// Reconnect policy; zero values take defaults.
	Conn ConnOptions
	// Dial overrides the transport dialer (tests).
	Dial DialFunc
}

// Client wires the connection manager, the message router, and the
// state store into one synchronization client. Raw frames flow
// conn → router → store; intents flow store → conn.
type Client struct {
	endpoint string
	ident    *identity.Store
	conn     *ConnectionManager
	router   *Router
	store    *Store
	changes  chan struct{}
}

// NewClient builds a Client. The durable client id is created on first
// use and reused for every subsequent connection.
func NewClient(opts Options) (*Client, error) {
	ident := identity.NewStore(opts.DataDir)
	clientID, err := ident.ClientID()
	if err != nil {
		return nil, err
	}

	conn := NewConnectionManager(clientID, opts.Conn)
	if opts.Dial != nil {
		conn.SetDial(opts.Dial)
	}
	conn.UsernameSource(ident.Username)

	store := NewStore(clientID, conn, ident)

	c := &Client{
		endpoint: opts.Endpoint,
		ident:    ident,
		conn:     conn,
		router:   NewRouter(),
		store:    store,
		changes:  make(chan struct{}, 1),
	}

	store.OnChange(c.notify)
	c.registerHandlers()

	conn.OnFrame(c.router.Dispatch)
	conn.OnStatus(func(st Status) {
		store.ApplyStatus(st)
		if st.State == StateConnected {
			c.resync()
		}
	})

	return c, nil
}

// Connect starts the connection lifecycle.
func (c *Client) Connect(ctx context.Context) {
	c.conn.Connect(ctx, c.endpoint)
}

// Disconnect terminates the session and suppresses reconnection.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Store exposes the state store for consumers (views, commands).
func (c *Client) Store() *Store {
	return c.store
}

// Changes signals after state transitions. Notifications are coalesced:
// consumers re-read the snapshot, they do not count signals.
func (c *Client) Changes() <-chan struct{} {
	return c.changes
}

// resync requests a fresh snapshot of the active list after an open.
// Events in flight when the previous connection dropped may be lost
// entirely; the authoritative snapshot supersedes them.
func (c *Client) resync() {
	snap := c.store.Snapshot()
	if snap.TaskList != nil {
		c.store.GetTaskList(snap.TaskList.ID)
	}
}

func (c *Client) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// registerHandlers binds every server message type to its store
// transition. Payload shape is validated here: a payload that does not
// decode is logged and dropped, like any other malformed frame.
func (c *Client) registerHandlers() {
	c.router.Handle(protocol.TypeTaskListData, func(data json.RawMessage) {
		var p protocol.TaskListData
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Error("bad task_list_data payload", "error", err)
			return
		}
		c.store.ApplySnapshot(p.TaskList, p.Tasks, p.IsOwner)
	})

	c.router.Handle(protocol.TypeTaskCreated, func(data json.RawMessage) {
		var t tasklist.Task
		if err := json.Unmarshal(data, &t); err != nil {
			slog.Error("bad task_created payload", "error", err)
			return
		}
		c.store.ApplyTaskCreated(t)
	})

	c.router.Handle(protocol.TypeTaskUpdated, func(data json.RawMessage) {
		var t tasklist.Task
		if err := json.Unmarshal(data, &t); err != nil {
			slog.Error("bad task_updated payload", "error", err)
			return
		}
		c.store.ApplyTaskUpdated(t)
	})

	c.router.Handle(protocol.TypeTaskDeleted, func(data json.RawMessage) {
		var p protocol.TaskDeleted
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Error("bad task_deleted payload", "error", err)
			return
		}
		c.store.ApplyTaskDeleted(p.TaskID)
	})

	c.router.Handle(protocol.TypeCursorPosition, func(data json.RawMessage) {
		var p tasklist.CursorPosition
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Error("bad cursor_position payload", "error", err)
			return
		}
		c.store.ApplyCursorMoved(p)
	})

	c.router.Handle(protocol.TypeUsernameSet, func(data json.RawMessage) {
		var p protocol.UsernameSet
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Error("bad username_set payload", "error", err)
			return
		}
		c.store.ApplyUsernameSet(p)
	})

	listMeta := func(data json.RawMessage) {
		var l tasklist.TaskList
		if err := json.Unmarshal(data, &l); err != nil {
			slog.Error("bad task list payload", "error", err)
			return
		}
		c.store.ApplyTaskListMeta(l)
	}
	c.router.Handle(protocol.TypeTaskListCreated, listMeta)
	c.router.Handle(protocol.TypeTaskListUpdated, listMeta)

	c.router.Handle(protocol.TypeError, func(data json.RawMessage) {
		var p protocol.ServerError
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Error("bad error payload", "error", err)
			return
		}
		c.store.ApplyError(p)
	})
}
