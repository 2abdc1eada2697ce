package realtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/teillan/taskwire/internal/protocol"
)

// Conn is a single established transport connection. The production
// implementation wraps coder/websocket; tests substitute in-memory pipes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// DialFunc opens a transport connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}

func dialWebsocket(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

// ConnOptions bounds the reconnection policy of a ConnectionManager.
type ConnOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// AnnounceDelay is how long to wait after open before re-announcing
	// the saved display name. The server may not be ready to process
	// identity messages in the first instant after the upgrade.
	AnnounceDelay time.Duration
}

func (o *ConnOptions) applyDefaults() {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 10
	}
	if o.InitialDelay == 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.AnnounceDelay == 0 {
		o.AnnounceDelay = 300 * time.Millisecond
	}
}

// ConnectionManager owns the transport connection: connect, send, close,
// and automatic reconnection with capped backoff and a bounded attempt
// count. The stable client identity is appended to the endpoint on every
// dial so the server recognizes the participant across reconnects.
type ConnectionManager struct {
	clientID string
	opts     ConnOptions
	dial     DialFunc

	onFrame  func(data []byte)
	onStatus func(Status)
	username func() string

	mu         sync.Mutex
	endpoint   string
	conn       Conn
	connecting bool
	attempt    int
	timer      *time.Timer
	stopped    bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewConnectionManager creates a manager for the given client identity.
func NewConnectionManager(clientID string, opts ConnOptions) *ConnectionManager {
	opts.applyDefaults()
	return &ConnectionManager{
		clientID: clientID,
		opts:     opts,
		dial:     dialWebsocket,
	}
}

// SetDial replaces the transport dialer. Tests use this to substitute
// in-memory connections.
func (cm *ConnectionManager) SetDial(d DialFunc) { cm.dial = d }

// OnFrame registers the inbound frame handler. Frames are delivered in
// arrival order on the current connection.
func (cm *ConnectionManager) OnFrame(fn func(data []byte)) { cm.onFrame = fn }

// OnStatus registers the connection status handler.
func (cm *ConnectionManager) OnStatus(fn func(Status)) { cm.onStatus = fn }

// UsernameSource registers the function that yields the saved display
// name to re-announce after each successful open ("" means none).
func (cm *ConnectionManager) UsernameSource(fn func() string) { cm.username = fn }

// Connect opens a connection to endpoint. It is a no-op if a connection
// is already established or an attempt is in flight. A fresh Connect
// after Disconnect or after a terminal failure starts a new cycle.
func (cm *ConnectionManager) Connect(ctx context.Context, endpoint string) {
	cm.mu.Lock()
	if cm.conn != nil || cm.connecting {
		cm.mu.Unlock()
		return
	}
	if cm.timer != nil {
		cm.timer.Stop()
		cm.timer = nil
	}
	if cm.cancel != nil {
		cm.cancel()
	}
	cm.endpoint = endpoint
	cm.stopped = false
	cm.attempt = 0
	cm.connecting = true
	cm.ctx, cm.cancel = context.WithCancel(ctx)
	cm.mu.Unlock()

	cm.emit(Status{State: StateConnecting})
	go cm.attemptDial()
}

// Send serializes {type, data} as a single text frame and transmits it.
// Messages sent while disconnected are dropped, not buffered: the send
// is logged and discarded.
func (cm *ConnectionManager) Send(t protocol.MessageType, payload any) {
	data, err := protocol.Marshal(t, payload)
	if err != nil {
		slog.Error("marshal outbound message", "type", t, "error", err)
		return
	}

	cm.mu.Lock()
	conn := cm.conn
	ctx := cm.ctx
	cm.mu.Unlock()

	if conn == nil {
		slog.Warn("not connected, dropping message", "type", t)
		return
	}
	if err := conn.Write(ctx, data); err != nil {
		// The read loop observes the close and drives reconnection.
		slog.Error("write frame", "type", t, "error", err)
	}
}

// Disconnect cancels any pending reconnect timer, closes the active
// connection if present, and suppresses further automatic reconnection.
// It is idempotent.
func (cm *ConnectionManager) Disconnect() {
	cm.mu.Lock()
	alreadyStopped := cm.stopped && cm.conn == nil && cm.timer == nil
	cm.stopped = true
	if cm.timer != nil {
		cm.timer.Stop()
		cm.timer = nil
	}
	conn := cm.conn
	cm.conn = nil
	if cm.cancel != nil {
		cm.cancel()
	}
	cm.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if !alreadyStopped {
		cm.emit(Status{State: StateDisconnected})
	}
}

func (cm *ConnectionManager) attemptDial() {
	cm.mu.Lock()
	endpoint := cm.endpoint
	ctx := cm.ctx
	cm.mu.Unlock()

	conn, err := cm.dial(ctx, withClientID(endpoint, cm.clientID))

	cm.mu.Lock()
	cm.connecting = false
	if cm.stopped {
		cm.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		slog.Warn("dial failed", "endpoint", endpoint, "error", err)
		cm.scheduleReconnectLocked()
		return
	}

	cm.conn = conn
	cm.attempt = 0
	cm.mu.Unlock()

	cm.emit(Status{State: StateConnected})
	go cm.readLoop(ctx, conn)
	go cm.announceUsername(ctx)
}

// readLoop delivers inbound frames until the connection drops, then
// hands control to the reconnect path.
func (cm *ConnectionManager) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("read loop ended", "error", err)
			break
		}
		if cm.onFrame != nil {
			cm.onFrame(data)
		}
	}

	cm.mu.Lock()
	if cm.conn != conn {
		// A newer connection already replaced this one.
		cm.mu.Unlock()
		return
	}
	cm.conn = nil
	if cm.stopped {
		cm.mu.Unlock()
		return
	}
	cm.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer. Called with cm.mu
// held; it unlocks before emitting status.
func (cm *ConnectionManager) scheduleReconnectLocked() {
	cm.attempt++
	attempt := cm.attempt

	if attempt > cm.opts.MaxAttempts {
		cm.mu.Unlock()
		slog.Error("max reconnection attempts reached", "attempts", cm.opts.MaxAttempts)
		cm.emit(Status{State: StateFailed})
		return
	}

	delay := backoffDelay(attempt, cm.opts.InitialDelay, cm.opts.MaxDelay)
	cm.mu.Unlock()

	slog.Info("reconnecting", "attempt", attempt, "delay", delay)
	cm.emit(Status{State: StateReconnecting, Attempt: attempt})

	cm.mu.Lock()
	if cm.stopped || cm.conn != nil || cm.connecting {
		cm.mu.Unlock()
		return
	}
	cm.timer = time.AfterFunc(delay, func() {
		cm.mu.Lock()
		cm.timer = nil
		if cm.stopped || cm.conn != nil || cm.connecting {
			cm.mu.Unlock()
			return
		}
		cm.connecting = true
		cm.mu.Unlock()
		cm.attemptDial()
	})
	cm.mu.Unlock()
}

// announceUsername re-sends the saved display name shortly after open.
func (cm *ConnectionManager) announceUsername(ctx context.Context) {
	if cm.username == nil {
		return
	}
	name := cm.username()
	if name == "" {
		return
	}
	select {
	case <-time.After(cm.opts.AnnounceDelay):
	case <-ctx.Done():
		return
	}
	cm.Send(protocol.TypeSetUsername, protocol.SetUsernameRequest{Username: name})
}

func (cm *ConnectionManager) emit(s Status) {
	if cm.onStatus != nil {
		cm.onStatus(s)
	}
}

// backoffDelay returns the delay before reconnect attempt n (1-based):
// the initial delay doubled per attempt, capped at max. Non-decreasing
// in n and never above the cap.
func backoffDelay(n int, initial, max time.Duration) time.Duration {
	d := initial
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// withClientID appends the client identity as a query parameter.
func withClientID(endpoint, clientID string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "clientId=" + clientID
}
