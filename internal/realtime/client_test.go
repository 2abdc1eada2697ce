package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/teillan/taskwire/internal/protocol"
	"github.com/teillan/taskwire/internal/tasklist"
)

func newTestClient(t *testing.T, d *scriptedDialer) *Client {
	t.Helper()
	c, err := NewClient(Options{
		Endpoint: "ws://test/api/ws",
		DataDir:  t.TempDir(),
		Conn:     fastOpts(),
		Dial:     d.dial,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// waitState blocks until the store satisfies cond, re-reading the
// snapshot on every change signal.
func waitState(t *testing.T, c *Client, what string, cond func(State) bool) State {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		snap := c.Store().Snapshot()
		if cond(snap) {
			return snap
		}
		select {
		case <-c.Changes():
		case <-deadline:
			t.Fatalf("timed out waiting for %s; state %+v", what, snap)
		}
	}
}

func push(t *testing.T, conn *fakeConn, mt protocol.MessageType, payload any) {
	t.Helper()
	frame, err := protocol.Marshal(mt, payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", mt, err)
	}
	conn.in <- frame
}

func TestClientResyncAfterReconnect(t *testing.T) {
	d := &scriptedDialer{}
	c := newTestClient(t, d)

	c.Connect(context.Background())
	defer c.Disconnect()

	waitState(t, c, "connected", func(s State) bool {
		return s.Conn.State == StateConnected
	})

	conn1 := d.conn(0)
	push(t, conn1, protocol.TypeTaskListData, protocol.TaskListData{
		TaskList: list(),
		Tasks:    []tasklist.Task{task("a", ""), task("b", "")},
		IsOwner:  true,
	})
	waitState(t, c, "initial snapshot", func(s State) bool {
		return len(s.Tasks) == 2
	})

	// Drop the connection with the next three dials refused.
	d.mu.Lock()
	d.failures = d.dials + 3
	d.mu.Unlock()
	conn1.Close()

	waitState(t, c, "third retry", func(s State) bool {
		return s.Conn.State == StateReconnecting && s.Conn.Attempt == 3
	})

	// Fourth attempt lands. The client re-requests its active list; the
	// fresh snapshot supersedes whatever changed while it was away.
	snap := waitState(t, c, "reconnected", func(s State) bool {
		return s.Conn.State == StateConnected
	})
	if snap.Conn.Attempt != 0 {
		t.Errorf("attempt counter after reconnect: got %d, want 0", snap.Conn.Attempt)
	}

	conn2 := d.conn(1)
	resynced := false
	deadline := time.After(5 * time.Second)
	for !resynced {
		for _, frame := range conn2.writes() {
			msg, err := protocol.Unmarshal(frame)
			if err == nil && msg.Type == protocol.TypeGetTaskList {
				resynced = true
			}
		}
		if resynced {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client never requested a resync snapshot")
		case <-time.After(time.Millisecond):
		}
	}

	push(t, conn2, protocol.TypeTaskListData, protocol.TaskListData{
		TaskList: list(),
		Tasks:    []tasklist.Task{task("a", ""), task("c", "")},
		IsOwner:  true,
	})

	final := waitState(t, c, "resynced state", func(s State) bool {
		return len(s.Tasks) == 2 && s.Tasks[1].ID == "c"
	})
	if final.Tasks[0].ID != "a" || final.Tasks[1].ID != "c" {
		t.Fatalf("final tasks: %v", final.Tasks)
	}
	if final.Conn.State != StateConnected {
		t.Errorf("final state: %q", final.Conn.State)
	}
}

func TestClientToleratesMalformedFrames(t *testing.T) {
	d := &scriptedDialer{}
	c := newTestClient(t, d)

	c.Connect(context.Background())
	defer c.Disconnect()
	waitState(t, c, "connected", func(s State) bool {
		return s.Conn.State == StateConnected
	})

	conn := d.conn(0)
	push(t, conn, protocol.TypeTaskListData, protocol.TaskListData{TaskList: list(), IsOwner: true})
	push(t, conn, protocol.TypeTaskCreated, task("a", ""))
	conn.in <- []byte(`{"type": "task_created", "data": not valid`)
	push(t, conn, protocol.TypeTaskCreated, task("b", ""))

	snap := waitState(t, c, "both tasks", func(s State) bool {
		return len(s.Tasks) == 2
	})
	if snap.Conn.State != StateConnected {
		t.Errorf("malformed frame disturbed the connection: %q", snap.Conn.State)
	}
}

func TestClientAppliesServerEvents(t *testing.T) {
	d := &scriptedDialer{}
	c := newTestClient(t, d)

	c.Connect(context.Background())
	defer c.Disconnect()
	waitState(t, c, "connected", func(s State) bool {
		return s.Conn.State == StateConnected
	})

	owned := *list()
	owned.OwnerID = c.Store().ClientID()

	conn := d.conn(0)
	push(t, conn, protocol.TypeUsernameSet, protocol.UsernameSet{Success: true, Username: "ada"})
	push(t, conn, protocol.TypeTaskListCreated, owned)
	push(t, conn, protocol.TypeTaskCreated, task("a", ""))
	push(t, conn, protocol.TypeCursorPosition, tasklist.CursorPosition{UserID: "u2", TaskID: "a", Position: 3})
	push(t, conn, protocol.TypeError, protocol.ServerError{Code: protocol.CodeTaskListLocked, Message: "locked"})

	snap := waitState(t, c, "all events applied", func(s State) bool {
		return s.Username == "ada" && s.TaskList != nil &&
			len(s.Tasks) == 1 && len(s.Cursors) == 1 && s.Err != nil
	})
	if !snap.IsOwner {
		t.Error("ownership not derived from list owner id")
	}
	if snap.Cursors["u2"].Position != 3 {
		t.Errorf("cursor: %+v", snap.Cursors["u2"])
	}
	if snap.Err.Code != protocol.CodeTaskListLocked {
		t.Errorf("error code: %q", snap.Err.Code)
	}
}
