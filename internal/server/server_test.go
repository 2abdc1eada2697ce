package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teillan/taskwire/internal/protocol"
	"github.com/teillan/taskwire/internal/realtime"
	"github.com/teillan/taskwire/internal/tasklist"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := NewServer(store, "127.0.0.1", 0)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.hub.Close)

	endpoint := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	return srv, endpoint
}

func connectClient(t *testing.T, endpoint string) *realtime.Client {
	t.Helper()
	c, err := realtime.NewClient(realtime.Options{
		Endpoint: endpoint,
		DataDir:  t.TempDir(),
		Conn: realtime.ConnOptions{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			MaxDelay:      50 * time.Millisecond,
			AnnounceDelay: 10 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.Connect(context.Background())
	t.Cleanup(c.Disconnect)

	awaitState(t, c, "connected", func(s realtime.State) bool {
		return s.Conn.State == realtime.StateConnected
	})
	return c
}

func awaitState(t *testing.T, c *realtime.Client, what string, cond func(realtime.State) bool) realtime.State {
	t.Helper()
	deadline := time.After(10 * time.Second)
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

func TestCollaborationSession(t *testing.T) {
	_, endpoint := startTestServer(t)

	owner := connectClient(t, endpoint)
	owner.Store().SetUsername("ada")
	awaitState(t, owner, "username confirmed", func(s realtime.State) bool {
		return s.Username == "ada"
	})

	owner.Store().CreateTaskList("groceries")
	created := awaitState(t, owner, "list created", func(s realtime.State) bool {
		return s.TaskList != nil
	})
	if !created.IsOwner {
		t.Fatal("creator not recognized as owner")
	}
	listID := created.TaskList.ID

	owner.Store().CreateTask("buy milk", "", nil)
	awaitState(t, owner, "first task", func(s realtime.State) bool {
		return len(s.Tasks) == 1
	})

	guest := connectClient(t, endpoint)
	guest.Store().SetUsername("bob")
	awaitState(t, guest, "guest username", func(s realtime.State) bool {
		return s.Username == "bob"
	})

	guest.Store().GetTaskList(listID)
	joined := awaitState(t, guest, "joined snapshot", func(s realtime.State) bool {
		return s.TaskList != nil && len(s.Tasks) == 1
	})
	if joined.IsOwner {
		t.Error("guest reported as owner")
	}
	if joined.Tasks[0].Title != "buy milk" {
		t.Errorf("guest snapshot: %+v", joined.Tasks)
	}

	// A mutation by one participant reaches the other as a broadcast.
	owner.Store().CreateTask("buy eggs", "", nil)
	awaitState(t, guest, "broadcast create", func(s realtime.State) bool {
		return len(s.Tasks) == 2
	})

	milkID := joined.Tasks[0].ID
	owner.Store().DeleteTask(milkID)
	awaitState(t, guest, "broadcast delete", func(s realtime.State) bool {
		return len(s.Tasks) == 1 && s.Tasks[0].Title == "buy eggs"
	})
}

func TestLockRejectsGuestMutations(t *testing.T) {
	_, endpoint := startTestServer(t)

	owner := connectClient(t, endpoint)
	owner.Store().SetUsername("ada")
	awaitState(t, owner, "username", func(s realtime.State) bool { return s.Username == "ada" })
	owner.Store().CreateTaskList("chores")
	created := awaitState(t, owner, "list", func(s realtime.State) bool { return s.TaskList != nil })
	listID := created.TaskList.ID

	guest := connectClient(t, endpoint)
	guest.Store().SetUsername("bob")
	awaitState(t, guest, "guest username", func(s realtime.State) bool { return s.Username == "bob" })
	guest.Store().GetTaskList(listID)
	awaitState(t, guest, "joined", func(s realtime.State) bool { return s.TaskList != nil })

	owner.Store().ToggleLockTaskList(listID)
	awaitState(t, guest, "lock broadcast", func(s realtime.State) bool {
		return s.TaskList.IsLocked
	})

	guest.Store().CreateTask("sneaky", "", nil)
	rejected := awaitState(t, guest, "lock rejection", func(s realtime.State) bool {
		return s.Err != nil
	})
	if rejected.Err.Code != protocol.CodeTaskListLocked {
		t.Errorf("error code: got %q, want %q", rejected.Err.Code, protocol.CodeTaskListLocked)
	}
	if len(rejected.Tasks) != 0 {
		t.Errorf("rejected mutation produced tasks: %v", rejected.Tasks)
	}

	// The owner edits through their own lock.
	owner.Store().CreateTask("laundry", "", nil)
	awaitState(t, guest, "owner edit", func(s realtime.State) bool {
		return len(s.Tasks) == 1
	})
}

func TestCursorRelay(t *testing.T) {
	_, endpoint := startTestServer(t)

	owner := connectClient(t, endpoint)
	owner.Store().SetUsername("ada")
	awaitState(t, owner, "username", func(s realtime.State) bool { return s.Username == "ada" })
	owner.Store().CreateTaskList("notes")
	created := awaitState(t, owner, "list", func(s realtime.State) bool { return s.TaskList != nil })
	owner.Store().CreateTask("draft", "", nil)
	withTask := awaitState(t, owner, "task", func(s realtime.State) bool { return len(s.Tasks) == 1 })
	taskID := withTask.Tasks[0].ID

	guest := connectClient(t, endpoint)
	guest.Store().GetTaskList(created.TaskList.ID)
	awaitState(t, guest, "joined", func(s realtime.State) bool { return s.TaskList != nil })

	guest.Store().UpdateCursorPosition(taskID, 4)

	guestID := guest.Store().ClientID()
	seen := awaitState(t, owner, "cursor relay", func(s realtime.State) bool {
		c, ok := s.Cursors[guestID]
		return ok && c.TaskID == taskID
	})
	if seen.Cursors[guestID].Position != 4 {
		t.Errorf("relayed position: %+v", seen.Cursors[guestID])
	}
}

func TestUpgradeRequiresClientID(t *testing.T) {
	_, endpoint := startTestServer(t)

	resp, err := http.Get("http" + strings.TrimPrefix(endpoint, "ws"))
	if err != nil {
		t.Fatalf("GET /api/ws: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHealthAndListsEndpoints(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	if err := store.CreateTaskList(sampleList()); err != nil {
		t.Fatalf("CreateTaskList: %v", err)
	}

	srv := NewServer(store, "127.0.0.1", 0)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status: %d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/api/lists")
	if err != nil {
		t.Fatalf("GET /api/lists: %v", err)
	}
	defer resp2.Body.Close()

	var lists []tasklist.TaskList
	if err := json.NewDecoder(resp2.Body).Decode(&lists); err != nil {
		t.Fatalf("decode lists: %v", err)
	}
	if len(lists) != 1 || lists[0].Title != "groceries" {
		t.Errorf("lists: %+v", lists)
	}
}
