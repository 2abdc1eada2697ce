package realtime

import (
	"log/slog"
	"sync"

	"github.com/teillan/taskwire/internal/identity"
	"github.com/teillan/taskwire/internal/protocol"
	"github.com/teillan/taskwire/internal/tasklist"
)

// Sender transmits an outbound protocol message. Satisfied by
// ConnectionManager; tests substitute a recorder.
type Sender interface {
	Send(t protocol.MessageType, payload any)
}

// State is the canonical client-visible state. External code reads
// copies of it and never mutates it in place.
type State struct {
	TaskList *tasklist.TaskList
	Tasks    []tasklist.Task
	IsOwner  bool
	Username string
	Cursors  map[string]tasklist.CursorPosition
	Conn     Status
	Loading  bool
	Err      *protocol.ServerError
}

// Store derives the client-visible state from the server event stream.
//
// Every transition is a function of (state, event): intent methods never
// mutate local state directly — they construct an outbound message and
// rely on the authoritative echo, so the visible state is always a
// function of confirmed server events, never of optimistic guesses.
type Store struct {
	clientID string
	ident    *identity.Store
	sender   Sender

	mu       sync.RWMutex
	state    State
	onChange func()
}

// NewStore creates a Store for the given client identity. ident may be
// nil when no durable display-name persistence is wanted (tests).
func NewStore(clientID string, sender Sender, ident *identity.Store) *Store {
	s := &Store{
		clientID: clientID,
		ident:    ident,
		sender:   sender,
	}
	s.state.Conn = Status{State: StateDisconnected}
	s.state.Cursors = make(map[string]tasklist.CursorPosition)
	if ident != nil {
		s.state.Username = ident.Username()
	}
	return s
}

// OnChange registers a callback invoked after every applied transition.
func (s *Store) OnChange(fn func()) {
	s.onChange = fn
}

// ClientID returns the identity this store belongs to.
func (s *Store) ClientID() string {
	return s.clientID
}

// Snapshot returns a copy of the current state. The task slice and
// cursor map are copied so readers can hold them across transitions.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.state
	out.Tasks = append([]tasklist.Task(nil), s.state.Tasks...)
	out.Cursors = make(map[string]tasklist.CursorPosition, len(s.state.Cursors))
	for k, v := range s.state.Cursors {
		out.Cursors[k] = v
	}
	return out
}

// Tree derives the visible task tree from the flat collection. The
// derivation is side-effect-free and recomputed on every call.
func (s *Store) Tree() []tasklist.Node {
	s.mu.RLock()
	tasks := append([]tasklist.Task(nil), s.state.Tasks...)
	s.mu.RUnlock()
	return tasklist.Flatten(tasks)
}

// --- inbound transitions ---

// ApplySnapshot replaces the task collection and list metadata
// wholesale. Used for initial load and post-reconnect resync: whatever
// partial state existed before is discarded. Cursor entries pointing at
// tasks absent from the snapshot are evicted.
func (s *Store) ApplySnapshot(list *tasklist.TaskList, tasks []tasklist.Task, isOwner bool) {
	s.mu.Lock()
	s.state.TaskList = list
	s.state.Tasks = append([]tasklist.Task(nil), tasks...)
	s.state.IsOwner = isOwner
	s.state.Loading = false

	present := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		present[t.ID] = true
	}
	for userID, c := range s.state.Cursors {
		if !present[c.TaskID] {
			delete(s.state.Cursors, userID)
		}
	}
	s.mu.Unlock()
	s.changed()
}

// ApplyTaskCreated appends the task, or replaces it if a task with the
// same id is already present. Idempotent under duplicate delivery.
func (s *Store) ApplyTaskCreated(t tasklist.Task) {
	s.mu.Lock()
	replaced := false
	for i := range s.state.Tasks {
		if s.state.Tasks[i].ID == t.ID {
			s.state.Tasks[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		s.state.Tasks = append(s.state.Tasks, t)
	}
	s.mu.Unlock()
	s.changed()
}

// ApplyTaskUpdated replaces the task with a matching id. An unknown id
// is a no-op: a later snapshot corrects any real divergence.
func (s *Store) ApplyTaskUpdated(t tasklist.Task) {
	s.mu.Lock()
	found := false
	for i := range s.state.Tasks {
		if s.state.Tasks[i].ID == t.ID {
			s.state.Tasks[i] = t
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.changed()
	}
}

// ApplyTaskDeleted removes the task and its entire descendant subtree,
// and evicts cursors parked on any removed task. Unknown ids are a
// no-op.
func (s *Store) ApplyTaskDeleted(taskID string) {
	s.mu.Lock()
	removed := map[string]bool{taskID: true}
	for _, id := range tasklist.Descendants(s.state.Tasks, taskID) {
		removed[id] = true
	}

	kept := s.state.Tasks[:0:0]
	found := false
	for _, t := range s.state.Tasks {
		if removed[t.ID] {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		s.mu.Unlock()
		return
	}
	s.state.Tasks = kept

	for userID, c := range s.state.Cursors {
		if removed[c.TaskID] {
			delete(s.state.Cursors, userID)
		}
	}
	s.mu.Unlock()
	s.changed()
}

// ApplyCursorMoved upserts the presence entry for one user.
// Last write wins; entries are never merged.
func (s *Store) ApplyCursorMoved(c tasklist.CursorPosition) {
	s.mu.Lock()
	s.state.Cursors[c.UserID] = c
	s.mu.Unlock()
	s.changed()
}

// ApplyError records a server-reported application error. Task and list
// data are untouched and the connection stays up.
func (s *Store) ApplyError(e protocol.ServerError) {
	s.mu.Lock()
	s.state.Err = &e
	s.state.Loading = false
	s.mu.Unlock()
	s.changed()
}

// ApplyStatus records a connection status change.
func (s *Store) ApplyStatus(st Status) {
	s.mu.Lock()
	s.state.Conn = st
	s.mu.Unlock()
	s.changed()
}

// ApplyUsernameSet records a confirmed display name and, when the
// server returns the caller's own list alongside it, adopts the list
// metadata.
func (s *Store) ApplyUsernameSet(u protocol.UsernameSet) {
	if !u.Success {
		return
	}
	s.mu.Lock()
	if u.Username != "" {
		s.state.Username = u.Username
	}
	if u.TaskList != nil {
		s.state.TaskList = u.TaskList
		s.state.IsOwner = u.TaskList.OwnerID == s.clientID
	}
	s.mu.Unlock()
	s.changed()
}

// ApplyTaskListMeta replaces the active list metadata (created or
// updated, e.g. after a lock toggle).
func (s *Store) ApplyTaskListMeta(l tasklist.TaskList) {
	s.mu.Lock()
	s.state.TaskList = &l
	s.state.IsOwner = l.OwnerID == s.clientID
	s.mu.Unlock()
	s.changed()
}

// ClearError dismisses the current error.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.state.Err = nil
	s.mu.Unlock()
	s.changed()
}

// --- intents ---

// SetUsername persists the display name durably and announces it to the
// server. The in-memory username only changes on the server's echo.
func (s *Store) SetUsername(name string) {
	if s.ident != nil {
		if err := s.ident.SetUsername(name); err != nil {
			slog.Warn("persist username", "error", err)
		}
	}
	s.sender.Send(protocol.TypeSetUsername, protocol.SetUsernameRequest{Username: name})
}

// CreateTaskList asks the server to create a list owned by this client.
func (s *Store) CreateTaskList(title string) {
	s.sender.Send(protocol.TypeCreateTaskList, protocol.CreateTaskListRequest{Title: title})
}

// GetTaskList requests a full snapshot of the given list.
func (s *Store) GetTaskList(taskListID string) {
	s.mu.Lock()
	s.state.Loading = true
	s.mu.Unlock()
	s.changed()
	s.sender.Send(protocol.TypeGetTaskList, protocol.GetTaskListRequest{TaskListID: taskListID})
}

// ToggleLockTaskList flips the lock on the given list. The server
// rejects the request unless this client owns the list.
func (s *Store) ToggleLockTaskList(taskListID string) {
	s.sender.Send(protocol.TypeToggleLockTaskList, protocol.ToggleLockTaskListRequest{TaskListID: taskListID})
}

// CreateTask requests a new task in the active list. Without an active
// list the intent is dropped with a log line.
func (s *Store) CreateTask(title, description string, parentID *string) {
	s.mu.RLock()
	list := s.state.TaskList
	s.mu.RUnlock()
	if list == nil {
		slog.Warn("create task without an active task list, dropping")
		return
	}
	s.sender.Send(protocol.TypeCreateTask, protocol.CreateTaskRequest{
		TaskListID:  list.ID,
		Title:       title,
		Description: description,
		ParentID:    parentID,
	})
}

// UpdateTask requests a full-field update of one task.
func (s *Store) UpdateTask(taskID, title, description string, completed bool, parentID *string) {
	s.sender.Send(protocol.TypeUpdateTask, protocol.UpdateTaskRequest{
		TaskID:      taskID,
		Title:       title,
		Description: description,
		Completed:   completed,
		ParentID:    parentID,
	})
}

// DeleteTask requests removal of one task (the server cascades to its
// subtree).
func (s *Store) DeleteTask(taskID string) {
	s.sender.Send(protocol.TypeDeleteTask, protocol.DeleteTaskRequest{TaskID: taskID})
}

// UpdateCursorPosition announces this user's caret position in one
// task's text field. Best-effort presence: no delivery guarantee.
func (s *Store) UpdateCursorPosition(taskID string, position int) {
	s.sender.Send(protocol.TypeCursorPosition, protocol.CursorUpdate{
		TaskID:   taskID,
		Position: position,
	})
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
