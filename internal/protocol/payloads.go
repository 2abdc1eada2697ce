package protocol

import "github.com/teillan/taskwire/internal/tasklist"

// Client → server payloads.

type SetUsernameRequest struct {
	Username string `json:"username"`
}

type CreateTaskListRequest struct {
	Title string `json:"title"`
}

type GetTaskListRequest struct {
	TaskListID string `json:"taskListId"`
}

type ToggleLockTaskListRequest struct {
	TaskListID string `json:"taskListId"`
}

type CreateTaskRequest struct {
	TaskListID  string  `json:"taskListId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ParentID    *string `json:"parentId,omitempty"`
}

type UpdateTaskRequest struct {
	TaskID      string  `json:"taskId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Completed   bool    `json:"completed"`
	ParentID    *string `json:"parentId,omitempty"`
}

type DeleteTaskRequest struct {
	TaskID string `json:"taskId"`
}

// CursorUpdate travels both ways. Clients send {taskId, position}; the
// server relays it to everyone else with UserID filled in.
type CursorUpdate struct {
	UserID   string `json:"userId,omitempty"`
	TaskID   string `json:"taskId"`
	Position int    `json:"position"`
}

// Server → client payloads.

// TaskListData is the authoritative snapshot sent on initial load and
// on every resync after a reconnect.
type TaskListData struct {
	TaskList *tasklist.TaskList `json:"taskList"`
	Tasks    []tasklist.Task    `json:"tasks"`
	IsOwner  bool               `json:"isOwner"`
}

type TaskDeleted struct {
	TaskID     string `json:"taskId"`
	TaskListID string `json:"taskListId"`
}

type UsernameSet struct {
	Success  bool               `json:"success"`
	Username string             `json:"username"`
	TaskList *tasklist.TaskList `json:"taskList,omitempty"`
}

// ServerError is a server-reported application error. It is transient
// client state: it never closes the connection.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes the server emits.
const (
	CodeUsernameRequired = "USERNAME_REQUIRED"
	CodeTaskListExists   = "TASK_LIST_EXISTS"
	CodeTaskListNotFound = "TASK_LIST_NOT_FOUND"
	CodeTaskNotFound     = "TASK_NOT_FOUND"
	CodeNotAuthorized    = "NOT_AUTHORIZED"
	CodeTaskListLocked   = "TASK_LIST_LOCKED"
)
