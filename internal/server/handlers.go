package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teillan/taskwire/internal/protocol"
	"github.com/teillan/taskwire/internal/tasklist"
)

// handle dispatches one client request. Unknown types are logged and
// ignored so newer clients keep working against an older server.
func (h *Hub) handle(clientID string, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeSetUsername:
		var req protocol.SetUsernameRequest
		if !decode(clientID, msg, &req) {
			return
		}
		h.handleSetUsername(clientID, req)

	case protocol.TypeCreateTaskList:
		var req protocol.CreateTaskListRequest
		if !decode(clientID, msg, &req) {
			return
		}
		h.handleCreateTaskList(clientID, req)

	case protocol.TypeGetTaskList:
		var req protocol.GetTaskListRequest
		if !decode(clientID, msg, &req) {
			return
		}
		h.handleGetTaskList(clientID, req)

	case protocol.TypeToggleLockTaskList:
		var req protocol.ToggleLockTaskListRequest
		if !decode(clientID, msg, &req) {
			return
		}
		h.handleToggleLock(clientID, req)

	case protocol.TypeCreateTask:
		var req protocol.CreateTaskRequest
		if !decode(clientID, msg, &req) {
			return
		}
		h.handleCreateTask(clientID, req)

	case protocol.TypeUpdateTask:
		var req protocol.UpdateTaskRequest
		if !decode(clientID, msg, &req) {
			return
		}
		h.handleUpdateTask(clientID, req)

	case protocol.TypeDeleteTask:
		var req protocol.DeleteTaskRequest
		if !decode(clientID, msg, &req) {
			return
		}
		h.handleDeleteTask(clientID, req)

	case protocol.TypeCursorPosition:
		var req protocol.CursorUpdate
		if !decode(clientID, msg, &req) {
			return
		}
		h.handleCursorPosition(clientID, req)

	default:
		slog.Warn("ignoring unexpected message type", "clientId", clientID, "type", msg.Type)
	}
}

func decode(clientID string, msg protocol.Message, dst any) bool {
	if err := json.Unmarshal(msg.Data, dst); err != nil {
		slog.Error("bad request payload", "clientId", clientID, "type", msg.Type, "error", err)
		return false
	}
	return true
}

func (h *Hub) handleSetUsername(clientID string, req protocol.SetUsernameRequest) {
	h.mu.Lock()
	h.usernames[clientID] = req.Username
	h.mu.Unlock()

	list, err := h.store.TaskListByOwner(clientID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Error("lookup task list by owner", "error", err)
		return
	}

	h.sendTo(clientID, protocol.TypeUsernameSet, protocol.UsernameSet{
		Success:  true,
		Username: req.Username,
		TaskList: list,
	})

	// An owner rejoining gets their list replayed immediately.
	if list != nil {
		h.sendSnapshot(clientID, list)
	}
}

func (h *Hub) handleCreateTaskList(clientID string, req protocol.CreateTaskListRequest) {
	h.mu.RLock()
	name := h.usernames[clientID]
	h.mu.RUnlock()
	if name == "" {
		h.sendError(clientID, protocol.CodeUsernameRequired, "You must set a username before creating a task list")
		return
	}

	if _, err := h.store.TaskListByOwner(clientID); err == nil {
		h.sendError(clientID, protocol.CodeTaskListExists, "You already have a task list")
		return
	} else if !errors.Is(err, ErrNotFound) {
		slog.Error("lookup task list by owner", "error", err)
		return
	}

	now := time.Now()
	list := &tasklist.TaskList{
		ID:        uuid.New().String(),
		OwnerID:   clientID,
		OwnerName: name,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateTaskList(list); err != nil {
		slog.Error("create task list", "error", err)
		return
	}

	h.sendTo(clientID, protocol.TypeTaskListCreated, list)
}

func (h *Hub) handleGetTaskList(clientID string, req protocol.GetTaskListRequest) {
	list, err := h.store.TaskList(req.TaskListID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.sendError(clientID, protocol.CodeTaskListNotFound, "Task list not found")
			return
		}
		slog.Error("get task list", "error", err)
		return
	}
	h.sendSnapshot(clientID, list)
}

// sendSnapshot sends the authoritative full state of one list to one
// client.
func (h *Hub) sendSnapshot(clientID string, list *tasklist.TaskList) {
	tasks, err := h.store.TasksForList(list.ID)
	if err != nil {
		slog.Error("load tasks", "taskListId", list.ID, "error", err)
		return
	}
	h.sendTo(clientID, protocol.TypeTaskListData, protocol.TaskListData{
		TaskList: list,
		Tasks:    tasks,
		IsOwner:  list.OwnerID == clientID,
	})
}

func (h *Hub) handleToggleLock(clientID string, req protocol.ToggleLockTaskListRequest) {
	list, err := h.store.TaskList(req.TaskListID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.sendError(clientID, protocol.CodeTaskListNotFound, "Task list not found")
			return
		}
		slog.Error("get task list", "error", err)
		return
	}
	if list.OwnerID != clientID {
		h.sendError(clientID, protocol.CodeNotAuthorized, "Only the owner can lock or unlock the task list")
		return
	}

	list.IsLocked = !list.IsLocked
	list.UpdatedAt = time.Now()
	if err := h.store.UpdateTaskList(list); err != nil {
		slog.Error("update task list", "error", err)
		return
	}
	h.broadcast(protocol.TypeTaskListUpdated, list)
}

// lockedFor reports whether list rejects mutations from clientID.
func lockedFor(list *tasklist.TaskList, clientID string) bool {
	return list.IsLocked && list.OwnerID != clientID
}

func (h *Hub) handleCreateTask(clientID string, req protocol.CreateTaskRequest) {
	list, err := h.store.TaskList(req.TaskListID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.sendError(clientID, protocol.CodeTaskListNotFound, "Task list not found")
			return
		}
		slog.Error("get task list", "error", err)
		return
	}
	if lockedFor(list, clientID) {
		h.sendError(clientID, protocol.CodeTaskListLocked, "This task list is locked by the owner")
		return
	}

	now := time.Now()
	task := &tasklist.Task{
		ID:          uuid.New().String(),
		TaskListID:  req.TaskListID,
		Title:       req.Title,
		Description: req.Description,
		ParentID:    req.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateTask(task); err != nil {
		slog.Error("create task", "error", err)
		return
	}
	h.broadcast(protocol.TypeTaskCreated, task)
}

func (h *Hub) handleUpdateTask(clientID string, req protocol.UpdateTaskRequest) {
	task, err := h.store.Task(req.TaskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.sendError(clientID, protocol.CodeTaskNotFound, "Task not found")
			return
		}
		slog.Error("get task", "error", err)
		return
	}

	list, err := h.store.TaskList(task.TaskListID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.sendError(clientID, protocol.CodeTaskListNotFound, "Task list not found")
			return
		}
		slog.Error("get task list", "error", err)
		return
	}
	if lockedFor(list, clientID) {
		h.sendError(clientID, protocol.CodeTaskListLocked, "This task list is locked by the owner")
		return
	}

	task.Title = req.Title
	task.Description = req.Description
	task.Completed = req.Completed
	task.ParentID = req.ParentID
	task.UpdatedAt = time.Now()
	if err := h.store.UpdateTask(task); err != nil {
		slog.Error("update task", "error", err)
		return
	}
	h.broadcast(protocol.TypeTaskUpdated, task)
}

func (h *Hub) handleDeleteTask(clientID string, req protocol.DeleteTaskRequest) {
	task, err := h.store.Task(req.TaskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.sendError(clientID, protocol.CodeTaskNotFound, "Task not found")
			return
		}
		slog.Error("get task", "error", err)
		return
	}

	list, err := h.store.TaskList(task.TaskListID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.sendError(clientID, protocol.CodeTaskListNotFound, "Task list not found")
			return
		}
		slog.Error("get task list", "error", err)
		return
	}
	if lockedFor(list, clientID) {
		h.sendError(clientID, protocol.CodeTaskListLocked, "This task list is locked by the owner")
		return
	}

	if _, err := h.store.DeleteTaskTree(req.TaskID); err != nil {
		slog.Error("delete task", "error", err)
		return
	}
	// One event for the subtree root; clients cascade the removal.
	h.broadcast(protocol.TypeTaskDeleted, protocol.TaskDeleted{
		TaskID:     req.TaskID,
		TaskListID: task.TaskListID,
	})
}

// handleCursorPosition relays a presence update to every client with
// the sender's identity filled in. Best effort: no persistence, no
// delivery guarantee.
func (h *Hub) handleCursorPosition(clientID string, req protocol.CursorUpdate) {
	req.UserID = clientID
	h.broadcast(protocol.TypeCursorPosition, req)
}
