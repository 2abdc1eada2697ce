// Package tasklist defines the shared task-list data model and the
// derivation of a display tree from the flat task collection.
package tasklist

import "time"

// Task is a single entry in a task list. Tasks form a forest: ParentID,
// when set, references another task in the same list.
type Task struct {
	ID          string    `json:"id"`
	TaskListID  string    `json:"taskListId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ParentID    *string   `json:"parentId,omitempty"`
}

// TaskList is the shared list every participant edits. Exactly one
// client identity owns it; IsLocked gates mutation by non-owners.
type TaskList struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	OwnerName string    `json:"ownerName"`
	Title     string    `json:"title"`
	IsLocked  bool      `json:"isLocked"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CursorPosition is the last known caret offset of one user inside one
// task's text field. At most one entry exists per user; later updates
// overwrite earlier ones unconditionally.
type CursorPosition struct {
	UserID   string `json:"userId"`
	TaskID   string `json:"taskId"`
	Position int    `json:"position"`
}
