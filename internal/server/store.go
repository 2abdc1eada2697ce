// Package server implements the coordinating server: a WebSocket hub
// that applies client requests to the shared task lists and broadcasts
// the resulting events to every connected session.
package server

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teillan/taskwire/internal/tasklist"
)

// ErrNotFound is returned when a task or task list does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS task_lists (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	owner_name TEXT NOT NULL,
	title      TEXT NOT NULL,
	is_locked  INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	task_list_id TEXT NOT NULL,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	completed    INTEGER NOT NULL DEFAULT 0,
	parent_id    TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(task_list_id);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
`

// Store persists task lists and tasks in sqlite so shared lists survive
// a server restart. The wire behavior is identical to an in-memory map.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed initializes) the database at path.
// Use ":memory:" for an ephemeral store.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows one writer; serialize access through a single conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTaskList inserts a new list.
func (s *Store) CreateTaskList(l *tasklist.TaskList) error {
	_, err := s.db.Exec(
		`INSERT INTO task_lists (id, owner_id, owner_name, title, is_locked, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.OwnerID, l.OwnerName, l.Title, boolInt(l.IsLocked), encodeTime(l.CreatedAt), encodeTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task list: %w", err)
	}
	return nil
}

// TaskList fetches one list by id.
func (s *Store) TaskList(id string) (*tasklist.TaskList, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, owner_name, title, is_locked, created_at, updated_at
		 FROM task_lists WHERE id = ?`, id)
	return scanTaskList(row)
}

// TaskListByOwner fetches the list owned by ownerID, or ErrNotFound.
func (s *Store) TaskListByOwner(ownerID string) (*tasklist.TaskList, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, owner_name, title, is_locked, created_at, updated_at
		 FROM task_lists WHERE owner_id = ?`, ownerID)
	return scanTaskList(row)
}

// UpdateTaskList rewrites the mutable list fields.
func (s *Store) UpdateTaskList(l *tasklist.TaskList) error {
	res, err := s.db.Exec(
		`UPDATE task_lists SET owner_name = ?, title = ?, is_locked = ?, updated_at = ? WHERE id = ?`,
		l.OwnerName, l.Title, boolInt(l.IsLocked), encodeTime(l.UpdatedAt), l.ID,
	)
	if err != nil {
		return fmt.Errorf("update task list: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTaskLists returns every list, newest first.
func (s *Store) ListTaskLists() ([]tasklist.TaskList, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, owner_name, title, is_locked, created_at, updated_at
		 FROM task_lists ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list task lists: %w", err)
	}
	defer rows.Close()

	var out []tasklist.TaskList
	for rows.Next() {
		l, err := scanTaskList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// CreateTask inserts a new task.
func (s *Store) CreateTask(t *tasklist.Task) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, task_list_id, title, description, completed, parent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TaskListID, t.Title, t.Description, boolInt(t.Completed), t.ParentID, encodeTime(t.CreatedAt), encodeTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Task fetches one task by id.
func (s *Store) Task(id string) (*tasklist.Task, error) {
	row := s.db.QueryRow(
		`SELECT id, task_list_id, title, description, completed, parent_id, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// UpdateTask rewrites the mutable task fields.
func (s *Store) UpdateTask(t *tasklist.Task) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET title = ?, description = ?, completed = ?, parent_id = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Description, boolInt(t.Completed), t.ParentID, encodeTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTaskTree removes the task and its entire descendant subtree,
// returning the ids that were deleted (the requested id first).
func (s *Store) DeleteTaskTree(id string) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`WITH RECURSIVE subtree(id) AS (
			SELECT id FROM tasks WHERE id = ?
			UNION ALL
			SELECT t.id FROM tasks t JOIN subtree s ON t.parent_id = s.id
		)
		SELECT id FROM subtree`, id)
	if err != nil {
		return nil, fmt.Errorf("collect subtree: %w", err)
	}

	var ids []string
	for rows.Next() {
		var tid string
		if err := rows.Scan(&tid); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, tid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}

	for _, tid := range ids {
		if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, tid); err != nil {
			return nil, fmt.Errorf("delete task: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// TasksForList returns every task in the list, oldest first.
func (s *Store) TasksForList(taskListID string) ([]tasklist.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, task_list_id, title, description, completed, parent_id, created_at, updated_at
		 FROM tasks WHERE task_list_id = ? ORDER BY created_at, id`, taskListID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]tasklist.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTaskList(row scanner) (*tasklist.TaskList, error) {
	var l tasklist.TaskList
	var locked int
	var created, updated string
	err := row.Scan(&l.ID, &l.OwnerID, &l.OwnerName, &l.Title, &locked, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task list: %w", err)
	}
	l.IsLocked = locked != 0
	l.CreatedAt = decodeTime(created)
	l.UpdatedAt = decodeTime(updated)
	return &l, nil
}

func scanTask(row scanner) (*tasklist.Task, error) {
	var t tasklist.Task
	var completed int
	var parent sql.NullString
	var created, updated string
	err := row.Scan(&t.ID, &t.TaskListID, &t.Title, &t.Description, &completed, &parent, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Completed = completed != 0
	if parent.Valid {
		t.ParentID = &parent.String
	}
	t.CreatedAt = decodeTime(created)
	t.UpdatedAt = decodeTime(updated)
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
