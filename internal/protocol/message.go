// Package protocol defines the typed message set exchanged between a
// taskwire client and the coordinating server. Every frame on the wire
// is one JSON object {type, data}.
package protocol

import "encoding/json"

// MessageType identifies a protocol message. The set is closed:
// unrecognized values are ignored by receivers, not treated as errors,
// so the protocol stays forward-compatible.
type MessageType string

// Client → server.
const (
	TypeSetUsername        MessageType = "set_username"
	TypeCreateTaskList     MessageType = "create_task_list"
	TypeGetTaskList        MessageType = "get_task_list"
	TypeToggleLockTaskList MessageType = "toggle_lock_task_list"
	TypeCreateTask         MessageType = "create_task"
	TypeUpdateTask         MessageType = "update_task"
	TypeDeleteTask         MessageType = "delete_task"
	TypeCursorPosition     MessageType = "cursor_position"
)

// Server → client. TypeCursorPosition is shared: the server relays it
// with the sender's user id filled in.
const (
	TypeTaskListData    MessageType = "task_list_data"
	TypeTaskCreated     MessageType = "task_created"
	TypeTaskUpdated     MessageType = "task_updated"
	TypeTaskDeleted     MessageType = "task_deleted"
	TypeUsernameSet     MessageType = "username_set"
	TypeTaskListCreated MessageType = "task_list_created"
	TypeTaskListUpdated MessageType = "task_list_updated"
	TypeError           MessageType = "error"
)

var knownTypes = map[MessageType]bool{
	TypeSetUsername:        true,
	TypeCreateTaskList:     true,
	TypeGetTaskList:        true,
	TypeToggleLockTaskList: true,
	TypeCreateTask:         true,
	TypeUpdateTask:         true,
	TypeDeleteTask:         true,
	TypeCursorPosition:     true,
	TypeTaskListData:       true,
	TypeTaskCreated:        true,
	TypeTaskUpdated:        true,
	TypeTaskDeleted:        true,
	TypeUsernameSet:        true,
	TypeTaskListCreated:    true,
	TypeTaskListUpdated:    true,
	TypeError:              true,
}

// Known reports whether t is part of the protocol catalog.
func (t MessageType) Known() bool {
	return knownTypes[t]
}

// Message is the wire envelope: one per text frame.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Marshal builds an envelope around payload and serializes it.
func Marshal(t MessageType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: t, Data: data})
}

// Unmarshal parses a raw frame into an envelope. The payload stays raw;
// the receiver decodes it against the type it expects.
func Unmarshal(raw []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(raw, &m)
	return m, err
}
