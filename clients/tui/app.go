// Package tui is the interactive terminal client. It is a pure consumer
// of the sync layer: it reads store snapshots and calls intent
// functions, never touching task state directly.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/teillan/taskwire/internal/realtime"
	"github.com/teillan/taskwire/internal/tasklist"
)

type inputMode int

const (
	modeNone inputMode = iota
	modeUsername
	modeNewList
	modeJoin
	modeNewTask
	modeNewSubtask
	modeRename
)

// App is the root bubbletea model.
type App struct {
	client *realtime.Client

	input    textinput.Model
	mode     inputMode
	renameID string
	parentID string
	selected int
	width    int
	height   int
	quitting bool
}

// NewApp creates the terminal client around a connected sync client.
func NewApp(client *realtime.Client) *App {
	ti := textinput.New()
	ti.CharLimit = 256
	return &App{
		client: client,
		input:  ti,
	}
}

// Init starts listening for store changes.
func (a *App) Init() tea.Cmd {
	return a.waitForChange()
}

// waitForChange blocks on the store's coalesced change channel.
func (a *App) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-a.client.Changes()
		return stateChangedMsg{}
	}
}

// Update handles messages and updates state.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case stateChangedMsg:
		a.clampSelection()
		return a, a.waitForChange()

	case tea.KeyMsg:
		if a.mode != modeNone {
			return a.updateInput(msg)
		}
		return a.updateNormal(msg)
	}
	return a, nil
}

func (a *App) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	store := a.client.Store()
	snap := store.Snapshot()
	tree := a.client.Store().Tree()

	switch msg.String() {
	case "ctrl+c", "q":
		a.quitting = true
		return a, tea.Quit

	case "up", "k":
		if a.selected > 0 {
			a.selected--
		}
	case "down", "j":
		if a.selected < len(tree)-1 {
			a.selected++
		}

	case "u":
		return a.openInput(modeUsername, "display name", snap.Username)
	case "c":
		return a.openInput(modeNewList, "new list title", "")
	case "g":
		return a.openInput(modeJoin, "task list id", "")
	case "n":
		return a.openInput(modeNewTask, "new task title", "")

	case "s":
		if t, ok := a.selectedTask(tree); ok {
			a.parentID = t.ID
			return a.openInput(modeNewSubtask, "new subtask title", "")
		}
	case "r":
		if t, ok := a.selectedTask(tree); ok {
			a.renameID = t.ID
			return a.openInput(modeRename, "rename task", t.Title)
		}

	case " ", "enter":
		if t, ok := a.selectedTask(tree); ok {
			store.UpdateTask(t.ID, t.Title, t.Description, !t.Completed, t.ParentID)
		}
	case "d":
		if t, ok := a.selectedTask(tree); ok {
			store.DeleteTask(t.ID)
		}
	case "L":
		if snap.TaskList != nil {
			store.ToggleLockTaskList(snap.TaskList.ID)
		}
	case "esc":
		if snap.Err != nil {
			store.ClearError()
		}
	}
	return a, nil
}

func (a *App) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	store := a.client.Store()

	switch msg.String() {
	case "esc":
		a.closeInput()
		return a, nil

	case "enter":
		value := strings.TrimSpace(a.input.Value())
		mode := a.mode
		renameID := a.renameID
		parentID := a.parentID
		a.closeInput()
		if value == "" {
			return a, nil
		}
		switch mode {
		case modeUsername:
			store.SetUsername(value)
		case modeNewList:
			store.CreateTaskList(value)
		case modeJoin:
			store.GetTaskList(value)
		case modeNewTask:
			store.CreateTask(value, "", nil)
		case modeNewSubtask:
			store.CreateTask(value, "", &parentID)
		case modeRename:
			if t, ok := a.taskByID(renameID); ok {
				store.UpdateTask(t.ID, value, t.Description, t.Completed, t.ParentID)
			}
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)

	// Editing an existing task's title is live presence: announce the
	// caret as it moves.
	if a.mode == modeRename {
		store.UpdateCursorPosition(a.renameID, a.input.Position())
	}
	return a, cmd
}

func (a *App) openInput(mode inputMode, placeholder, value string) (tea.Model, tea.Cmd) {
	a.mode = mode
	a.input.Placeholder = placeholder
	a.input.SetValue(value)
	a.input.CursorEnd()
	return a, a.input.Focus()
}

func (a *App) closeInput() {
	a.mode = modeNone
	a.renameID = ""
	a.parentID = ""
	a.input.Blur()
	a.input.SetValue("")
}

func (a *App) selectedTask(tree []tasklist.Node) (tasklist.Task, bool) {
	if a.selected < 0 || a.selected >= len(tree) {
		return tasklist.Task{}, false
	}
	return tree[a.selected].Task, true
}

func (a *App) taskByID(id string) (tasklist.Task, bool) {
	for _, t := range a.client.Store().Snapshot().Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return tasklist.Task{}, false
}

func (a *App) clampSelection() {
	n := len(a.client.Store().Tree())
	if a.selected >= n {
		a.selected = n - 1
	}
	if a.selected < 0 {
		a.selected = 0
	}
}

// View renders the current snapshot.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	snap := a.client.Store().Snapshot()
	tree := a.client.Store().Tree()

	var b strings.Builder

	b.WriteString(a.headerView(snap))
	b.WriteString("\n")
	b.WriteString(a.statusView(snap))
	b.WriteString("\n\n")

	if snap.Loading {
		b.WriteString("loading…\n")
	} else if snap.TaskList == nil {
		b.WriteString(helpStyle.Render("no task list — (u)sername, then (c)reate or (g)o to a list id"))
		b.WriteString("\n")
	} else if len(tree) == 0 {
		b.WriteString(helpStyle.Render("empty list — press n to add a task"))
		b.WriteString("\n")
	} else {
		for i, node := range tree {
			b.WriteString(a.rowView(snap, node, i == a.selected))
			b.WriteString("\n")
		}
	}

	if snap.Err != nil {
		b.WriteString("\n")
		b.WriteString(statusErrStyle.Render(fmt.Sprintf("error %s: %s (esc to dismiss)", snap.Err.Code, snap.Err.Message)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if a.mode != modeNone {
		b.WriteString(a.input.View())
		b.WriteString("\n")
	} else {
		b.WriteString(helpStyle.Render("n:new s:subtask r:rename space:done d:delete L:lock u:name c:create-list g:goto q:quit"))
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) headerView(snap realtime.State) string {
	if snap.TaskList == nil {
		return titleStyle.Render("taskwire")
	}
	lock := ""
	if snap.TaskList.IsLocked {
		lock = " 🔒"
	}
	owner := ""
	if snap.IsOwner {
		owner = " (yours)"
	} else if snap.TaskList.OwnerName != "" {
		owner = " by " + snap.TaskList.OwnerName
	}
	return titleStyle.Render(snap.TaskList.Title) + lock + helpStyle.Render(owner)
}

func (a *App) statusView(snap realtime.State) string {
	switch snap.Conn.State {
	case realtime.StateConnected:
		return statusOKStyle.Render("● connected")
	case realtime.StateConnecting:
		return statusWarnStyle.Render("◌ connecting…")
	case realtime.StateReconnecting:
		return statusWarnStyle.Render(fmt.Sprintf("◌ reconnecting (attempt %d)…", snap.Conn.Attempt))
	case realtime.StateFailed:
		return statusErrStyle.Render("✗ connection failed — restart to retry")
	default:
		return statusErrStyle.Render("○ disconnected")
	}
}

func (a *App) rowView(snap realtime.State, node tasklist.Node, selected bool) string {
	check := "[ ]"
	if node.Task.Completed {
		check = "[x]"
	}

	line := strings.Repeat("  ", node.Depth) + check + " " + node.Task.Title
	if node.Task.Completed {
		line = completedStyle.Render(line)
	}
	if selected {
		line = selectedStyle.Render(line)
	}

	// Presence: mark tasks other participants are editing right now.
	var editors []string
	for userID, c := range snap.Cursors {
		if c.TaskID == node.Task.ID && userID != a.client.Store().ClientID() {
			editors = append(editors, userID[:min(8, len(userID))])
		}
	}
	if len(editors) > 0 {
		line += " " + presenceStyle.Render("✎ "+strings.Join(editors, ","))
	}
	return line
}
