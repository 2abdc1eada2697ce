package tui

// stateChangedMsg signals that the store applied a transition and the
// view should re-read its snapshot.
type stateChangedMsg struct{}
