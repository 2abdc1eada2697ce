package tasklist

import "sort"

// Node is one row of the derived display tree: a task plus its depth in
// the hierarchy.
type Node struct {
	Task  Task
	Depth int
}

// Flatten derives the display order from the flat task collection.
//
// Children are grouped by parent id in a single pass; a task is a root
// when it has no parent or its parent id does not resolve within the
// collection. Traversal is preorder with an explicit stack, so deeply
// nested (or incorrectly cyclic) data cannot overflow the call stack.
// Tasks reachable only through a cycle are never emitted; tasks whose
// parent was deleted out from under them surface as roots.
//
// The derivation is pure: it never mutates its input and two calls on
// the same input yield the same output.
func Flatten(tasks []Task) []Node {
	if len(tasks) == 0 {
		return nil
	}

	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	children := make(map[string][]Task)
	var roots []Task
	for _, t := range tasks {
		if t.ParentID == nil {
			roots = append(roots, t)
			continue
		}
		if _, ok := byID[*t.ParentID]; !ok {
			roots = append(roots, t)
			continue
		}
		children[*t.ParentID] = append(children[*t.ParentID], t)
	}

	sortTasks(roots)
	for _, cs := range children {
		sortTasks(cs)
	}

	type frame struct {
		task  Task
		depth int
	}

	// Push in reverse so the stack pops siblings in sorted order.
	stack := make([]frame, 0, len(tasks))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{roots[i], 0})
	}

	out := make([]Node, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[f.task.ID] {
			continue
		}
		seen[f.task.ID] = true
		out = append(out, Node{Task: f.task, Depth: f.depth})

		cs := children[f.task.ID]
		for i := len(cs) - 1; i >= 0; i-- {
			stack = append(stack, frame{cs[i], f.depth + 1})
		}
	}
	return out
}

// Descendants returns the ids of every task reachable from id through
// parent links, not including id itself. Used to evict presence entries
// when a subtree is removed.
func Descendants(tasks []Task, id string) []string {
	children := make(map[string][]string)
	for _, t := range tasks {
		if t.ParentID != nil {
			children[*t.ParentID] = append(children[*t.ParentID], t.ID)
		}
	}

	var out []string
	seen := map[string]bool{id: true}
	queue := append([]string(nil), children[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, children[cur]...)
	}
	return out
}

// sortTasks orders siblings by creation time, oldest first, with id as
// the tiebreak so the derivation is stable under equal timestamps.
func sortTasks(ts []Task) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}
