package tasklist

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func mkTask(id string, parent string, created time.Time) Task {
	t := Task{ID: id, TaskListID: "list-1", Title: "task " + id, CreatedAt: created, UpdatedAt: created}
	if parent != "" {
		t.ParentID = &parent
	}
	return t
}

func TestFlattenEmptyAndNil(t *testing.T) {
	if got := Flatten(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := Flatten([]Task{}); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestFlattenPreorderWithDepths(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tasks := []Task{
		mkTask("b", "", base.Add(2*time.Minute)),
		mkTask("a", "", base),
		mkTask("a1", "a", base.Add(time.Minute)),
		mkTask("a1x", "a1", base.Add(3*time.Minute)),
		mkTask("b1", "b", base.Add(4*time.Minute)),
	}

	nodes := Flatten(tasks)

	wantOrder := []string{"a", "a1", "a1x", "b", "b1"}
	wantDepth := []int{0, 1, 2, 0, 1}
	if len(nodes) != len(wantOrder) {
		t.Fatalf("expected %d nodes, got %d", len(wantOrder), len(nodes))
	}
	for i, n := range nodes {
		if n.Task.ID != wantOrder[i] {
			t.Errorf("position %d: got %q, want %q", i, n.Task.ID, wantOrder[i])
		}
		if n.Depth != wantDepth[i] {
			t.Errorf("depth of %s: got %d, want %d", n.Task.ID, n.Depth, wantDepth[i])
		}
	}
}

func TestFlattenOrphanBecomesRoot(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tasks := []Task{
		mkTask("child", "gone", base),
	}

	nodes := Flatten(tasks)
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	if nodes[0].Depth != 0 {
		t.Errorf("orphan depth: got %d, want 0", nodes[0].Depth)
	}
}

func TestFlattenCycleDoesNotLoop(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// x and y reference each other; z is a normal root.
	tasks := []Task{
		mkTask("x", "y", base),
		mkTask("y", "x", base.Add(time.Minute)),
		mkTask("z", "", base.Add(2*time.Minute)),
	}

	nodes := Flatten(tasks)
	if len(nodes) != 1 {
		t.Fatalf("expected only the acyclic root, got %d nodes", len(nodes))
	}
	if nodes[0].Task.ID != "z" {
		t.Errorf("got %q, want %q", nodes[0].Task.ID, "z")
	}
}

func TestFlattenIsStable(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Identical timestamps: order must fall back to id.
	tasks := []Task{
		mkTask("c", "", base),
		mkTask("a", "", base),
		mkTask("b", "", base),
	}

	first := Flatten(tasks)
	second := Flatten(tasks)
	for i := range first {
		if first[i].Task.ID != second[i].Task.ID {
			t.Fatalf("derivation not stable at %d: %q vs %q", i, first[i].Task.ID, second[i].Task.ID)
		}
	}
	if first[0].Task.ID != "a" || first[1].Task.ID != "b" || first[2].Task.ID != "c" {
		t.Errorf("tie-break by id broken: %v", first)
	}
}

func TestDescendants(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tasks := []Task{
		mkTask("a", "", base),
		mkTask("a1", "a", base),
		mkTask("a2", "a", base),
		mkTask("a1x", "a1", base),
		mkTask("b", "", base),
	}

	got := Descendants(tasks, "a")
	want := map[string]bool{"a1": true, "a2": true, "a1x": true}
	if len(got) != len(want) {
		t.Fatalf("expected %d descendants, got %v", len(want), got)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("unexpected descendant %q", id)
		}
	}

	if ds := Descendants(tasks, "b"); len(ds) != 0 {
		t.Errorf("leaf should have no descendants, got %v", ds)
	}
}

// Property: regardless of parent links (including self-references and
// cycles), Flatten terminates, emits each task at most once, and every
// emitted child appears after its parent.
func TestFlattenProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(rt, "n")
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		tasks := make([]Task, n)
		for i := range tasks {
			id := fmt.Sprintf("t%d", i)
			parentIdx := rapid.IntRange(-1, n-1).Draw(rt, fmt.Sprintf("parent%d", i))
			created := base.Add(time.Duration(rapid.IntRange(0, 5).Draw(rt, fmt.Sprintf("ts%d", i))) * time.Minute)
			parent := ""
			if parentIdx >= 0 {
				parent = fmt.Sprintf("t%d", parentIdx)
			}
			tasks[i] = mkTask(id, parent, created)
		}

		nodes := Flatten(tasks)

		seen := make(map[string]int)
		for i, node := range nodes {
			if _, dup := seen[node.Task.ID]; dup {
				rt.Fatalf("task %s emitted twice", node.Task.ID)
			}
			seen[node.Task.ID] = i
		}
		if len(nodes) > len(tasks) {
			rt.Fatalf("emitted %d nodes for %d tasks", len(nodes), len(tasks))
		}
		for _, node := range nodes {
			if node.Task.ParentID == nil {
				continue
			}
			if pi, ok := seen[*node.Task.ParentID]; ok {
				if pi >= seen[node.Task.ID] {
					rt.Fatalf("child %s before parent %s", node.Task.ID, *node.Task.ParentID)
				}
			}
		}
	})
}
