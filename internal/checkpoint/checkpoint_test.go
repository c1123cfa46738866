package checkpoint

import (
	"encoding/json"
	"testing"

	"github.com/ara-systems/ara/internal/sandbox"
)

func newTestManager(t *testing.T) (*Manager, *sandbox.Sandbox) {
	t.Helper()
	sb, err := sandbox.Create(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox.Create: %v", err)
	}
	mgr, err := NewManager(t.TempDir(), sb, 2)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, sb
}

func TestSaveAndRestore(t *testing.T) {
	mgr, sb := newTestManager(t)

	if err := sb.Write("hello.txt", []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	state1, _ := json.Marshal(map[string]string{"current_task_id": "t1"})
	cp1, err := mgr.Save("sess-1", state1, false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := sb.Write("hello.txt", []byte("v2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	state2, _ := json.Marshal(map[string]string{"current_task_id": "t2"})
	if _, err := mgr.Save("sess-1", state2, false); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored, err := mgr.Restore(cp1.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	var state map[string]string
	if err := json.Unmarshal(restored, &state); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if state["current_task_id"] != "t1" {
		t.Errorf("expected restored state t1, got %v", state)
	}

	data, err := sb.Read("hello.txt")
	if err != nil {
		t.Fatalf("Read after restore: %v", err)
	}
	if string(data) != "v1" {
		t.Errorf("expected sandbox content v1 after restore, got %q", data)
	}
}

func TestListOrdering(t *testing.T) {
	mgr, _ := newTestManager(t)
	for i := 0; i < 3; i++ {
		state, _ := json.Marshal(map[string]int{"n": i})
		if _, err := mgr.Save("sess-2", state, false); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	list := mgr.List("sess-2")
	if len(list) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].Timestamp.Before(list[i-1].Timestamp) {
			t.Errorf("checkpoints not in ascending timestamp order")
		}
	}
}

func TestPruneRetainsMilestones(t *testing.T) {
	mgr, _ := newTestManager(t)
	milestoneState, _ := json.Marshal(map[string]int{"n": 0})
	milestone, err := mgr.Save("sess-3", milestoneState, true)
	if err != nil {
		t.Fatalf("Save milestone: %v", err)
	}
	for i := 1; i <= 5; i++ {
		state, _ := json.Marshal(map[string]int{"n": i})
		if _, err := mgr.Save("sess-3", state, false); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	list := mgr.List("sess-3")
	found := false
	for _, cp := range list {
		if cp.ID == milestone.ID {
			found = true
		}
	}
	if !found {
		t.Error("milestone checkpoint was pruned, but milestones must be retained")
	}
	if len(list) > mgr.keepLast+1 {
		t.Errorf("expected at most keepLast+1 checkpoints, got %d", len(list))
	}
}
