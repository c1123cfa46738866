package session

import (
	"testing"
	"time"

	"github.com/ara-systems/ara/internal/task"
)

func testDAG(t *testing.T) *task.DAG {
	t.Helper()
	dag, err := task.NewDAG([]*task.Task{
		{ID: "t1", Title: "read", ActionType: task.ActionReadFile, Status: task.StatusPending},
	})
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}
	return dag
}

func TestStateMachineHappyPath(t *testing.T) {
	s := New("sess-1", "coder", "build the thing", testDAG(t), "sandbox-1", 8, 5)
	if s.Status != StatusCreated {
		t.Fatalf("expected created, got %s", s.Status)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.SetCurrentTask("t1"); err != nil {
		t.Fatalf("SetCurrentTask: %v", err)
	}
	if err := s.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s.CurrentTaskID != "" {
		t.Error("current task must be cleared once a session reaches a terminal state")
	}
	if !s.IsTerminal() {
		t.Error("completed session should be terminal")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	s := New("sess-2", "coder", "goal", testDAG(t), "sandbox-1", 8, 5)
	if err := s.Pause("no reason"); err == nil {
		t.Fatal("expected error pausing a session that never started")
	}
	if err := s.Complete(); err == nil {
		t.Fatal("expected error completing a session that never started")
	}
}

func TestPauseResumeCancel(t *testing.T) {
	s := New("sess-3", "coder", "goal", testDAG(t), "sandbox-1", 8, 5)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Pause("confidence collapse"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := s.Pause("operator"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !s.IsTerminal() {
		t.Error("cancelled session should be terminal")
	}
}

func TestStaleHeartbeat(t *testing.T) {
	s := New("sess-4", "coder", "goal", testDAG(t), "sandbox-1", 8, 5)
	s.LastHeartbeat = time.Now().Add(-5 * time.Minute)
	if !s.Stale(DefaultStaleSeconds) {
		t.Error("expected session with 5-minute-old heartbeat to be stale at 120s threshold")
	}
	s.Heartbeat()
	if s.Stale(DefaultStaleSeconds) {
		t.Error("fresh heartbeat should not be stale")
	}
}

func TestConsecutiveCountersResetOnSuccess(t *testing.T) {
	s := New("sess-5", "coder", "goal", testDAG(t), "sandbox-1", 8, 5)
	s.RecordTaskOutcome(true, true)
	s.RecordTaskOutcome(true, true)
	if s.ConsecutiveErrors != 2 || s.ConsecutiveLowConfidence != 2 {
		t.Fatalf("expected counters at 2, got errors=%d lowconf=%d", s.ConsecutiveErrors, s.ConsecutiveLowConfidence)
	}
	s.RecordTaskOutcome(false, false)
	if s.ConsecutiveErrors != 0 || s.ConsecutiveLowConfidence != 0 {
		t.Fatalf("expected counters reset to 0, got errors=%d lowconf=%d", s.ConsecutiveErrors, s.ConsecutiveLowConfidence)
	}
}

func TestSerializeRestoreRoundtrip(t *testing.T) {
	s := New("sess-6", "coder", "goal", testDAG(t), "sandbox-1", 8, 5)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.AddCost(100, 50, "anthropic", "claude")
	s.AppendDecision("note", "something happened")

	data, err := s.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	restored, err := Restore(data, testDAG(t))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Status != StatusPaused {
		t.Errorf("restored session should resume as paused, got %s", restored.Status)
	}
	if restored.Cost.PromptTokens != 100 {
		t.Errorf("expected cost to survive roundtrip, got %+v", restored.Cost)
	}
	if len(restored.DecisionLog) != len(s.DecisionLog) {
		t.Errorf("expected decision log to survive roundtrip")
	}
}
