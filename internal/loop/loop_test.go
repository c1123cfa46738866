package loop

import (
	"context"
	"testing"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/ara-systems/ara/internal/audit"
	"github.com/ara-systems/ara/internal/checkpoint"
	"github.com/ara-systems/ara/internal/executor"
	"github.com/ara-systems/ara/internal/roleprofile"
	"github.com/ara-systems/ara/internal/sandbox"
	"github.com/ara-systems/ara/internal/session"
	"github.com/ara-systems/ara/internal/task"
)

type fakeProvider struct {
	response string
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: f.response}, nil
}

func testRole(t *testing.T) *roleprofile.RoleProfile {
	t.Helper()
	rp, err := roleprofile.Load([]byte(`
name: coder
description: writes code
competencies: [go]
authority_autonomous: [write_file, read_file, edit_file, analyze]
max_session_hours: 8
`))
	if err != nil {
		t.Fatalf("roleprofile.Load: %v", err)
	}
	return rp
}

func newHarness(t *testing.T, dag *task.DAG, response string) (*Loop, *session.Session, *sandbox.Sandbox) {
	t.Helper()
	sb, err := sandbox.Create(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox.Create: %v", err)
	}
	role := testRole(t)
	provider := &fakeProvider{response: response}
	exec := executor.New(provider, sb, role, nil, nil)
	sess := session.New("sess-1", "coder", "build the thing", dag, sb.ID(), role.MaxSessionHours, 0)
	cp, err := checkpoint.NewManager(t.TempDir(), sb, 5)
	if err != nil {
		t.Fatalf("checkpoint.NewManager: %v", err)
	}
	auditLog, err := audit.Open(t.TempDir()+"/audit.log", []byte("test-key-0123456789"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	l := New(sess, exec, cp, nil, auditLog, nil, role, Config{})
	return l, sess, sb
}

func TestRunCompletesGoalWithSingleTask(t *testing.T) {
	dag, err := task.NewDAG([]*task.Task{
		{ID: "t1", Title: "write file", Description: "create out.txt", ActionType: task.ActionWriteFile, TargetPath: "out.txt", Status: task.StatusPending},
	})
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}
	l, sess, _ := newHarness(t, dag, "hello world\nCONFIDENCE: 0.95")

	reason, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != StopGoalComplete {
		t.Fatalf("expected goal_complete, got %s", reason)
	}
	if sess.Status != session.StatusCompleted {
		t.Fatalf("expected session completed, got %s", sess.Status)
	}
}

func TestRunCompletesChainOfAnalysisTasks(t *testing.T) {
	tasks := make([]*task.Task, 0, 6)
	for i := 0; i < 6; i++ {
		tasks = append(tasks, &task.Task{
			ID: "t" + string(rune('0'+i)), Title: "analyze", Description: "analyze something",
			ActionType: task.ActionAnalyze, Status: task.StatusPending,
		})
	}
	for i := 1; i < len(tasks); i++ {
		tasks[i].DependsOn = []string{tasks[i-1].ID}
	}
	dag, err := task.NewDAG(tasks)
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}
	l, sess, _ := newHarness(t, dag, "some analysis\nCONFIDENCE: 0.6")
	l.cfg.ErrorThreshold = 3

	reason, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != StopGoalComplete {
		t.Fatalf("expected goal_complete for a well-formed chain, got %s", reason)
	}
	if sess.ConsecutiveErrors != 0 {
		t.Fatalf("expected no errors on a clean run, got %d", sess.ConsecutiveErrors)
	}
}

func TestRunStopsOnConfidenceCollapse(t *testing.T) {
	tasks := make([]*task.Task, 0, 4)
	for i := 0; i < 4; i++ {
		tasks = append(tasks, &task.Task{
			ID: "t" + string(rune('0'+i)), Title: "analyze", Description: "analyze something",
			ActionType: task.ActionAnalyze, Status: task.StatusPending,
		})
	}
	for i := 1; i < len(tasks); i++ {
		tasks[i].DependsOn = []string{tasks[i-1].ID}
	}
	dag, err := task.NewDAG(tasks)
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}
	l, sess, _ := newHarness(t, dag, "uncertain\nCONFIDENCE: 0.05")
	l.cfg.ConfidenceCollapseThreshold = 3

	reason, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != StopConfidenceCollapse {
		t.Fatalf("expected confidence_collapse, got %s", reason)
	}
	if sess.Status != session.StatusPaused {
		t.Fatalf("expected session paused, got %s", sess.Status)
	}
}

func TestRunHoldsLowConfidenceWriteAndPauses(t *testing.T) {
	dag, err := task.NewDAG([]*task.Task{
		{ID: "t1", Title: "write file", Description: "create out.txt", ActionType: task.ActionWriteFile, TargetPath: "out.txt", Status: task.StatusPending},
	})
	if err != nil {
		t.Fatalf("NewDAG: %v", err)
	}
	l, sess, sb := newHarness(t, dag, "risky content\nCONFIDENCE: 0.05")

	reason, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != StopPauseAndAsk {
		t.Fatalf("expected pause_and_ask, got %s", reason)
	}
	if sess.Status != session.StatusPaused {
		t.Fatalf("expected session paused, got %s", sess.Status)
	}
	written := dag.Get("t1")
	if written.Status != task.StatusPending {
		t.Fatalf("expected task to remain pending, got %s", written.Status)
	}
	if !written.NeedsApproval {
		t.Fatal("expected task to be flagged as needing approval")
	}
	if sb.Exists("out.txt") {
		t.Fatal("expected the sub-threshold write to never reach the sandbox")
	}
}
