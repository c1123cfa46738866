package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/ara-systems/ara/internal/roleprofile"
	"github.com/ara-systems/ara/internal/sandbox"
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
authority_autonomous: [read_file, write_file, edit_file, analyze]
`))
	if err != nil {
		t.Fatalf("roleprofile.Load: %v", err)
	}
	return rp
}

func TestRunWriteGeneratesNewFile(t *testing.T) {
	sb, err := sandbox.Create(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox.Create: %v", err)
	}
	provider := &fakeProvider{response: "package main\n\nfunc main() {}\nCONFIDENCE: 0.95"}
	e := New(provider, sb, testRole(t), nil, nil)

	tk := &task.Task{ID: "t1", Title: "create main", Description: "create main.go", ActionType: task.ActionWriteFile, TargetPath: "main.go"}
	result, err := e.Run(context.Background(), tk, "build a hello world program")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Disposition != DispositionCommit {
		t.Errorf("expected commit disposition at confidence 0.95, got %s", result.Disposition)
	}
	data, err := sb.Read("main.go")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(string(data), "func main") {
		t.Errorf("expected generated content, got %q", data)
	}
}

func TestRunWriteRegressionGuardRejects(t *testing.T) {
	sb, err := sandbox.Create(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox.Create: %v", err)
	}
	var big strings.Builder
	for i := 0; i < 30; i++ {
		big.WriteString("line\n")
	}
	if err := sb.Write("big.go", []byte(big.String())); err != nil {
		t.Fatalf("Write: %v", err)
	}

	provider := &fakeProvider{response: "x\nCONFIDENCE: 0.9"}
	e := New(provider, sb, testRole(t), nil, nil)
	tk := &task.Task{ID: "t1", Title: "trim file", Description: "trim big.go", ActionType: task.ActionEditFile, TargetPath: "big.go"}

	result, err := e.Run(context.Background(), tk, "trim the file")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Rejected {
		t.Error("expected regression guard to reject the write")
	}
	data, _ := sb.Read("big.go")
	if strings.Count(string(data), "\n") < 29 {
		t.Error("original content should be retained after rejection")
	}
}

func TestGateDispositions(t *testing.T) {
	e := &Executor{role: testRole(t)}
	cases := []struct {
		confidence float64
		want       Disposition
	}{
		{0.95, DispositionCommit},
		{0.80, DispositionCommitFlagged},
		{0.60, DispositionCommitQueued},
		{0.10, DispositionPause},
	}
	for _, c := range cases {
		if got := e.gate(c.confidence); got != c.want {
			t.Errorf("gate(%v) = %s, want %s", c.confidence, got, c.want)
		}
	}
}

func TestResolveTargetLiteralFilename(t *testing.T) {
	sb, _ := sandbox.Create(t.TempDir())
	sb.Write("config.toml", []byte("a=1"))
	e := &Executor{sandbox: sb, role: testRole(t)}
	inventory, _ := sb.List()
	tk := &task.Task{Description: "update config.toml with the new field"}
	if got := e.resolveTarget(tk, inventory); got != "config.toml" {
		t.Errorf("expected config.toml, got %q", got)
	}
}
