package goalengine

import (
	"context"
	"testing"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/ara-systems/ara/internal/roleprofile"
	"github.com/ara-systems/ara/internal/task"
)

type fakeProvider struct {
	responses []string
	calls     int
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return &llm.ChatResponse{Content: f.responses[idx]}, nil
}

func testRole(t *testing.T) *roleprofile.RoleProfile {
	t.Helper()
	rp, err := roleprofile.Load([]byte(`
name: coder
description: writes and edits code
competencies: [go]
authority_autonomous: [read_file, write_file, edit_file, analyze]
authority_requires_approval: [validate]
`))
	if err != nil {
		t.Fatalf("roleprofile.Load: %v", err)
	}
	return rp
}

func TestDecomposeHappyPath(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		`[{"id":"t1","title":"read config","description":"read the config file","action_type":"read_file","target_file":"config.toml","depends_on":[]},
		  {"id":"t2","title":"update config","description":"add the new field","action_type":"write_file","target_file":"config.toml","depends_on":["t1"]}]`,
	}}
	e := New(provider, nil)
	dag, decision, err := e.Decompose(context.Background(), "update the config file", testRole(t))
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if decision.TaskCount != 2 {
		t.Errorf("expected 2 tasks, got %d", decision.TaskCount)
	}
	order, err := dag.TopoSort()
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	if len(order) != 2 || order[0] != "t1" {
		t.Errorf("unexpected topo order: %v", order)
	}
}

func TestDecomposeRejectsForbiddenAction(t *testing.T) {
	rp := testRole(t)
	rp.AuthorityForbidden = append(rp.AuthorityForbidden, "generic")
	provider := &fakeProvider{responses: []string{
		`[{"id":"t1","title":"do something risky","description":"...","action_type":"generic","depends_on":[]}]`,
	}}
	e := New(provider, nil)
	_, _, err := e.Decompose(context.Background(), "do something risky", rp)
	if err == nil {
		t.Fatal("expected plan rejection for forbidden action")
	}
}

func TestDecomposeRetriesOnUnparseableResponse(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		"I cannot help with that.",
		`[{"id":"t1","title":"analyze","description":"look at the repo","action_type":"analyze","depends_on":[]}]`,
	}}
	e := New(provider, nil)
	dag, _, err := e.Decompose(context.Background(), "analyze the repo", testRole(t))
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(dag.Tasks) != 1 {
		t.Errorf("expected 1 task after retry, got %d", len(dag.Tasks))
	}
}

func TestDecomposeFailsAfterSecondUnparseableResponse(t *testing.T) {
	provider := &fakeProvider{responses: []string{"nope", "still nope"}}
	e := New(provider, nil)
	if _, _, err := e.Decompose(context.Background(), "do a thing", testRole(t)); err == nil {
		t.Fatal("expected DecompositionFailed after retry exhausted")
	}
}

func TestEnforceWriteOnceAppliedAfterDecompose(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		`[{"id":"t1","title":"create file","description":"...","action_type":"write_file","target_file":"out.txt","depends_on":[]},
		  {"id":"t2","title":"touch again","description":"...","action_type":"write_file","target_file":"out.txt","depends_on":["t1"]}]`,
	}}
	e := New(provider, nil)
	dag, _, err := e.Decompose(context.Background(), "write then rewrite out.txt", testRole(t))
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if dag.Get("t2").ActionType != task.ActionEditFile {
		t.Errorf("expected second write_file on same path downgraded to edit_file, got %s", dag.Get("t2").ActionType)
	}
}
