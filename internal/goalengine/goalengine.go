// Package goalengine implements the Goal Engine: it turns an operator's
// goal into a validated task DAG by sanitizing the goal, asking the LLM
// collaborator to propose a decomposition, and enforcing the role's
// authority model and the DAG's structural invariants before handing
// the plan to the Execution Loop.
package goalengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/ara-systems/ara/internal/arerr"
	"github.com/ara-systems/ara/internal/promptguard"
	"github.com/ara-systems/ara/internal/roleprofile"
	"github.com/ara-systems/ara/internal/task"
	"github.com/ara-systems/ara/internal/wisdom"
)

// ReplanCadence is the number of completed tasks after which the
// Execution Loop may ask the Goal Engine to re-evaluate the remaining
// plan.
const ReplanCadence = 5

// Decision records what the Goal Engine did for one decomposition, for
// the session's audit trail.
type Decision struct {
	SanitizedGoal    string
	StrippedPatterns []string
	TaskCount        int
	RejectedActions  []string // actions classified forbidden and removed from the plan
}

// rawTask is the wire shape the LLM is asked to produce.
type rawTask struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ActionType  string   `json:"action_type"`
	TargetPath  string   `json:"target_file"`
	DependsOn   []string `json:"depends_on"`
}

// Engine decomposes goals into task graphs.
type Engine struct {
	provider llm.Provider
	wisdom   *wisdom.Store
	logger   *logging.Logger
}

// New creates a Goal Engine backed by provider for decomposition calls
// and store for institutional-memory context.
func New(provider llm.Provider, store *wisdom.Store) *Engine {
	return &Engine{provider: provider, wisdom: store, logger: logging.New().WithComponent("goalengine")}
}

// Decompose sanitizes goal, asks the LLM for a task breakdown, validates
// it against role's authority model and the DAG invariants, and returns
// the resulting graph plus a record of what happened for the audit log.
func (e *Engine) Decompose(ctx context.Context, goal string, role *roleprofile.RoleProfile) (*task.DAG, Decision, error) {
	sanitized := promptguard.Sanitize(goal)
	decision := Decision{SanitizedGoal: sanitized.Cleaned, StrippedPatterns: sanitized.StrippedPatterns}

	memoryContext := e.recallContext(sanitized.Cleaned)
	prompt := buildDecompositionPrompt(sanitized.Cleaned, role, memoryContext)

	raw, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, decision, arerr.Wrap(arerr.KindInternal, "decomposition LLM call failed", err)
	}

	rawTasks, err := parseDecomposition(raw)
	if err != nil {
		// One retry with a stricter reminder, per the failure-semantics table.
		raw2, err2 := e.complete(ctx, prompt+"\n\nYour previous reply could not be parsed as JSON. Reply with ONLY the JSON array, no prose.")
		if err2 != nil {
			return nil, decision, arerr.New(arerr.KindInternal, "DecompositionFailed: retry LLM call failed")
		}
		rawTasks, err = parseDecomposition(raw2)
		if err != nil {
			return nil, decision, arerr.New(arerr.KindInternal, "DecompositionFailed: plan not parseable after retry")
		}
	}

	tasks, rejected, err := classifyAndBuild(rawTasks, role)
	if err != nil {
		return nil, decision, err
	}
	decision.RejectedActions = rejected

	dag, err := task.NewDAG(tasks)
	if err != nil {
		return nil, decision, err
	}
	order, err := dag.TopoSort()
	if err != nil {
		return nil, decision, err
	}
	task.EnforceWriteOnceRule(order, dag)

	decision.TaskCount = len(dag.Tasks)
	e.logger.Info("goal decomposed", map[string]interface{}{
		"task_count": decision.TaskCount, "rejected": len(decision.RejectedActions),
	})
	return dag, decision, nil
}

// Replan re-evaluates the not-yet-done tasks of an in-flight DAG after
// ReplanCadence completions, reusing the decomposition prompt plus a
// summary of what remains. It replaces only pending tasks; done/failed
// tasks are untouched.
func (e *Engine) Replan(ctx context.Context, dag *task.DAG, role *roleprofile.RoleProfile, remainingGoalSummary string) (*task.DAG, Decision, error) {
	var completed []string
	var pending []*task.Task
	for _, t := range dag.Tasks {
		if t.Status == task.StatusDone {
			completed = append(completed, t.Title)
		} else if t.Status == task.StatusPending {
			pending = append(pending, t)
		}
	}

	summary := fmt.Sprintf("Completed so far: %s.\nRemaining goal: %s", strings.Join(completed, "; "), remainingGoalSummary)
	e.logger.Info("replanning", map[string]interface{}{"completed": len(completed), "pending": len(pending)})
	newDAG, decision, err := e.Decompose(ctx, summary, role)
	if err != nil {
		return nil, decision, err
	}

	// Preserve already-finished tasks ahead of the newly planned remainder
	// so the Execution Loop's dependency order still makes sense.
	merged := append([]*task.Task{}, nonPending(dag)...)
	merged = append(merged, newDAG.Tasks...)
	mergedDAG, err := task.NewDAG(merged)
	if err != nil {
		return nil, decision, err
	}
	return mergedDAG, decision, nil
}

func nonPending(d *task.DAG) []*task.Task {
	var out []*task.Task
	for _, t := range d.Tasks {
		if t.Status != task.StatusPending {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) recallContext(goal string) []wisdom.Recalled {
	if e.wisdom == nil {
		return nil
	}
	results, err := e.wisdom.Recall(goal, wisdom.RecallOpts{Limit: 5})
	if err != nil {
		return nil
	}
	return results
}

func buildDecompositionPrompt(goal string, role *roleprofile.RoleProfile, memory []wisdom.Recalled) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are planning work for the role %q: %s\n", role.Name, role.Description)
	fmt.Fprintf(&b, "Competencies: %s\n", strings.Join(role.SortedCompetencies(), ", "))
	fmt.Fprintf(&b, "Autonomous actions: %s\n", strings.Join(role.AuthorityAutonomous, ", "))
	fmt.Fprintf(&b, "Actions requiring approval: %s\n", strings.Join(role.AuthorityRequiresApproval, ", "))
	fmt.Fprintf(&b, "Forbidden actions: %s\n", strings.Join(role.AuthorityForbidden, ", "))
	b.WriteString("\nGoal:\n")
	b.WriteString(goal)

	if len(memory) > 0 {
		b.WriteString("\n\nRelevant institutional memory:\n")
		for _, m := range memory {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
	}

	b.WriteString("\n\nRespond with ONLY a JSON array of tasks, each shaped like:\n")
	b.WriteString(`{"id": "t1", "title": "...", "description": "...", "action_type": "read_file|write_file|edit_file|analyze|validate|generic", "target_file": "optional/path", "depends_on": ["t0"]}`)
	b.WriteString("\nTasks must form an acyclic dependency graph referencing only ids in this array.\n")
	return b.String()
}

func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func parseDecomposition(raw string) ([]rawTask, error) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start == -1 || end == -1 || end < start {
		return nil, arerr.New(arerr.KindInternal, "no JSON array found in decomposition response")
	}
	var tasks []rawTask
	if err := json.Unmarshal([]byte(raw[start:end+1]), &tasks); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "malformed decomposition JSON", err)
	}
	if len(tasks) == 0 {
		return nil, arerr.New(arerr.KindInternal, "decomposition produced no tasks")
	}
	return tasks, nil
}

// classifyAndBuild converts raw LLM task proposals into task.Task values,
// rejecting the whole plan if any task's action is forbidden under the
// role's authority model, and tagging requires_approval actions.
func classifyAndBuild(raw []rawTask, role *roleprofile.RoleProfile) ([]*task.Task, []string, error) {
	tasks := make([]*task.Task, 0, len(raw))
	var rejected []string

	for _, r := range raw {
		authz := role.IsActionAllowed(r.ActionType)
		if authz == roleprofile.Forbidden {
			rejected = append(rejected, r.ActionType)
			return nil, rejected, arerr.New(arerr.KindRoleForbidden, "plan rejected: task "+r.ID+" requires forbidden action "+r.ActionType)
		}
		tasks = append(tasks, &task.Task{
			ID:            r.ID,
			Title:         r.Title,
			Description:   r.Description,
			ActionType:    task.ActionType(r.ActionType),
			TargetPath:    r.TargetPath,
			DependsOn:     r.DependsOn,
			Status:        task.StatusPending,
			NeedsApproval: authz == roleprofile.RequiresApproval,
		})
	}
	return tasks, rejected, nil
}
