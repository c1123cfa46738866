// Package executor implements the Task Executor: it runs exactly one
// task at a time against the session's sandbox, assembling context,
// resolving write targets, enforcing the read-before-write merge
// discipline and the regression guard, and gating commits on the role's
// confidence thresholds. Unlike the teacher's parallel tool-calling
// engine this package never runs more than one task concurrently — the
// kernel's concurrency model is sequential within a session.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/ara-systems/ara/internal/arerr"
	"github.com/ara-systems/ara/internal/roleprofile"
	"github.com/ara-systems/ara/internal/sandbox"
	"github.com/ara-systems/ara/internal/skills"
	"github.com/ara-systems/ara/internal/task"
	"github.com/ara-systems/ara/internal/wisdom"
)

// Disposition is the confidence-gate outcome for one task's result.
type Disposition string

const (
	DispositionCommit        Disposition = "commit"
	DispositionCommitFlagged Disposition = "commit_needs_review"
	DispositionCommitQueued  Disposition = "commit_pending_approval"
	DispositionPause         Disposition = "pause_and_ask"
)

// regressionFloor: a committed write may not shrink a file of more than
// this many lines to less than half its previous length.
const regressionMinLines = 20
const regressionFactor = 0.5

// Result is what running one task produces.
type Result struct {
	OutputSummary string
	Confidence    float64
	Disposition   Disposition
	Rejected      bool // true if the regression guard rejected the write
	Committable   bool // true if this task would have written to the sandbox had the gate allowed it
}

// Executor runs tasks against a sandbox using an LLM collaborator,
// role-gated skills, and institutional wisdom recall.
type Executor struct {
	provider llm.Provider
	sandbox  *sandbox.Sandbox
	role     *roleprofile.RoleProfile
	skills   []*skills.Skill
	wisdom   *wisdom.Store
	logger   *logging.Logger

	recent []TaskSummary
}

// New creates a Task Executor for one session.
func New(provider llm.Provider, sb *sandbox.Sandbox, role *roleprofile.RoleProfile, resolvedSkills []*skills.Skill, store *wisdom.Store) *Executor {
	return &Executor{
		provider: provider, sandbox: sb, role: role, skills: resolvedSkills, wisdom: store,
		logger: logging.New().WithComponent("executor"),
	}
}

// Run executes one task to completion, returning its result. Callers
// (the Execution Loop) are responsible for setting the task's status
// and appending Result.OutputSummary as the task's context contribution.
func (e *Executor) Run(ctx context.Context, t *task.Task, goal string) (Result, error) {
	ctx, span := startTaskSpan(ctx, t.ID, string(t.ActionType))

	selected := skills.Select(e.skills, t.Description)
	var skillName, skillBody string
	if selected != nil {
		skillName, skillBody = selected.Name, selected.Body
		t.SelectedSkill = selected.Name
	}

	var passages []wisdom.Recalled
	if e.wisdom != nil {
		query := wisdom.ContextQuery(skillName, goal)
		passages, _ = e.wisdom.Recall(query, wisdom.RecallOpts{Limit: 5})
	}

	inventory, err := e.sandbox.List()
	if err != nil {
		endTaskSpan(span, 0, err)
		return Result{}, err
	}
	contextBlock := buildContextBlock(inventory, e.recent, skillName, skillBody, passages)

	var result Result
	switch t.ActionType {
	case task.ActionWriteFile:
		result, err = e.runWrite(ctx, t, contextBlock, false)
	case task.ActionEditFile:
		result, err = e.runWrite(ctx, t, contextBlock, true)
	case task.ActionGeneric:
		if e.resolveTarget(t, inventory) != "" {
			result, err = e.runWrite(ctx, t, contextBlock, e.sandbox.Exists(e.resolveTarget(t, inventory)))
		} else {
			result, err = e.runTextOnly(ctx, t, contextBlock)
		}
	default: // read_file, analyze, validate
		result, err = e.runTextOnly(ctx, t, contextBlock)
	}
	if err != nil {
		endTaskSpan(span, 0, err)
		return Result{}, err
	}

	if result.Disposition == "" {
		result.Disposition = e.gate(result.Confidence)
	}
	if result.Disposition != DispositionPause {
		e.recent = append(e.recent, TaskSummary{Title: t.Title, Summary: result.OutputSummary})
	}

	e.logger.Info("task run", map[string]interface{}{
		"task_id": t.ID, "action": string(t.ActionType), "confidence": result.Confidence, "disposition": string(result.Disposition),
	})
	endTaskSpan(span, result.Confidence, nil)
	return result, nil
}

// gate classifies a confidence score against the role's thresholds.
func (e *Executor) gate(confidence float64) Disposition {
	t := e.role.ConfidenceThresholds
	switch {
	case confidence >= t.AutoExecute:
		return DispositionCommit
	case confidence >= t.ExecuteAndFlag:
		return DispositionCommitFlagged
	case confidence >= t.PauseAndAsk:
		return DispositionCommitQueued
	default:
		return DispositionPause
	}
}

// runTextOnly handles read_file, analyze, and validate: a single LLM
// call producing a text result with no sandbox write.
func (e *Executor) runTextOnly(ctx context.Context, t *task.Task, contextBlock string) (Result, error) {
	prompt := fmt.Sprintf("%s\n\nTask: %s\n%s\n\nRespond with your findings, then on a final line write CONFIDENCE: <0-1>.",
		contextBlock, t.Title, t.Description)
	text, err := e.complete(ctx, prompt)
	if err != nil {
		return Result{}, arerr.Wrap(arerr.KindInternal, "task execution LLM call failed", err)
	}
	summary, confidence := splitConfidence(text)
	return Result{OutputSummary: summary, Confidence: confidence}, nil
}

// runWrite handles write_file and edit_file. mustMerge forces the
// read-before-write merge discipline even if the target happens not to
// exist yet (edit_file never generates from scratch).
func (e *Executor) runWrite(ctx context.Context, t *task.Task, contextBlock string, mustMerge bool) (Result, error) {
	inventory, err := e.sandbox.List()
	if err != nil {
		return Result{}, err
	}
	target := e.resolveTarget(t, inventory)
	if target == "" {
		return Result{}, arerr.New(arerr.KindInternal, "cannot resolve write target for task "+t.ID)
	}

	exists := e.sandbox.Exists(target)
	if mustMerge && !exists {
		return Result{}, arerr.New(arerr.KindInternal, "edit_file task "+t.ID+" has no existing target to merge into")
	}

	var prompt string
	var previous []byte
	if exists {
		previous, err = e.sandbox.Read(target)
		if err != nil {
			return Result{}, err
		}
		prompt = fmt.Sprintf(
			"%s\n\nTask: %s\n%s\n\nThe file %q currently contains:\n\n%s\n\nReturn the COMPLETE updated file contents, preserving all prior functionality not explicitly being changed. After the file contents, on a final line write CONFIDENCE: <0-1>.",
			contextBlock, t.Title, t.Description, target, string(previous))
	} else {
		prompt = fmt.Sprintf(
			"%s\n\nTask: %s\n%s\n\nGenerate the complete contents for a new file at %q. After the file contents, on a final line write CONFIDENCE: <0-1>.",
			contextBlock, t.Title, t.Description, target)
	}

	text, err := e.complete(ctx, prompt)
	if err != nil {
		return Result{}, arerr.Wrap(arerr.KindInternal, "task execution LLM call failed", err)
	}
	content, confidence := splitConfidence(text)

	if exists && regressionGuardTrips(previous, []byte(content)) {
		e.logger.Warn("regression guard rejected write", map[string]interface{}{"task_id": t.ID, "target": target})
		return Result{
			OutputSummary: fmt.Sprintf("rejected write to %s: new content regressed below half the prior line count", target),
			Confidence:    confidence,
			Rejected:      true,
		}, nil
	}

	// Gate before committing: a sub-threshold confidence must never reach
	// the sandbox, since the session pauses for operator input instead of
	// treating the task as done.
	disposition := e.gate(confidence)
	if disposition == DispositionPause {
		return Result{
			OutputSummary: fmt.Sprintf("held write to %s pending operator input: confidence %.2f below pause_and_ask threshold", target, confidence),
			Confidence:    confidence,
			Disposition:   DispositionPause,
			Committable:   true,
		}, nil
	}

	if err := e.sandbox.Write(target, []byte(content)); err != nil {
		return Result{}, err
	}
	t.TargetPath = target

	return Result{
		OutputSummary: fmt.Sprintf("wrote %s (%d bytes)", target, len(content)),
		Confidence:    confidence,
		Disposition:   disposition,
		Committable:   true,
	}, nil
}

// resolveTarget implements the four-tier write-target resolution rule.
func (e *Executor) resolveTarget(t *task.Task, inventory []sandbox.FileInfo) string {
	if t.TargetPath != "" {
		return t.TargetPath
	}

	// Tier 1: a literal filename mentioned in the task description.
	for _, f := range inventory {
		if strings.Contains(t.Description, f.Path) || strings.Contains(t.Description, filepath.Base(f.Path)) {
			return f.Path
		}
	}

	// Tier 2: score sandbox files by stem/extension/keyword match.
	best, bestScore := "", 0
	words := strings.Fields(strings.ToLower(t.Description))
	for _, f := range inventory {
		score := 0
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(f.Path), filepath.Ext(f.Path)))
		for _, w := range words {
			if len(w) > 3 && strings.Contains(stem, w) {
				score += 2
			}
			if strings.Contains(strings.ToLower(t.Title), stem) {
				score += 1
			}
		}
		if score > bestScore {
			best, bestScore = f.Path, score
		}
	}
	if bestScore > 0 {
		return best
	}

	// Tier 3: exactly one file in the sandbox.
	if len(inventory) == 1 {
		return inventory[0].Path
	}

	// Tier 4: most recently modified non-readme file.
	candidates := make([]sandbox.FileInfo, 0, len(inventory))
	for _, f := range inventory {
		if strings.EqualFold(filepath.Base(f.Path), "readme.md") {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ModTime.After(candidates[j].ModTime) })
	return candidates[0].Path
}

// regressionGuardTrips implements §4.11's regression guard: a large
// existing file (>20 lines) must not be replaced with content under
// half its previous line count.
func regressionGuardTrips(previous, next []byte) bool {
	oldLines := lineCount(previous)
	if oldLines <= regressionMinLines {
		return false
	}
	newLines := lineCount(next)
	return float64(newLines) < float64(oldLines)*regressionFactor
}

func lineCount(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	return strings.Count(string(data), "\n") + 1
}

func (e *Executor) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// splitConfidence extracts a trailing "CONFIDENCE: <float>" line,
// defaulting to 0.5 if the model omitted it.
func splitConfidence(text string) (body string, confidence float64) {
	confidence = 0.5
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		upper := strings.ToUpper(trimmed)
		if strings.HasPrefix(upper, "CONFIDENCE:") {
			var v float64
			if _, err := fmt.Sscanf(trimmed[len("CONFIDENCE:"):], "%f", &v); err == nil {
				if v < 0 {
					v = 0
				}
				if v > 1 {
					v = 1
				}
				confidence = v
				body = strings.TrimSpace(strings.Join(lines[:i], "\n"))
				return body, confidence
			}
		}
		break
	}
	return strings.TrimSpace(text), confidence
}
