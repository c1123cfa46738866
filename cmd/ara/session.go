package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/llm"

	"github.com/ara-systems/ara/internal/aegis"
	"github.com/ara-systems/ara/internal/audit"
	"github.com/ara-systems/ara/internal/checkpoint"
	"github.com/ara-systems/ara/internal/credentials"
	"github.com/ara-systems/ara/internal/drift"
	"github.com/ara-systems/ara/internal/executor"
	"github.com/ara-systems/ara/internal/goalengine"
	"github.com/ara-systems/ara/internal/loop"
	"github.com/ara-systems/ara/internal/promotion"
	"github.com/ara-systems/ara/internal/roleprofile"
	"github.com/ara-systems/ara/internal/sandbox"
	"github.com/ara-systems/ara/internal/secretscan"
	"github.com/ara-systems/ara/internal/session"
	"github.com/ara-systems/ara/internal/skills"
	"github.com/ara-systems/ara/internal/task"
	"github.com/ara-systems/ara/internal/wisdom"
)

// sessionDeps bundles everything shared by start and resume, built
// identically from the resolved config so a resumed session sees the
// same sandbox, checkpoints, and audit log as the one that paused it.
type sessionDeps struct {
	role       *roleprofile.RoleProfile
	sb         *sandbox.Sandbox
	store      *wisdom.Store
	auditLog   *audit.Log
	checkpoint *checkpoint.Manager
	driftMon   *drift.Monitor
	exec       *executor.Executor
	goalEngine *goalengine.Engine
}

func buildProvider(g *Globals) (llm.Provider, error) {
	cfg := g.Config
	providerName := cfg.LLM.Provider
	if providerName == "" {
		providerName = llm.InferProviderFromModel(cfg.LLM.Model)
	}
	return llm.NewProvider(llm.ProviderConfig{
		Provider:    providerName,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.GetAPIKey(),
		RetryConfig: llm.RetryConfig{MaxRetries: cfg.LLM.MaxRetries},
	})
}

func buildDeps(g *Globals, roleFile, workspace string) (*sessionDeps, error) {
	role, err := roleprofile.LoadFile(roleFile)
	if err != nil {
		return nil, err
	}
	provider, err := buildProvider(g)
	if err != nil {
		return nil, err
	}

	storageDir := g.Config.Storage.Path
	sb, err := sandbox.Create(filepath.Join(storageDir, "sandboxes"))
	if err != nil {
		return nil, err
	}
	store, err := wisdom.Open(filepath.Join(storageDir, "wisdom"))
	if err != nil {
		return nil, err
	}
	auditLog, err := openAuditLog(g)
	if err != nil {
		return nil, err
	}
	cp, err := checkpoint.NewManager(filepath.Join(storageDir, "checkpoints"), sb, 5)
	if err != nil {
		return nil, err
	}
	driftMon, err := drift.Baseline(workspace)
	if err != nil {
		return nil, err
	}
	// A failed watch just means Rescan falls back to a full tree walk.
	_ = driftMon.Watch()

	resolved := skills.NewLibrary().Resolve(role)
	exec := executor.New(provider, sb, role, resolved, store)
	ge := goalengine.New(provider, store)

	return &sessionDeps{
		role: role, sb: sb, store: store, auditLog: auditLog,
		checkpoint: cp, driftMon: driftMon, exec: exec, goalEngine: ge,
	}, nil
}

// SessionStartCmd decomposes a goal under a role's authority and runs
// the Execution Loop until a stop condition is reached.
type SessionStartCmd struct {
	Role      string `arg:"" help:"Role profile YAML file"`
	Goal      string `arg:"" help:"Goal text to decompose and execute"`
	Workspace string `help:"Real workspace root to drift-monitor" default:"."`
}

func (c *SessionStartCmd) Run(g *Globals) error {
	deps, err := buildDeps(g, c.Role, c.Workspace)
	if err != nil {
		return err
	}
	ctx := context.Background()

	dag, decision, err := deps.goalEngine.Decompose(ctx, c.Goal, deps.role)
	if err != nil {
		return err
	}
	fmt.Printf("decomposed %d task(s); %d action(s) rejected by role scope\n", decision.TaskCount, len(decision.RejectedActions))

	sess := session.New(uuid.New().String(), deps.role.Name, decision.SanitizedGoal, dag, deps.sb.ID(), deps.role.MaxSessionHours, deps.role.MaxCostPerSession)
	l := loop.New(sess, deps.exec, deps.checkpoint, deps.driftMon, deps.auditLog, deps.goalEngine, deps.role, loop.Config{})

	reason, err := l.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println("session", sess.ID, "stopped:", reason, "status:", sess.Status)
	return nil
}

// SessionResumeCmd rehydrates a paused session from its latest
// checkpoint and re-enters the Execution Loop.
type SessionResumeCmd struct {
	Role      string `arg:"" help:"Role profile YAML file"`
	SessionID string `arg:"" help:"Session ID to resume"`
	Goal      string `arg:"" help:"Original goal text, re-decomposed to rebuild the task graph"`
	Workspace string `help:"Real workspace root to drift-monitor" default:"."`
}

func (c *SessionResumeCmd) Run(g *Globals) error {
	deps, err := buildDeps(g, c.Role, c.Workspace)
	if err != nil {
		return err
	}
	ctx := context.Background()

	checkpoints := deps.checkpoint.List(c.SessionID)
	if len(checkpoints) == 0 {
		return fmt.Errorf("no checkpoints found for session %s", c.SessionID)
	}
	latest := checkpoints[len(checkpoints)-1]

	state, err := deps.checkpoint.Restore(latest.ID)
	if err != nil {
		return err
	}

	// The Checkpoint Manager persists session state and a sandbox
	// snapshot, not the task DAG itself, so resuming re-decomposes the
	// goal to rebuild the graph shape before grafting the saved session
	// state onto it.
	dag, _, err := deps.goalEngine.Decompose(ctx, c.Goal, deps.role)
	if err != nil {
		return err
	}
	sess, err := session.Restore(state, dag)
	if err != nil {
		return err
	}
	if err := sess.Resume(); err != nil {
		return err
	}

	l := loop.New(sess, deps.exec, deps.checkpoint, deps.driftMon, deps.auditLog, deps.goalEngine, deps.role, loop.Config{})
	reason, err := l.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println("session", sess.ID, "stopped:", reason, "status:", sess.Status)
	return nil
}

// SessionPromoteCmd diffs a session's sandbox against its baseline and,
// given operator approval, applies the change set to the real workspace
// through the AEGIS Gate.
type SessionPromoteCmd struct {
	Role      string `arg:"" help:"Role profile YAML file"`
	SessionID string `arg:"" help:"Session ID whose sandbox changes are promoted"`
	Goal      string `arg:"" help:"Original goal text, re-decomposed to recover each change's task"`
	Baseline  string `arg:"" help:"Baseline snapshot ID to diff against"`
	Workspace string `help:"Real workspace root to write into" default:"."`
	PIN       string `help:"Operator PIN or TOTP code, if the role requires authentication"`
	NoTUI     bool   `help:"Skip the interactive diff viewer and promote unattended"`
}

func (c *SessionPromoteCmd) Run(g *Globals) error {
	deps, err := buildDeps(g, c.Role, c.Workspace)
	if err != nil {
		return err
	}
	ctx := context.Background()

	// Promotion needs to know which task produced each changed path, so
	// it can classify the change by its real action type instead of
	// defaulting to write_file, and so requires_approval paths the
	// operator reviews below can be recorded as approved. The task DAG
	// itself is not part of the checkpoint (session.Serialize strips
	// it), so it's rebuilt the same way SessionResumeCmd rebuilds it: by
	// re-decomposing the original goal under the same role.
	checkpoints := deps.checkpoint.List(c.SessionID)
	if len(checkpoints) == 0 {
		return fmt.Errorf("no checkpoints found for session %s", c.SessionID)
	}
	latest := checkpoints[len(checkpoints)-1]
	state, err := deps.checkpoint.Restore(latest.ID)
	if err != nil {
		return err
	}
	dag, _, err := deps.goalEngine.Decompose(ctx, c.Goal, deps.role)
	if err != nil {
		return err
	}
	sess, err := session.Restore(state, dag)
	if err != nil {
		return err
	}

	storageDir := g.Config.Storage.Path
	authStore, err := credentials.NewEncryptedFileStore(filepath.Join(storageDir, "credentials"), []byte(deps.role.Name))
	if err != nil {
		return err
	}
	authenticator := credentials.NewAuthenticator(credentials.Fallback{Primary: credentials.KeychainStore{}, Secondary: authStore})
	allowlist := secretscan.Allowlist{}
	gate := aegis.New(deps.role, deps.auditLog, authenticator, allowlist)

	mgr, err := promotion.NewManager(deps.sb, gate, deps.auditLog, filepath.Join(storageDir, "archives"))
	if err != nil {
		return err
	}

	rec, err := mgr.CreateBranch(sess.ID, c.Baseline)
	if err != nil {
		return err
	}

	if c.NoTUI {
		for _, d := range rec.Changes {
			fmt.Printf("%-10s %s\n", d.Status, d.Path)
		}
	} else {
		approved, tuiErr := runReviewTUI(rec.ID, rec.Changes)
		if tuiErr != nil {
			return tuiErr
		}
		if !approved {
			fmt.Println("promotion", rec.ID, "rejected by operator")
			return nil
		}
	}

	// actionByPath and approvedPaths are both derived from the plan, not
	// from the executed run: a task's action type and whether it needs
	// approval are fixed at decomposition time (§4.10), so the
	// re-decomposed DAG carries the same values the original run had.
	// Reaching this point, whether via the TUI's explicit accept or the
	// NoTUI unattended flag, is the operator's recorded approval for
	// every requires_approval path this promotion touches.
	actionByPath := make(map[string]task.ActionType, len(sess.DAG.Tasks))
	approvedPaths := make(map[string]bool)
	for _, t := range sess.DAG.Tasks {
		if t.TargetPath == "" {
			continue
		}
		actionByPath[t.TargetPath] = t.ActionType
		if t.NeedsApproval {
			approvedPaths[t.TargetPath] = true
		}
	}
	lookup := func(path string) task.ActionType { return actionByPath[path] }

	committed, err := mgr.Promote(rec.ID, c.Workspace, lookup, approvedPaths, c.PIN)
	if err != nil {
		return fmt.Errorf("promotion %s: %w", rec.ID, err)
	}
	fmt.Println("promotion", committed.ID, "status:", committed.Status)
	return nil
}

// SessionUndoCmd reverts a previously committed promotion using its
// pre-apply archive.
type SessionUndoCmd struct {
	Role         string `arg:"" help:"Role profile YAML file"`
	PromotionID  string `arg:"" help:"Promotion record ID to undo"`
	Workspace    string `help:"Real workspace root to restore into" default:"."`
}

func (c *SessionUndoCmd) Run(g *Globals) error {
	storageDir := g.Config.Storage.Path
	sb, err := sandbox.Create(filepath.Join(storageDir, "sandboxes"))
	if err != nil {
		return err
	}
	auditLog, err := openAuditLog(g)
	if err != nil {
		return err
	}
	mgr, err := promotion.NewManager(sb, nil, auditLog, filepath.Join(storageDir, "archives"))
	if err != nil {
		return err
	}

	rec, err := mgr.Undo(c.PromotionID, c.Workspace)
	if err != nil {
		return err
	}
	fmt.Println("promotion", rec.ID, "status:", rec.Status)
	return nil
}
