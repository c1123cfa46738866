// Package loop implements the Execution Loop: it drives the session's
// task DAG to completion one task at a time through the Task Executor,
// checkpointing on a cadence, re-scanning for workspace drift, and
// watching the five stop conditions every iteration.
package loop

import (
	"context"
	"fmt"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/ara-systems/ara/internal/arerr"
	"github.com/ara-systems/ara/internal/audit"
	"github.com/ara-systems/ara/internal/checkpoint"
	"github.com/ara-systems/ara/internal/drift"
	"github.com/ara-systems/ara/internal/executor"
	"github.com/ara-systems/ara/internal/goalengine"
	"github.com/ara-systems/ara/internal/roleprofile"
	"github.com/ara-systems/ara/internal/session"
	"github.com/ara-systems/ara/internal/task"
)

// StopReason is a closed enumeration of why the loop returned control
// to the operator.
type StopReason string

const (
	StopGoalComplete       StopReason = "goal_complete"
	StopTimeLimit          StopReason = "time_limit"
	StopCostLimit          StopReason = "cost_limit"
	StopConfidenceCollapse StopReason = "confidence_collapse"
	StopErrorThreshold     StopReason = "error_threshold"
	StopDriftHigh          StopReason = "drift_high"
	StopStuck              StopReason = "stuck_no_ready_tasks"
	StopPauseAndAsk        StopReason = "pause_and_ask"
)

// DefaultConfidenceCollapseThreshold is the number of consecutive
// pause_and_ask-tier results that trigger a stop.
const DefaultConfidenceCollapseThreshold = 3

// DefaultErrorThreshold is the number of consecutive task failures that
// trigger a stop.
const DefaultErrorThreshold = 5

// DefaultCheckpointInterval is how many completed tasks pass between
// automatic checkpoints, absent a medium/high drift event forcing one
// sooner.
const DefaultCheckpointInterval = 3

// CostEstimator converts raw token usage into the unit the role's
// MaxCostPerSession ceiling is expressed in. The kernel never prices
// tokens itself; this hook is supplied by whatever transport wraps the
// configured provider.
type CostEstimator func(session.CostTracker) float64

// Config tunes the loop's cadences and thresholds; zero values fall
// back to the package defaults.
type Config struct {
	CheckpointInterval          int
	ConfidenceCollapseThreshold int
	ErrorThreshold              int
	StaleSeconds                int
	EstimateCost                CostEstimator
}

func (c Config) withDefaults() Config {
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.ConfidenceCollapseThreshold <= 0 {
		c.ConfidenceCollapseThreshold = DefaultConfidenceCollapseThreshold
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
	if c.StaleSeconds <= 0 {
		c.StaleSeconds = session.DefaultStaleSeconds
	}
	return c
}

// Loop wires the Session State Machine, Task Executor, Checkpoint
// Manager, Drift Monitor, Goal Engine and Audit Log together into the
// single-task-at-a-time execution cycle.
type Loop struct {
	sess         *session.Session
	exec         *executor.Executor
	checkpoints  *checkpoint.Manager
	driftMonitor *drift.Monitor
	auditLog     *audit.Log
	goalEngine   *goalengine.Engine
	role         *roleprofile.RoleProfile
	cfg          Config
	logger       *logging.Logger

	tasksSinceCheckpoint int
	tasksSinceReplan     int
}

// New builds an Execution Loop for one session. driftMonitor and
// goalEngine may be nil: drift re-scanning and mid-run re-planning are
// both optional.
func New(sess *session.Session, exec *executor.Executor, checkpoints *checkpoint.Manager, driftMonitor *drift.Monitor, auditLog *audit.Log, goalEngine *goalengine.Engine, role *roleprofile.RoleProfile, cfg Config) *Loop {
	return &Loop{
		sess: sess, exec: exec, checkpoints: checkpoints, driftMonitor: driftMonitor,
		auditLog: auditLog, goalEngine: goalEngine, role: role, cfg: cfg.withDefaults(),
		logger: logging.New().WithComponent("loop"),
	}
}

// Run drives the DAG until a stop condition fires or the context is
// cancelled. It always leaves the session in a well-defined state:
// completed, failed, or paused with CurrentTaskID cleared.
func (l *Loop) Run(ctx context.Context) (StopReason, error) {
	if err := l.sess.Start(); err != nil {
		return "", err
	}
	l.logger.Info("session started", map[string]interface{}{"session_id": l.sess.ID, "role": l.role.Name})
	l.audit("session_started", map[string]interface{}{"goal": l.sess.Goal})

	for {
		if err := ctx.Err(); err != nil {
			l.pauseFor("context cancelled")
			return StopStuck, err
		}

		if reason, stopped := l.checkStopConditions(); stopped {
			l.settle(reason)
			return reason, nil
		}

		if l.sess.DAG.AllDone() {
			l.sess.Complete()
			l.audit("session_completed", nil)
			return StopGoalComplete, nil
		}

		ready := l.sess.DAG.Ready()
		if len(ready) == 0 {
			l.pauseFor("no ready tasks but goal incomplete: dependency stall")
			return StopStuck, nil
		}

		pendingApproval, err := l.runOne(ctx, ready[0])
		if err != nil {
			return "", err
		}
		if pendingApproval {
			l.settle(StopPauseAndAsk)
			return StopPauseAndAsk, nil
		}

		if l.driftMonitor != nil {
			if reason, stopped := l.checkDrift(); stopped {
				l.settle(reason)
				return reason, nil
			}
		}

		if l.goalEngine != nil && l.tasksSinceReplan >= goalengine.ReplanCadence {
			l.replan(ctx)
		}

		if l.tasksSinceCheckpoint >= l.cfg.CheckpointInterval {
			l.saveCheckpoint(false)
		}
	}
}

// runOne executes one task and reports whether the session must now
// pause for operator input (a sub-threshold confidence result, per
// §4.11 never reaches task.StatusDone).
func (l *Loop) runOne(ctx context.Context, taskID string) (bool, error) {
	t := l.sess.DAG.Get(taskID)
	t.Status = task.StatusRunning
	if err := l.sess.SetCurrentTask(taskID); err != nil {
		return false, err
	}
	l.sess.Heartbeat()
	l.audit("task_started", map[string]interface{}{"task_id": taskID, "action_type": string(t.ActionType)})

	result, err := l.exec.Run(ctx, t, l.sess.Goal)
	if err != nil {
		t.Status = task.StatusFailed
		l.sess.RecordTaskOutcome(true, false)
		l.sess.AppendDecision("task_failed", taskID+": "+err.Error())
		l.logger.Warn("task failed", map[string]interface{}{"task_id": taskID, "error": err.Error()})
		l.audit("task_failed", map[string]interface{}{"task_id": taskID, "error": err.Error()})
		l.tasksSinceCheckpoint++
		return false, nil
	}

	if result.Rejected {
		t.Status = task.StatusFailed
		l.sess.RecordTaskOutcome(true, false)
		l.sess.AppendDecision("task_rejected", taskID+": "+result.OutputSummary)
		l.audit("task_rejected", map[string]interface{}{"task_id": taskID, "reason": result.OutputSummary})
		l.tasksSinceCheckpoint++
		return false, nil
	}

	if result.Disposition == executor.DispositionPause && result.Committable {
		// Confidence fell below pause_and_ask on a task that would have
		// written to the sandbox: the write was held rather than applied,
		// so the task stays pending rather than done, and the session
		// pauses for operator input instead of moving on.
		t.Status = task.StatusPending
		t.NeedsApproval = true
		t.Confidence = result.Confidence
		l.sess.RecordTaskOutcome(false, true)
		l.sess.AppendDecision("task_paused", fmt.Sprintf("%s: %s (confidence %.2f)", taskID, result.OutputSummary, result.Confidence))
		l.audit("task_paused", map[string]interface{}{"task_id": taskID, "confidence": result.Confidence})
		l.tasksSinceCheckpoint++
		return true, nil
	}

	t.Status = task.StatusDone
	t.OutputSummary = result.OutputSummary
	t.Confidence = result.Confidence
	if result.Disposition == executor.DispositionCommitQueued || result.Disposition == executor.DispositionPause {
		t.NeedsApproval = true
	}

	lowConfidence := result.Disposition == executor.DispositionPause
	l.sess.RecordTaskOutcome(false, lowConfidence)
	l.sess.AppendDecision("task_completed", fmt.Sprintf("%s: %s (%s, confidence %.2f)", taskID, result.OutputSummary, result.Disposition, result.Confidence))
	l.audit("task_completed", map[string]interface{}{
		"task_id": taskID, "disposition": string(result.Disposition), "confidence": result.Confidence,
	})

	l.tasksSinceCheckpoint++
	l.tasksSinceReplan++
	return false, nil
}

// checkStopConditions evaluates the time, cost, confidence-collapse and
// error-threshold stop conditions. goal_complete is checked separately
// in Run since it depends on DAG state rather than a counter.
func (l *Loop) checkStopConditions() (StopReason, bool) {
	if l.role.MaxSessionHours > 0 && l.sess.ElapsedHours() > l.role.MaxSessionHours {
		return StopTimeLimit, true
	}
	if l.cfg.EstimateCost != nil && l.role.MaxCostPerSession > 0 {
		if l.cfg.EstimateCost(l.sess.Cost) > l.role.MaxCostPerSession {
			return StopCostLimit, true
		}
	}
	if l.sess.ConsecutiveLowConfidence >= l.cfg.ConfidenceCollapseThreshold {
		return StopConfidenceCollapse, true
	}
	if l.sess.ConsecutiveErrors >= l.cfg.ErrorThreshold {
		return StopErrorThreshold, true
	}
	return "", false
}

func (l *Loop) checkDrift() (StopReason, bool) {
	severity, changes, err := l.driftMonitor.Rescan()
	if err != nil {
		return "", false
	}
	switch severity {
	case drift.SeverityHigh:
		l.sess.AppendDecision("drift_high", fmt.Sprintf("%d changes detected in workspace outside this session", len(changes)))
		l.audit("drift_detected", map[string]interface{}{"severity": string(severity), "changes": len(changes)})
		return StopDriftHigh, true
	case drift.SeverityMedium:
		l.sess.AppendDecision("drift_medium", fmt.Sprintf("%d changes detected in workspace outside this session", len(changes)))
		l.audit("drift_detected", map[string]interface{}{"severity": string(severity), "changes": len(changes)})
	}
	return "", false
}

func (l *Loop) replan(ctx context.Context) {
	summary := "tasks completed so far: see decision log"
	newDAG, decision, err := l.goalEngine.Replan(ctx, l.sess.DAG, l.role, summary)
	l.tasksSinceReplan = 0
	if err != nil {
		l.sess.AppendDecision("replan_failed", err.Error())
		l.audit("replan_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	l.sess.DAG = newDAG
	l.sess.AppendDecision("replanned", fmt.Sprintf("%d tasks in revised plan", decision.TaskCount))
	l.audit("replanned", map[string]interface{}{"task_count": decision.TaskCount})
}

func (l *Loop) saveCheckpoint(milestone bool) {
	state, err := l.sess.Serialize()
	if err != nil {
		return
	}
	cp, err := l.checkpoints.Save(l.sess.ID, state, milestone)
	if err != nil {
		l.audit("checkpoint_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	l.sess.RecordCheckpoint(cp.ID)
	l.audit("checkpoint_saved", map[string]interface{}{"checkpoint_id": cp.ID, "milestone": milestone})
	l.tasksSinceCheckpoint = 0
}

// settle transitions the session to a terminal or paused state matching
// the stop reason, always leaving a final checkpoint behind.
func (l *Loop) settle(reason StopReason) {
	switch reason {
	case StopGoalComplete:
		l.sess.Complete()
	case StopErrorThreshold:
		l.sess.Fail(string(reason))
	default:
		l.pauseFor(string(reason))
	}
	l.saveCheckpoint(true)
	l.logger.Info("session stopped", map[string]interface{}{"session_id": l.sess.ID, "reason": string(reason), "status": string(l.sess.Status)})
	l.audit("session_stopped", map[string]interface{}{"reason": string(reason)})
}

func (l *Loop) pauseFor(reason string) {
	if l.sess.IsTerminal() {
		return
	}
	if err := l.sess.Pause(reason); err != nil {
		l.audit("pause_failed", map[string]interface{}{"error": err.Error()})
	}
}

func (l *Loop) audit(eventType string, details map[string]interface{}) {
	if l.auditLog == nil {
		return
	}
	if _, err := l.auditLog.Append(l.sess.ID, eventType, audit.ActorAgent, details); err != nil {
		_ = arerr.Wrap(arerr.KindInternal, "audit append failed", err)
	}
}
