// Package session implements the Session State Machine: the six-state
// lifecycle, decision log, heartbeat, and cost/time tracking that the
// Execution Loop drives one task at a time. Session state serializes to
// the opaque json.RawMessage the Checkpoint Manager persists and
// restores, so this package owns (de)serialization and the checkpoint
// package never imports it back.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/ara-systems/ara/internal/arerr"
	"github.com/ara-systems/ara/internal/task"
)

// Status is a closed enumeration of the six session states.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// allowed holds every valid (from, to) transition in the state machine.
var allowed = map[Status]map[Status]bool{
	StatusCreated:   {StatusRunning: true},
	StatusRunning:   {StatusPaused: true, StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusPaused:    {StatusRunning: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// DefaultStaleSeconds is how long a session may go without a heartbeat
// before it becomes eligible for stale-session recovery.
const DefaultStaleSeconds = 120

// CostTracker accumulates raw token usage. USD conversion is delegated
// to the transport, which knows current provider pricing; the kernel
// only ever reasons in token counts and the caller-supplied ceiling.
type CostTracker struct {
	PromptTokens     int64
	CompletionTokens int64
	Provider         string
	Model            string
}

// DecisionEntry is one append-only record in the session's decision log
// — the human-facing trail of what the kernel chose to do and why,
// distinct from (but cross-referenced by) the tamper-evident audit log.
type DecisionEntry struct {
	Timestamp time.Time
	Kind      string
	Detail    string
}

// Session is the governance state the Execution Loop drives.
type Session struct {
	mu sync.Mutex

	ID       string
	RoleName string
	Goal     string // sanitized goal, as produced by the Prompt Guard

	DAG           *task.DAG
	CurrentTaskID string

	Status Status

	CheckpointIDs []string
	DecisionLog   []DecisionEntry

	Cost CostTracker

	StartTime         time.Time
	MaxSessionHours   float64
	MaxCostPerSession float64

	ConsecutiveErrors        int
	ConsecutiveLowConfidence int

	SandboxID string
	Branch    string

	LastHeartbeat time.Time

	logger *logging.Logger
}

// New creates a session in the created state. It has not yet been
// started; CurrentTaskID stays empty until Start transitions it to
// running, per the invariant that current_task_id is null outside
// running/paused.
func New(id, roleName, sanitizedGoal string, dag *task.DAG, sandboxID string, maxHours, maxCost float64) *Session {
	now := time.Now()
	return &Session{
		ID:                id,
		RoleName:          roleName,
		Goal:              sanitizedGoal,
		DAG:               dag,
		Status:            StatusCreated,
		StartTime:         now,
		MaxSessionHours:   maxHours,
		MaxCostPerSession: maxCost,
		SandboxID:         sandboxID,
		LastHeartbeat:     now,
		logger:            logging.New().WithComponent("session"),
	}
}

// transition validates and applies a state change, recording it in the
// decision log.
func (s *Session) transition(to Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !allowed[s.Status][to] {
		return arerr.New(arerr.KindSessionState, "invalid transition "+string(s.Status)+" -> "+string(to))
	}
	s.Status = to
	if to != StatusRunning && to != StatusPaused {
		s.CurrentTaskID = ""
	}
	s.appendDecisionLocked("transition", string(s.Status)+": "+reason)
	if s.logger != nil {
		s.logger.Debug("session transition", map[string]interface{}{"session_id": s.ID, "status": string(s.Status), "reason": reason})
	}
	return nil
}

// Start moves a created session to running (operator start).
func (s *Session) Start() error { return s.transition(StatusRunning, "operator start") }

// Pause moves running to paused.
func (s *Session) Pause(reason string) error { return s.transition(StatusPaused, reason) }

// Resume moves paused back to running.
func (s *Session) Resume() error { return s.transition(StatusRunning, "operator resume") }

// Complete moves running to completed (goal_complete stop condition).
func (s *Session) Complete() error { return s.transition(StatusCompleted, "goal complete") }

// Fail moves running to failed (error_threshold or unrecoverable error).
func (s *Session) Fail(reason string) error { return s.transition(StatusFailed, reason) }

// Cancel moves running or paused to cancelled (operator cancel).
func (s *Session) Cancel() error { return s.transition(StatusCancelled, "operator cancel") }

// IsTerminal reports whether the session has reached a terminal state.
func (s *Session) IsTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status.terminal()
}

// SetCurrentTask records which task the loop is driving. Only valid
// while running or paused.
func (s *Session) SetCurrentTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusRunning && s.Status != StatusPaused {
		return arerr.New(arerr.KindSessionState, "cannot set current task outside running/paused")
	}
	s.CurrentTaskID = taskID
	return nil
}

// Heartbeat records liveness.
func (s *Session) Heartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastHeartbeat = time.Now()
}

// Stale reports whether the session has gone longer than staleSeconds
// without a heartbeat, making it eligible for recovery.
func (s *Session) Stale(staleSeconds int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if staleSeconds <= 0 {
		staleSeconds = DefaultStaleSeconds
	}
	return time.Since(s.LastHeartbeat) > time.Duration(staleSeconds)*time.Second
}

// RecordTaskOutcome updates consecutive-error and consecutive-low-
// confidence counters, used by the Execution Loop's stop-condition
// checks (error threshold, confidence collapse).
func (s *Session) RecordTaskOutcome(failed bool, lowConfidence bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		s.ConsecutiveErrors++
	} else {
		s.ConsecutiveErrors = 0
	}
	if lowConfidence {
		s.ConsecutiveLowConfidence++
	} else {
		s.ConsecutiveLowConfidence = 0
	}
}

// AddCost accumulates raw token usage for the running session.
func (s *Session) AddCost(promptTokens, completionTokens int64, provider, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cost.PromptTokens += promptTokens
	s.Cost.CompletionTokens += completionTokens
	s.Cost.Provider = provider
	s.Cost.Model = model
}

// AppendDecision records a human-facing decision-log entry.
func (s *Session) AppendDecision(kind, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendDecisionLocked(kind, detail)
}

func (s *Session) appendDecisionLocked(kind, detail string) {
	s.DecisionLog = append(s.DecisionLog, DecisionEntry{Timestamp: time.Now(), Kind: kind, Detail: detail})
}

// RecordCheckpoint appends a new checkpoint id to the session's history.
func (s *Session) RecordCheckpoint(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CheckpointIDs = append(s.CheckpointIDs, id)
}

// ElapsedHours reports how long the session has been open.
func (s *Session) ElapsedHours() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.StartTime).Hours()
}

// wireState is the serialized shape persisted by checkpoints and
// restored verbatim; it excludes the DAG, which the caller re-attaches
// from the task graph it already holds (the graph is large and the
// Execution Loop owns its single in-memory copy).
type wireState struct {
	ID            string
	RoleName      string
	Goal          string
	CurrentTaskID string
	Status        Status
	CheckpointIDs []string
	DecisionLog   []DecisionEntry
	Cost          CostTracker
	StartTime     time.Time
	MaxSessionHours   float64
	MaxCostPerSession float64
	ConsecutiveErrors        int
	ConsecutiveLowConfidence int
	SandboxID string
	Branch    string
	LastHeartbeat time.Time
}

// Serialize renders the session (minus its task DAG) as the opaque blob
// the Checkpoint Manager stores.
func (s *Session) Serialize() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := wireState{
		ID: s.ID, RoleName: s.RoleName, Goal: s.Goal, CurrentTaskID: s.CurrentTaskID,
		Status: s.Status, CheckpointIDs: s.CheckpointIDs, DecisionLog: s.DecisionLog,
		Cost: s.Cost, StartTime: s.StartTime, MaxSessionHours: s.MaxSessionHours,
		MaxCostPerSession: s.MaxCostPerSession, ConsecutiveErrors: s.ConsecutiveErrors,
		ConsecutiveLowConfidence: s.ConsecutiveLowConfidence, SandboxID: s.SandboxID,
		Branch: s.Branch, LastHeartbeat: s.LastHeartbeat,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot serialize session state", err)
	}
	return data, nil
}

// Restore rehydrates a session from a checkpoint's serialized state,
// re-attaching dag (the caller's live copy). Per the Checkpoint
// Manager's contract, the restored session resumes as paused.
func Restore(data json.RawMessage, dag *task.DAG) (*Session, error) {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot restore session state", err)
	}
	s := &Session{
		ID: w.ID, RoleName: w.RoleName, Goal: w.Goal, CurrentTaskID: w.CurrentTaskID,
		DAG: dag, Status: StatusPaused, CheckpointIDs: w.CheckpointIDs, DecisionLog: w.DecisionLog,
		Cost: w.Cost, StartTime: w.StartTime, MaxSessionHours: w.MaxSessionHours,
		MaxCostPerSession: w.MaxCostPerSession, ConsecutiveErrors: w.ConsecutiveErrors,
		ConsecutiveLowConfidence: w.ConsecutiveLowConfidence, SandboxID: w.SandboxID,
		Branch: w.Branch, LastHeartbeat: time.Now(),
		logger: logging.New().WithComponent("session"),
	}
	return s, nil
}
