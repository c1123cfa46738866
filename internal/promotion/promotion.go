// Package promotion implements the Promotion Manager: it turns a
// session's sandbox changes into a reviewable branch, gates the merge
// through AEGIS, and applies it to the operator's real workspace with a
// pre-apply archive that makes the merge undoable.
package promotion

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/ara-systems/ara/internal/aegis"
	"github.com/ara-systems/ara/internal/arerr"
	"github.com/ara-systems/ara/internal/audit"
	"github.com/ara-systems/ara/internal/pathconfine"
	"github.com/ara-systems/ara/internal/sandbox"
	"github.com/ara-systems/ara/internal/task"
)

// Status is a closed enumeration of the promotion state machine:
// pending -> (approved|rejected|blocked) -> (committed|failed) -> undone?
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusBlocked   Status = "blocked"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
	StatusUndone    Status = "undone"
)

// Record is one promotion's lifecycle record.
type Record struct {
	ID                  string
	SessionID           string
	BaselineSnapshotID  string
	TargetSnapshotID    string
	Status              Status
	Changes             []sandbox.FileDiff
	Reason              string
	PreApplyArchivePath string
	CreatedAt           time.Time
	DecidedAt           time.Time
	CommittedAt         time.Time
}

// archiveEntry records one file's pre-apply state so Undo can restore it.
type archiveEntry struct {
	Path    string
	Existed bool
}

// TaskActionLookup resolves the action type that produced a given
// sandbox path, so the gate's role-scope check can classify each
// changed file. Sessions populate this from their task DAG once every
// task with a TargetPath is known.
type TaskActionLookup func(path string) task.ActionType

// Manager owns the promotion lifecycle for one session's sandbox.
type Manager struct {
	sb         *sandbox.Sandbox
	gate       *aegis.Gate
	auditLog   *audit.Log
	archiveDir string
	logger     *logging.Logger

	records map[string]*Record
}

// NewManager builds a Promotion Manager over a session's sandbox,
// archiving pre-apply workspace state under archiveDir.
func NewManager(sb *sandbox.Sandbox, gate *aegis.Gate, auditLog *audit.Log, archiveDir string) (*Manager, error) {
	if err := os.MkdirAll(archiveDir, 0o700); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot create promotion archive dir", err)
	}
	return &Manager{
		sb: sb, gate: gate, auditLog: auditLog, archiveDir: archiveDir, records: map[string]*Record{},
		logger: logging.New().WithComponent("promotion"),
	}, nil
}

// CreateBranch snapshots the sandbox's current state and diffs it
// against baselineSnapshotID (typically the session-start snapshot),
// producing a pending promotion record ready for review.
func (m *Manager) CreateBranch(sessionID, baselineSnapshotID string) (*Record, error) {
	targetSnapshot, err := m.sb.Snapshot()
	if err != nil {
		return nil, err
	}
	changes, err := m.sb.Diff(baselineSnapshotID)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		ID:                 uuid.New().String(),
		SessionID:          sessionID,
		BaselineSnapshotID: baselineSnapshotID,
		TargetSnapshotID:   targetSnapshot,
		Status:             StatusPending,
		Changes:            changes,
		CreatedAt:          time.Now(),
	}
	m.records[rec.ID] = rec
	m.audit(sessionID, "promotion_branch_created", map[string]interface{}{"promotion_id": rec.ID, "files_changed": len(changes)})
	return rec, nil
}

// Diff returns the change set a promotion record would apply.
func (m *Manager) Diff(recordID string) ([]sandbox.FileDiff, error) {
	rec, err := m.find(recordID)
	if err != nil {
		return nil, err
	}
	return rec.Changes, nil
}

// Reject marks a pending promotion rejected without touching the real
// workspace.
func (m *Manager) Reject(recordID, reason string) (*Record, error) {
	rec, err := m.find(recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, arerr.New(arerr.KindPromotionConflict, "promotion "+recordID+" is not pending")
	}
	rec.Status = StatusRejected
	rec.Reason = reason
	rec.DecidedAt = time.Now()
	m.audit(rec.SessionID, "promotion_rejected", map[string]interface{}{"promotion_id": rec.ID, "reason": reason})
	return rec, nil
}

// Promote runs the record's changes through the AEGIS Gate and, on
// approval, applies them to workspaceRoot: archiving the prior state of
// every touched path first (the pre-tag), writing or deleting each
// changed file, then recording a post-tag audit entry.
func (m *Manager) Promote(recordID, workspaceRoot string, lookup TaskActionLookup, approvedTasks map[string]bool, credential string) (*Record, error) {
	rec, err := m.find(recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, arerr.New(arerr.KindPromotionConflict, "promotion "+recordID+" is not pending")
	}

	pending := make([]aegis.PendingChange, 0, len(rec.Changes))
	for _, d := range rec.Changes {
		var data []byte
		if d.Status != sandbox.Deleted {
			data, err = m.sb.Read(d.Path)
			if err != nil {
				return nil, err
			}
		}
		actionType := task.ActionWriteFile
		if lookup != nil {
			if a := lookup(d.Path); a != "" {
				actionType = a
			}
		}
		pending = append(pending, aegis.PendingChange{Path: d.Path, Bytes: data, ActionType: actionType})
	}

	decision := m.gate.Evaluate(rec.SessionID, pending, approvedTasks, credential)
	rec.DecidedAt = time.Now()
	if !decision.Approved {
		rec.Status = StatusBlocked
		rec.Reason = decision.Reason
		m.logger.Warn("promotion blocked", map[string]interface{}{"promotion_id": rec.ID, "kind": string(decision.Kind), "reason": decision.Reason})
		m.audit(rec.SessionID, "promotion_blocked", map[string]interface{}{"promotion_id": rec.ID, "kind": string(decision.Kind), "reason": decision.Reason})
		return rec, arerr.New(arerr.KindPromotionConflict, "AEGIS gate blocked promotion: "+decision.Reason)
	}
	rec.Status = StatusApproved
	m.audit(rec.SessionID, "promotion_approved", map[string]interface{}{"promotion_id": rec.ID})

	archivePath, err := m.archiveWorkspace(workspaceRoot, rec.SessionID, rec.Changes)
	if err != nil {
		rec.Status = StatusFailed
		rec.Reason = err.Error()
		m.audit(rec.SessionID, "promotion_failed", map[string]interface{}{"promotion_id": rec.ID, "reason": err.Error()})
		return rec, err
	}
	rec.PreApplyArchivePath = archivePath
	m.audit(rec.SessionID, "promotion_pre_tag", map[string]interface{}{"promotion_id": rec.ID, "archive_path": archivePath})

	if err := m.applyChanges(workspaceRoot, rec.Changes); err != nil {
		rec.Status = StatusFailed
		rec.Reason = err.Error()
		m.audit(rec.SessionID, "promotion_failed", map[string]interface{}{"promotion_id": rec.ID, "reason": err.Error()})
		return rec, err
	}

	rec.Status = StatusCommitted
	rec.CommittedAt = time.Now()
	m.logger.Info("promotion committed", map[string]interface{}{"promotion_id": rec.ID, "session_id": rec.SessionID, "files": len(rec.Changes)})
	m.audit(rec.SessionID, "promotion_post_tag", map[string]interface{}{"promotion_id": rec.ID, "committed_at": rec.CommittedAt})
	return rec, nil
}

// Undo reverts a committed promotion by restoring every touched path
// from its pre-apply archive.
func (m *Manager) Undo(recordID, workspaceRoot string) (*Record, error) {
	rec, err := m.find(recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusCommitted {
		return nil, arerr.New(arerr.KindPromotionConflict, "promotion "+recordID+" is not committed")
	}

	manifest, err := m.readManifest(rec.PreApplyArchivePath)
	if err != nil {
		return nil, err
	}
	for _, entry := range manifest {
		target, err := pathconfine.Confine(entry.Path, workspaceRoot)
		if err != nil {
			return nil, arerr.Wrap(arerr.KindPathEscape, "undo target escapes workspace", err)
		}
		if entry.Existed {
			archived := filepath.Join(rec.PreApplyArchivePath, "files", entry.Path)
			data, err := os.ReadFile(archived)
			if err != nil {
				return nil, arerr.Wrap(arerr.KindInternal, "cannot read archived file for undo", err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, arerr.Wrap(arerr.KindInternal, "cannot recreate directory for undo", err)
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return nil, arerr.Wrap(arerr.KindInternal, "cannot restore file for undo", err)
			}
		} else {
			os.Remove(target)
		}
	}

	rec.Status = StatusUndone
	m.logger.Info("promotion undone", map[string]interface{}{"promotion_id": rec.ID, "session_id": rec.SessionID})
	m.audit(rec.SessionID, "promotion_undone", map[string]interface{}{"promotion_id": rec.ID})
	return rec, nil
}

func (m *Manager) find(recordID string) (*Record, error) {
	rec, ok := m.records[recordID]
	if !ok {
		return nil, arerr.New(arerr.KindNotFound, "unknown promotion record: "+recordID)
	}
	return rec, nil
}

// archiveWorkspace copies the pre-apply contents of every changed path
// out of workspaceRoot into a per-promotion archive directory, plus a
// manifest recording whether each path existed before the apply.
func (m *Manager) archiveWorkspace(workspaceRoot, sessionID string, changes []sandbox.FileDiff) (string, error) {
	archiveID := uuid.New().String()
	archiveDir := filepath.Join(m.archiveDir, sessionID, archiveID)
	filesDir := filepath.Join(archiveDir, "files")
	if err := os.MkdirAll(filesDir, 0o700); err != nil {
		return "", arerr.Wrap(arerr.KindInternal, "cannot create promotion archive", err)
	}

	manifest := make([]archiveEntry, 0, len(changes))
	for _, d := range changes {
		target, err := pathconfine.Confine(d.Path, workspaceRoot)
		if err != nil {
			return "", arerr.Wrap(arerr.KindPathEscape, "promotion target escapes workspace", err)
		}
		existed := false
		if data, readErr := os.ReadFile(target); readErr == nil {
			existed = true
			dest := filepath.Join(filesDir, d.Path)
			if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
				return "", arerr.Wrap(arerr.KindInternal, "cannot create archive subdirectory", err)
			}
			if err := os.WriteFile(dest, data, 0o600); err != nil {
				return "", arerr.Wrap(arerr.KindInternal, "cannot write archived file", err)
			}
		}
		manifest = append(manifest, archiveEntry{Path: d.Path, Existed: existed})
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return "", arerr.Wrap(arerr.KindInternal, "cannot marshal promotion manifest", err)
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "manifest.json"), data, 0o600); err != nil {
		return "", arerr.Wrap(arerr.KindInternal, "cannot write promotion manifest", err)
	}
	return archiveDir, nil
}

func (m *Manager) readManifest(archiveDir string) ([]archiveEntry, error) {
	data, err := os.ReadFile(filepath.Join(archiveDir, "manifest.json"))
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot read promotion manifest", err)
	}
	var manifest []archiveEntry
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot parse promotion manifest", err)
	}
	return manifest, nil
}

// applyChanges writes or deletes each changed path under workspaceRoot,
// confining every target to prevent escape outside the real workspace.
func (m *Manager) applyChanges(workspaceRoot string, changes []sandbox.FileDiff) error {
	for _, d := range changes {
		target, err := pathconfine.Confine(d.Path, workspaceRoot)
		if err != nil {
			return arerr.Wrap(arerr.KindPathEscape, "promotion target escapes workspace", err)
		}
		if d.Status == sandbox.Deleted {
			os.Remove(target)
			continue
		}
		data, err := m.sb.Read(d.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return arerr.Wrap(arerr.KindInternal, "cannot create directory for promoted file", err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return arerr.Wrap(arerr.KindInternal, "cannot write promoted file", err)
		}
	}
	return nil
}

func (m *Manager) audit(sessionID, eventType string, details map[string]interface{}) {
	if m.auditLog == nil {
		return
	}
	m.auditLog.Append(sessionID, eventType, audit.ActorOperator, details)
}
