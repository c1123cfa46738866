// Package checkpoint implements the Checkpoint Manager: versioned
// snapshots of sandbox state plus serialized session state, with
// rollback support. Session state is handled as an opaque serialized
// blob so this package has no dependency on the session package.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ara-systems/ara/internal/arerr"
	"github.com/ara-systems/ara/internal/sandbox"
)

// Checkpoint is a `(snapshot_id, serialized_session_state)` pair with a
// timestamp. Immutable once recorded.
type Checkpoint struct {
	ID           string
	SessionID    string
	SnapshotID   string
	SessionState json.RawMessage
	Timestamp    time.Time
	Milestone    bool // tagged at a milestone boundary, exempt from pruning
}

// Manager owns a session's checkpoint history and retention policy.
type Manager struct {
	dir      string
	sandbox  *sandbox.Sandbox
	keepLast int
	history  []*Checkpoint
}

// NewManager creates a checkpoint manager persisting under dir for the
// given sandbox, retaining at least keepLast non-milestone checkpoints.
func NewManager(dir string, sb *sandbox.Sandbox, keepLast int) (*Manager, error) {
	if keepLast <= 0 {
		keepLast = 5
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot create checkpoint dir", err)
	}
	return &Manager{dir: dir, sandbox: sb, keepLast: keepLast}, nil
}

// Save records (sandbox.Snapshot(), sessionState) as a new checkpoint.
func (m *Manager) Save(sessionID string, sessionState json.RawMessage, milestone bool) (*Checkpoint, error) {
	snapID, err := m.sandbox.Snapshot()
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "checkpoint snapshot failed", err)
	}

	cp := &Checkpoint{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		SnapshotID:   snapID,
		SessionState: sessionState,
		Timestamp:    time.Now(),
		Milestone:    milestone,
	}

	if err := m.persist(cp); err != nil {
		return nil, err
	}
	m.history = append(m.history, cp)
	m.prune()
	return cp, nil
}

func (m *Manager) persist(cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot marshal checkpoint", err)
	}
	path := filepath.Join(m.dir, cp.ID+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return arerr.Wrap(arerr.KindInternal, "checkpoint write error", err)
	}
	return nil
}

// List returns ordered checkpoint records for a session.
func (m *Manager) List(sessionID string) []*Checkpoint {
	var out []*Checkpoint
	for _, cp := range m.history {
		if cp.SessionID == sessionID {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Restore returns the sandbox to the checkpoint's snapshot and returns the
// serialized session state; the caller (Session) is responsible for
// transitioning to paused after applying it.
func (m *Manager) Restore(checkpointID string) (json.RawMessage, error) {
	cp := m.find(checkpointID)
	if cp == nil {
		return nil, arerr.New(arerr.KindNotFound, "unknown checkpoint: "+checkpointID)
	}
	if err := m.sandbox.RestoreSnapshot(cp.SnapshotID); err != nil {
		return nil, err
	}
	return cp.SessionState, nil
}

// Rollback is Restore plus a discarded-tasks marker the caller should
// append to the audit log; it returns the dropped checkpoints so the
// caller can describe what was discarded.
func (m *Manager) Rollback(checkpointID string) (json.RawMessage, []*Checkpoint, error) {
	state, err := m.Restore(checkpointID)
	if err != nil {
		return nil, nil, err
	}
	target := m.find(checkpointID)
	var discarded []*Checkpoint
	var kept []*Checkpoint
	for _, cp := range m.history {
		if cp.SessionID == target.SessionID && cp.Timestamp.After(target.Timestamp) {
			discarded = append(discarded, cp)
		} else {
			kept = append(kept, cp)
		}
	}
	m.history = kept
	return state, discarded, nil
}

func (m *Manager) find(id string) *Checkpoint {
	for _, cp := range m.history {
		if cp.ID == id {
			return cp
		}
	}
	return nil
}

// prune keeps all checkpoints tagged milestone plus the most recent
// keepLast non-milestone checkpoints per session; older ones are removed
// from the in-memory history (their files are left for forensic replay).
func (m *Manager) prune() {
	bySession := map[string][]*Checkpoint{}
	for _, cp := range m.history {
		bySession[cp.SessionID] = append(bySession[cp.SessionID], cp)
	}

	var kept []*Checkpoint
	for _, cps := range bySession {
		sort.Slice(cps, func(i, j int) bool { return cps[i].Timestamp.Before(cps[j].Timestamp) })
		var nonMilestone []*Checkpoint
		for _, cp := range cps {
			if cp.Milestone {
				kept = append(kept, cp)
			} else {
				nonMilestone = append(nonMilestone, cp)
			}
		}
		if len(nonMilestone) > m.keepLast {
			nonMilestone = nonMilestone[len(nonMilestone)-m.keepLast:]
		}
		kept = append(kept, nonMilestone...)
	}
	m.history = kept
}
