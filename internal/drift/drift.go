// Package drift implements the Drift Monitor: detects external
// modifications to the real workspace while a session runs, against a
// baseline fingerprint captured at session start.
package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ara-systems/ara/internal/arerr"
)

// contentHashThreshold: files at or below this size are content-hashed;
// larger files are fingerprinted by mtime+size only, to keep re-scans
// cheap.
const contentHashThreshold = 256 * 1024

// Severity is a closed enumeration.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// fingerprint is one file's baseline record.
type fingerprint struct {
	ModTime time.Time
	Size    int64
	Hash    string // empty if above contentHashThreshold
}

// Monitor watches one real workspace directory for drift against its
// session-start baseline.
type Monitor struct {
	root     string
	baseline map[string]fingerprint

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dirty   map[string]bool // relative paths touched since the last Rescan
}

// Baseline captures the current state of root as the drift baseline.
func Baseline(root string) (*Monitor, error) {
	m := &Monitor{root: root, baseline: map[string]fingerprint{}}
	fp, err := fingerprintTree(root)
	if err != nil {
		return nil, err
	}
	m.baseline = fp
	return m, nil
}

// Watch starts an fsnotify watch over root's directory tree so Rescan can
// re-hash only the paths a notification flagged instead of walking the
// whole tree every cadence tick. Watch failures are non-fatal: Rescan
// always falls back to a full walk when no watcher is active.
func (m *Monitor) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot start workspace watcher", err)
	}
	err = filepath.WalkDir(m.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.Add(path)
	})
	if err != nil {
		w.Close()
		return arerr.Wrap(arerr.KindInternal, "cannot watch workspace tree", err)
	}

	m.mu.Lock()
	m.watcher = w
	m.dirty = map[string]bool{}
	m.mu.Unlock()

	go func() {
		for event := range w.Events {
			rel, relErr := filepath.Rel(m.root, event.Name)
			if relErr != nil {
				continue
			}
			m.mu.Lock()
			m.dirty[filepath.ToSlash(rel)] = true
			m.mu.Unlock()
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					w.Add(event.Name)
				}
			}
		}
	}()

	return nil
}

// Close stops the fsnotify watch, if one is active.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return nil
	}
	err := m.watcher.Close()
	m.watcher = nil
	return err
}

// takeDirty drains and returns the set of paths touched since the last
// call, or nil if no watcher is active (caller should fall back to a
// full walk).
func (m *Monitor) takeDirty() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return nil
	}
	dirty := m.dirty
	m.dirty = map[string]bool{}
	return dirty
}

func fingerprintTree(root string) (map[string]fingerprint, error) {
	out := map[string]fingerprint{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		fp := fingerprint{ModTime: info.ModTime(), Size: info.Size()}
		if info.Size() <= contentHashThreshold {
			data, readErr := os.ReadFile(path)
			if readErr == nil {
				sum := sha256.Sum256(data)
				fp.Hash = hex.EncodeToString(sum[:])
			}
		}
		out[filepath.ToSlash(rel)] = fp
		return nil
	})
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot fingerprint workspace", err)
	}
	return out, nil
}

// Changed describes one drifted file.
type Changed struct {
	Path   string
	Kind   string // added, modified, deleted
}

// Rescan detects drift against the baseline. When Watch has registered an
// active fsnotify watcher, only the paths it flagged since the last call
// are re-hashed; otherwise Rescan falls back to a full tree walk.
// Severity >= medium should be surfaced to the session decision log;
// high should trigger pause.
func (m *Monitor) Rescan() (Severity, []Changed, error) {
	if dirty := m.takeDirty(); dirty != nil {
		return m.rescanDirty(dirty)
	}
	return m.rescanFull()
}

func (m *Monitor) rescanFull() (Severity, []Changed, error) {
	current, err := fingerprintTree(m.root)
	if err != nil {
		return SeverityNone, nil, err
	}

	var changes []Changed
	for path, fp := range current {
		if c, changed := m.classifyPath(path, fp); changed {
			changes = append(changes, c)
		}
	}
	for path := range m.baseline {
		if _, stillExists := current[path]; !stillExists {
			changes = append(changes, Changed{Path: path, Kind: "deleted"})
		}
	}

	return classify(changes), changes, nil
}

// rescanDirty re-hashes only the watcher-flagged paths, trading full
// coverage of out-of-band renames for a re-scan that costs O(touched
// files) instead of O(tree size) on every loop cadence tick.
func (m *Monitor) rescanDirty(dirty map[string]bool) (Severity, []Changed, error) {
	var changes []Changed
	for rel := range dirty {
		abs := filepath.Join(m.root, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		if err != nil {
			if _, existed := m.baseline[rel]; existed {
				changes = append(changes, Changed{Path: rel, Kind: "deleted"})
			}
			continue
		}
		if info.IsDir() {
			continue
		}
		fp := fingerprint{ModTime: info.ModTime(), Size: info.Size()}
		if info.Size() <= contentHashThreshold {
			if data, readErr := os.ReadFile(abs); readErr == nil {
				sum := sha256.Sum256(data)
				fp.Hash = hex.EncodeToString(sum[:])
			}
		}
		if c, changed := m.classifyPath(rel, fp); changed {
			changes = append(changes, c)
		}
	}
	return classify(changes), changes, nil
}

// classifyPath compares one path's current fingerprint to its baseline.
func (m *Monitor) classifyPath(path string, fp fingerprint) (Changed, bool) {
	base, existed := m.baseline[path]
	if !existed {
		return Changed{Path: path, Kind: "added"}, true
	}
	if base.Hash != "" && fp.Hash != "" {
		if base.Hash != fp.Hash {
			return Changed{Path: path, Kind: "modified"}, true
		}
		return Changed{}, false
	}
	if !base.ModTime.Equal(fp.ModTime) || base.Size != fp.Size {
		return Changed{Path: path, Kind: "modified"}, true
	}
	return Changed{}, false
}

// classify maps change count/kind to a severity tier. Deletions weigh
// more heavily than additions since they are more likely to break a
// running session's assumptions about prior task outputs.
func classify(changes []Changed) Severity {
	if len(changes) == 0 {
		return SeverityNone
	}
	deletions := 0
	for _, c := range changes {
		if c.Kind == "deleted" {
			deletions++
		}
	}
	switch {
	case deletions >= 1 || len(changes) >= 10:
		return SeverityHigh
	case len(changes) >= 4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
