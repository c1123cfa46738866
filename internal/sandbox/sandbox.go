// Package sandbox implements the Workspace Sandbox: a session-scoped
// isolated working directory with create -> edit -> snapshot -> diff ->
// destroy lifecycle. Isolation mechanism is pluggable; this package ships
// the local-overlay backend, a valid implementation for development and
// the kernel's sandbox contract (no sandbox operation affects the real
// workspace; writes persist across task boundaries; snapshots are cheap).
package sandbox

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ara-systems/ara/internal/arerr"
	"github.com/ara-systems/ara/internal/pathconfine"
)

// FileInfo is one entry in the sandbox inventory.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ChangeStatus is a closed enumeration for diff entries.
type ChangeStatus string

const (
	Added    ChangeStatus = "added"
	Modified ChangeStatus = "modified"
	Deleted  ChangeStatus = "deleted"
)

// FileDiff is one per-file diff entry.
type FileDiff struct {
	Path      string
	Status    ChangeStatus
	Additions int
	Deletions int
	Unified   string
}

// snapshot is an internal cheap snapshot: a manifest of path -> content
// hash, plus a full copy of file bytes under the snapshot directory so
// diff/restore never depend on the live overlay's current state.
type snapshot struct {
	id       string
	manifest map[string]string // path -> sha256 hex
	dir      string
}

// Sandbox is a local-overlay-backed isolated working directory.
type Sandbox struct {
	id   string
	root string // the overlay directory — never the real workspace

	snapshotsDir string
	snapshots    map[string]*snapshot
}

// Create allocates a new sandbox rooted at a fresh directory under
// baseDir. baseDir must never be the operator's real workspace.
func Create(baseDir string) (*Sandbox, error) {
	id := uuid.New().String()
	root := filepath.Join(baseDir, "sandboxes", id)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot create sandbox root", err)
	}
	snapDir := filepath.Join(baseDir, "snapshots", id)
	if err := os.MkdirAll(snapDir, 0o700); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot create snapshot dir", err)
	}
	return &Sandbox{
		id:           id,
		root:         root,
		snapshotsDir: snapDir,
		snapshots:    map[string]*snapshot{},
	}, nil
}

// ID returns the sandbox's opaque identifier.
func (s *Sandbox) ID() string { return s.id }

// Root returns the sandbox's overlay directory (for wiring into
// transports that need a real path, e.g. shelling out to diff tools).
func (s *Sandbox) Root() string { return s.root }

// Write persists bytes at path (confined to the sandbox root).
func (s *Sandbox) Write(path string, data []byte) error {
	resolved, err := pathconfine.Confine(path, s.root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot create parent directory", err)
	}
	if err := os.WriteFile(resolved, data, 0o600); err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot write sandbox file", err)
	}
	return nil
}

// Read reads bytes at path (confined to the sandbox root).
func (s *Sandbox) Read(path string) ([]byte, error) {
	resolved, err := pathconfine.Confine(path, s.root)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, arerr.New(arerr.KindNotFound, "sandbox file not found: "+path)
		}
		return nil, arerr.Wrap(arerr.KindInternal, "cannot read sandbox file", err)
	}
	return data, nil
}

// Exists reports whether path exists in the sandbox.
func (s *Sandbox) Exists(path string) bool {
	resolved, err := pathconfine.Confine(path, s.root)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(resolved)
	return statErr == nil
}

// List returns a recursive inventory of the sandbox, relative paths.
func (s *Sandbox) List() ([]FileInfo, error) {
	var out []FileInfo
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		out = append(out, FileInfo{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot list sandbox", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Snapshot records a cheap, stable copy of the current sandbox state and
// returns its id.
func (s *Sandbox) Snapshot() (string, error) {
	id := uuid.New().String()
	dir := filepath.Join(s.snapshotsDir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", arerr.Wrap(arerr.KindInternal, "cannot create snapshot dir", err)
	}

	files, err := s.List()
	if err != nil {
		return "", err
	}
	manifest := make(map[string]string, len(files))
	for _, f := range files {
		data, err := s.Read(f.Path)
		if err != nil {
			return "", err
		}
		h := sha256.Sum256(data)
		hexHash := hex.EncodeToString(h[:])
		manifest[f.Path] = hexHash

		dest := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			return "", arerr.Wrap(arerr.KindInternal, "cannot create snapshot subdir", err)
		}
		if err := os.WriteFile(dest, data, 0o600); err != nil {
			return "", arerr.Wrap(arerr.KindInternal, "cannot write snapshot file", err)
		}
	}

	s.snapshots[id] = &snapshot{id: id, manifest: manifest, dir: dir}
	return id, nil
}

// Diff compares the current sandbox state against a prior snapshot.
func (s *Sandbox) Diff(againstSnapshot string) ([]FileDiff, error) {
	snap, ok := s.snapshots[againstSnapshot]
	if !ok {
		return nil, arerr.New(arerr.KindNotFound, "unknown snapshot: "+againstSnapshot)
	}

	current, err := s.List()
	if err != nil {
		return nil, err
	}
	currentSet := make(map[string]FileInfo, len(current))
	for _, f := range current {
		currentSet[f.Path] = f
	}

	var diffs []FileDiff
	for path := range currentSet {
		data, err := s.Read(path)
		if err != nil {
			return nil, err
		}
		h := sha256.Sum256(data)
		hexHash := hex.EncodeToString(h[:])
		prevHash, existed := snap.manifest[path]
		if !existed {
			additions := countLines(data)
			diffs = append(diffs, FileDiff{Path: path, Status: Added, Additions: additions, Unified: unifiedDiff("", string(data))})
			continue
		}
		if prevHash != hexHash {
			prevData, _ := os.ReadFile(filepath.Join(snap.dir, path))
			add, del := lineDelta(prevData, data)
			diffs = append(diffs, FileDiff{Path: path, Status: Modified, Additions: add, Deletions: del, Unified: unifiedDiff(string(prevData), string(data))})
		}
	}
	for path := range snap.manifest {
		if _, stillExists := currentSet[path]; !stillExists {
			prevData, _ := os.ReadFile(filepath.Join(snap.dir, path))
			diffs = append(diffs, FileDiff{Path: path, Status: Deleted, Deletions: countLines(prevData), Unified: unifiedDiff(string(prevData), "")})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })
	return diffs, nil
}

// RestoreSnapshot replaces the live overlay contents with the snapshot's
// recorded state, used by the Checkpoint Manager's restore operation.
func (s *Sandbox) RestoreSnapshot(id string) error {
	snap, ok := s.snapshots[id]
	if !ok {
		return arerr.New(arerr.KindNotFound, "unknown snapshot: "+id)
	}
	if err := os.RemoveAll(s.root); err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot clear sandbox root", err)
	}
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot recreate sandbox root", err)
	}
	for path := range snap.manifest {
		data, err := os.ReadFile(filepath.Join(snap.dir, path))
		if err != nil {
			return arerr.Wrap(arerr.KindInternal, "cannot read snapshot file", err)
		}
		if err := s.Write(path, data); err != nil {
			return err
		}
	}
	return nil
}

// Destroy removes the sandbox and all its snapshots.
func (s *Sandbox) Destroy() error {
	if err := os.RemoveAll(s.root); err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot destroy sandbox", err)
	}
	if err := os.RemoveAll(s.snapshotsDir); err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot destroy sandbox snapshots", err)
	}
	return nil
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	return strings.Count(string(data), "\n") + 1
}

func lineDelta(before, after []byte) (additions, deletions int) {
	beforeLines := splitLines(string(before))
	afterLines := splitLines(string(after))
	beforeSet := toLineSet(beforeLines)
	afterSet := toLineSet(afterLines)
	for line, count := range afterSet {
		if beforeSet[line] < count {
			additions += count - beforeSet[line]
		}
	}
	for line, count := range beforeSet {
		if afterSet[line] < count {
			deletions += count - afterSet[line]
		}
	}
	return
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func toLineSet(lines []string) map[string]int {
	m := make(map[string]int, len(lines))
	for _, l := range lines {
		m[l]++
	}
	return m
}

// unifiedDiff renders a minimal line-oriented unified diff; good enough
// for audit-log detail and promotion review, not a general diff3 engine.
func unifiedDiff(before, after string) string {
	var b strings.Builder
	w := bufio.NewWriter(&b)
	beforeLines := splitLines(before)
	afterLines := splitLines(after)

	beforeSet := toLineSet(beforeLines)
	afterSet := toLineSet(afterLines)

	for _, l := range beforeLines {
		if afterSet[l] == 0 {
			fmt.Fprintf(w, "-%s\n", l)
		}
	}
	for _, l := range afterLines {
		if beforeSet[l] == 0 {
			fmt.Fprintf(w, "+%s\n", l)
		}
	}
	w.Flush()
	return b.String()
}
