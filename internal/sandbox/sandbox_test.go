package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAllocatesIsolatedRoot(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sb.ID() == "" {
		t.Fatal("expected a non-empty sandbox id")
	}
	if sb.Root() == "" {
		t.Fatal("expected a non-empty sandbox root")
	}

	other, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sb.ID() == other.ID() {
		t.Fatal("expected distinct sandboxes to get distinct ids")
	}
}

func TestWriteReadExists(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if sb.Exists("main.go") {
		t.Fatal("expected file to not exist before write")
	}
	if err := sb.Write("main.go", []byte("package main\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !sb.Exists("main.go") {
		t.Fatal("expected file to exist after write")
	}
	data, err := sb.Read("main.go")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "package main\n" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestWriteNestedPathCreatesParents(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sb.Write("internal/pkg/file.go", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := sb.Read("internal/pkg/file.go")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "x" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestReadMissingFileReturnsNotFound(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := sb.Read("missing.txt"); err == nil {
		t.Fatal("expected an error reading a missing file")
	}
}

func TestWriteRejectsPathEscape(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sb.Write("../escape.txt", []byte("x")); err == nil {
		t.Fatal("expected path escape to be rejected")
	}
}

func TestListReturnsSortedInventory(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, path := range []string{"b.txt", "a.txt", "dir/c.txt"} {
		if err := sb.Write(path, []byte(path)); err != nil {
			t.Fatalf("Write %s: %v", path, err)
		}
	}
	files, err := sb.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i].Path < files[i-1].Path {
			t.Errorf("expected sorted inventory, got %v then %v", files[i-1].Path, files[i].Path)
		}
	}
}

func TestSnapshotAndDiffDetectsAddedModifiedDeleted(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sb.Write("kept.txt", []byte("same\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sb.Write("changed.txt", []byte("before\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sb.Write("removed.txt", []byte("gone\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	baseline, err := sb.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if err := sb.Write("changed.txt", []byte("after\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sb.Write("added.txt", []byte("new\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.Remove(filepath.Join(sb.Root(), "removed.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	diffs, err := sb.Diff(baseline)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	byPath := make(map[string]FileDiff, len(diffs))
	for _, d := range diffs {
		byPath[d.Path] = d
	}

	if _, ok := byPath["kept.txt"]; ok {
		t.Error("expected unchanged file to be absent from the diff")
	}
	added, ok := byPath["added.txt"]
	if !ok || added.Status != Added {
		t.Errorf("expected added.txt to be reported as added, got %+v", added)
	}
	modified, ok := byPath["changed.txt"]
	if !ok || modified.Status != Modified {
		t.Errorf("expected changed.txt to be reported as modified, got %+v", modified)
	}
	deleted, ok := byPath["removed.txt"]
	if !ok || deleted.Status != Deleted {
		t.Errorf("expected removed.txt to be reported as deleted, got %+v", deleted)
	}
}

func TestRestoreSnapshotRevertsLiveOverlay(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sb.Write("file.txt", []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	snap, err := sb.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := sb.Write("file.txt", []byte("v2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sb.Write("extra.txt", []byte("scratch")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := sb.RestoreSnapshot(snap); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	data, err := sb.Read("file.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "v1" {
		t.Errorf("expected restored content v1, got %q", data)
	}
	if sb.Exists("extra.txt") {
		t.Error("expected file absent from the snapshot to be gone after restore")
	}
}

func TestDiffUnknownSnapshotFails(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := sb.Diff("does-not-exist"); err == nil {
		t.Fatal("expected diff against an unknown snapshot id to fail")
	}
}

func TestDestroyRemovesSandboxAndSnapshots(t *testing.T) {
	sb, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sb.Write("file.txt", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := sb.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if err := sb.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(sb.Root()); !os.IsNotExist(err) {
		t.Error("expected sandbox root to be removed")
	}
	if _, err := os.Stat(sb.snapshotsDir); !os.IsNotExist(err) {
		t.Error("expected snapshot dir to be removed")
	}
}
