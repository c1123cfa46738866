package drift

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRescanDetectsAddedAndModifiedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("original"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	m, err := Baseline(dir)
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("changed"), 0o644); err != nil {
		t.Fatalf("modify file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("new"), 0o644); err != nil {
		t.Fatalf("add file: %v", err)
	}

	severity, changes, err := m.Rescan()
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if severity != SeverityLow {
		t.Errorf("expected low severity for 2 changes, got %s", severity)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(changes), changes)
	}
}

func TestRescanDetectsDeletionAsHighSeverity(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	m, err := Baseline(dir)
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}
	if err := os.Remove(target); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	severity, changes, err := m.Rescan()
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if severity != SeverityHigh {
		t.Errorf("expected high severity on deletion, got %s", severity)
	}
	if len(changes) != 1 || changes[0].Kind != "deleted" {
		t.Fatalf("expected one deletion, got %+v", changes)
	}
}

func TestRescanWithNoChangesIsNone(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("stable"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	m, err := Baseline(dir)
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}

	severity, changes, err := m.Rescan()
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if severity != SeverityNone || len(changes) != 0 {
		t.Fatalf("expected no drift, got severity=%s changes=%+v", severity, changes)
	}
}

func TestWatchStartsAndStopsCleanly(t *testing.T) {
	dir := t.TempDir()
	m, err := Baseline(dir)
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}
	if err := m.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRescanFallsBackToFullWalkWithoutWatch(t *testing.T) {
	dir := t.TempDir()
	m, err := Baseline(dir)
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}
	// No Watch() call: takeDirty returns nil, so Rescan must use the full
	// tree-walk path and still succeed on an unchanged, unwatched tree.
	severity, _, err := m.Rescan()
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if severity != SeverityNone {
		t.Errorf("expected none, got %s", severity)
	}
}
