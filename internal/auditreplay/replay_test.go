package auditreplay

import (
	"strings"
	"testing"

	"github.com/ara-systems/ara/internal/audit"
)

func testEntries(t *testing.T) []audit.Entry {
	t.Helper()
	log, err := audit.Open(t.TempDir()+"/audit.log", []byte("test-key-0123456789"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	if _, err := log.Append("sess-1", "session_started", audit.ActorAgent, map[string]interface{}{"goal": "build"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.Append("sess-1", "aegis_gate_evaluated", audit.ActorGate, map[string]interface{}{"approved": false, "kind": "secrets", "reason": "found a key"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.Append("sess-1", "session_completed", audit.ActorAgent, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, err := log.Query("sess-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return entries
}

func TestRenderIncludesBlockedReason(t *testing.T) {
	out := Render(testEntries(t))
	if !strings.Contains(out, "reason") {
		t.Error("expected rendered timeline to surface the block reason")
	}
	if !strings.Contains(out, "aegis_gate_evaluated") {
		t.Error("expected rendered timeline to include the gate event")
	}
}

func TestComputeStatsCountsBlocked(t *testing.T) {
	stats := ComputeStats(testEntries(t))
	if stats.TotalEvents != 3 {
		t.Fatalf("expected 3 events, got %d", stats.TotalEvents)
	}
	if stats.BlockedCount != 1 {
		t.Fatalf("expected 1 blocked event, got %d", stats.BlockedCount)
	}
	if stats.EventsByActor[audit.ActorGate] != 1 {
		t.Fatalf("expected 1 gate event, got %d", stats.EventsByActor[audit.ActorGate])
	}
}

func TestGroupBySessionOrdersByTime(t *testing.T) {
	entries := testEntries(t)
	groups := GroupBySession(entries)
	if len(groups["sess-1"]) != 3 {
		t.Fatalf("expected 3 entries for sess-1, got %d", len(groups["sess-1"]))
	}
}
