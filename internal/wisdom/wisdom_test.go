package wisdom

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRememberRecall(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Remember("the deploy workflow requires a staging smoke test before promotion", Meta{
		Source:     "session:abc",
		Importance: 0.8,
		Tags:       []string{"deploy"},
	}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if _, err := s.Remember("we decided to use bleve for full-text recall", Meta{
		Source: "session:def",
	}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	results, err := s.Recall("staging smoke test deploy", RecallOpts{Limit: 5})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) < 1 {
		t.Fatal("expected at least 1 result")
	}
	for _, r := range results {
		if r.ID == "" || r.Content == "" {
			t.Error("result missing id or content")
		}
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score out of [0,1] range: %f", r.Score)
		}
	}
}

func TestRecallTagFilter(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Remember("rollback requires re-running migrations in reverse order", Meta{Tags: []string{"migrations"}}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if _, err := s.Remember("rollback of the cache layer is a no-op", Meta{Tags: []string{"cache"}}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	results, err := s.Recall("rollback", RecallOpts{Limit: 10, Tags: []string{"migrations"}})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	for _, r := range results {
		if !hasAnyTag(r.Tags, []string{"migrations"}) {
			t.Errorf("result %q leaked past tag filter, tags=%v", r.Content, r.Tags)
		}
	}
}

func TestConsolidateSessionStoresInsights(t *testing.T) {
	s := newTestStore(t)
	transcript := []Transcript{
		{Role: "operator", Content: "please update the config loader"},
		{Role: "agent", Content: "We decided to use layered defaults -> file -> env precedence for configuration, since that matched the existing pattern and avoided surprising overrides."},
	}
	if err := s.ConsolidateSession("sess-1", transcript); err != nil {
		t.Fatalf("ConsolidateSession: %v", err)
	}

	results, err := s.Recall("configuration precedence", RecallOpts{Limit: 5})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) == 0 {
		t.Error("expected consolidated insight to be recallable")
	}
}

func TestContextQuery(t *testing.T) {
	if got := ContextQuery("", "fix the bug"); got != "fix the bug" {
		t.Errorf("expected bare goal, got %q", got)
	}
	if got := ContextQuery("refactor-helper", "fix the bug"); got != "skill:refactor-helper fix the bug" {
		t.Errorf("unexpected context query: %q", got)
	}
}
