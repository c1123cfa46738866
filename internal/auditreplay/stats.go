package auditreplay

import (
	"fmt"
	"sort"

	"github.com/ara-systems/ara/internal/audit"
)

// Stats holds aggregate counters for one session's audit timeline —
// the forensic-review analogue of the teacher's per-model token-usage
// summary, recast over actors and event types instead of LLM calls.
type Stats struct {
	TotalEvents      int
	EventsByActor    map[audit.Actor]int
	EventsByType     map[string]int
	BlockedCount     int
	PromotionOutcome string // empty if no promotion event occurred
	FinalStatus      string // the last session_* status-changing event's type
}

// ComputeStats aggregates one session's chain-ordered entries.
func ComputeStats(entries []audit.Entry) *Stats {
	s := &Stats{
		EventsByActor: map[audit.Actor]int{},
		EventsByType:  map[string]int{},
	}
	for _, e := range entries {
		s.TotalEvents++
		s.EventsByActor[e.Actor]++
		s.EventsByType[e.EventType]++
		if blocked(e) {
			s.BlockedCount++
		}
		switch e.EventType {
		case "promotion_committed", "promotion_blocked", "promotion_rejected", "promotion_undone":
			s.PromotionOutcome = e.EventType
		case "session_completed", "session_stopped", "session_started":
			s.FinalStatus = e.EventType
		}
	}
	return s
}

// Summary renders a short textual digest of the stats, ordered by event
// count descending so the most frequent event types surface first.
func (s *Stats) Summary() string {
	type kv struct {
		Type  string
		Count int
	}
	ordered := make([]kv, 0, len(s.EventsByType))
	for t, c := range s.EventsByType {
		ordered = append(ordered, kv{t, c})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Count > ordered[j].Count })

	out := fmt.Sprintf("%d events (%d blocked)\n", s.TotalEvents, s.BlockedCount)
	for _, o := range ordered {
		out += fmt.Sprintf("  %-28s %d\n", o.Type, o.Count)
	}
	if s.PromotionOutcome != "" {
		out += fmt.Sprintf("promotion outcome: %s\n", s.PromotionOutcome)
	}
	return out
}
