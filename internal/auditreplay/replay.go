package auditreplay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ara-systems/ara/internal/audit"
)

// blockedEvents carries no inherent field on audit.Entry marking a
// decision as a denial; we infer it from the convention every gate/loop
// caller follows — an "approved": false key in Details, used by
// internal/aegis and internal/loop.
func blocked(e audit.Entry) bool {
	if approved, ok := e.Details["approved"]; ok {
		if b, ok := approved.(bool); ok {
			return !b
		}
	}
	return false
}

func actorStyle(a audit.Actor) func(string) string {
	switch a {
	case audit.ActorGate:
		return gateStyle.Render
	case audit.ActorOperator:
		return operatorStyle.Render
	default:
		return agentStyle.Render
	}
}

// Render walks entries (already filtered to one session, in chain
// order) and produces a colorized, human-readable timeline suitable for
// an operator reviewing what happened during a session.
func Render(entries []audit.Entry) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Audit timeline") + "\n" + divider + "\n")

	for i, e := range entries {
		line := renderEntry(i+1, e)
		b.WriteString(line + "\n")
	}
	return b.String()
}

func renderEntry(seq int, e audit.Entry) string {
	ts := timeStyle.Render(e.Timestamp.Format("15:04:05.000"))
	actor := actorStyle(e.Actor)(string(e.Actor))
	label := eventLabel(e)

	var status string
	switch {
	case blocked(e):
		status = blockedStyle.Render("BLOCKED")
	case e.EventType == "session_completed" || e.EventType == "promotion_committed":
		status = successStyle.Render("OK")
	default:
		status = ""
	}

	line := fmt.Sprintf("%s  %s  [%s]  %s", seqStyle.Render(fmt.Sprintf("#%d", seq)), ts, actor, label)
	if status != "" {
		line += "  " + status
	}
	if reason, ok := e.Details["reason"].(string); ok && reason != "" {
		line += "\n      " + labelStyle.Render("reason: ") + warnStyle.Render(reason)
	}
	return line
}

func eventLabel(e audit.Entry) string {
	return e.EventType
}

// RenderVerification shows the result of a chain-integrity check ahead
// of the timeline, since a tampered chain makes everything after the
// break forensically untrustworthy.
func RenderVerification(valid bool, entriesChecked int, err error) string {
	if err != nil {
		return blockedStyle.Render(fmt.Sprintf("chain verification error after %d entries: %v", entriesChecked, err))
	}
	if !valid {
		return blockedStyle.Render(fmt.Sprintf("chain INVALID — tampering detected within the first %d entries", entriesChecked))
	}
	return successStyle.Render(fmt.Sprintf("chain verified: %d entries, hash-linked and HMAC-signed", entriesChecked))
}

// GroupBySession splits a flat query result (e.g. from audit.Index's
// cross-session queries) into per-session, chain-ordered slices.
func GroupBySession(entries []audit.Entry) map[string][]audit.Entry {
	out := map[string][]audit.Entry{}
	for _, e := range entries {
		out[e.SessionID] = append(out[e.SessionID], e)
	}
	for id, es := range out {
		sort.Slice(es, func(i, j int) bool { return es[i].Timestamp.Before(es[j].Timestamp) })
		out[id] = es
	}
	return out
}
