package executor

import (
	"fmt"
	"html"
	"strings"

	"github.com/ara-systems/ara/internal/sandbox"
	"github.com/ara-systems/ara/internal/wisdom"
)

// maxRecentSummaries bounds how many prior task summaries ride along in
// a task's context block (§4.11 item 2).
const maxRecentSummaries = 10

// escapeForContext prevents a prior task's output or a skill body from
// being mistaken for a context-block delimiter by the LLM.
func escapeForContext(s string) string {
	return html.EscapeString(s)
}

// TaskSummary is a previously completed task's contribution to the
// running context, appended after every commit per §4.11's "#1
// correctness requirement" (next task must see what the last one did).
type TaskSummary struct {
	Title   string
	Summary string
}

// contextBlock assembles the four-part context a task is executed with:
// sandbox inventory, recent task summaries, the selected skill's full
// instruction body, and relevant institutional-wisdom passages.
func buildContextBlock(inventory []sandbox.FileInfo, recent []TaskSummary, skillName, skillBody string, passages []wisdom.Recalled) string {
	var b strings.Builder

	b.WriteString("<sandbox-inventory>\n")
	for _, f := range inventory {
		fmt.Fprintf(&b, "%s (%d bytes)\n", escapeForContext(f.Path), f.Size)
	}
	b.WriteString("</sandbox-inventory>\n\n")

	if len(recent) > 0 {
		start := 0
		if len(recent) > maxRecentSummaries {
			start = len(recent) - maxRecentSummaries
		}
		b.WriteString("<recent-tasks>\n")
		for _, s := range recent[start:] {
			fmt.Fprintf(&b, "- %s: %s\n", escapeForContext(s.Title), escapeForContext(s.Summary))
		}
		b.WriteString("</recent-tasks>\n\n")
	}

	if skillName != "" {
		fmt.Fprintf(&b, "<skill name=%q>\n%s\n</skill>\n\n", skillName, escapeForContext(skillBody))
	}

	if len(passages) > 0 {
		b.WriteString("<institutional-memory>\n")
		for _, p := range passages {
			fmt.Fprintf(&b, "- %s\n", escapeForContext(p.Content))
		}
		b.WriteString("</institutional-memory>\n\n")
	}

	return b.String()
}
