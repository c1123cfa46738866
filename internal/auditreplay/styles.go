// Package auditreplay renders the Audit Log as a human-readable
// timeline for forensic review — an operator walking a session's chain
// of custody after the fact. Styling follows the same component color
// scheme the teacher's session replay viewer used: actors and event
// categories each get a distinct, consistent color.
package auditreplay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // gray — timestamps, metadata

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // white — agent-authored events

	gateStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("14")) // cyan — AEGIS gate decisions

	operatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")) // magenta — operator actions

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	blockedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(6).
			Align(lipgloss.Right)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)
