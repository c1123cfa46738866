package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/ara-systems/ara/internal/sandbox"
)

var (
	reviewTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	reviewHelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	reviewAddStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	reviewDelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	reviewModStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// reviewDecision is what the operator chose after reading the diff.
type reviewDecision int

const (
	reviewPending reviewDecision = iota
	reviewApprove
	reviewReject
)

// reviewModel renders a scrollable promotion diff and waits for the
// operator to approve ('y'), reject ('n'), or quit without deciding
// ('q'/esc) — the interactive counterpart to AEGIS's unattended checks.
type reviewModel struct {
	vp       viewport.Model
	decision reviewDecision
	ready    bool
}

func newReviewModel(promotionID string, diffs []sandbox.FileDiff) reviewModel {
	var b strings.Builder
	fmt.Fprintf(&b, "promotion %s — %d file(s) changed\n\n", promotionID, len(diffs))
	for _, d := range diffs {
		style := reviewModStyle
		switch d.Status {
		case sandbox.Added:
			style = reviewAddStyle
		case sandbox.Deleted:
			style = reviewDelStyle
		}
		fmt.Fprintf(&b, "%s %s (+%d/-%d)\n", style.Render(string(d.Status)), d.Path, d.Additions, d.Deletions)
		if d.Unified != "" {
			b.WriteString(wordwrap.String(d.Unified, 100))
			b.WriteString("\n")
		}
	}
	vp := viewport.New(100, 24)
	vp.SetContent(b.String())
	return reviewModel{vp: vp}
}

func (m reviewModel) Init() tea.Cmd { return nil }

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width, m.vp.Height = msg.Width, msg.Height-3
		m.ready = true
	case tea.KeyMsg:
		switch msg.String() {
		case "y":
			m.decision = reviewApprove
			return m, tea.Quit
		case "n", "q", "esc", "ctrl+c":
			m.decision = reviewReject
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m reviewModel) View() string {
	help := reviewHelpStyle.Render("↑/↓ scroll · y approve · n/q reject")
	return reviewTitleStyle.Render("Promotion review") + "\n" + m.vp.View() + "\n" + help
}

// runReviewTUI drives the interactive diff viewer to completion and
// reports whether the operator approved the promotion.
func runReviewTUI(promotionID string, diffs []sandbox.FileDiff) (bool, error) {
	p := tea.NewProgram(newReviewModel(promotionID, diffs))
	final, err := p.Run()
	if err != nil {
		return false, err
	}
	m, ok := final.(reviewModel)
	if !ok {
		return false, fmt.Errorf("unexpected review model type")
	}
	return m.decision == reviewApprove, nil
}
