package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"
	"github.com/tildaslashalef/ewsync/internal/sync"
)

// View renders the sync progress view.
func (m Model) View() string {
	var sb strings.Builder

	switch {
	case m.done:
		sb.WriteString(m.styles.Title.Render("Sync finished"))
	case m.stopping:
		sb.WriteString(m.styles.Warning.Render(fmt.Sprintf("%s Stopping after the current folder...", m.spinner.View())))
	default:
		sb.WriteString(m.styles.Title.Render(fmt.Sprintf("%s Syncing %d account(s)", m.spinner.View(), len(m.ids))))
	}
	sb.WriteString("\n\n")

	for _, id := range m.ids {
		m.renderAccount(&sb, m.accounts[id])
	}

	if !m.done {
		sb.WriteString("\n")
		sb.WriteString(m.help.View(m.keymap))
	}
	sb.WriteString("\n")
	return sb.String()
}

func (m Model) renderAccount(sb *strings.Builder, av *accountView) {
	sb.WriteString(m.styles.Account.Render(av.name))
	sb.WriteString(" ")

	switch {
	case av.err != nil:
		sb.WriteString(m.styles.Error.Render("not started: " + av.err.Error()))
	case av.finished:
		sb.WriteString(m.styles.Status(av.status))
	case av.running:
		sb.WriteString(m.styles.Info.Render(string(av.state.Phase)))
	default:
		sb.WriteString(m.styles.Subtle.Render("waiting"))
	}
	sb.WriteString("\n")

	for _, f := range av.folders {
		mark := m.styles.Success.Render("✓")
		if f.status != sync.StatusOK {
			mark = m.styles.Error.Render("✗")
		}
		line := fmt.Sprintf("%s %s  %s", mark, f.name, m.styles.Status(f.status))
		sb.WriteString(indent(wordwrap.String(line, max(m.width-4, 20)), "    "))
		sb.WriteString("\n")
	}

	if av.running && av.state.FolderName != "" {
		sb.WriteString("    ")
		sb.WriteString(av.state.FolderName)
		if remaining := av.state.Remaining(m.now()); remaining > 0 {
			sb.WriteString(m.styles.Subtle.Render(fmt.Sprintf("  timeout in %s", remaining.Round(time.Second))))
		}
		sb.WriteString("\n")
		if av.state.Todo > 0 {
			sb.WriteString("    ")
			sb.WriteString(m.progress.ViewAs(float64(av.state.Done) / float64(av.state.Todo)))
			sb.WriteString(fmt.Sprintf(" %d/%d", av.state.Done, av.state.Todo))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
