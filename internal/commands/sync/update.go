package sync

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/sync"
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = min(msg.Width-10, 60)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			if m.done {
				return m, tea.Quit
			}
			// passes stop between folders; the view quits once they return
			m.stopping = true
			m.cancel()
			return m, nil
		case key.Matches(msg, m.keymap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.showHelp = !m.showHelp
			return m, nil
		}

	case spinner.TickMsg:
		if !m.done {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case TickMsg:
		if !m.done {
			cmds = append(cmds, tick())
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)

	case EventMsg:
		m.apply(sync.Event(msg))
		cmds = append(cmds, m.waitForEvent())

	case SyncCompleteMsg:
		m.done = true
		m.results = msg.Results
		m.errs = msg.Errors
		m.unsubscribe()
		m.cancel()
		m.finish(msg)
		loggy.Debug("Sync view finished", "accounts", len(m.ids), "not_started", len(msg.Errors))
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

func (m Model) apply(ev sync.Event) {
	av, ok := m.accounts[ev.State.AccountID]
	if !ok {
		return
	}

	av.state = ev.State
	switch ev.Type {
	case sync.EventAccountStarted:
		av.running = true
		av.finished = false
		av.folders = nil
	case sync.EventFolderFinished:
		av.folders = append(av.folders, folderLine{name: ev.State.FolderName, status: ev.State.Status})
	case sync.EventAccountFinished:
		av.running = false
		av.finished = true
		av.status = ev.State.Status
	}
}

// finish fills in outcomes the event stream may have dropped
func (m Model) finish(msg SyncCompleteMsg) {
	for _, r := range msg.Results {
		if r == nil {
			continue
		}
		av, ok := m.accounts[r.AccountID]
		if !ok {
			continue
		}
		av.running = false
		av.finished = true
		av.status = r.Status
		av.folders = av.folders[:0]
		for _, f := range r.Folders {
			av.folders = append(av.folders, folderLine{name: f.Name, status: f.Status})
		}
	}
	for id, err := range msg.Errors {
		if av, ok := m.accounts[id]; ok {
			av.running = false
			av.err = err
		}
	}
}
