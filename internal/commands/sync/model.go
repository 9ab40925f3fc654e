// Package sync renders the progress of running sync passes, either as an
// interactive terminal view or as plain colored lines.
package sync

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/sync"
)

// Runner starts sync passes and reports their progress
type Runner interface {
	SyncAccounts(ctx context.Context, ids []string) ([]*sync.Result, map[string]error)
	Tracker() *sync.Tracker
}

type folderLine struct {
	name   string
	status string
}

type accountView struct {
	id       string
	name     string
	state    sync.State
	running  bool
	finished bool
	status   string
	folders  []folderLine
	err      error
}

// Model is the Bubble Tea model for the sync progress view
type Model struct {
	runner      Runner
	ctx         context.Context
	cancel      context.CancelFunc
	events      <-chan sync.Event
	unsubscribe func()

	ids      []string
	accounts map[string]*accountView
	results  []*sync.Result
	errs     map[string]error

	keymap   KeyMap
	help     help.Model
	spinner  spinner.Model
	progress progress.Model
	styles   Styles

	width    int
	showHelp bool
	done     bool
	stopping bool
	now      func() time.Time
}

// NewModel initializes and returns a new Model syncing accounts
func NewModel(ctx context.Context, runner Runner, accounts []*account.Account) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	styles := DefaultStyles()
	s.Style = styles.Spinner

	ctx, cancel := context.WithCancel(ctx)
	events, unsubscribe := runner.Tracker().Subscribe(256)

	m := Model{
		runner:      runner,
		ctx:         ctx,
		cancel:      cancel,
		events:      events,
		unsubscribe: unsubscribe,
		accounts:    make(map[string]*accountView, len(accounts)),
		keymap:      DefaultKeyMap(),
		help:        help.New(),
		spinner:     s,
		progress:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		styles:      styles,
		width:       80,
		now:         time.Now,
	}
	for _, acct := range accounts {
		m.ids = append(m.ids, acct.ID)
		m.accounts[acct.ID] = &accountView{id: acct.ID, name: acct.Name}
	}
	return m
}

// Init starts the passes and the event listener
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start(), m.waitForEvent(), tick())
}

// Results returns the pass results once the view has finished
func (m Model) Results() ([]*sync.Result, map[string]error) {
	return m.results, m.errs
}

func (m Model) start() tea.Cmd {
	return func() tea.Msg {
		results, errs := m.runner.SyncAccounts(m.ctx, m.ids)
		return SyncCompleteMsg{Results: results, Errors: errs}
	}
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return EventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return TickMsg{} })
}
