package sync

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/sync"
)

// Run shows the interactive progress view until every pass has returned
func Run(ctx context.Context, runner Runner, accounts []*account.Account) ([]*sync.Result, map[string]error, error) {
	final, err := tea.NewProgram(NewModel(ctx, runner, accounts)).Run()
	if err != nil {
		return nil, nil, fmt.Errorf("error running sync view: %w", err)
	}
	results, errs := final.(Model).Results()
	return results, errs, nil
}

// RunPlain syncs accounts printing one colored line per event, for
// terminals without cursor control and for logs
func RunPlain(ctx context.Context, runner Runner, accounts []*account.Account, w io.Writer) ([]*sync.Result, map[string]error) {
	names := make(map[string]string, len(accounts))
	ids := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		names[acct.ID] = acct.Name
		ids = append(ids, acct.ID)
	}

	events, unsubscribe := runner.Tracker().Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p := &plainPrinter{w: w, names: names, phases: make(map[string]sync.Phase)}
		for ev := range events {
			p.print(ev)
		}
	}()

	results, errs := runner.SyncAccounts(ctx, ids)
	unsubscribe()
	<-done

	for id, err := range errs {
		fmt.Fprintf(w, "%s %s\n", color.RedString("✗ %s", names[id]), "not started: "+err.Error())
	}
	return results, errs
}

type plainPrinter struct {
	w      io.Writer
	names  map[string]string
	phases map[string]sync.Phase
}

func (p *plainPrinter) print(ev sync.Event) {
	s := ev.State
	name := color.New(color.Bold).Sprint(p.names[s.AccountID])

	switch ev.Type {
	case sync.EventAccountStarted:
		fmt.Fprintf(p.w, "%s %s\n", name, color.CyanString("started"))
	case sync.EventPhase:
		if p.phases[s.AccountID] == s.Phase {
			return
		}
		p.phases[s.AccountID] = s.Phase
		where := ""
		if s.FolderName != "" {
			where = " " + s.FolderName
		}
		fmt.Fprintf(p.w, "%s %s%s\n", name, color.HiBlackString(string(s.Phase)), where)
	case sync.EventProgress:
		fmt.Fprintf(p.w, "%s %s %d/%d\n", name, s.FolderName, s.Done, s.Todo)
	case sync.EventFolderFinished:
		fmt.Fprintf(p.w, "%s %s %s\n", name, s.FolderName, statusColor(s.Status))
	case sync.EventAccountFinished:
		fmt.Fprintf(p.w, "%s %s %s\n", name, color.CyanString("finished"), statusColor(s.Status))
	}
}

func statusColor(status string) string {
	switch status {
	case sync.StatusOK:
		return color.GreenString(status)
	case sync.ReasonAborted, sync.ReasonDisabled:
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}
