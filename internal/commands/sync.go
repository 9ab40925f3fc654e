package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/app"
	syncview "github.com/tildaslashalef/ewsync/internal/commands/sync"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/sync"
	"github.com/tildaslashalef/ewsync/internal/utils"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

// SyncCommand returns the CLI command for running sync passes
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize accounts with their Exchange servers",
		Description: "Runs one sync pass for each selected account: the folder list is " +
			"refreshed, server changes are downloaded and local changes uploaded. " +
			"Without --account every enabled account is synced.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "Account ID to sync (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Print progress as plain lines instead of the interactive view",
			},
		},
		Action: syncAction,
	}
}

// DaemonCommand returns the CLI command running the autosync scheduler
func DaemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run autosync in the foreground",
		Description: "Syncs every enabled account whose autosync interval has elapsed, " +
			"until interrupted.",
		Action: daemonAction,
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	accounts, err := accountsToSync(c, application)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		utils.PrintWarning("No enabled accounts to sync")
		return nil
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	loggy.Info("Starting manual sync", "accounts", len(accounts))

	var (
		results []*sync.Result
		errs    map[string]error
	)
	if c.Bool("plain") || !term.IsTerminal(int(os.Stdout.Fd())) {
		results, errs = syncview.RunPlain(ctx, application.Provider, accounts, os.Stdout)
	} else {
		results, errs, err = syncview.Run(ctx, application.Provider, accounts)
		if err != nil {
			return err
		}
	}

	printSummary(accounts, results)

	failed := len(errs)
	for _, r := range results {
		if r != nil && (!r.OK() || len(r.Failed()) > 0) {
			failed++
		}
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d account(s) did not sync cleanly", failed), 1)
	}
	return nil
}

func accountsToSync(c *cli.Context, application *app.App) ([]*account.Account, error) {
	ids := c.StringSlice("account")
	if len(ids) == 0 {
		all, err := application.Provider.Accounts(c.Context)
		if err != nil {
			return nil, err
		}
		var enabled []*account.Account
		for _, a := range all {
			if a.Enabled() {
				enabled = append(enabled, a)
			}
		}
		return enabled, nil
	}

	accounts := make([]*account.Account, 0, len(ids))
	for _, id := range ids {
		a, err := application.Provider.Account(c.Context, id)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", id, err)
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func printSummary(accounts []*account.Account, results []*sync.Result) {
	names := make(map[string]string, len(accounts))
	for _, a := range accounts {
		names[a.ID] = a.Name
	}

	var rows [][]string
	for _, r := range results {
		if r == nil {
			continue
		}
		pulled, pushed := 0, 0
		for _, f := range r.Folders {
			pulled += f.Pulled
			pushed += f.Pushed
		}
		rows = append(rows, []string{
			names[r.AccountID],
			utils.ColorStatus(r.Status),
			strconv.Itoa(len(r.Folders) - len(r.Failed())),
			strconv.Itoa(len(r.Failed())),
			strconv.Itoa(pulled),
			strconv.Itoa(pushed),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	if len(rows) == 0 {
		return
	}
	utils.PrintTable("Sync results", []string{"Account", "Status", "Folders OK", "Folders failed", "Pulled", "Pushed", "Duration"}, rows)
}

func daemonAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	if n, err := application.Engine.RecoverInterrupted(ctx); err != nil {
		loggy.Warn("Failed to recover interrupted sync passes", "error", err)
	} else if n > 0 {
		utils.PrintWarning(fmt.Sprintf("Reset %d account(s) left syncing by an earlier run", n))
	}

	utils.PrintInfo(fmt.Sprintf("Autosync running, checking every %s. Press %s to stop.",
		application.Config.Sync.AutosyncTick, color.CyanString("Ctrl+C")))

	events, unsubscribe := application.Provider.Tracker().Subscribe(64)
	defer unsubscribe()
	go func() {
		for ev := range events {
			if ev.Type == sync.EventAccountFinished {
				utils.PrintInfo(fmt.Sprintf("%s %s %s", time.Now().Format("15:04:05"), ev.State.AccountID, utils.ColorStatus(ev.State.Status)))
			}
		}
	}()

	return application.Scheduler.Run(ctx)
}
