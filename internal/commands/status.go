package commands

import (
	"strconv"

	"github.com/tildaslashalef/ewsync/internal/app"
	"github.com/tildaslashalef/ewsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// StatusCommand returns the CLI command showing recent sync outcomes
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the outcome of recent sync passes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "Show the pass history of one account"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Number of log entries", Value: 20},
		},
		Action: func(c *cli.Context) error {
			application, err := app.FromContext(c)
			if err != nil {
				return err
			}
			if c.IsSet("account") {
				return accountHistory(c, application)
			}
			return overview(c, application)
		},
	}
}

func overview(c *cli.Context, application *app.App) error {
	accounts, err := application.Provider.Accounts(c.Context)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		last, err := application.Provider.LatestSyncLog(c.Context, a.ID)
		if err != nil {
			return err
		}
		duration, message := "-", ""
		if last != nil {
			duration = last.Duration().String()
			message = utils.Truncate(last.ErrorMessage, 50)
		}
		rows = append(rows, []string{
			a.Name,
			utils.ColorStatus(a.Status),
			utils.FormatUnix(a.LastSyncTime),
			duration,
			message,
		})
	}

	if len(rows) == 0 {
		utils.PrintInfo("No accounts configured")
		return nil
	}
	utils.PrintTable("Status", []string{"Account", "Status", "Last sync", "Duration", "Error"}, rows)
	return nil
}

func accountHistory(c *cli.Context, application *app.App) error {
	logs, err := application.Provider.SyncLogs(c.Context, c.String("account"), c.Int("limit"), 0)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		utils.PrintInfo("This account has not been synced yet")
		return nil
	}

	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		scope := "account"
		if l.FolderID != "" {
			scope = utils.Truncate(l.FolderID, 20)
		}
		rows = append(rows, []string{
			l.StartedAt.Local().Format("2006-01-02 15:04:05"),
			utils.Truncate(l.RunID, 12),
			scope,
			utils.ColorStatus(l.Status),
			strconv.Itoa(l.Pulled),
			strconv.Itoa(l.Pushed),
			l.Duration().String(),
			utils.Truncate(l.ErrorMessage, 40),
		})
	}
	utils.PrintTable("Sync history", []string{"Started", "Run", "Scope", "Status", "Pulled", "Pushed", "Duration", "Error"}, rows)
	return nil
}
