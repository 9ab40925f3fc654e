package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/app"
	"github.com/tildaslashalef/ewsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// AccountCommand returns the CLI command for managing EWS accounts
func AccountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Manage Exchange accounts",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a new account",
				ArgsUsage: "[name]",
				Description: "Adds a disabled account. Without --server the EWS endpoint is " +
					"found through autodiscover from the e-mail domain.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "Server host or URL (empty for autodiscover)"},
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User name", Required: true},
					&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "E-mail address (defaults to the user name when it is one)"},
					&cli.StringFlag{Name: "auth", Usage: "Authentication method: basic or oauth2", Value: string(account.AuthBasic)},
					&cli.IntFlag{Name: "autosync", Usage: "Autosync interval in minutes, 0 to disable"},
					&cli.BoolFlag{Name: "download-only", Usage: "Never upload local changes"},
					&cli.BoolFlag{Name: "enable", Usage: "Enable the account right away"},
					&cli.BoolFlag{Name: "password-stdin", Usage: "Read the password from stdin"},
					&cli.BoolFlag{Name: "no-password", Usage: "Do not store a password"},
				},
				Action: addAccountAction,
			},
			{
				Name:   "list",
				Usage:  "List accounts",
				Action: listAccountsAction,
			},
			{
				Name:      "show",
				Usage:     "Show an account",
				ArgsUsage: "<account-id>",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Print as JSON"}},
				Action:    showAccountAction,
			},
			{
				Name:      "enable",
				Usage:     "Enable an account; the next sync is a full sync",
				ArgsUsage: "<account-id>",
				Action: func(c *cli.Context) error {
					return toggleAccount(c, true)
				},
			},
			{
				Name:      "disable",
				Usage:     "Disable an account and retire its folders",
				ArgsUsage: "<account-id>",
				Action: func(c *cli.Context) error {
					return toggleAccount(c, false)
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove an account; local address books and calendars are kept",
				ArgsUsage: "<account-id>",
				Action:    removeAccountAction,
			},
			{
				Name:      "set-password",
				Usage:     "Replace the stored password of an account",
				ArgsUsage: "<account-id>",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "password-stdin", Usage: "Read the password from stdin"}},
				Action:    setPasswordAction,
			},
			{
				Name:      "set",
				Usage:     "Change account settings",
				ArgsUsage: "<account-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Account name"},
					&cli.IntFlag{Name: "autosync", Usage: "Autosync interval in minutes, 0 to disable"},
					&cli.BoolFlag{Name: "download-only", Usage: "Never upload local changes"},
					&cli.BoolFlag{Name: "sync-default-folders", Usage: "Select new contact, calendar and task folders automatically"},
				},
				Action: setAccountAction,
			},
		},
	}
}

func addAccountAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	secret := ""
	if !c.Bool("no-password") {
		if secret, err = readSecret(c, "Password"); err != nil {
			return err
		}
	}

	acct, err := application.Provider.AddAccount(c.Context, account.NewParams{
		Name:       c.Args().First(),
		Host:       c.String("server"),
		User:       c.String("user"),
		Email:      c.String("email"),
		AuthMethod: account.AuthMethod(c.String("auth")),
		Autosync:   c.Int("autosync"),
	}, secret)
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to add account: %s", err))
		return err
	}

	if c.Bool("download-only") {
		acct.DownloadOnly = true
		if err := application.Accounts.Update(c.Context, acct); err != nil {
			return err
		}
	}

	utils.PrintSuccess(fmt.Sprintf("Account %s added (%s)", color.CyanString(acct.Name), acct.ID))
	if acct.ServerType == account.ServerTypeAuto {
		utils.PrintInfo("The server will be found through autodiscover on the first sync")
	} else {
		utils.PrintInfo("Endpoint: " + acct.Endpoint())
	}

	if c.Bool("enable") {
		if _, err := application.Provider.EnableAccount(c.Context, acct.ID); err != nil {
			return err
		}
		utils.PrintSuccess("Account enabled")
	} else {
		utils.PrintInfo("Enable it with " + color.CyanString("ewsync account enable %s", acct.ID))
	}
	return nil
}

func listAccountsAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	accounts, err := application.Provider.Accounts(c.Context)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		utils.PrintInfo("No accounts configured. Add one with " + color.CyanString("ewsync account add"))
		return nil
	}

	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		autosync := "off"
		if a.Autosync > 0 {
			autosync = strconv.Itoa(a.Autosync) + "m"
		}
		rows = append(rows, []string{
			a.ID,
			a.Name,
			a.User,
			utils.Truncate(a.Endpoint(), 40),
			utils.ColorStatus(a.Status),
			utils.FormatUnix(a.LastSyncTime),
			autosync,
		})
	}
	utils.PrintTable("Accounts", []string{"ID", "Name", "User", "Endpoint", "Status", "Last sync", "Autosync"}, rows)
	return nil
}

func showAccountAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	acct, err := application.Provider.Account(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(acct)
	}

	utils.PrintHeading(acct.Name)
	utils.PrintKeyValue("ID", acct.ID)
	utils.PrintKeyValue("Server type", string(acct.ServerType))
	utils.PrintKeyValue("Endpoint", acct.Endpoint())
	utils.PrintKeyValue("User", acct.User)
	utils.PrintKeyValue("E-mail", acct.Email)
	utils.PrintKeyValue("Auth", string(acct.AuthMethod))
	utils.PrintKeyValue("Status", utils.ColorStatus(acct.Status))
	utils.PrintKeyValue("Last sync", utils.FormatUnix(acct.LastSyncTime))
	utils.PrintKeyValue("Autosync", strconv.Itoa(acct.Autosync)+" min")
	utils.PrintKeyValue("Download only", utils.YesNo(acct.DownloadOnly))
	utils.PrintKeyValue("Sync default folders", utils.YesNo(acct.SyncDefaultFolders))
	utils.PrintKeyValue("Connection timeout", application.Provider.ConnectionTimeout(c.Context).String())
	return nil
}

func toggleAccount(c *cli.Context, enable bool) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if enable {
		if _, err := application.Provider.EnableAccount(c.Context, id); err != nil {
			utils.PrintError(fmt.Sprintf("Failed to enable account: %s", err))
			return err
		}
		utils.PrintSuccess("Account enabled; the next sync is a full sync")
		return nil
	}

	if _, err := application.Provider.DisableAccount(c.Context, id); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to disable account: %s", err))
		return err
	}
	utils.PrintSuccess("Account disabled; its address books and calendars are kept as stale copies")
	return nil
}

func removeAccountAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if err := application.Provider.RemoveAccount(c.Context, c.Args().First()); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to remove account: %s", err))
		return err
	}
	utils.PrintSuccess("Account removed")
	return nil
}

func setPasswordAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	secret, err := readSecret(c, "New password")
	if err != nil {
		return err
	}
	if err := application.Provider.SetPassword(c.Context, c.Args().First(), secret); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to store password: %s", err))
		return err
	}
	utils.PrintSuccess("Password updated")
	return nil
}

func setAccountAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	acct, err := application.Provider.Account(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	if c.IsSet("name") {
		acct.Name = c.String("name")
	}
	if c.IsSet("autosync") {
		acct.Autosync = c.Int("autosync")
	}
	if c.IsSet("download-only") {
		acct.DownloadOnly = c.Bool("download-only")
	}
	if c.IsSet("sync-default-folders") {
		acct.SyncDefaultFolders = c.Bool("sync-default-folders")
	}

	if err := application.Accounts.Update(c.Context, acct); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to update account: %s", err))
		return err
	}
	utils.PrintSuccess("Account updated")
	return nil
}
