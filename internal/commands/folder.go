package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/tildaslashalef/ewsync/internal/app"
	"github.com/tildaslashalef/ewsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// FolderCommand returns the CLI command for managing server folders
func FolderCommand() *cli.Command {
	return &cli.Command{
		Name:  "folder",
		Usage: "Manage the synced folders of an account",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the known folders of an account",
				Flags:  []cli.Flag{accountFlag},
				Action: listFoldersAction,
			},
			{
				Name:   "refresh",
				Usage:  "Fetch the folder list from the server without syncing items",
				Flags:  []cli.Flag{accountFlag},
				Action: refreshFoldersAction,
			},
			{
				Name:      "select",
				Usage:     "Include a folder in syncing",
				ArgsUsage: "<folder-id>",
				Flags:     []cli.Flag{accountFlag},
				Action: func(c *cli.Context) error {
					return selectFolder(c, true)
				},
			},
			{
				Name:      "deselect",
				Usage:     "Exclude a folder from syncing; its local copy is kept as stale",
				ArgsUsage: "<folder-id>",
				Flags:     []cli.Flag{accountFlag},
				Action: func(c *cli.Context) error {
					return selectFolder(c, false)
				},
			},
			{
				Name:      "reset",
				Usage:     "Drop the local copy of a folder so the next sync downloads it again",
				ArgsUsage: "<folder-id>",
				Flags:     []cli.Flag{accountFlag},
				Action:    resetFolderAction,
			},
		},
	}
}

func listFoldersAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	folders, err := application.Provider.SortedFolders(c.Context, c.String("account"))
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		utils.PrintInfo("No folders known yet. Run " + color.CyanString("ewsync folder refresh") + " or a sync first.")
		return nil
	}

	rows := make([][]string, 0, len(folders))
	for _, f := range folders {
		name := f.Name
		if f.Cached {
			name = utils.Theme.Subtle.Sprint(name + " (gone)")
		}
		rows = append(rows, []string{
			utils.Truncate(f.FolderID, 24),
			name,
			string(f.Type),
			utils.YesNo(f.Selected),
			utils.YesNo(f.DownloadOnly),
			utils.ColorStatus(f.Status),
			utils.FormatUnix(f.LastSyncTime),
		})
	}
	utils.PrintTable("Folders", []string{"ID", "Name", "Type", "Selected", "Download only", "Status", "Last sync"}, rows)
	return nil
}

func refreshFoldersAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	res, err := application.Provider.SyncFolderList(c.Context, c.String("account"))
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to fetch folders: %s", err))
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Folder list updated: %d added, %d updated, %d gone, %d back",
		len(res.Added), len(res.Updated), len(res.Cached), len(res.Restored)))
	return nil
}

func selectFolder(c *cli.Context, selected bool) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	f, err := application.Provider.SelectFolder(c.Context, c.String("account"), c.Args().First(), selected)
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to update folder: %s", err))
		return err
	}

	if selected {
		utils.PrintSuccess(fmt.Sprintf("Folder %s selected", color.CyanString(f.Name)))
	} else {
		utils.PrintSuccess(fmt.Sprintf("Folder %s deselected", color.CyanString(f.Name)))
	}
	return nil
}

func resetFolderAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if err := application.Provider.ResetTarget(c.Context, c.String("account"), c.Args().First()); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to reset folder: %s", err))
		return err
	}
	utils.PrintSuccess("Local copy dropped; the next sync downloads the folder again")
	return nil
}
