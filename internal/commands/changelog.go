package commands

import (
	"strconv"

	"github.com/tildaslashalef/ewsync/internal/app"
	"github.com/tildaslashalef/ewsync/internal/folder"
	"github.com/tildaslashalef/ewsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// ChangelogCommand returns the CLI command for inspecting queued local changes
func ChangelogCommand() *cli.Command {
	return &cli.Command{
		Name:  "changelog",
		Usage: "Inspect local changes waiting for upload",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List queued changes in upload order",
				Flags: []cli.Flag{
					accountFlag,
					&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Usage: "Only this folder"},
				},
				Action: listChangelogAction,
			},
		},
	}
}

func listChangelogAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	folders, err := application.Provider.SortedFolders(c.Context, c.String("account"))
	if err != nil {
		return err
	}

	var rows [][]string
	for _, f := range folders {
		if f.Target == "" || (c.IsSet("folder") && f.FolderID != c.String("folder")) {
			continue
		}
		entries, err := application.Changelog.List(c.Context, f.Target)
		if err != nil {
			return err
		}
		for _, e := range entries {
			rows = append(rows, []string{
				strconv.FormatInt(e.ID, 10),
				folderLabel(f),
				e.ItemID,
				string(e.Kind),
				strconv.Itoa(e.Revision),
				utils.Truncate(e.RemoteID, 24),
				e.UpdatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
	}

	if len(rows) == 0 {
		utils.PrintInfo("No local changes are waiting for upload")
		return nil
	}
	utils.PrintTable("Queued changes", []string{"#", "Folder", "Item", "Change", "Rev", "Server ID", "Updated"}, rows)
	return nil
}

func folderLabel(f *folder.Folder) string {
	if f.DownloadOnly {
		return f.Name + " (download only)"
	}
	return f.Name
}
