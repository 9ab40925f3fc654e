package commands

import (
	"fmt"
	"time"

	"github.com/tildaslashalef/ewsync/internal/app"
	"github.com/tildaslashalef/ewsync/internal/target"
	"github.com/tildaslashalef/ewsync/internal/utils"
	"github.com/urfave/cli/v2"
)

var itemFlags = []cli.Flag{
	accountFlag,
	&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Usage: "Folder ID", Required: true},
	// contacts
	&cli.StringFlag{Name: "name", Usage: "Contact display name"},
	&cli.StringFlag{Name: "first", Usage: "Contact first name"},
	&cli.StringFlag{Name: "last", Usage: "Contact last name"},
	&cli.StringFlag{Name: "email", Usage: "Contact e-mail"},
	&cli.StringFlag{Name: "phone", Usage: "Contact phone"},
	// events and tasks
	&cli.StringFlag{Name: "title", Usage: "Event or task title"},
	&cli.StringFlag{Name: "location", Usage: "Event location"},
	&cli.StringFlag{Name: "start", Usage: "Event start (2006-01-02 15:04 or RFC 3339)"},
	&cli.StringFlag{Name: "end", Usage: "Event end"},
	&cli.StringFlag{Name: "due", Usage: "Task due date"},
	&cli.BoolFlag{Name: "completed", Usage: "Mark the task completed"},
}

// ItemCommand returns the CLI command editing local items as a user would
func ItemCommand() *cli.Command {
	return &cli.Command{
		Name:  "item",
		Usage: "Edit items of a synced folder locally; changes are uploaded on the next sync",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the local items of a folder",
				Flags:  itemFlags[:2],
				Action: listItemsAction,
			},
			{
				Name:   "add",
				Usage:  "Add an item",
				Flags:  itemFlags,
				Action: addItemAction,
			},
			{
				Name:      "edit",
				Usage:     "Edit an item",
				ArgsUsage: "<item-id>",
				Flags:     itemFlags,
				Action:    editItemAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete an item",
				ArgsUsage: "<item-id>",
				Flags:     itemFlags[:2],
				Action:    deleteItemAction,
			},
		},
	}
}

// folderTarget returns the local target bound to the folder named by the flags
func folderTarget(c *cli.Context, application *app.App) (*target.Target, error) {
	f, err := application.Folders.GetFolder(c.Context, c.String("account"), c.String("folder"))
	if err != nil {
		return nil, err
	}
	if f.Target == "" {
		return nil, fmt.Errorf("folder %s has no local copy yet, sync it first", f.Name)
	}
	return application.Targets.Store().GetTarget(c.Context, f.Target)
}

func listItemsAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	t, err := folderTarget(c, application)
	if err != nil {
		return err
	}

	items, err := application.Targets.Store().ListItems(c.Context, t.ID)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ID,
			utils.Truncate(it.Summary, 40),
			utils.YesNo(it.RemoteID != ""),
			it.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	utils.PrintTable(t.Name, []string{"ID", "Summary", "On server", "Updated"}, rows)
	return nil
}

func addItemAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	t, err := folderTarget(c, application)
	if err != nil {
		return err
	}

	var p target.Payload
	if t.Kind == target.KindAddressBook {
		p = &target.Contact{}
	} else {
		p = &target.Event{}
	}
	if err := applyItemFlags(c, p); err != nil {
		return err
	}

	item, err := application.Targets.CreateItem(c.Context, t.ID, p)
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to add item: %s", err))
		return err
	}
	utils.PrintSuccess(fmt.Sprintf("Added %s (%s)", item.Summary, item.ID))
	return nil
}

func editItemAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	t, err := folderTarget(c, application)
	if err != nil {
		return err
	}

	_, p, err := application.Targets.Item(c.Context, t.ID, c.Args().First())
	if err != nil {
		return err
	}
	if err := applyItemFlags(c, p); err != nil {
		return err
	}

	item, err := application.Targets.UpdateItem(c.Context, t.ID, c.Args().First(), p)
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to edit item: %s", err))
		return err
	}
	utils.PrintSuccess(fmt.Sprintf("Updated %s", item.Summary))
	return nil
}

func deleteItemAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	t, err := folderTarget(c, application)
	if err != nil {
		return err
	}

	if err := application.Targets.DeleteItem(c.Context, t.ID, c.Args().First()); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to delete item: %s", err))
		return err
	}
	utils.PrintSuccess("Item deleted")
	return nil
}

// applyItemFlags copies the flags that were set onto p
func applyItemFlags(c *cli.Context, p target.Payload) error {
	set := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}

	switch v := p.(type) {
	case *target.Contact:
		set("name", &v.DisplayName)
		set("first", &v.FirstName)
		set("last", &v.LastName)
		set("email", &v.Email)
		set("phone", &v.Phone)
		if v.DisplayName == "" && v.Email == "" {
			return fmt.Errorf("a contact needs --name or --email")
		}
	case *target.Event:
		set("title", &v.Title)
		set("location", &v.Location)
		for flag, dst := range map[string]*time.Time{"start": &v.Start, "end": &v.End, "due": &v.Due} {
			if !c.IsSet(flag) {
				continue
			}
			ts, err := parseTime(c.String(flag))
			if err != nil {
				return fmt.Errorf("--%s: %w", flag, err)
			}
			*dst = ts
		}
		if c.IsSet("completed") {
			v.Completed = c.Bool("completed")
		}
		if v.Title == "" {
			return fmt.Errorf("an event or task needs --title")
		}
	default:
		return fmt.Errorf("unsupported item type %T", p)
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
