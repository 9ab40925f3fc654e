package commands

import (
	"fmt"
	"strconv"

	"github.com/tildaslashalef/ewsync/internal/database"
	"github.com/tildaslashalef/ewsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// MigrateCommand returns the CLI command for database migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage database migrations",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Action: migrateUpAction,
			},
			{
				Name:  "down",
				Usage: "Revert the last migration",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to revert",
						Value: 1,
					},
				},
				Action: migrateDownAction,
			},
			{
				Name:   "status",
				Usage:  "Show the current schema version",
				Action: migrateStatusAction,
			},
		},
	}
}

func migrateUpAction(c *cli.Context) error {
	utils.PrintInfo("Applying embedded migrations")

	applied, err := database.RunMigrations()
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if applied > 0 {
		utils.PrintSuccess(fmt.Sprintf("Applied %d migration(s)", applied))
	} else {
		utils.PrintSuccess("Database schema is already up-to-date")
	}
	return nil
}

func migrateDownAction(c *cli.Context) error {
	steps := c.Int("steps")
	if steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}

	utils.PrintWarning(fmt.Sprintf("Reverting %d migration(s)", steps))
	if err := database.RevertMigrations(steps); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to revert migrations: %s", err))
		return fmt.Errorf("failed to revert migrations: %w", err)
	}

	utils.PrintSuccess("Migration(s) reverted")
	return nil
}

func migrateStatusAction(c *cli.Context) error {
	version, dirty, err := database.MigrationVersion()
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to read schema version: %s", err))
		return err
	}
	if version == 0 {
		utils.PrintWarning("No migrations applied. Run ewsync migrate up")
		return nil
	}

	utils.PrintKeyValue("Version", strconv.FormatUint(uint64(version), 10))
	utils.PrintKeyValue("Dirty", utils.YesNo(dirty))
	if dirty {
		utils.PrintWarning("A migration failed halfway; fix the schema and revert or reapply it")
	}
	return nil
}
