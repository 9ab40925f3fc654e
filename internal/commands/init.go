package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/tildaslashalef/ewsync/internal/config"
	"github.com/tildaslashalef/ewsync/internal/database"
	"github.com/tildaslashalef/ewsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// InitCommand returns the CLI command for initializing ewsync
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the ewsync environment",
		Description: "Sets up the configuration directory and the database. Run it once " +
			"before adding accounts, and again after upgrading to apply new migrations.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "keep-env",
				Usage: "Keep an existing .env file instead of replacing it with the sample",
			},
		},
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing ewsync")

			configDir, err := config.DefaultConfigDir()
			if err != nil {
				utils.PrintError(err.Error())
				return err
			}
			utils.PrintInfo("Configuration directory: " + color.YellowString("%s", configDir))

			// An existing .env gets a dated backup before the sample replaces it
			configFilePath, err := config.SetupConfigDirectory(configDir, !c.Bool("keep-env"))
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to set up config directory: %s", err))
				return fmt.Errorf("failed to set up config directory: %w", err)
			}

			cfg, err := config.LoadFromEnv(configDir, configFilePath)
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			utils.PrintInfo("Initializing database...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}

			utils.PrintInfo("Applying database migrations...")
			migrationsApplied, err := database.RunMigrations()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			utils.PrintSuccess("✓ ewsync initialized successfully!")
			if migrationsApplied > 0 {
				utils.PrintSuccess(fmt.Sprintf("Applied %d new migration(s)", migrationsApplied))
			} else {
				utils.PrintInfo("Database schema is already up-to-date")
			}

			utils.PrintInfo("Configuration file: " + color.YellowString("%s", configFilePath))
			utils.PrintInfo("Database location: " + color.YellowString("%s", cfg.Database.Path))
			utils.PrintInfo("Log file location: " + color.YellowString("%s", cfg.Logging.Output))
			fmt.Println("")
			utils.PrintInfo("Add an Exchange account with " + color.CyanString("ewsync account add"))

			return nil
		},
	}
}
