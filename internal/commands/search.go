package commands

import (
	"fmt"
	"strings"

	"github.com/tildaslashalef/ewsync/internal/app"
	"github.com/tildaslashalef/ewsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// SearchCommand returns the CLI command searching the server directory
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the server address list for address completion",
		ArgsUsage: "<query>",
		Flags:     []cli.Flag{accountFlag},
		Action: func(c *cli.Context) error {
			application, err := app.FromContext(c)
			if err != nil {
				return err
			}

			query := strings.Join(c.Args().Slice(), " ")
			suggestions, err := application.Provider.AbAutoComplete(c.Context, c.String("account"), query)
			if err != nil {
				utils.PrintError(fmt.Sprintf("Search failed: %s", err))
				return err
			}
			if len(suggestions) == 0 {
				utils.PrintInfo(fmt.Sprintf("No matches (queries need at least %d characters)", application.Config.Sync.AutocompleteMinChars))
				return nil
			}

			for _, s := range suggestions {
				fmt.Println(s.Value)
			}
			return nil
		},
	}
}
