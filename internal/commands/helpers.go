package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

var accountFlag = &cli.StringFlag{
	Name:     "account",
	Aliases:  []string{"a"},
	Usage:    "Account ID",
	Required: true,
}

// readSecret takes the secret from stdin when --password-stdin is set,
// otherwise prompts on the terminal without echo
func readSecret(c *cli.Context, prompt string) (string, error) {
	if c.Bool("password-stdin") {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	f := os.Stdin
	if !term.IsTerminal(int(f.Fd())) {
		var err error
		if f, err = os.Open("/dev/tty"); err != nil {
			return "", fmt.Errorf("no terminal to prompt for a password: %w", err)
		}
		defer f.Close()
	}

	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
