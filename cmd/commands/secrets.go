package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/fintellix/internal/config"
	"github.com/dohr-michael/fintellix/internal/secrets"
)

// NewSecretsCommand returns the secrets subcommand.
func NewSecretsCommand() *cli.Command {
	return &cli.Command{
		Name:  "secrets",
		Usage: "Store provider API keys encrypted in the .env file",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the encryption key if missing and print its recipient",
				Action: runSecretsInit,
			},
			{
				Name:      "set",
				Usage:     "Encrypt VALUE (or stdin) and store it as KEY",
				ArgsUsage: "KEY [VALUE]",
				Action:    runSecretsSet,
			},
		},
	}
}

func runSecretsInit(_ context.Context, _ *cli.Command) error {
	id, err := secrets.EnsureIdentity(secrets.KeyPath())
	if err != nil {
		return err
	}
	fmt.Printf("key: %s\nrecipient: %s\n", secrets.KeyPath(), id.Recipient())
	return nil
}

func runSecretsSet(_ context.Context, cmd *cli.Command) error {
	key := cmd.Args().Get(0)
	if key == "" {
		return fmt.Errorf("usage: fintellix secrets set KEY [VALUE]")
	}
	value := cmd.Args().Get(1)
	if cmd.Args().Len() < 2 {
		v, err := readSecret(key)
		if err != nil {
			return err
		}
		value = v
	}

	id, err := secrets.EnsureIdentity(secrets.KeyPath())
	if err != nil {
		return err
	}
	if err := secrets.Put(config.DotenvPath(), key, value, id.Recipient()); err != nil {
		return err
	}
	fmt.Printf("%s stored in %s\n", key, config.DotenvPath())
	return nil
}

// readSecret reads a value without echo on a terminal, or one line from a pipe.
func readSecret(key string) (string, error) {
	if isTTY(os.Stdin) {
		fmt.Fprintf(os.Stderr, "%s: ", key)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
