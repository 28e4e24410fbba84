// Package cli holds the castbot command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"castbot/internal/broadcast"
)

// Exit codes.
const (
	exitOK             = 0
	exitInfrastructure = 1
	exitValidation     = 2
)

type options struct {
	cfgPath string
	envFile string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "castbot",
		Short:         "Telegram broadcast service",
		Long:          `castbot delivers one message to many Telegram chats in paced batches and reports progress to an operator chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnv(opts.envFile)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.cfgPath, "config", "config.json", "config file (.json, .yaml or .toml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config; missing is fine")

	root.AddCommand(
		newServeCmd(opts),
		newSendCmd(opts),
		newDirectoryCmd(opts),
	)
	return root
}

// loadEnv loads a dotenv file without overriding variables already set.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(stderr, "error:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	if broadcast.IsValidation(err) {
		return exitValidation
	}
	return exitInfrastructure
}
