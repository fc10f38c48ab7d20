package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/dodochat/internal/config"
)

const version = "0.1.0"

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Logs may go to a file only; the exit reason always reaches stderr.
		fmt.Fprintf(os.Stderr, "dodochat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "dodochat",
		Short:         "Streaming chat front-end for OpenAI-compatible and Anthropic models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), flags, os.Stdin, os.Stdout)
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the config file (default: user config dir, then ./config.*)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(
		newREPLCmd(flags),
		newStdioCmd(flags),
		newServeCmd(flags),
		newModelsCmd(flags),
		newInitCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return rootCmd
}
