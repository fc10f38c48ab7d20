package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/dodochat/internal/admission"
	"github.com/ChamsBouzaiene/dodochat/internal/config"
	"github.com/ChamsBouzaiene/dodochat/internal/server"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := prepareRuntimeEnv(flags, false)
			if err != nil {
				return err
			}
			defer env.Close()

			if addr == "" {
				addr = env.Config.Server.Addr
			}
			gate := admission.NewGate(env.Config.Admission.MaxInFlight, env.Config.Admission.MaxBacklog)
			return server.New(addr, env.Chat, gate, env.Log).Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}

func newModelsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := prepareRuntimeEnv(flags, true)
			if err != nil {
				return err
			}
			defer env.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROVIDER\tREASONING\tENDPOINT")
			for i, p := range env.Chat.Models() {
				id := p.ID
				if i == 0 {
					id += " (default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", id, p.Provider, p.SupportsReasoning, p.Endpoint)
			}
			return tw.Flush()
		},
	}
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.NewManager(flags.configPath)
			if err != nil {
				return err
			}
			path := mgr.GetConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := mgr.Save(config.Sample()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nset OPENAI_API_KEY and ANTHROPIC_API_KEY, or edit the file\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
