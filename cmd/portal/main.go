package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/cmd/portal/login"
	"github.com/stockway/portal/cmd/portal/logout"
	"github.com/stockway/portal/cmd/portal/navigate"
	"github.com/stockway/portal/cmd/portal/serve"
	"github.com/stockway/portal/cmd/portal/signup"
	"github.com/stockway/portal/cmd/portal/whoami"
)

var (
	// BuildInfo will be set by the build system
	BuildInfo = "{}"

	isServeCmd       bool
	gracefulShutdown time.Duration
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Stockway Portal Version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		value, err := utils.ExtractFromComplexValue(BuildInfo)
		if err != nil {
			return err
		}

		slog.InfoContext(cmd.Context(), value)

		return nil
	},
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "portal",
		Short:        "Stockway Portal",
		Long:         "Stockway logistics portal: session client, role dashboards and backend proxy.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().DurationVar(&gracefulShutdown, "graceful-shutdown", 1*time.Second, "graceful shutdown")

	serveCmd := serve.Cmd(BuildInfo)
	serveCmd.PreRun = func(*cobra.Command, []string) { isServeCmd = true }

	cmd.AddCommand(
		versionCmd,
		serveCmd,
		login.Cmd(BuildInfo),
		signup.Cmd(BuildInfo),
		logout.Cmd(BuildInfo),
		whoami.Cmd(BuildInfo),
		navigate.Cmd(BuildInfo),
	)

	return cmd
}

func execute() error {
	ctx, cancelOnSignal := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancelOnSignal()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		slogctx.Error(ctx, "failed to run the command", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)

		return err
	}

	if isServeCmd {
		_, _ = fmt.Fprintf(os.Stderr, "Graceful shutdown in %s\n", gracefulShutdown)
		time.Sleep(gracefulShutdown)
	}

	return nil
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
