package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultops/cmd/vaultops/commands"
	"github.com/systmms/vaultops/internal/config"
	vaerrors "github.com/systmms/vaultops/internal/errors"
	"github.com/systmms/vaultops/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{Logger: logging.New(false, false)}
	rt := commands.NewRuntime(cfg)

	rootCmd := &cobra.Command{
		Use:   "vaultops",
		Short: "Secret lifecycle operations for Vault, driven by Rundeck jobs",
		Long: `vaultops copies, writes and deletes Vault secrets, publishes the
resulting key manifest to the configuration repository and reports the
outcome to Slack.

Configuration comes from an optional YAML file overlaid by environment
variables (VAULT_*, RD_*, GIT_*, SLACK_WEBHOOK_URL).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewCopyCommand(rt),
		commands.NewDeleteCommand(rt),
		commands.NewRequestCommand(rt),
		commands.NewWriteCommand(rt),
		commands.NewKeysCommand(rt),
		commands.NewCleanupCommand(rt),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ferr := rt.Flush(flushCtx); ferr != nil {
		cfg.Logger.Warn("%v", ferr)
	}

	if err != nil {
		cfg.Logger.Error("%v", err)
		if hint := vaerrors.Suggest(err); hint != "" {
			fmt.Fprintf(os.Stderr, "  💡 Try: %s\n", hint)
		}
	}
	return vaerrors.ExitCode(err)
}
