// Package main is the entry point for the assistant CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"assistant/pkg/automation"
	"assistant/pkg/bus"
	"assistant/pkg/commands"
	"assistant/pkg/config"
	"assistant/pkg/controller"
	"assistant/pkg/interaction"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/network"
	"assistant/pkg/prompt"
	"assistant/pkg/providers"
	"assistant/pkg/round"
	"assistant/pkg/state"
	"assistant/pkg/storage"
	"assistant/pkg/validation"
	"assistant/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "assistant - AI session orchestrator",
	Long: `assistant runs chat and automation sessions against LLM providers.

A single session holds the active slot at a time. Chat sessions take it
over from idle automations; scheduled automations queue behind an active
chat until it goes idle.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyConfigPath()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetFullVersion())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(automationsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// applyConfigPath exports --config so every Loader in the process sees it.
func applyConfigPath() {
	if configPath != "" {
		_ = os.Setenv(config.ConfigPathEnv, configPath)
	}
}

// coreModules is the orchestration runtime shared by chat and gateway.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		logger.Module,
		state.Module,
		storage.Module,
		bus.Module,
		commands.Module,
		messages.Module,
		validation.Module,
		interaction.Module,
		prompt.Module,
		providers.Module,
		network.Module,
		automation.Module,
		controller.Module,
		round.Module,

		// Hot reload runs for the lifetime of the app.
		fx.Invoke(func(*config.Watcher) {}),
	)
}

// startApp starts a short-lived app for one-off commands and returns its
// stop function.
func startApp(opts ...fx.Option) func() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app := fx.New(append(opts, fx.NopLogger)...)
	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting app: %v\n", err)
		os.Exit(1)
	}

	return func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := app.Stop(stopCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping app: %v\n", err)
		}
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
