package main

import (
	"fmt"
	"os"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the orchestrator with its HTTP gateway",
	Long: `Run the assistant with the REST and websocket gateway.

The gateway runs automations on their schedules and serves chat clients.
It can run in the foreground or be installed as a system service.

Examples:
  # Run in foreground (default)
  assistant gateway

  # Install as system service (requires sudo/admin privileges)
  sudo assistant gateway install

  # Control the service
  sudo assistant gateway start
  sudo assistant gateway stop
  sudo assistant gateway restart
  assistant gateway status`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Starting assistant gateway in foreground mode...")
		fmt.Println("To install as a system service, use: assistant gateway install")
		fmt.Println()
		runGatewayForeground()
	},
}

var gatewayRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run gateway in foreground or as service",
	Long:  `Run the gateway. When installed as a service, this is called automatically.`,
	Run:   runGatewayRun,
}

var gatewayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check gateway service status",
	Run: func(cmd *cobra.Command, args []string) {
		if err := StatusService(); err != nil {
			fmt.Fprintf(os.Stderr, "Error checking service status: %v\n", err)
			os.Exit(1)
		}
	},
}

// serviceActions are forwarded to the system service manager.
var serviceActions = []struct {
	name  string
	short string
	done  string
}{
	{"install", "Install gateway as system service", "Service installed successfully!"},
	{"uninstall", "Uninstall gateway service", "Service uninstalled successfully!"},
	{"start", "Start gateway service", "Service started successfully!"},
	{"stop", "Stop gateway service", "Service stopped successfully!"},
	{"restart", "Restart gateway service", "Service restarted successfully!"},
}

func init() {
	gatewayCmd.AddCommand(gatewayRunCmd)
	gatewayCmd.AddCommand(gatewayStatusCmd)

	for _, action := range serviceActions {
		gatewayCmd.AddCommand(&cobra.Command{
			Use:   action.name,
			Short: action.short,
			Run: func(cmd *cobra.Command, args []string) {
				if err := ControlService(action.name); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					fmt.Fprintln(os.Stderr, "\nNote: Managing system services requires administrator privileges.")
					fmt.Fprintln(os.Stderr, "Please run with sudo (Linux/macOS) or as Administrator (Windows).")
					os.Exit(1)
				}
				fmt.Println(action.done)
			},
		})
	}
}

// runGatewayRun runs the gateway (called by service or manually).
func runGatewayRun(cmd *cobra.Command, args []string) {
	if service.Interactive() {
		runGatewayForeground()
		return
	}
	if err := RunService(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running service: %v\n", err)
		os.Exit(1)
	}
}
