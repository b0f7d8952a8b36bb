package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"assistant/pkg/automation"
	"assistant/pkg/config"
	"assistant/pkg/gateway"
	"assistant/pkg/logger"
)

var (
	automationName         string
	automationPrompt       string
	automationProvider     string
	automationValidate     bool
	automationDismissOlder bool
	automationDisabled     bool
)

var automationsCmd = &cobra.Command{
	Use:   "automations",
	Short: "Manage scheduled automations",
	Long: `Manage scheduled automations.

Definitions live in the automations file. A running gateway picks up
changes made here on restart; trigger goes through the running gateway.`,
}

var automationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List automation definitions",
	Run:   runAutomationsList,
}

var automationsAddCmd = &cobra.Command{
	Use:   "add <schedule>",
	Short: "Add an automation",
	Long: `Add an automation with a cron schedule.

Schedule format: standard cron expression (5 fields) or a descriptor such
as @daily, @hourly or @every 30m.

Examples:
  assistant automations add "0 7 * * *" --name "Morning digest" --prompt "Summarize my inbox"
  assistant automations add "@every 2h" --name "Backlog" --prompt "Triage new issues" --dismiss-older`,
	Args: cobra.ExactArgs(1),
	Run:  runAutomationsAdd,
}

var automationsRemoveCmd = &cobra.Command{
	Use:   "remove <automation-id>",
	Short: "Remove an automation",
	Args:  cobra.ExactArgs(1),
	Run:   runAutomationsRemove,
}

var automationsEnableCmd = &cobra.Command{
	Use:   "enable <automation-id>",
	Short: "Enable an automation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAutomationsSetEnabled(args[0], true)
	},
}

var automationsDisableCmd = &cobra.Command{
	Use:   "disable <automation-id>",
	Short: "Disable an automation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAutomationsSetEnabled(args[0], false)
	},
}

var automationsTriggerCmd = &cobra.Command{
	Use:   "trigger <automation-id>",
	Short: "Run an automation now on the running gateway",
	Args:  cobra.ExactArgs(1),
	Run:   runAutomationsTrigger,
}

func init() {
	automationsAddCmd.Flags().StringVarP(&automationName, "name", "n", "", "automation name")
	automationsAddCmd.Flags().StringVarP(&automationPrompt, "prompt", "p", "", "prompt sent at each run")
	automationsAddCmd.Flags().StringVar(&automationProvider, "provider", "", "provider profile")
	automationsAddCmd.Flags().BoolVar(&automationValidate, "validate", false, "confirm every action batch")
	automationsAddCmd.Flags().BoolVar(&automationDismissOlder, "dismiss-older", false, "drop queued runs superseded by a newer one")
	automationsAddCmd.Flags().BoolVar(&automationDisabled, "disabled", false, "add without scheduling")
	_ = automationsAddCmd.MarkFlagRequired("name")
	_ = automationsAddCmd.MarkFlagRequired("prompt")

	automationsCmd.AddCommand(automationsListCmd)
	automationsCmd.AddCommand(automationsAddCmd)
	automationsCmd.AddCommand(automationsRemoveCmd)
	automationsCmd.AddCommand(automationsEnableCmd)
	automationsCmd.AddCommand(automationsDisableCmd)
	automationsCmd.AddCommand(automationsTriggerCmd)
}

func buildRegistryOrExit() (*automation.Registry, func()) {
	var registry *automation.Registry
	stop := startApp(
		config.Module,
		logger.Module,
		automation.Module,
		fx.Populate(&registry),
	)
	if err := registry.Load(); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error loading automations: %v\n", err)
		os.Exit(1)
	}
	return registry, stop
}

func runAutomationsList(cmd *cobra.Command, args []string) {
	registry, cleanup := buildRegistryOrExit()
	defer cleanup()

	defs := registry.List()
	if len(defs) == 0 {
		fmt.Println("No automations configured.")
		fmt.Println("\nUse 'assistant automations add' to create one.")
		return
	}
	printAutomations(os.Stdout, defs, time.Now())
}

func printAutomations(out io.Writer, defs []automation.Definition, now time.Time) {
	fmt.Fprintf(out, "\nAutomations (%d)\n\n", len(defs))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tFLAGS")
	fmt.Fprintln(w, "--\t----\t--------\t-------\t--------\t-----")

	for _, d := range defs {
		enabled := "yes"
		if !d.Enabled {
			enabled = "no"
		}

		nextRun := "-"
		if d.Enabled {
			if sched, err := automation.ParseSchedule(d.Schedule); err == nil {
				nextRun = sched.Next(now).Format("2006-01-02 15:04")
			}
		}

		flags := ""
		if d.RequireValidation {
			flags += "validate "
		}
		if d.DismissOlderInstances {
			flags += "dismiss-older"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID,
			truncateString(d.Name, 24),
			d.Schedule,
			enabled,
			nextRun,
			flags,
		)
	}
	_ = w.Flush()
	fmt.Fprintln(out)
}

func runAutomationsAdd(cmd *cobra.Command, args []string) {
	registry, cleanup := buildRegistryOrExit()
	defer cleanup()

	def, err := registry.Add(automation.Definition{
		Name:                  automationName,
		Schedule:              args[0],
		Prompt:                automationPrompt,
		ProviderID:            automationProvider,
		RequireValidation:     automationValidate,
		DismissOlderInstances: automationDismissOlder,
		Enabled:               !automationDisabled,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding automation: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Automation added successfully!\n\n")
	fmt.Printf("ID:        %s\n", def.ID)
	fmt.Printf("Name:      %s\n", def.Name)
	fmt.Printf("Schedule:  %s\n", def.Schedule)
	fmt.Printf("Enabled:   %t\n", def.Enabled)
}

func runAutomationsRemove(cmd *cobra.Command, args []string) {
	registry, cleanup := buildRegistryOrExit()
	defer cleanup()

	if err := registry.Remove(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error removing automation: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Automation %s removed\n", args[0])
}

func runAutomationsSetEnabled(id string, enabled bool) {
	registry, cleanup := buildRegistryOrExit()
	defer cleanup()

	if _, err := registry.SetEnabled(id, enabled); err != nil {
		fmt.Fprintf(os.Stderr, "Error updating automation: %v\n", err)
		os.Exit(1)
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("✅ Automation %s %s\n", id, state)
}

func runAutomationsTrigger(cmd *cobra.Command, args []string) {
	cfg, err := config.NewLoader().Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	var fired automation.Fired
	if err := callGateway(cfg, http.MethodPost, "/api/automations/"+args[0]+"/trigger", &fired); err != nil {
		fmt.Fprintf(os.Stderr, "Error triggering automation: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Automation triggered\n\n")
	fmt.Printf("Session:   %s\n", fired.SessionID)
	fmt.Printf("Control:   %s\n", fired.Control.Status)
	if fired.Control.Position > 0 {
		fmt.Printf("Position:  %d\n", fired.Control.Position)
	}
}

// callGateway sends an authenticated request to the local gateway and
// decodes the JSON reply into out.
func callGateway(cfg *config.Config, method, path string, out interface{}) error {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d%s", host, cfg.Gateway.Port, path)

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	if cfg.Gateway.JWTSecret != "" {
		token, err := gateway.IssueToken(cfg.Gateway.JWTSecret, "cli", time.Minute)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return fmt.Errorf("gateway: %s", body.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
