package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"assistant/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		path, created, err := config.InitDefaultConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}
		if !created {
			fmt.Printf("Config already exists at %s\n", path)
			return
		}
		fmt.Printf("✅ Config written to %s\n", path)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	Run: func(cmd *cobra.Command, args []string) {
		loader := config.NewLoader()
		cfg, err := loader.Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if err := config.ValidateConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid config %s:\n%v\n", loader.GetConfigPath(), err)
			os.Exit(1)
		}
		fmt.Printf("✅ %s is valid\n", loader.GetConfigPath())
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file in use",
	Run: func(cmd *cobra.Command, args []string) {
		loader := config.NewLoader()
		if _, err := loader.Load(""); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(loader.GetConfigPath())
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configPathCmd)
}
