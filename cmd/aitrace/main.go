package main

import (
	"aitrace_platform/aitrace/config"
	"log"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envPath    string
)

var rootCmd = &cobra.Command{
	Use:          "aitrace",
	Short:        "Image dataset labeling service",
	SilenceUsage: true,
}

func loadConfig() config.Config {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return cfg
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Yaml file to load settings from. Env variables override its values.")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")

	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalln(err.Error())
	}
}
