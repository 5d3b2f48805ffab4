package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "gateway",
		Short: "fronteira: reverse proxy with per-client rate limiting",
		Long: `fronteira sits in front of an HTTP upstream and limits how many requests
each client may send per sliding window.

Config comes from an optional YAML file (--config or FRONTEIRA_CONFIG)
overlaid with FRONTEIRA_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("FRONTEIRA_CONFIG"), "path to the YAML config file")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newRulesCmd(&cfgPath),
		newValidateCmd(&cfgPath),
		newStatsCmd(),
	)
	return root
}
