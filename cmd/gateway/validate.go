package main

import (
	"fmt"

	"github.com/cyph3rk/fronteira/internal/config"

	"github.com/spf13/cobra"
)

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config without starting the gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			global, routes := cfg.RateLimit.Rules()
			n := len(routes)
			if global != nil {
				n++
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok: upstream=%s rules=%d backend=%s stats=%s\n",
				cfg.Server.UpstreamURL, n, cfg.RateLimit.Backend, cfg.Stats.Backend)
			return err
		},
	}
}
