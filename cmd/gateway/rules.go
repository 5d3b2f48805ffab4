package main

import (
	"fmt"
	"io"

	"github.com/cyph3rk/fronteira/internal/config"
	"github.com/cyph3rk/fronteira/internal/server"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/infra"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newRulesCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the effective rate limit policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			return renderRules(cmd.OutOrStdout(), cfg)
		},
	}
}

// renderRules mostra as regras na ordem em que são avaliadas.
func renderRules(w io.Writer, cfg *config.Config) error {
	if !cfg.RateLimit.Enabled {
		_, err := fmt.Fprintln(w, "rate limiting disabled")
		return err
	}

	// só para listar: o backend real não é aberto
	rl := cfg.RateLimit
	rl.Backend = infra.BackendMemory
	p, err := server.NewPolicy(rl, nil)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Name", "Scope", "Window", "Max", "Key", "Algorithm", "Store"})
	for i, r := range p.Rules() {
		t.AppendRow(table.Row{i + 1, r.Name, r.Scope(), r.Window.String(), r.Max, string(r.KeyBy), string(r.Algorithm), storeFor(cfg.RateLimit.Backend, r)})
	}
	t.AppendFooter(table.Row{"", "precedence", string(p.Precedence()), "failure", cfg.RateLimit.FailureMode, "", "", ""})
	t.Render()
	return nil
}

func storeFor(backend string, r domain.Rule) string {
	if backend == infra.BackendRedis && r.Algorithm == domain.AlgorithmSlidingWindow {
		return infra.BackendRedis
	}
	return infra.BackendMemory
}
