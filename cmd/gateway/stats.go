package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/infra"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		addr    string
		asJSON  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Fetch rate limit counters from a running gateway",
		Long:  "Reads /debug/ratelimit/stats (requires server.debug_endpoints).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := fetchStats(cmd, addr, timeout)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			renderStats(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "gateway base URL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func fetchStats(cmd *cobra.Command, addr string, timeout time.Duration) (infra.Snapshot, error) {
	var snap infra.Snapshot

	url := strings.TrimRight(addr, "/") + "/debug/ratelimit/stats"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return snap, err
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return snap, fmt.Errorf("fetching stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return snap, fmt.Errorf("fetching stats: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decoding stats: %w", err)
	}
	return snap, nil
}

func renderStats(w io.Writer, snap infra.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Scope", "Allowed", "Denied", "Degraded", "Unavailable"})

	appendCounters(t, snap.ByScope)
	if len(snap.ByKey) > 0 {
		t.AppendSeparator()
		appendCounters(t, snap.ByKey)
	}

	c := snap.Total
	t.AppendFooter(table.Row{"total", c.Allowed, c.Denied, c.Degraded, c.Unavailable})
	t.Render()
}

func appendCounters(t table.Writer, m map[string]infra.Counters) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		c := m[k]
		t.AppendRow(table.Row{k, c.Allowed, c.Denied, c.Degraded, c.Unavailable})
	}
}
