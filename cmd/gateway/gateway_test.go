package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyph3rk/fronteira/internal/config"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
server:
  upstream_url: "http://localhost:8081"
ratelimit:
  backend: redis
  global:
    enabled: true
    window: 60s
    max: 60
  routes:
    - name: login
      route: "POST /api/auth/login"
      window: 60s
      max: 5
    - name: groups
      route: "/api/groups/*"
      window: 10s
      max: 20
      key_by: user
      algorithm: token_bucket
redis:
  addr: "localhost:6379"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fronteira.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate_OK(t *testing.T) {
	out, err := run(t, "validate", "--config", writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "config ok")
	assert.Contains(t, out, "rules=3")
	assert.Contains(t, out, "backend=redis")
}

func TestValidate_Invalid(t *testing.T) {
	_, err := run(t, "validate", "--config", writeConfig(t, `
server:
  upstream_url: "ftp://nope"
ratelimit:
  global:
    enabled: true
    window: 60s
    max: 0
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "scheme must be http or https")
}

func TestRules_RendersPolicyInOrder(t *testing.T) {
	out, err := run(t, "rules", "--config", writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	login := bytes.Index([]byte(out), []byte("POST /api/auth/login"))
	groups := bytes.Index([]byte(out), []byte("/api/groups/*"))
	global := bytes.Index([]byte(out), []byte("global"))
	require.True(t, login >= 0 && groups >= 0 && global >= 0, out)
	assert.Less(t, login, groups)
	assert.Less(t, groups, global)

	// token_bucket é sempre local, mesmo com backend redis
	assert.Contains(t, out, "token_bucket")
	assert.Contains(t, out, "memory")
	assert.Contains(t, out, "redis")
}

func TestRules_Disabled(t *testing.T) {
	t.Setenv("FRONTEIRA_SERVER_UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("FRONTEIRA_RATELIMIT_ENABLED", "false")

	var out bytes.Buffer
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, renderRules(&out, cfg))
	assert.Equal(t, "rate limiting disabled\n", out.String())
}

func TestStats_FetchesAndRenders(t *testing.T) {
	snap := infra.Snapshot{
		Total: infra.Counters{Allowed: 7, Denied: 2},
		ByScope: map[string]infra.Counters{
			"GET global":                {Allowed: 5, Denied: 2},
			"POST POST /api/auth/login": {Allowed: 2},
		},
	}
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/debug/ratelimit/stats" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(snap)
	}))
	defer gw.Close()

	out, err := run(t, "stats", "--addr", gw.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, out, "GET global")
	assert.Contains(t, out, "POST POST /api/auth/login")
	assert.Contains(t, out, "7")

	out, err = run(t, "stats", "--addr", gw.URL, "--json")
	require.NoError(t, err)
	var got infra.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, snap, got)
}

func TestStats_EndpointDisabled(t *testing.T) {
	gw := httptest.NewServer(http.NotFoundHandler())
	defer gw.Close()

	_, err := run(t, "stats", "--addr", gw.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
