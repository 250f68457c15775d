package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand("1.0.0", "abc", "today")

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"analyze", "graph", "validate", "serve", "history", "policy", "config"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.Contains(t, root.Version, "1.0.0")
}

// writeConfig writes a config file in a temp dir with history stored next to it.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "healthgraph.yaml")
	content += "\nstore:\n  path: " + filepath.Join(dir, "runs.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, config string, args ...string) error {
	t.Helper()
	root := newRootCommand("test", "none", "now")
	root.SetArgs(append(args, "--config", config))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	return root.Execute()
}

func TestCommands_AnalyzeThenHistory(t *testing.T) {
	cfg := writeConfig(t, "telemetry:\n  logging:\n    level: error\n  metrics:\n    enabled: false\n")

	require.NoError(t, execute(t, cfg, "analyze", "--image-valid", "--ingredients", "oats,sugar", "--output", "json", "--run-id", "run-a"))
	require.NoError(t, execute(t, cfg, "analyze", "--image-valid=false", "--output", "chat", "--run-id", "run-b"))

	require.NoError(t, execute(t, cfg, "history"))
	require.NoError(t, execute(t, cfg, "history", "show", "run-a"))
	require.NoError(t, execute(t, cfg, "history", "events", "run-a"))
	assert.Error(t, execute(t, cfg, "history", "show", "missing"))

	configPath = cfg
	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())
	a, err := openHistory(cmd)
	require.NoError(t, err)
	defer a.Close()

	run, err := a.store.GetRun(t.Context(), "run-b")
	require.NoError(t, err)
	assert.Equal(t, "short_circuited", string(run.Status))

	nodes, err := a.store.ListNodeRuns(t.Context(), "run-a")
	require.NoError(t, err)
	assert.Len(t, nodes, 6)
}

func TestCommands_ValidateGraphPolicyConfig(t *testing.T) {
	cfg := writeConfig(t, "telemetry:\n  logging:\n    level: error\n")

	assert.NoError(t, execute(t, cfg, "validate"))
	assert.NoError(t, execute(t, cfg, "graph"))
	assert.NoError(t, execute(t, cfg, "graph", "--dot"))
	assert.NoError(t, execute(t, cfg, "policy", "list"))
	assert.NoError(t, execute(t, cfg, "policy", "check", "--confidence", "0.1", "--ingredients", "oats"))
	assert.NoError(t, execute(t, cfg, "config", "dump"))
	assert.Error(t, execute(t, cfg, "policy", "check", "--status", "bogus"))
}

func TestCommands_AnalyzeBadFormat(t *testing.T) {
	cfg := writeConfig(t, "")
	assert.Error(t, execute(t, cfg, "analyze", "--image-valid", "--output", "xml"))
}
