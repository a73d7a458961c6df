package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sigforge/catalog"
	"sigforge/compiler"
	"sigforge/core"
	"sigforge/service"
	"sigforge/simulate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config that keeps SIDs in a temp sqlite file.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "log:\n  level: warn\nstorage:\n  backend: sqlite\n  sqlite_path: " +
		filepath.Join(dir, "sids.db") + "\nsimulation:\n  sample_count: 40\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeGraph(t *testing.T, build func(g *core.Graph)) string {
	t.Helper()
	g := core.NewGraph(catalog.Builtin())
	build(g)
	data, err := g.MarshalDocument()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func rdpGraph(g *core.Graph) {
	_, _ = g.AddNode(catalog.PortRange, map[string]any{"port": "3389"})
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNewRootCmd_Structure(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "sigforge", root.Use)

	actual := make(map[string]bool)
	for _, sub := range root.Commands() {
		actual[sub.Name()] = true
	}
	for _, expected := range []string{"validate", "compile", "test", "formats", "catalog", "serve", "sid"} {
		assert.True(t, actual[expected], "Missing command: %s", expected)
	}

	for _, flag := range []string{"config", "json", "no-color", "quiet", "verbose", "strict"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}

	compile, _, err := root.Find([]string{"compile"})
	require.NoError(t, err)
	for _, flag := range []string{"format", "all", "out", "dry-run", "action", "splunk-index", "splunk-stats", "lookback"} {
		assert.NotNil(t, compile.Flags().Lookup(flag), flag)
	}
}

func TestValidateCmd(t *testing.T) {
	cfg := writeConfig(t)

	t.Run("valid graph", func(t *testing.T) {
		out, _, err := run(t, "--config", cfg, "validate", writeGraph(t, rdpGraph))
		require.NoError(t, err)
		assert.Contains(t, out, "is valid")
	})

	t.Run("cycle is reported", func(t *testing.T) {
		path := writeGraph(t, func(g *core.Graph) {
			a, _ := g.AddNode(catalog.StringMatch, map[string]any{"string": "a"})
			b, _ := g.AddNode(catalog.StringMatch, map[string]any{"string": "b"})
			_, _ = g.Connect(a, "match", b, "match", core.OpAND)
			_, _ = g.Connect(b, "match", a, "match", core.OpAND)
		})
		out, _, err := run(t, "--config", cfg, "--json", "validate", path)
		require.ErrorIs(t, err, ErrChecksFailed)

		var res core.ValidationResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.False(t, res.IsValid)
		assert.NotEmpty(t, res.Errors)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := run(t, "--config", cfg, "validate", filepath.Join(t.TempDir(), "nope.json"))
		assert.ErrorContains(t, err, "cannot access graph file")
	})
}

func TestCompileCmd(t *testing.T) {
	cfg := writeConfig(t)
	graph := writeGraph(t, rdpGraph)

	t.Run("single format honours action", func(t *testing.T) {
		out, _, err := run(t, "--config", cfg, "compile", "-f", "snort", "--action", "drop", graph)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "drop "), out)
		assert.Contains(t, out, "sid:1100000")
	})

	t.Run("sid persists across runs", func(t *testing.T) {
		out, _, err := run(t, "--config", cfg, "--json", "compile", "-f", "suricata", graph)
		require.NoError(t, err)
		var rule compiler.CompiledRule
		require.NoError(t, json.Unmarshal([]byte(out), &rule))
		assert.Equal(t, 1100001, rule.SID)
	})

	t.Run("dry run does not reserve", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			out, _, err := run(t, "--config", cfg, "--json", "compile", "-f", "snort", "--dry-run", graph)
			require.NoError(t, err)
			var rule compiler.CompiledRule
			require.NoError(t, json.Unmarshal([]byte(out), &rule))
			assert.Equal(t, 1100002, rule.SID)
		}
	})

	t.Run("all formats as json", func(t *testing.T) {
		out, _, err := run(t, "--config", cfg, "--json", "compile", "--all", "--dry-run", graph)
		require.NoError(t, err)
		var results []service.FormatResult
		require.NoError(t, json.Unmarshal([]byte(out), &results))
		assert.Len(t, results, len(compiler.Formats))
	})

	t.Run("all formats to directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "rules")
		_, _, err := run(t, "--config", cfg, "--quiet", "compile", "--all", "--dry-run", "-o", dir, graph)
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(dir, "yara.yar"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(dir, "splunk.spl"))
		assert.NoError(t, err)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := run(t, "--config", cfg, "compile", "-f", "pcap", graph)
		assert.Error(t, err)
	})

	t.Run("stdin", func(t *testing.T) {
		data, err := os.ReadFile(graph)
		require.NoError(t, err)
		root := NewRootCmd()
		var stdout bytes.Buffer
		root.SetIn(bytes.NewReader(data))
		root.SetOut(&stdout)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"--no-color", "--config", cfg, "compile", "-f", "yara", "-"})
		require.NoError(t, root.Execute())
		assert.Contains(t, stdout.String(), "rule ")
	})
}

func TestTestCmd(t *testing.T) {
	cfg := writeConfig(t)
	graph := writeGraph(t, rdpGraph)

	t.Run("full suite", func(t *testing.T) {
		out, _, err := run(t, "--config", cfg, "--json", "test", graph)
		if err != nil {
			require.ErrorIs(t, err, ErrChecksFailed)
		}
		var report simulate.TestReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Len(t, report.Results, len(simulate.Suite))
	})

	t.Run("single test table output", func(t *testing.T) {
		out, _, err := run(t, "--config", cfg, "test", "--progress=false", "-t", "component-validation", graph)
		require.NoError(t, err)
		assert.Contains(t, out, "component-validation")
		assert.Contains(t, out, "passed")
	})

	t.Run("unknown test", func(t *testing.T) {
		_, _, err := run(t, "--config", cfg, "test", "--progress=false", "-t", "fuzzing", graph)
		assert.ErrorContains(t, err, "unknown test")
	})
}

func TestFormatsAndCatalogCmd(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := run(t, "formats")
	require.NoError(t, err)
	for _, f := range compiler.Formats {
		assert.Contains(t, out, string(f))
	}

	out, _, err = run(t, "--config", cfg, "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, catalog.FileHash)

	out, _, err = run(t, "--config", cfg, "catalog", catalog.FileHash)
	require.NoError(t, err)
	assert.Contains(t, out, "hash_value")

	_, _, err = run(t, "--config", cfg, "catalog", "nope")
	assert.ErrorContains(t, err, "unknown component")
}

func TestSIDCmd_SnapshotRestore(t *testing.T) {
	src := writeConfig(t)
	graph := writeGraph(t, rdpGraph)
	_, _, err := run(t, "--config", src, "compile", "-f", "snort", graph)
	require.NoError(t, err)

	snap := filepath.Join(t.TempDir(), "sids.msgpack")
	_, _, err = run(t, "--config", src, "sid", "snapshot", "-o", snap)
	require.NoError(t, err)

	dst := writeConfig(t)
	out, _, err := run(t, "--config", dst, "sid", "restore", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "restored 1 SIDs")

	out, _, err = run(t, "--config", dst, "--json", "sid", "status")
	require.NoError(t, err)
	var status struct {
		Used int            `json:"used"`
		Next map[string]int `json:"next"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Used)
	assert.Equal(t, 1100001, status.Next["network"])
}

func TestReadGraphFile(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(big, bytes.Repeat([]byte("x"), maxGraphFileSize+1), 0o600))

	tests := []struct {
		name    string
		stdin   string
		path    string
		wantErr string
	}{
		{name: "stdin", stdin: `{"nodes":[]}`, path: "-"},
		{name: "directory", path: dir, wantErr: "is a directory"},
		{name: "too large", path: big, wantErr: "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := readGraphFile(strings.NewReader(tt.stdin), tt.path)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.stdin, string(data))
		})
	}
}
