package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_ContainsStandardComponents(t *testing.T) {
	c := Builtin()

	for _, id := range []string{
		IPAddress, PortRange, Protocol, DNSQuery, StringMatch, RegexMatch,
		BytePattern, HTTPHeader, FileHash, FileSize, ProcessName,
		RegistryKey, BehavioralIndicator, TimeWindow,
	} {
		def, ok := c.Get(id)
		require.True(t, ok, "missing %s", id)
		assert.NotEmpty(t, def.Inputs, id)
		assert.NotEmpty(t, def.Outputs, id)
		assert.NotEmpty(t, def.Parameters, id)
	}
	assert.Equal(t, 14, c.Len())
}

func TestDefinition_Ports(t *testing.T) {
	def, ok := Builtin().Get(StringMatch)
	require.True(t, ok)

	assert.True(t, def.HasInput("payload"))
	assert.True(t, def.HasOutput("match"))
	assert.False(t, def.HasOutput("packet"))
	assert.False(t, def.HasInput("file"))
}

func TestDefinition_Defaults(t *testing.T) {
	def, _ := Builtin().Get(StringMatch)
	defaults := def.Defaults()

	assert.Equal(t, true, defaults["case_sensitive"])
	assert.Equal(t, "payload", defaults["field"])
	_, hasString := defaults["string"]
	assert.False(t, hasString, "required parameter without default must stay unset")
}

func TestCatalog_ListSorted(t *testing.T) {
	list := Builtin().List()
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if prev.Category == cur.Category {
			assert.Less(t, prev.ID, cur.ID)
		} else {
			assert.Less(t, string(prev.Category), string(cur.Category))
		}
	}
}

func TestCatalog_RegisterRequiresID(t *testing.T) {
	c := New()
	assert.Error(t, c.Register(Definition{Name: "nameless"}))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		wantLen int
	}{
		{
			name: "valid",
			yaml: `
components:
  - id: scanner
    name: Port Scanner
    category: network
    inputs: [packet]
    outputs: [match]
    parameters:
      target:
        type: string
        required: true
      rate:
        type: number
        min: 1
        max: 1000
`,
			wantLen: 1,
		},
		{
			name: "select without options",
			yaml: `
components:
  - id: broken
    name: Broken
    category: network
    parameters:
      mode:
        type: select
`,
			wantErr: true,
		},
		{
			name: "unknown param type",
			yaml: `
components:
  - id: broken
    name: Broken
    category: network
    parameters:
      mode:
        type: blob
`,
			wantErr: true,
		},
		{
			name: "duplicate ids",
			yaml: `
components:
  - {id: a, name: A, category: file}
  - {id: a, name: A2, category: file}
`,
			wantErr: true,
		},
		{
			name: "min over max",
			yaml: `
components:
  - id: a
    name: A
    category: file
    parameters:
      n: {type: number, min: 10, max: 1}
`,
			wantErr: true,
		},
		{
			name:    "not yaml",
			yaml:    "components: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, defs, tt.wantLen)
		})
	}
}

func TestCatalog_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
components:
  - id: scanner
    name: Port Scanner
    category: network
    inputs: [packet, match]
    outputs: [match]
    parameters:
      target: {type: string, required: true}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c := Builtin()
	n, err := c.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	def, ok := c.Get("scanner")
	require.True(t, ok)
	assert.True(t, def.Parameters["target"].Required)

	_, err = c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
