package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/proxy-bridge/internal/model"
)

// writeFile creates a file with the given contents inside a fresh temp
// directory and returns its path.
func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// TestLoad_JSONC verifies JSONC parsing, including comments and trailing
// commas, which plain encoding/json would reject.
func TestLoad_JSONC(t *testing.T) {
	path := writeFile(t, "bridges.jsonc", `{
  // DevTools bridge for the managed browser container.
  "bridges": [
    {
      "name": "devtools",
      "listen": "127.0.0.1:9222",
      "upstream": "127.0.0.1:9223",
      "container": "chrome",
    },
  ],
}`)

	file, err := Load(path)
	require.NoError(t, err)
	require.Len(t, file.Bridges, 1)

	b := file.Bridges[0]
	assert.Equal(t, "devtools", b.Name)
	assert.Equal(t, "127.0.0.1:9222", b.ListenAddress)
	assert.Equal(t, "127.0.0.1:9223", b.UpstreamTarget)
	assert.Equal(t, "chrome", b.Container)
}

// TestLoad_YAML verifies the YAML format produces the same result.
func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "bridges.yaml", `bridges:
  - name: devtools
    listen: "127.0.0.1:9222"
    upstream: "127.0.0.1:9223"
  - name: api
    listen: "127.0.0.1:8080"
    upstream: "127.0.0.1:8081"
    container: backend
`)

	file, err := Load(path)
	require.NoError(t, err)
	require.Len(t, file.Bridges, 2)
	assert.Equal(t, "devtools", file.Bridges[0].Name)
	assert.Equal(t, "backend", file.Bridges[1].Container)
}

// TestLoad_MissingFile verifies the exit code mapping when the file does
// not exist.
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "bridges.jsonc"))
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
}

// TestLoad_UnsupportedExtension verifies the error for unknown formats.
func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "bridges.toml", `bridges = []`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported configuration format")
}

// TestLoad_DuplicateName verifies cross-bridge name uniqueness.
func TestLoad_DuplicateName(t *testing.T) {
	path := writeFile(t, "bridges.yaml", `bridges:
  - name: devtools
    listen: "127.0.0.1:9222"
    upstream: "127.0.0.1:9223"
  - name: devtools
    listen: "127.0.0.1:9224"
    upstream: "127.0.0.1:9225"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate bridge name")
}

// TestLoad_DuplicateListenAddress verifies that two bridges cannot claim
// the same listen address: the conflict must surface at load time, not
// as a bind failure when the second bridge starts.
func TestLoad_DuplicateListenAddress(t *testing.T) {
	path := writeFile(t, "bridges.yaml", `bridges:
  - name: devtools
    listen: "127.0.0.1:9222"
    upstream: "127.0.0.1:9223"
  - name: api
    listen: "127.0.0.1:9222"
    upstream: "127.0.0.1:8081"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen address")
}

// TestLoad_EmptyBridges verifies that a file with no bridges is invalid.
func TestLoad_EmptyBridges(t *testing.T) {
	path := writeFile(t, "bridges.yaml", `bridges: []`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bridges")
}

// TestLocate verifies discovery of conventional file names and its
// priority order (jsonc before yaml).
func TestLocate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bridges.yaml"), []byte("bridges: []"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bridges.jsonc"), []byte("{}"), 0o644))

	path, err := Locate(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bridges.jsonc"), path, "jsonc should win over yaml")
}

// TestLocate_NotFound verifies the exit code mapping when no
// configuration file exists in the directory.
func TestLocate_NotFound(t *testing.T) {
	_, err := Locate(t.TempDir())
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
}

// TestBridge_Lookup verifies name lookup and the not-found exit code.
func TestBridge_Lookup(t *testing.T) {
	file := &File{Bridges: []model.BridgeSpec{
		{Name: "devtools", ListenAddress: "127.0.0.1:9222", UpstreamTarget: "127.0.0.1:9223"},
	}}

	b, err := file.Bridge("devtools")
	require.NoError(t, err)
	assert.Equal(t, "devtools", b.Name)

	_, err = file.Bridge("missing")
	require.Error(t, err)
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitBridgeNotFound, cliErr.Code)
}
