package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONWithService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leafdb.log")
	log, err := New(Config{Level: "warn", Format: "json", OutputFile: path, Service: "leafdb-test"})
	require.NoError(t, err)

	log.Info("dropped below level")
	log.Warn("kept")
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, "kept", entry["msg"])
	require.Equal(t, "leafdb-test", entry["service"])
	require.Contains(t, entry, "caller")
}

func TestNew_DefaultsAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leafdb.log")
	log, err := New(Config{Level: "nonsense", Format: "console", OutputFile: path})
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("shown")
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "hidden")
	require.Contains(t, string(raw), "INFO")
	require.Contains(t, string(raw), `{"service": "leafdb"}`)

	_, err = New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}
