package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pcache.log")
	l, err := New(Config{Level: "warn", Format: "json", OutputFile: path})
	require.NoError(t, err)

	l.Info("dropped below level")
	l.Named("pcache").Warn("Discarding dirty pages on close")
	require.NoError(t, l.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry), "exactly one entry expected, got %q", raw)
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, "pcache", entry["logger"])
	require.Equal(t, DefaultService, entry["service"])
}

func TestNew_BadOutputFile(t *testing.T) {
	_, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Config{}.Validate())
	require.NoError(t, Config{Level: "debug", Format: "console"}.Validate())
	require.Error(t, Config{Level: "loud"}.Validate())
	require.Error(t, Config{Format: "xml"}.Validate())
}
