package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lessucettes/ircguard/internal/config"
)

func TestNew_LevelAndJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(&config.LogConfig{Level: config.WarnLevel}, &buf)
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept", "user", "alice")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	require.Equal(t, "kept", rec["msg"])
	require.Equal(t, "alice", rec["user"])
}

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ircguard.log")
	var buf bytes.Buffer
	logger, closer := New(&config.LogConfig{Level: config.InfoLevel, File: path, MaxSizeMB: 1}, &buf)

	logger.Info("hello file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello file")
	require.Contains(t, buf.String(), "hello file")
}
