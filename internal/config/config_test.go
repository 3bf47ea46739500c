package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "ircguard.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	_, _, err := Load(path, false)
	require.Error(t, err)

	cfg, defaultsUsed, err := Load(path, true)
	require.NoError(t, err)
	require.True(t, defaultsUsed)
	require.Equal(t, time.Minute, cfg.Fail2Ban.Timeout)
	require.Equal(t, 2, cfg.Fail2Ban.Attempts)
	require.Equal(t, "Please try again later - reconnecting too fast", cfg.Fail2Ban.RefuseMessage)
	require.Equal(t, InfoLevel, cfg.Log.Level)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[log]
level = "DEBUG"
file = "/var/log/ircguard.log"

[database]
path = "/tmp/db"

[fail2ban]
timeout = "5m"
attempts = 4
banned_hosts = ["10.0.0.1", "10.0.0.2"]

[irc]
enabled = true
server = "irc.example.net"
channels = ["#ops", "&local"]
relay_to = "owner"

[metrics]
enabled = true
`)

	cfg, defaultsUsed, err := Load(path, false)
	require.NoError(t, err)
	require.False(t, defaultsUsed)

	require.Equal(t, DebugLevel, cfg.Log.Level)
	require.Equal(t, slog.LevelDebug, cfg.Log.Level.ToSlogLevel())
	require.Equal(t, "/var/log/ircguard.log", cfg.Log.File)
	require.Equal(t, 50, cfg.Log.MaxSizeMB, "unset keys keep their defaults")
	require.Equal(t, "/tmp/db", cfg.DB.Path)
	require.Equal(t, 5*time.Minute, cfg.Fail2Ban.Timeout)
	require.Equal(t, 4, cfg.Fail2Ban.Attempts)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Fail2Ban.BannedHosts)
	require.Equal(t, 6697, cfg.IRC.Port)
	require.Equal(t, []string{"#ops", "&local"}, cfg.IRC.Channels)
	require.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"bad log level", "[log]\nlevel = \"loud\"\n"},
		{"zero attempts", "[fail2ban]\nattempts = 0\n"},
		{"tiny timeout", "[fail2ban]\ntimeout = \"10ms\"\n"},
		{"empty banned host", "[fail2ban]\nbanned_hosts = [\" \"]\n"},
		{"irc without server", "[irc]\nenabled = true\n"},
		{"irc bad channel", "[irc]\nenabled = true\nserver = \"x\"\nchannels = [\"ops\"]\n"},
		{"irc bad port", "[irc]\nenabled = true\nserver = \"x\"\nport = 70000\n"},
		{"metrics bad path", "[metrics]\nenabled = true\npath = \"metrics\"\n"},
		{"empty db path", "[database]\npath = \"\"\n"},
		{"broken toml", "[fail2ban\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tc.body)
			_, _, err := Load(path, false)
			require.Error(t, err)
		})
	}
}

func TestStartWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[fail2ban]\nattempts = 2\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []*Config
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartWatcher(ctx, path, func(c *Config) {
			mu.Lock()
			got = append(got, c)
			mu.Unlock()
		}, 20*time.Millisecond)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// An invalid file is ignored.
	require.NoError(t, os.WriteFile(path, []byte("[fail2ban]\nattempts = 0\n"), 0o600))
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("[fail2ban]\nattempts = 7\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Fail2Ban.Attempts == 7
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	for _, c := range got {
		require.NotZero(t, c.Fail2Ban.Attempts)
	}
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
