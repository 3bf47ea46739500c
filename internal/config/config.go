package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	DB       DBConfig       `toml:"database"`
	Watch    WatchConfig    `toml:"watch"`
	Fail2Ban Fail2BanConfig `toml:"fail2ban"`
	IRC      IRCConfig      `toml:"irc"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l *LogLevel) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch LogLevel(v) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		*l = LogLevel(v)
		return nil
	default:
		return fmt.Errorf("invalid log.level: %q (must be debug, info, warn, error)", string(text))
	}
}

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type LogConfig struct {
	Level LogLevel `toml:"level"`
	// File enables a rotating log file next to stderr output.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type DBConfig struct {
	Path string `toml:"path"`
}

type WatchConfig struct {
	Network          string        `toml:"network"`
	PatternCacheSize int           `toml:"pattern_cache_size"`
	PatternCacheTTL  time.Duration `toml:"pattern_cache_ttl"`
}

type Fail2BanConfig struct {
	Timeout       time.Duration `toml:"timeout"`
	Attempts      int           `toml:"attempts"`
	SweepInterval time.Duration `toml:"sweep_interval"`
	RefuseMessage string        `toml:"refuse_message"`
	BannedHosts   []string      `toml:"banned_hosts"`
}

type IRCConfig struct {
	Enabled  bool     `toml:"enabled"`
	Server   string   `toml:"server"`
	Port     int      `toml:"port"`
	TLS      bool     `toml:"tls"`
	Nick     string   `toml:"nick"`
	Username string   `toml:"username"`
	RealName string   `toml:"realname"`
	Password string   `toml:"password"`
	Channels []string `toml:"channels"`
	// User is the session that owns events read from this connection.
	User string `toml:"user"`
	// RelayTo receives deliveries as PRIVMSG.
	RelayTo  string  `toml:"relay_to"`
	Attached bool    `toml:"attached"`
	Rate     float64 `toml:"rate"`
	Burst    int     `toml:"burst"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	Path    string `toml:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      InfoLevel,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		DB: DBConfig{
			Path: "./ircguard-db",
		},
		Watch: WatchConfig{
			PatternCacheSize: 4096,
			PatternCacheTTL:  10 * time.Minute,
		},
		Fail2Ban: Fail2BanConfig{
			Timeout:       time.Minute,
			Attempts:      2,
			SweepInterval: time.Minute,
			RefuseMessage: "Please try again later - reconnecting too fast",
		},
		IRC: IRCConfig{
			Port:  6697,
			TLS:   true,
			Nick:  "ircguard",
			User:  "default",
			Rate:  2,
			Burst: 4,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
			Path:   "/metrics",
		},
	}
}

func (c *Config) validate() error {
	// --- [database] ---
	if c.DB.Path == "" {
		return errors.New("database.path must not be empty")
	}

	// --- [watch] ---
	if c.Watch.PatternCacheSize < 0 {
		return errors.New("watch.pattern_cache_size must not be negative")
	}
	if c.Watch.PatternCacheTTL < 0 {
		return errors.New("watch.pattern_cache_ttl must not be a negative duration")
	}

	// --- [fail2ban] ---
	f := c.Fail2Ban
	if f.Timeout < time.Second {
		return errors.New("fail2ban.timeout must be at least one second (e.g., '1m')")
	}
	if f.Attempts <= 0 {
		return errors.New("fail2ban.attempts must be > 0")
	}
	if f.SweepInterval < 0 {
		return errors.New("fail2ban.sweep_interval must not be a negative duration")
	}
	for i, host := range f.BannedHosts {
		if strings.TrimSpace(host) == "" {
			return fmt.Errorf("fail2ban.banned_hosts[%d] must not be empty", i)
		}
	}

	// --- [irc] ---
	irc := c.IRC
	if irc.Enabled {
		if irc.Server == "" {
			return errors.New("irc.server must be set when enabled")
		}
		if irc.Port <= 0 || irc.Port > 65535 {
			return fmt.Errorf("irc.port must be in [1..65535], got %d", irc.Port)
		}
		if irc.Nick == "" {
			return errors.New("irc.nick must be set when enabled")
		}
		if irc.User == "" {
			return errors.New("irc.user must be set when enabled")
		}
		if irc.Rate <= 0 || irc.Burst <= 0 {
			return errors.New("irc: rate and burst must be > 0")
		}
		for i, ch := range irc.Channels {
			if ch == "" || !strings.ContainsAny(ch[:1], "#&+!") {
				return fmt.Errorf("irc.channels[%d] (%q) is not a channel name", i, ch)
			}
		}
	}

	// --- [metrics] ---
	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return errors.New("metrics.listen must be set when enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return errors.New("metrics.path must start with '/'")
		}
	}

	return nil
}

// Load reads the TOML file at path on top of the defaults. When the file does
// not exist and useDefaults is set, the defaults alone are returned and the
// second result is true.
func Load(path string, useDefaults bool) (*Config, bool, error) {
	cfg := defaultConfig()
	defaultsUsed := false

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if useDefaults {
				defaultsUsed = true
				if err := cfg.validate(); err != nil {
					return nil, true, err
				}
				return cfg, defaultsUsed, nil
			}
			return nil, false, fmt.Errorf("config file not found at %s", path)
		}
		return nil, false, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, defaultsUsed, nil
}
