package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lessucettes/ircguard/internal/config"
	"github.com/lessucettes/ircguard/internal/ircsource"
	"github.com/lessucettes/ircguard/internal/logging"
	"github.com/lessucettes/ircguard/internal/metrics"
	"github.com/lessucettes/ircguard/internal/plugin"
	"github.com/lessucettes/ircguard/internal/session"
	"github.com/lessucettes/ircguard/internal/store"
	"github.com/lessucettes/ircguard/internal/watch"
)

var version = "dev"

type app struct {
	db        store.Store
	collector *metrics.Collector
	manager   *session.Manager
	throttle  *session.Throttle
}

func throttleConfig(cfg *config.Fail2BanConfig) session.ThrottleConfig {
	return session.ThrottleConfig{
		Timeout:       cfg.Timeout,
		Attempts:      cfg.Attempts,
		RefuseMessage: cfg.RefuseMessage,
		BannedHosts:   cfg.BannedHosts,
	}
}

func buildApp(ctx context.Context, cfg *config.Config, db store.Store) (*app, error) {
	collector := metrics.NewCollector()
	matcher := watch.NewMatcher(watch.NewWildcard(cfg.Watch.PatternCacheSize, cfg.Watch.PatternCacheTTL))

	throttle, err := session.NewThrottle(ctx, db, throttleConfig(&cfg.Fail2Ban), collector)
	if err != nil {
		return nil, fmt.Errorf("failed to load ban state: %w", err)
	}

	return &app{
		db:        db,
		collector: collector,
		manager:   session.NewManager(db, matcher, collector),
		throttle:  throttle,
	}, nil
}

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "./config.toml", "Path to the configuration file.")
	useDefaults := flag.Bool("use-defaults", false, "Run with internal defaults if the config file is missing.")
	validateConfig := flag.Bool("validate", false, "Validate the configuration file and exit.")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *validateConfig {
		if err := validateConfiguration(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is VALID.")
		return
	}
	if err := runApp(*configPath, *useDefaults); err != nil {
		fmt.Fprintf(os.Stderr, "Application run failed: %v\n", err)
		os.Exit(1)
	}
}

func runApp(configPath string, useDefaults bool) error {
	cfg, defaultsUsed, err := config.Load(configPath, useDefaults)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logCloser := logging.Setup(&cfg.Log)
	defer logCloser.Close()
	slog.Info("ircguard starting up", "version", version, "config_path", configPath, "using_defaults", defaultsUsed)

	db, err := store.NewBadgerStore(&cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer a.manager.Close()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	var g errgroup.Group
	defer func() { _ = g.Wait() }()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, a.collector.Registry())
		g.Go(func() error {
			if err := srv.Run(ctx); err != nil {
				slog.Error("Metrics server stopped", "error", err)
			}
			return nil
		})
	}

	if cfg.IRC.Enabled {
		g.Go(func() error {
			runIRC(ctx, &cfg.IRC, a.manager)
			return nil
		})
	}

	g.Go(func() error {
		a.sweep(ctx, cfg.Fail2Ban.SweepInterval)
		return nil
	})

	onReload := func(newCfg *config.Config) {
		slog.Info("Applying reloaded fail2ban configuration...")
		if err := a.throttle.Reconfigure(ctx, throttleConfig(&newCfg.Fail2Ban)); err != nil {
			slog.Error("Failed to apply reloaded configuration, keeping old settings", "error", err)
			return
		}
		if newCfg.Log.Level != cfg.Log.Level {
			slog.Warn("Log level changes take effect after restart", "level", newCfg.Log.Level)
		}
		slog.Info("Configuration reloaded successfully.", "path", configPath)
	}
	go config.StartWatcher(ctx, configPath, onReload, 0)

	h := plugin.NewHandler(a.manager, a.throttle, plugin.NewWriter(os.Stdout))
	h.SetNetwork(cfg.Watch.Network)
	err = awaitShutdown(ctx, plugin.Run(ctx, os.Stdin, h), cfg.IRC.Enabled)
	cancel()
	return err
}

// awaitShutdown settles the result of the host input loop. When the host
// closes its stream but the IRC source is still feeding events, it blocks
// until ctx is done.
func awaitShutdown(ctx context.Context, inputErr error, keepRunning bool) error {
	if inputErr == nil && keepRunning {
		slog.Info("Input stream closed, IRC source keeps running")
		<-ctx.Done()
	}
	if errors.Is(inputErr, context.Canceled) {
		return nil
	}
	return inputErr
}

func runIRC(ctx context.Context, cfg *config.IRCConfig, manager *session.Manager) {
	var relay session.Sink
	client := ircsource.NewClient(cfg, func(ctx context.Context, ev *watch.Event, net watch.Network) {
		if _, err := manager.HandleEvent(ctx, cfg.User, ev, net, relay); err != nil {
			slog.Error("Error processing IRC event", "kind", ev.Kind, "nick", ev.Nick, "error", err)
		}
	})
	relay = ircsource.NewRelaySink(client.Sender(), relayTarget(cfg), cfg.Rate, cfg.Burst)

	if err := client.Run(ctx); err != nil {
		slog.Error("IRC source stopped", "error", err)
	}
}

func relayTarget(cfg *config.IRCConfig) string {
	if cfg.RelayTo != "" {
		return cfg.RelayTo
	}
	return cfg.Nick
}

// sweep drops expired ban entries on a fixed interval.
func (a *app) sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.throttle.Sweep(ctx); n > 0 {
				slog.Debug("Swept expired ban entries", "count", n)
			}
		}
	}
}

func validateConfiguration(configPath string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	fmt.Printf("Validating configuration file: %s\n", configPath)
	cfg, _, err := config.Load(configPath, false)
	if err != nil {
		return err
	}

	db, err := store.NewBadgerStore(&cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database for validation: %w", err)
	}
	defer db.Close()

	// Static bans are written on startup; validation leaves the store as is.
	cfg.Fail2Ban.BannedHosts = nil
	_, err = buildApp(context.Background(), cfg, db)
	return err
}
