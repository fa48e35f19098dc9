package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bridgex/internal/bus"
	"bridgex/internal/channel"
	"bridgex/internal/config"
	"bridgex/internal/domain"
	"bridgex/internal/identity"
	"bridgex/internal/media"
	"bridgex/internal/metrics"
	"bridgex/internal/overflow"
	"bridgex/internal/pastebin"
	"bridgex/internal/router"
	"bridgex/internal/web"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "bridgex",
		Short: "BridgeX: cross-platform chat bridge",
		Long:  "BridgeX relays messages, edits and deletes between Telegram, IRC and Discord groups.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to bridge.yaml (default: ~/.bridgex/bridge.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default bridge.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			// A placeholder bridge so the file shows the notation.
			cfg.Bridges = []config.BridgeSpec{{
				Groups: []string{"telegram/-1001234567890", "irc/#mychannel"},
			}}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("edit the file to add tokens and your real bridge links, then run 'bridgex serve'")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bridgex %s\n", version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long:  "Connects every enabled platform and relays messages until interrupted.",
		RunE:  runServe,
	}
}

// buildLogger applies the configured level and optional log file.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if cfg.Path != "" {
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}

func buildUploader(cfg config.PastebinConfig) pastebin.Uploader {
	switch cfg.Mode {
	case "http":
		return pastebin.NewHTTPClient(cfg.Endpoint, cfg.AuthToken, logger)
	case "self":
		return pastebin.NewFileStore(cfg.Dir, cfg.PublicURL, logger)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err = buildLogger(cfg.Logging)
	if err != nil {
		return err
	}

	table, err := config.BuildTable(cfg)
	if err != nil {
		return fmt.Errorf("build route table: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := bus.New(cfg.Bus.Buffer, logger)
	notifier := bus.NewNotifier(logger)
	notifier.OnOutcome(metrics.Collector.RecordOutcome)

	var journal *identity.Journal
	if cfg.Identity.JournalPath != "" {
		journal, err = identity.OpenJournal(cfg.Identity.JournalPath, logger)
		if err != nil {
			return fmt.Errorf("identity journal: %w", err)
		}
		defer journal.Close()
	}
	ids := identity.NewMap(identity.Options{
		TTL:        time.Duration(cfg.Identity.TTLHours) * time.Hour,
		SweepEvery: time.Duration(cfg.Identity.SweepMinutes) * time.Minute,
		MaxEntries: cfg.Identity.MaxEntries,
		Journal:    journal,
		Logger:     logger,
	})
	go ids.Run(ctx)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.Collector.SetIdentitySize(ids.Len())
			}
		}
	}()

	adapters := buildAdapters(cfg, table)
	if len(adapters) == 0 {
		return fmt.Errorf("no platforms enabled; enable at least one of telegram, discord, irc")
	}

	fanout := router.New(router.Options{
		Events:   eventBus.Subscribe(),
		Notifier: notifier,
		Adapters: adapters,
		Identity: ids,
		Overflow: overflow.NewHandler(buildUploader(cfg.Pastebin), logger),
		Media: media.NewRelay(media.Options{
			MaxFetchBytes: cfg.Media.MaxFetchBytes,
			FetchTimeout:  time.Duration(cfg.Media.FetchTimeoutSeconds) * time.Second,
			Logger:        logger,
		}),
		Format: router.NewFormatter(map[domain.Platform]string{
			domain.PlatformTelegram: cfg.Telegram.PlatformPrefix,
			domain.PlatformDiscord:  cfg.Discord.PlatformPrefix,
			domain.PlatformIRC:      cfg.IRC.PlatformPrefix,
		}),
		Dispatch: router.NewSupervisor(router.SupervisorOptions{
			MaxAttempts:   cfg.Dispatch.MaxAttempts,
			BaseBackoff:   time.Duration(cfg.Dispatch.BaseBackoffMS) * time.Millisecond,
			CallTimeout:   time.Duration(cfg.Dispatch.CallTimeoutSeconds) * time.Second,
			RatePerMinute: cfg.Dispatch.RatePerMinute,
			Logger:        logger,
		}),
		Table:  table,
		Logger: logger,
	})

	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		fanout.Run(ctx)
	}()

	// countingBus layers the inbound metric over the real bus.
	counted := countingBus{EventBus: eventBus}
	for _, a := range adapters {
		go func(a domain.Adapter) {
			if err := a.Start(ctx, counted); err != nil {
				logger.Error("adapter failed", "platform", a.Name(), "err", err)
			}
		}(a)
		logger.Info("adapter enabled", "platform", a.Name())
	}

	if cfg.Web.Enabled {
		console := web.NewServer(web.Options{
			Host:      cfg.Web.Host,
			Port:      cfg.Web.Port,
			AuthToken: cfg.Web.AuthToken,
			Table:     fanout.Table,
			Reload: func() error {
				fresh, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				newTable, err := config.BuildTable(fresh)
				if err != nil {
					return err
				}
				fanout.SwapTable(newTable)
				return nil
			},
			IdentitySize: ids.Len,
			Notifier:     notifier,
			Metrics:      metrics.Collector,
			Logger:       logger,
		})
		go func() {
			if err := console.Start(ctx); err != nil {
				logger.Error("management console error", "err", err)
			}
		}()
	}

	logger.Info("bridge running", "bridges", len(table.Routes), "config", cfgPath)

	<-ctx.Done()
	logger.Info("shutting down...")

	// Closing the bus ends the router's event loop; give in-flight
	// dispatches a grace period to finish.
	eventBus.Close()
	select {
	case <-routerDone:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(15 * time.Second):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func buildAdapters(cfg *config.Config, table *config.Table) []domain.Adapter {
	var adapters []domain.Adapter
	if cfg.Telegram.Enabled {
		adapters = append(adapters, channel.NewTelegram(channel.TelegramOptions{
			Token:     cfg.Telegram.Token,
			NickStyle: cfg.Telegram.NickStyle,
			Logger:    logger,
		}))
	}
	if cfg.Discord.Enabled {
		adapters = append(adapters, channel.NewDiscord(channel.DiscordOptions{
			Token:     cfg.Discord.Token,
			NickStyle: cfg.Discord.NickStyle,
			Logger:    logger,
		}))
	}
	if cfg.IRC.Enabled {
		adapters = append(adapters, channel.NewIRC(channel.IRCOptions{
			Host:         cfg.IRC.Host,
			Port:         cfg.IRC.Port,
			SSL:          cfg.IRC.SSL,
			Nick:         cfg.IRC.Nick,
			RealName:     cfg.IRC.RealName,
			NickServPass: cfg.IRC.NickServPass,
			Groups:       table.GroupsFor(domain.PlatformIRC),
			Logger:       logger,
		}))
	}
	return adapters
}

// countingBus wraps the event bus so every inbound event is counted before
// it reaches the router.
type countingBus struct {
	domain.EventBus
}

func (b countingBus) Publish(ev domain.Event) {
	metrics.Collector.RecordInbound(ev.Origin.Platform, ev.Kind)
	b.EventBus.Publish(ev)
}
