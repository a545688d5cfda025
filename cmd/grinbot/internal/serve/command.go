package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/grinbot/grinbot/cmd/grinbot/internal"
	"github.com/grinbot/grinbot/pkg/channels/websocket"
	"github.com/grinbot/grinbot/pkg/config"
	"github.com/grinbot/grinbot/pkg/hub"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/ratelimit"
)

const (
	cronInterval    = time.Second
	shutdownTimeout = 5 * time.Second
)

func NewServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Run the WebSocket agent server",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serveCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func serveCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := internal.SetupLogging(cfg, debug); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := internal.NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	h := hub.New(rt.Queue, rt.Respond, hubOptions(cfg))
	h.Start(ctx)
	defer h.Shutdown()

	srv := websocket.NewServer(cfg.Server, h)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("%s grinbot listening on ws://%s%s\n", internal.Logo, cfg.Addr(), cfg.Server.Path)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Cron.Run(gctx, cronInterval)
	})
	g.Go(func() error {
		watchConfig(gctx, rt)
		return nil
	})

	<-gctx.Done()
	logger.InfoC("serve", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WarnCF("serve", "Server shutdown incomplete", map[string]any{"error": err.Error()})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func hubOptions(cfg *config.Config) hub.Options {
	return hub.Options{
		PollInterval: cfg.Server.PollInterval.Std(),
		Workers:      cfg.Server.Workers,
		RateLimit: ratelimit.Config{
			Enabled:           cfg.RateLimits.MessagesPerMinute > 0,
			MessagesPerMinute: cfg.RateLimits.MessagesPerMinute,
			Burst:             cfg.RateLimits.Burst,
		},
	}
}

// watchConfig re-reads the config file on change and applies the plugin
// toggles. Other sections need a restart.
func watchConfig(ctx context.Context, rt *internal.Runtime) {
	path := internal.GetConfigPath()
	for range config.Watch(ctx, path) {
		cfg, err := config.LoadConfig(path)
		if err != nil {
			logger.WarnCF("serve", "Ignoring invalid config change", map[string]any{"error": err.Error()})
			continue
		}
		if err := rt.Reload(ctx, cfg); err != nil {
			logger.WarnCF("serve", "Plugin toggles partly applied", map[string]any{"error": err.Error()})
			continue
		}
		logger.InfoCF("serve", "Configuration reloaded", map[string]any{"disabled": cfg.Plugins.Disabled})
	}
}
