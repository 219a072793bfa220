package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marquee/internal/config"
	"github.com/xkilldash9x/marquee/internal/controller"
	"github.com/xkilldash9x/marquee/internal/health"
	"github.com/xkilldash9x/marquee/internal/observability"
	"github.com/xkilldash9x/marquee/internal/precheck"
	"github.com/xkilldash9x/marquee/internal/urlfile"
	"github.com/xkilldash9x/marquee/internal/urlsource"
	"github.com/xkilldash9x/marquee/internal/visit"
	"github.com/xkilldash9x/marquee/pkg/browser"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the kiosk loop",
		Long: `Run launches Chrome and cycles it through the URL playlist until the
process receives SIGINT or SIGTERM, or the browser restart budget runs out.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlag("urls.path", cmd.Flags().Lookup("urls")); err != nil {
				return fmt.Errorf("binding urls flag: %w", err)
			}
			if err := v.BindPFlag("urls.category", cmd.Flags().Lookup("category")); err != nil {
				return fmt.Errorf("binding category flag: %w", err)
			}
			if err := v.BindPFlag("urls.watch", cmd.Flags().Lookup("watch")); err != nil {
				return fmt.Errorf("binding watch flag: %w", err)
			}
			if err := v.BindPFlag("metrics.path", cmd.Flags().Lookup("metrics")); err != nil {
				return fmt.Errorf("binding metrics flag: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Re-read the configuration now that the run flags are bound.
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			return runKiosk(cmd.Context(), cfg)
		},
	}

	runCmd.Flags().StringP("urls", "u", "", "Path to the URL playlist (overrides urls.path)")
	runCmd.Flags().String("category", "", "Restrict the rotation to one category")
	runCmd.Flags().Bool("watch", false, "Reload the playlist when the file changes")
	runCmd.Flags().String("metrics", "", "Metrics snapshot path (overrides metrics.path)")
	return runCmd
}

// runKiosk assembles the session components and blocks inside the visit
// loop until the context is cancelled or the session fails. The browser
// is torn down by the controller on every exit path.
func runKiosk(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()

	entries, err := urlfile.Load(cfg.URLs.Path)
	if err != nil {
		return err
	}
	entries = urlfile.Filter(entries, cfg.URLs.Category)
	if len(entries) == 0 {
		return fmt.Errorf("no urls in category %q in %s", cfg.URLs.Category, cfg.URLs.Path)
	}

	source, err := urlsource.New(entries, cfg.URLs.Shuffle, logger)
	if err != nil {
		return err
	}

	if cfg.URLs.Watch {
		watcher, err := urlsource.NewWatcher(source, cfg.URLs.Path, cfg.URLs.Category, logger)
		if err != nil {
			return fmt.Errorf("watching %s: %w", cfg.URLs.Path, err)
		}
		watcher.Start(ctx)
		defer watcher.Close()
	}

	prober, err := precheck.New(cfg.Network, cfg.Browser.UserAgents, logger)
	if err != nil {
		return err
	}
	defer prober.CloseIdleConnections()

	manager, err := browser.NewManager(ctx, cfg.Browser, cfg.Network, logger)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}

	executor := visit.NewExecutor(visit.FromManager(manager), prober, cfg.Session, logger)
	monitor := health.NewMonitor(cfg.Session, cfg.Browser, source.Len(), logger)

	ctrl, err := controller.New(cfg, source, executor, manager, monitor, logger)
	if err != nil {
		// The browser is already up; do not leak it on a wiring error.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := manager.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("browser shutdown failed", zap.Error(serr))
		}
		return err
	}

	logger.Info("marquee starting",
		zap.String("version", Version),
		zap.String("playlist", cfg.URLs.Path),
		zap.Int("urls", source.Len()),
		zap.Bool("watch", cfg.URLs.Watch))
	return ctrl.Run(ctx)
}
