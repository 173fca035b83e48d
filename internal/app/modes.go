package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/consensusbot/internal/dispatch"
	"github.com/alanyoungcy/consensusbot/internal/domain"
	"github.com/alanyoungcy/consensusbot/internal/pipeline"
	"github.com/alanyoungcy/consensusbot/internal/server"
	"github.com/alanyoungcy/consensusbot/internal/server/handler"
	"github.com/alanyoungcy/consensusbot/internal/server/ws"
)

// janitorInterval is how often in-process caches are swept in memory mode.
const janitorInterval = time.Minute

// EngineMode starts the webhook server, the live feed and the background
// task supervisor.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the scheduled trade archival.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchive(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the engine and, when archive.enabled is set, the archive
// loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	if a.cfg.ArchiveEnabled() {
		if err := a.startArchive(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	return g.Wait()
}

func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		a.drainFailures(ctx, deps)
		return nil
	})

	if deps.janitor != nil {
		g.Go(func() error {
			ticker := time.NewTicker(janitorInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					deps.janitor()
				}
			}
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false; no trades will be ingested")
	}
}

// drainFailures forwards background task failures to logs, metrics and
// the notifier until ctx ends or the dispatcher closes.
func (a *App) drainFailures(ctx context.Context, deps *Dependencies) {
	failures := deps.Dispatcher.Failures()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-failures:
			if !ok {
				return
			}
			reason := failureReason(f.Err)
			a.logger.WarnContext(ctx, "background task failed",
				slog.String("task", f.Task),
				slog.String("reason", reason),
				slog.String("error", f.Err.Error()),
			)
			deps.Metrics.DispatchFailure(f.Task, reason)

			// Saturation is reported through metrics only.
			if reason == "saturated" || deps.Notifier == nil {
				continue
			}
			notifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := deps.Notifier.Deliver(notifyCtx, domain.Notification{
				Event:   domain.EventDispatchFailure,
				Title:   "Background task failed",
				Message: f.Task + ": " + f.Err.Error(),
				Fields: map[string]string{
					"reason": reason,
					"at":     f.At.UTC().Format(time.RFC3339),
				},
			})
			cancel()
			if err != nil {
				a.logger.WarnContext(ctx, "failure notification not delivered", slog.String("error", err.Error()))
			}
		}
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrSaturated):
		return "saturated"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archive requires postgres stores and s3 storage")
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	archiver := pipeline.NewArchiver(deps.Archiver, retention, deps.Metrics, a.logger)

	g.Go(func() error {
		err := archiver.RunCron(ctx, a.cfg.Archive.Cron)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("archive loop: %w", err)
	})
	return nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Webhook:  handler.NewWebhookHandler(deps.TradeStore, deps.Engine, deps.Metrics, a.cfg.Consensus.ClusterEnabled, a.logger),
		Signals:  handler.NewSignalHandler(deps.SignalStore, a.logger),
		Clusters: handler.NewClusterHandler(deps.Engine, a.logger),
		Metrics:  deps.Metrics.Handler(),
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		WebhookRateLimit:  a.cfg.Server.WebhookRateLimit,
		WebhookRateWindow: a.cfg.Server.WebhookRateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
