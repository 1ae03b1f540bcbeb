package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/babylonsim/babylond/internal/server"
	"github.com/babylonsim/babylond/internal/server/handler"
	"github.com/babylonsim/babylond/internal/server/ws"
	"github.com/babylonsim/babylond/internal/service"
	"github.com/babylonsim/babylond/internal/sim"
)

// services bundles the application services shared by the modes.
type services struct {
	markets    *service.MarketService
	trades     *service.TradeService
	portfolios *service.PortfolioService
	feed       *service.FeedService
}

// buildServices constructs the service layer on top of the wired stores and
// caches.
func (a *App) buildServices(deps *Dependencies) *services {
	return &services{
		markets: service.NewMarketService(
			deps.MarketStore, deps.PerpStore, deps.MarketCache, deps.PriceCache,
			deps.SignalBus, deps.AuditStore, a.logger,
			a.cfg.Markets.InitialShares,
		),
		trades: service.NewTradeService(
			deps.MarketStore, deps.TradeStore, deps.PositionStore,
			deps.MarketCache, deps.PriceCache, deps.LockManager,
			deps.RateLimiter, deps.SignalBus, deps.AuditStore, a.logger,
			a.cfg.Markets.MaxTradeUSD,
			a.cfg.Markets.TradeRateLimit,
			a.cfg.Markets.TradeRateWindow.Duration,
		),
		portfolios: service.NewPortfolioService(
			deps.UserStore, deps.PositionStore, deps.MarketStore,
			deps.PriceCache, deps.AuditStore, a.logger,
			a.cfg.Markets.InitialBalance,
		),
		feed: service.NewFeedService(
			deps.PostStore, deps.UserStore, deps.RateLimiter,
			deps.SignalBus, a.logger,
		),
	}
}

// startHTTPServer registers all handlers, starts the WebSocket hub, and runs
// the HTTP server inside the error group with graceful shutdown tied to the
// context.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	pingers := map[string]handler.Pinger{
		"postgres": deps.PostgresPing,
		"redis":    deps.RedisPing,
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(pingers, a.logger),
		Markets: handler.NewMarketHandler(svcs.markets, a.logger),
		Trades:  handler.NewTradeHandler(svcs.trades, a.logger),
		Users:   handler.NewUserHandler(svcs.portfolios, a.logger),
		Feed:    handler.NewFeedHandler(svcs.feed, a.logger),
		Perps:   handler.NewPerpHandler(svcs.markets, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startSimEngine runs the NPC economy inside the error group.
func (a *App) startSimEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	engine := sim.NewEngine(
		sim.Config{
			TickInterval:      a.cfg.Sim.TickInterval.Duration,
			Personas:          a.cfg.Sim.Personas,
			TradersPerPersona: a.cfg.Sim.TradersPerPersona,
			Seed:              a.cfg.Sim.Seed,
			PerpTickers:       a.cfg.Sim.PerpTickers,
			PerpVolatility:    a.cfg.Sim.PerpVolatility,
			InitialBalance:    a.cfg.Markets.InitialBalance,
		},
		svcs.trades, svcs.markets, svcs.feed,
		deps.UserStore, deps.PositionStore, deps.PerpStore, deps.PriceCache,
		a.logger,
	)
	g.Go(func() error {
		return engine.Run(ctx)
	})
}

// startArchiveLoop periodically exports trades of long-resolved markets to
// object storage.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	interval := a.cfg.Archive.Interval.Duration

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		run := func() {
			cutoff := time.Now().UTC().Add(-retention)
			count, err := deps.Archiver.ArchiveResolved(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
				return
			}
			a.logger.InfoContext(ctx, "archive run complete",
				slog.Int64("trades", count),
				slog.Time("cutoff", cutoff),
			)
		}

		run()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				run()
			}
		}
	})
}

// ServeMode runs only the HTTP + WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// SimulateMode runs only the NPC economy, headless.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")

	if !a.cfg.Sim.Enabled {
		return fmt.Errorf("app: simulate mode requires sim.enabled = true")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startSimEngine(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// ArchiveMode runs only the cold-storage export loop.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires archive.enabled = true and S3 config")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem: the API server, the NPC economy, and the
// archive loop when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	if a.cfg.Sim.Enabled {
		a.startSimEngine(ctx, g, deps, svcs)
	}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps)
	}

	return g.Wait()
}
