package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/babylonsim/babylond/internal/domain"
	"github.com/babylonsim/babylond/internal/service"
)

// Config holds the tunables for the NPC economy.
type Config struct {
	TickInterval      time.Duration
	Personas          []string
	TradersPerPersona int
	// Seed fixes the random source; 0 seeds from wall-clock time.
	Seed           int64
	PerpTickers    []string
	PerpVolatility float64
	InitialBalance float64
}

// minTradeUSD is the floor for NPC buys; decisions sizing below it are
// skipped rather than rounded up.
const minTradeUSD = 1.0

// chatterProb is the per-trader per-tick probability of posting to the feed.
const chatterProb = 0.05

// trader pairs an NPC user with the persona that drives it.
type trader struct {
	user    domain.User
	persona Persona
}

// Engine runs the NPC economy: persona traders swapping against active
// markets, a geometric random walk for perp mark prices, and occasional
// feed posts. All randomness flows from one seeded source so a fixed seed
// reproduces the same run.
type Engine struct {
	cfg       Config
	trades    *service.TradeService
	marketSvc *service.MarketService
	feed      *service.FeedService
	users     domain.UserStore
	positions domain.PositionStore
	perps     domain.PerpStore
	prices    domain.PriceCache
	logger    *slog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	traders []trader
}

// NewEngine creates a simulation Engine.
func NewEngine(
	cfg Config,
	trades *service.TradeService,
	marketSvc *service.MarketService,
	feed *service.FeedService,
	users domain.UserStore,
	positions domain.PositionStore,
	perps domain.PerpStore,
	prices domain.PriceCache,
	logger *slog.Logger,
) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		cfg:       cfg,
		trades:    trades,
		marketSvc: marketSvc,
		feed:      feed,
		users:     users,
		positions: positions,
		perps:     perps,
		prices:    prices,
		logger:    logger.With(slog.String("component", "sim_engine")),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Bootstrap ensures the NPC users and perp tickers exist. It is idempotent:
// existing rows are reused across restarts.
func (e *Engine) Bootstrap(ctx context.Context) error {
	for _, name := range e.cfg.Personas {
		persona, err := NewPersona(name)
		if err != nil {
			return err
		}
		for i := 1; i <= e.cfg.TradersPerPersona; i++ {
			username := fmt.Sprintf("npc_%s_%d", name, i)
			u, err := e.users.GetByUsername(ctx, username)
			if errors.Is(err, domain.ErrNotFound) {
				now := time.Now().UTC()
				u = domain.User{
					ID:          uuid.New().String(),
					Username:    username,
					DisplayName: fmt.Sprintf("%s bot %d", name, i),
					Balance:     e.cfg.InitialBalance,
					IsNPC:       true,
					Persona:     name,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := e.users.Create(ctx, u); err != nil {
					return fmt.Errorf("sim: create npc %s: %w", username, err)
				}
			} else if err != nil {
				return fmt.Errorf("sim: load npc %s: %w", username, err)
			}
			e.traders = append(e.traders, trader{user: u, persona: persona})
		}
	}

	for _, ticker := range e.cfg.PerpTickers {
		if _, err := e.perps.Get(ctx, ticker); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("sim: load perp %s: %w", ticker, err)
		}

		e.mu.Lock()
		open := 20 + e.rng.Float64()*180
		e.mu.Unlock()

		p := domain.Perp{
			Ticker:    ticker,
			Name:      ticker + " Perpetual",
			MarkPrice: open,
			OpenPrice: open,
			Sentiment: "neutral",
			UpdatedAt: time.Now().UTC(),
		}
		if err := e.perps.Upsert(ctx, p); err != nil {
			return fmt.Errorf("sim: seed perp %s: %w", ticker, err)
		}
	}

	e.logger.InfoContext(ctx, "sim bootstrap complete",
		slog.Int("traders", len(e.traders)),
		slog.Int("perps", len(e.cfg.PerpTickers)),
	)
	return nil
}

// Run starts the trade and perp loops and blocks until the context is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "sim engine started",
		slog.Duration("tick", e.cfg.TickInterval),
	)
	defer e.logger.Info("sim engine stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.tradeLoop(gctx) })
	if len(e.cfg.PerpTickers) > 0 {
		g.Go(func() error { return e.perpLoop(gctx) })
	}
	return g.Wait()
}

func (e *Engine) tradeLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick lets every NPC trader look at one random active market and act on it.
func (e *Engine) tick(ctx context.Context) {
	markets, err := e.marketSvc.ListActive(ctx, domain.ListOpts{Limit: 50})
	if err != nil {
		e.logger.WarnContext(ctx, "sim tick: list markets failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(markets) == 0 {
		return
	}

	for _, t := range e.traders {
		e.mu.Lock()
		m := markets[e.rng.Intn(len(markets))]
		decision, act := t.persona.Decide(e.rng, m)
		roll := e.rng.Float64()
		e.mu.Unlock()

		if act {
			e.placeTrade(ctx, t, m, decision)
		}
		if roll < chatterProb {
			e.postChatter(ctx, t, m)
		}
	}
}

func (e *Engine) placeTrade(ctx context.Context, t trader, m domain.Market, d Decision) {
	intent := domain.TradeIntent{
		MarketID:  m.ID,
		UserID:    t.user.ID,
		Side:      d.Side,
		Direction: d.Direction,
	}

	switch d.Direction {
	case domain.TradeDirectionBuy:
		u, err := e.users.GetByID(ctx, t.user.ID)
		if err != nil {
			e.logger.WarnContext(ctx, "sim: load npc balance failed",
				slog.String("user_id", t.user.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		intent.USDAmount = u.Balance * d.SizeFrac
		if intent.USDAmount < minTradeUSD {
			return
		}
	case domain.TradeDirectionSell:
		pos, err := e.positions.Get(ctx, t.user.ID, m.ID, d.Side)
		if err != nil {
			// Nothing to sell.
			return
		}
		intent.Shares = pos.Shares * d.SizeFrac
		if intent.Shares <= 0 {
			return
		}
	}

	if _, _, err := e.trades.ExecuteTrade(ctx, intent); err != nil {
		// Contention and exhausted balances are routine in the sim.
		if errors.Is(err, domain.ErrLockHeld) ||
			errors.Is(err, domain.ErrRateLimited) ||
			errors.Is(err, domain.ErrInsufficientFunds) ||
			errors.Is(err, domain.ErrInsufficientShare) ||
			errors.Is(err, domain.ErrMarketNotTradable) {
			e.logger.DebugContext(ctx, "sim trade skipped",
				slog.String("persona", t.persona.Name()),
				slog.String("market_id", m.ID),
				slog.String("reason", err.Error()),
			)
			return
		}
		e.logger.WarnContext(ctx, "sim trade failed",
			slog.String("persona", t.persona.Name()),
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

var chatterTemplates = []string{
	"watching %q closely, yes at %.0f%%",
	"%q looks mispriced to me. yes sitting at %.0f%%",
	"loaded up on %q, market says %.0f%%",
	"no way %q resolves how the crowd thinks. %.0f%% is wild",
	"anyone else trading %q? %.0f%% feels about right",
}

func (e *Engine) postChatter(ctx context.Context, t trader, m domain.Market) {
	e.mu.Lock()
	tmpl := chatterTemplates[e.rng.Intn(len(chatterTemplates))]
	e.mu.Unlock()

	post := domain.Post{
		AuthorID: t.user.ID,
		Body:     fmt.Sprintf(tmpl, m.Question, m.YesProbability()*100),
		MarketID: m.ID,
	}
	if _, err := e.feed.CreatePost(ctx, post); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			return
		}
		e.logger.DebugContext(ctx, "sim chatter failed",
			slog.String("user_id", t.user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// perpLoop drives a geometric random walk over the configured perp tickers.
func (e *Engine) perpLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, sym := range e.cfg.PerpTickers {
				e.stepPerp(ctx, sym)
			}
		}
	}
}

func (e *Engine) stepPerp(ctx context.Context, ticker string) {
	p, err := e.perps.Get(ctx, ticker)
	if err != nil {
		e.logger.WarnContext(ctx, "sim perp: load failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
		return
	}

	e.mu.Lock()
	shock := e.rng.NormFloat64() * e.cfg.PerpVolatility
	e.mu.Unlock()

	now := time.Now().UTC()
	newPrice := p.MarkPrice * math.Exp(shock)

	if err := e.perps.SetMarkPrice(ctx, ticker, newPrice, now); err != nil {
		e.logger.WarnContext(ctx, "sim perp: set mark price failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.prices.SetPrice(ctx, "perp:"+ticker, newPrice, now); err != nil {
		e.logger.WarnContext(ctx, "sim perp: price cache set failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
	}
}
