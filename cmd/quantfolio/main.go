package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfolio/valuation/api"
	"github.com/quantfolio/valuation/internal/catalog"
	"github.com/quantfolio/valuation/internal/config"
	"github.com/quantfolio/valuation/internal/events"
	"github.com/quantfolio/valuation/internal/pricing"
	"github.com/quantfolio/valuation/internal/scheduler"
	"github.com/quantfolio/valuation/internal/simulator"
	"github.com/quantfolio/valuation/internal/valuation"
	"github.com/quantfolio/valuation/internal/ws"
	"github.com/quantfolio/valuation/pkg/logger"
	"github.com/quantfolio/valuation/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := catalog.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		zapLogger.Fatal("Failed to open catalog database", zap.Error(err))
	}

	store, err := catalog.NewGormStore(db, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create catalog store", zap.Error(err))
	}

	ctx := context.Background()
	if err := seedCatalog(ctx, store, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Failed to seed catalog", zap.Error(err))
	}

	cached := catalog.NewCachedStore(store, catalog.CacheConfig{
		TickerCapacity: cfg.Cache.TickerCapacity,
		TickerTTL:      cfg.Cache.TickerTTL,
		KindCapacity:   cfg.Cache.KindCapacity,
		KindTTL:        cfg.Cache.KindTTL,
		AllCapacity:    cfg.Cache.AllCapacity,
		AllTTL:         cfg.Cache.AllTTL,
		PriceCapacity:  cfg.Cache.PriceCapacity,
		PriceTTL:       cfg.Cache.PriceTTL,
	}, zapLogger)
	defer cached.Stop()

	// Market data simulator: tracked stocks come from the catalog, prices
	// from the configured table. Startup fails if nothing initializes.
	stocks, err := cached.FindByKind(ctx, models.KindStock)
	if err != nil {
		zapLogger.Fatal("Failed to load stocks from catalog", zap.Error(err))
	}
	initialPrices := make(map[string]decimal.Decimal, len(cfg.InitialPrices))
	for ticker, price := range cfg.InitialPrices {
		initialPrices[models.NormalizeTicker(ticker)] = decimal.NewFromFloat(price)
	}

	sim := simulator.NewService(zapLogger, cfg.Valuation.MinTickInterval, cfg.Valuation.MaxTickInterval)
	if err := sim.Initialize(stocks, initialPrices); err != nil {
		zapLogger.Fatal("Failed to initialize market data simulator", zap.Error(err))
	}

	var backend events.Backend
	switch {
	case cfg.Events.RedisAddr != "":
		backend = events.NewRedisBackend(cfg.Events.RedisAddr)
	case len(cfg.Events.KafkaBrokers) > 0:
		backend = events.NewKafkaBackend(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	}
	bus := events.NewBus(zapLogger, cfg.Events.QueueSize, backend)

	pricer := pricing.NewEngine(cfg.RiskFreeRateDecimal())
	coord := valuation.NewCoordinator(zapLogger, cached, sim, pricer, bus)
	reporter := valuation.NewReporter(zapLogger, coord)

	if cfg.Valuation.PositionsFile != "" {
		records, _, err := valuation.LoadPositionsFile(cfg.Valuation.PositionsFile, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to load positions", zap.Error(err))
		}
		if err := coord.LoadPositions(ctx, records); err != nil {
			zapLogger.Fatal("Failed to install positions", zap.Error(err))
		}
		if unresolved := coord.Unresolved(); len(unresolved) > 0 {
			zapLogger.Warn("positions reference unknown symbols",
				zap.Strings("symbols", unresolved))
		}
	} else {
		zapLogger.Warn("no positions file configured, starting with an empty portfolio")
	}

	// First cycle and first report before the ticks start, so readers see a
	// valued portfolio immediately and the initial summary is all NEW.
	coord.Recalculate(ctx)
	reporter.Summarize()

	hub := ws.NewHub(zapLogger)
	hub.Attach(bus)

	sched := scheduler.New(zapLogger, sim, cached, coord, reporter, bus,
		cfg.Valuation.SummaryInterval, cfg.Valuation.ShutdownTimeout)
	if err := sched.Start(); err != nil {
		zapLogger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	apiServer := api.NewServer(zapLogger, cached, sim, coord, reporter, hub)
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.Server.Addr))
		if err := apiServer.Start(cfg.Server.Addr); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	if err := sched.Stop(); err != nil {
		zapLogger.Error("Scheduler did not stop cleanly", zap.Error(err))
	}
	hub.Close()
	bus.Close()

	zapLogger.Info("Engine exited properly")
}

// seedCatalog loads the configured security definitions into the store.
// Invalid seeds are skipped with a warning; seeding continues.
func seedCatalog(ctx context.Context, store catalog.Store, cfg *config.Config, logger *zap.Logger) error {
	for _, seed := range cfg.Securities {
		sec := &models.Security{
			Ticker:     seed.Ticker,
			Kind:       models.SecurityKind(seed.Kind),
			Drift:      decimal.NewFromFloat(seed.Drift),
			Volatility: decimal.NewFromFloat(seed.Volatility),
		}
		if seed.Strike != "" {
			strike, err := decimal.NewFromString(seed.Strike)
			if err != nil {
				logger.Warn("skipping security seed with bad strike",
					zap.String("ticker", seed.Ticker), zap.String("strike", seed.Strike))
				continue
			}
			sec.Strike = &strike
		}
		if seed.Maturity != "" {
			maturity, err := time.Parse("2006-01-02", seed.Maturity)
			if err != nil {
				logger.Warn("skipping security seed with bad maturity",
					zap.String("ticker", seed.Ticker), zap.String("maturity", seed.Maturity))
				continue
			}
			sec.Maturity = &maturity
		}
		if _, err := store.Save(ctx, sec); err != nil {
			logger.Warn("skipping invalid security seed",
				zap.String("ticker", seed.Ticker), zap.Error(err))
		}
	}
	return nil
}
