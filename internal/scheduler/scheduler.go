// Package scheduler drives the periodic activities of the engine: randomized
// per-stock price ticks with recalculation, and the lower-frequency
// change-aware summary emission.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfolio/valuation/internal/catalog"
	"github.com/quantfolio/valuation/internal/events"
	"github.com/quantfolio/valuation/internal/simulator"
	"github.com/quantfolio/valuation/internal/valuation"
)

// Scheduler owns the tick goroutines. Each tracked stock ticks on its own
// randomized interval; recalculation requests are coalesced through a
// single-slot trigger so a burst of ticks runs one cycle, not a backlog.
type Scheduler struct {
	logger   *zap.Logger
	sim      *simulator.Service
	store    *catalog.CachedStore
	coord    *valuation.Coordinator
	reporter *valuation.Reporter
	bus      *events.Bus

	summaryInterval time.Duration
	shutdownTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}
	running bool
}

// New creates a scheduler over the engine's components.
func New(logger *zap.Logger, sim *simulator.Service, store *catalog.CachedStore,
	coord *valuation.Coordinator, reporter *valuation.Reporter, bus *events.Bus,
	summaryInterval, shutdownTimeout time.Duration) *Scheduler {
	return &Scheduler{
		logger:          logger,
		sim:             sim,
		store:           store,
		coord:           coord,
		reporter:        reporter,
		bus:             bus,
		summaryInterval: summaryInterval,
		shutdownTimeout: shutdownTimeout,
		trigger:         make(chan struct{}, 1),
	}
}

// Start launches the tick goroutines: one per tracked stock, one coalesced
// recalculation worker and one summary emitter.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	for _, ticker := range s.sim.Tickers() {
		s.wg.Add(1)
		go s.stockLoop(ctx, ticker)
	}

	s.wg.Add(1)
	go s.recalcLoop(ctx)

	s.wg.Add(1)
	go s.summaryLoop(ctx)

	if s.bus != nil {
		s.bus.Publish(events.New(events.TypeLifecycle, "scheduler", events.Lifecycle{State: "started"}))
	}
	s.logger.Info("scheduler started",
		zap.Int("stocks", len(s.sim.Tickers())),
		zap.Duration("summary_interval", s.summaryInterval))
	return nil
}

// Stop signals the loops to finish and waits for in-flight work, bounded by
// the shutdown timeout. Work past the bound is abandoned with an error log;
// the last published snapshot is left intact either way.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(s.shutdownTimeout):
		err = fmt.Errorf("scheduler shutdown timed out after %s", s.shutdownTimeout)
		s.logger.Error("in-flight work did not finish before shutdown timeout",
			zap.Duration("timeout", s.shutdownTimeout))
	}

	if s.bus != nil {
		s.bus.Publish(events.New(events.TypeLifecycle, "scheduler", events.Lifecycle{State: "stopped"}))
	}
	s.running = false
	return err
}

// stockLoop advances one stock on its own randomized schedule. Each tick
// invalidates the cached price, publishes the market-data event and requests
// a recalculation.
func (s *Scheduler) stockLoop(ctx context.Context, ticker string) {
	defer s.wg.Done()
	for {
		interval := s.sim.NextInterval(ticker)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		price := s.sim.Advance(ticker, interval)
		s.store.InvalidatePrice(ticker)

		if s.bus != nil {
			s.bus.Publish(events.New(events.TypeMarketDataChanged, "simulator", events.MarketDataChanged{
				Ticker: ticker,
				Price:  price,
			}))
		}
		s.requestRecalc()
	}
}

// requestRecalc coalesces: a pending trigger absorbs further requests.
func (s *Scheduler) requestRecalc() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) recalcLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			s.coord.Recalculate(ctx)
		}
	}
}

func (s *Scheduler) summaryLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.summaryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Summarize returns nil when nothing changed; only movement is
			// emitted.
			s.reporter.Summarize()
		}
	}
}
