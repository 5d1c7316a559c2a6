// Package valuation holds the authoritative portfolio and recomputes every
// position's market value and the portfolio NAV against the simulated market.
package valuation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfolio/valuation/internal/catalog"
	"github.com/quantfolio/valuation/internal/events"
	"github.com/quantfolio/valuation/internal/pricing"
	"github.com/quantfolio/valuation/internal/simulator"
	"github.com/quantfolio/valuation/pkg/metrics"
	"github.com/quantfolio/valuation/pkg/models"
)

// Coordinator serializes writes to the portfolio while letting readers
// observe the latest fully-consistent snapshot. Writers hold the exclusive
// lock for the whole cycle; the published snapshot lives behind an atomic
// handle so "get the current portfolio" is a wait-free read of a fully-formed
// object graph.
type Coordinator struct {
	logger  *zap.Logger
	catalog *catalog.CachedStore
	sim     *simulator.Service
	pricer  *pricing.Engine
	bus     *events.Bus

	// mu guards the authoritative positions slice. Recalculation cycles are
	// strictly serialized under the write lock.
	mu        sync.RWMutex
	positions []models.Position

	snapshot   atomic.Pointer[models.Portfolio]
	version    atomic.Uint64
	unresolved []string
}

// NewCoordinator creates a coordinator over the given collaborators.
func NewCoordinator(logger *zap.Logger, store *catalog.CachedStore, sim *simulator.Service,
	pricer *pricing.Engine, bus *events.Bus) *Coordinator {
	c := &Coordinator{
		logger:  logger,
		catalog: store,
		sim:     sim,
		pricer:  pricer,
		bus:     bus,
	}
	c.snapshot.Store(&models.Portfolio{NAV: decimal.Zero})
	return c
}

// LoadPositions installs the startup position set. Symbols with no catalog
// entry are retained unmapped (priced at zero) rather than dropped; the
// unresolved set stays reportable.
func (c *Coordinator) LoadPositions(ctx context.Context, records []PositionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.positions = c.positions[:0]
	c.unresolved = c.unresolved[:0]

	for _, rec := range records {
		symbol := models.NormalizeTicker(rec.Symbol)
		pos := models.Position{
			Symbol:      symbol,
			Quantity:    rec.Quantity,
			Price:       decimal.Zero,
			MarketValue: decimal.Zero,
		}
		sec, err := c.catalog.FindByTicker(ctx, symbol)
		switch {
		case err == nil:
			pos.Security = sec
		case errors.Is(err, catalog.ErrNotFound):
			pos.Unmapped = true
			c.unresolved = append(c.unresolved, symbol)
			c.logger.Warn("position references unknown symbol, retaining unmapped",
				zap.String("symbol", symbol))
		default:
			return err
		}
		c.positions = append(c.positions, pos)
	}

	c.logger.Info("portfolio loaded",
		zap.Int("positions", len(c.positions)),
		zap.Int("unresolved", len(c.unresolved)))
	return nil
}

// Unresolved returns the symbols that had no catalog entry at load time.
func (c *Coordinator) Unresolved() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.unresolved))
	copy(out, c.unresolved)
	return out
}

// Snapshot returns the latest published portfolio. Wait-free; the returned
// snapshot is immutable and always post-cycle consistent. Before the first
// cycle it returns an empty portfolio rather than nil.
func (c *Coordinator) Snapshot() *models.Portfolio {
	if snap := c.snapshot.Load(); snap != nil {
		return snap
	}
	return &models.Portfolio{NAV: decimal.Zero}
}

// Recalculate runs one full valuation cycle: reprice every position from the
// current simulated market, recompute market values and NAV, publish the new
// snapshot and emit the recalculation event. Cycles never interleave.
func (c *Coordinator) Recalculate(ctx context.Context) *models.Portfolio {
	start := time.Now()

	c.mu.Lock()

	changed := make([]models.Position, 0)
	for i := range c.positions {
		pos := &c.positions[i]
		prev := pos.Price
		pos.Price = c.pricePosition(ctx, pos)
		pos.MarketValue = pos.Quantity.Mul(pos.Price)
		if !pos.Price.Equal(prev) {
			changed = append(changed, *pos)
		}
	}

	nav := decimal.Zero
	for i := range c.positions {
		nav = nav.Add(c.positions[i].MarketValue)
	}

	version := c.version.Add(1)
	snap := &models.Portfolio{
		Positions: make([]models.Position, len(c.positions)),
		NAV:       nav,
		Version:   version,
		UpdatedAt: c.nextTimestamp(),
	}
	copy(snap.Positions, c.positions)
	c.snapshot.Store(snap)

	c.mu.Unlock()

	elapsed := time.Since(start)
	metrics.RecalcCycles.Inc()
	metrics.RecalcDuration.Observe(elapsed.Seconds())

	if c.bus != nil {
		for _, pos := range changed {
			c.bus.Publish(events.New(events.TypePositionChanged, "valuation", events.PositionChanged{
				Symbol:      pos.Symbol,
				Price:       pos.Price,
				MarketValue: pos.MarketValue,
			}))
		}
		c.bus.Publish(events.New(events.TypePortfolioRecalculated, "valuation", events.PortfolioRecalculated{
			NAV:       snap.NAV,
			Positions: len(snap.Positions),
			Version:   snap.Version,
			Duration:  elapsed,
		}))
	}

	c.logger.Debug("recalculation cycle complete",
		zap.String("nav", snap.NAV.String()),
		zap.Uint64("version", snap.Version),
		zap.Duration("duration", elapsed))
	return snap
}

// pricePosition derives the position's current price. Any failure, including
// a panic while pricing, resolves to a zero price and flags the position so
// the cycle continues for the rest of the portfolio.
func (c *Coordinator) pricePosition(ctx context.Context, pos *models.Position) (price decimal.Decimal) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered pricing panic, zeroing position",
				zap.String("symbol", pos.Symbol), zap.Any("panic", r))
			pos.Unmapped = true
			price = decimal.Zero
		}
	}()

	sec := c.resolveSecurity(ctx, pos)
	if sec == nil {
		pos.Unmapped = true
		return decimal.Zero
	}
	pos.Unmapped = false

	switch sec.Kind {
	case models.KindStock:
		return c.catalog.Price(pos.Symbol, c.sim)
	case models.KindCall, models.KindPut:
		underlying := sec.UnderlyingTicker()
		if underlying == "" {
			return decimal.Zero
		}
		underlyingPrice := c.catalog.Price(underlying, c.sim)
		if !underlyingPrice.IsPositive() {
			return decimal.Zero
		}
		return c.pricer.Price(sec, underlyingPrice)
	default:
		return decimal.Zero
	}
}

// resolveSecurity refreshes the position's security terms through the catalog
// cache, falling back to the reference captured at load time.
func (c *Coordinator) resolveSecurity(ctx context.Context, pos *models.Position) *models.Security {
	sec, err := c.catalog.FindByTicker(ctx, pos.Symbol)
	if err == nil {
		pos.Security = sec
		return sec
	}
	if errors.Is(err, catalog.ErrNotFound) {
		pos.Security = nil
		return nil
	}
	// Store unavailable mid-cycle: keep valuing with the last known terms.
	return pos.Security
}

// nextTimestamp returns a wall-clock timestamp that is strictly after the
// previously published one, so last-updated is monotonically increasing even
// for cycles inside the same clock tick.
func (c *Coordinator) nextTimestamp() time.Time {
	now := time.Now()
	if prev := c.snapshot.Load(); prev != nil && !now.After(prev.UpdatedAt) {
		return prev.UpdatedAt.Add(time.Nanosecond)
	}
	return now
}
