package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quantfolio/valuation/internal/catalog"
	"github.com/quantfolio/valuation/internal/events"
	"github.com/quantfolio/valuation/internal/pricing"
	"github.com/quantfolio/valuation/internal/simulator"
	"github.com/quantfolio/valuation/internal/valuation"
	"github.com/quantfolio/valuation/pkg/models"
)

func setupScheduler(t *testing.T) (*Scheduler, *valuation.Coordinator) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store, err := catalog.NewGormStore(db, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	stock := &models.Security{
		Ticker:     "AAPL",
		Kind:       models.KindStock,
		Drift:      decimal.NewFromFloat(0.05),
		Volatility: decimal.NewFromFloat(0.25),
	}
	_, err = store.Save(ctx, stock)
	require.NoError(t, err)

	cached := catalog.NewCachedStore(store, catalog.CacheConfig{
		TickerCapacity: 16, TickerTTL: time.Minute,
		KindCapacity: 4, KindTTL: time.Minute,
		AllCapacity: 2, AllTTL: time.Minute,
		PriceCapacity: 16, PriceTTL: time.Minute,
	}, zap.NewNop())
	t.Cleanup(cached.Stop)

	sim := simulator.NewService(zap.NewNop(), time.Millisecond, 5*time.Millisecond)
	require.NoError(t, sim.Initialize([]models.Security{*stock},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)}))

	bus := events.NewBus(zap.NewNop(), 64, nil)
	t.Cleanup(bus.Close)

	pricer := pricing.NewEngine(decimal.NewFromFloat(0.05))
	coord := valuation.NewCoordinator(zap.NewNop(), cached, sim, pricer, bus)
	require.NoError(t, coord.LoadPositions(ctx, []valuation.PositionRecord{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(100)},
	}))

	reporter := valuation.NewReporter(zap.NewNop(), coord)
	sched := New(zap.NewNop(), sim, cached, coord, reporter, bus,
		10*time.Millisecond, time.Second)
	return sched, coord
}

func TestScheduler_TicksDriveRecalculation(t *testing.T) {
	sched, coord := setupScheduler(t)

	before := coord.Snapshot().Version
	require.NoError(t, sched.Start())

	assert.Eventually(t, func() bool {
		return coord.Snapshot().Version > before+5
	}, 2*time.Second, 5*time.Millisecond, "ticks did not drive recalculation cycles")

	require.NoError(t, sched.Stop())

	// No new cycles admitted after shutdown.
	after := coord.Snapshot().Version
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, coord.Snapshot().Version)
}

func TestScheduler_StartTwiceFails(t *testing.T) {
	sched, _ := setupScheduler(t)
	require.NoError(t, sched.Start())
	assert.Error(t, sched.Start())
	require.NoError(t, sched.Stop())
}

func TestScheduler_StopWithoutStartFails(t *testing.T) {
	sched, _ := setupScheduler(t)
	assert.Error(t, sched.Stop())
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	sched, coord := setupScheduler(t)

	require.NoError(t, sched.Start())
	require.NoError(t, sched.Stop())

	before := coord.Snapshot().Version
	require.NoError(t, sched.Start())
	assert.Eventually(t, func() bool {
		return coord.Snapshot().Version > before
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sched.Stop())
}

func TestScheduler_SnapshotStaysConsistentUnderLoad(t *testing.T) {
	sched, coord := setupScheduler(t)
	require.NoError(t, sched.Start())

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap := coord.Snapshot()
		sum := decimal.Zero
		for _, pos := range snap.Positions {
			sum = sum.Add(pos.MarketValue)
		}
		assert.True(t, sum.Equal(snap.NAV), "inconsistent snapshot observed")
	}

	require.NoError(t, sched.Stop())
}
