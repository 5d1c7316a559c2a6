package valuation

import (
	"context"
	"sync"
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
	"github.com/quantfolio/valuation/pkg/models"
)

type fixture struct {
	store *catalog.CachedStore
	sim   *simulator.Service
	coord *Coordinator
	bus   *events.Bus
}

func cacheConfig() catalog.CacheConfig {
	return catalog.CacheConfig{
		TickerCapacity: 64, TickerTTL: time.Minute,
		KindCapacity: 8, KindTTL: time.Minute,
		AllCapacity: 2, AllTTL: time.Minute,
		PriceCapacity: 64, PriceTTL: time.Minute,
	}
}

func setupFixture(t *testing.T, securities []*models.Security, prices map[string]decimal.Decimal) *fixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store, err := catalog.NewGormStore(db, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	for _, sec := range securities {
		_, err := store.Save(ctx, sec)
		require.NoError(t, err)
	}

	cached := catalog.NewCachedStore(store, cacheConfig(), zap.NewNop())
	t.Cleanup(cached.Stop)

	sim := simulator.NewService(zap.NewNop(), 10*time.Millisecond, 50*time.Millisecond)
	stocks := make([]models.Security, 0)
	for _, sec := range securities {
		if sec.Kind == models.KindStock {
			stocks = append(stocks, *sec)
		}
	}
	if len(stocks) > 0 {
		require.NoError(t, sim.Initialize(stocks, prices))
	}

	bus := events.NewBus(zap.NewNop(), 64, nil)
	t.Cleanup(bus.Close)

	pricer := pricing.NewEngine(decimal.NewFromFloat(0.05))
	coord := NewCoordinator(zap.NewNop(), cached, sim, pricer, bus)
	return &fixture{store: cached, sim: sim, coord: coord, bus: bus}
}

func stockDef(ticker string) *models.Security {
	return &models.Security{
		Ticker:     ticker,
		Kind:       models.KindStock,
		Drift:      decimal.NewFromFloat(0.05),
		Volatility: decimal.NewFromFloat(0.25),
	}
}

func callDef(ticker string, strike float64, maturity time.Time) *models.Security {
	s := decimal.NewFromFloat(strike)
	return &models.Security{
		Ticker:     ticker,
		Kind:       models.KindCall,
		Strike:     &s,
		Maturity:   &maturity,
		Drift:      decimal.NewFromFloat(0.05),
		Volatility: decimal.NewFromFloat(0.25),
	}
}

func requireNAVConsistent(t *testing.T, snap *models.Portfolio) {
	t.Helper()
	sum := decimal.Zero
	for _, pos := range snap.Positions {
		assert.True(t, pos.Quantity.Mul(pos.Price).Equal(pos.MarketValue),
			"market value of %s is not quantity*price", pos.Symbol)
		sum = sum.Add(pos.MarketValue)
	}
	assert.True(t, sum.Equal(snap.NAV), "NAV %s != position sum %s", snap.NAV, sum)
}

func TestRecalculate_EndToEndScenario(t *testing.T) {
	f := setupFixture(t,
		[]*models.Security{
			stockDef("AAPL"),
			callDef("AAPL-CALL-150", 150, time.Now().AddDate(1, 0, 0)),
		},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromFloat(142.95)},
	)
	ctx := context.Background()

	require.NoError(t, f.coord.LoadPositions(ctx, []PositionRecord{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(1000)},
		{Symbol: "AAPL-CALL-150", Quantity: decimal.NewFromInt(5000)},
	}))

	snap := f.coord.Recalculate(ctx)
	require.Len(t, snap.Positions, 2)

	aapl, call := snap.Positions[0], snap.Positions[1]
	assert.True(t, decimal.NewFromFloat(142.95).Equal(aapl.Price))
	assert.True(t, decimal.RequireFromString("142950").Equal(aapl.MarketValue),
		"AAPL market value %s", aapl.MarketValue)

	assert.True(t, call.Price.IsPositive(), "future-dated call must carry value")
	assert.True(t, call.Quantity.Mul(call.Price).Equal(call.MarketValue))
	requireNAVConsistent(t, snap)
}

func TestMarketValueArithmetic(t *testing.T) {
	// quantity * price, exact in decimal arithmetic.
	mv := decimal.NewFromInt(5000).Mul(decimal.NewFromFloat(5.32))
	assert.True(t, decimal.RequireFromString("26600").Equal(mv), "got %s", mv)

	mv = decimal.NewFromInt(1000).Mul(decimal.NewFromFloat(142.95))
	assert.True(t, decimal.RequireFromString("142950").Equal(mv), "got %s", mv)
}

func TestRecalculate_EmptyPortfolio(t *testing.T) {
	f := setupFixture(t,
		[]*models.Security{stockDef("AAPL")},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
	)
	snap := f.coord.Recalculate(context.Background())
	assert.Empty(t, snap.Positions)
	assert.True(t, snap.NAV.IsZero())
	requireNAVConsistent(t, snap)
}

func TestRecalculate_ShortPositionsYieldNegativeNAV(t *testing.T) {
	f := setupFixture(t,
		[]*models.Security{stockDef("AAPL")},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
	)
	ctx := context.Background()
	require.NoError(t, f.coord.LoadPositions(ctx, []PositionRecord{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(-50)},
	}))

	snap := f.coord.Recalculate(ctx)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.NAV.IsNegative())
	assert.True(t, decimal.NewFromInt(-5000).Equal(snap.NAV), "got %s", snap.NAV)
	requireNAVConsistent(t, snap)
}

func TestRecalculate_UnmappedSymbolPricedZeroAndFlagged(t *testing.T) {
	f := setupFixture(t,
		[]*models.Security{stockDef("AAPL")},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
	)
	ctx := context.Background()
	require.NoError(t, f.coord.LoadPositions(ctx, []PositionRecord{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(10)},
		{Symbol: "GHOST", Quantity: decimal.NewFromInt(10)},
	}))
	assert.Equal(t, []string{"GHOST"}, f.coord.Unresolved())

	snap := f.coord.Recalculate(ctx)
	require.Len(t, snap.Positions, 2)

	ghost := snap.Positions[1]
	assert.True(t, ghost.Unmapped)
	assert.True(t, ghost.Price.IsZero())
	assert.True(t, decimal.NewFromInt(1000).Equal(snap.NAV), "cycle must continue past the gap")
	requireNAVConsistent(t, snap)
}

func TestRecalculate_OptionWithoutUnderlyingDataPricesZero(t *testing.T) {
	// The call's underlying is not simulated, so its price reads zero and the
	// option resolves to zero rather than failing the cycle.
	f := setupFixture(t,
		[]*models.Security{
			stockDef("AAPL"),
			callDef("MSFT-CALL-100", 100, time.Now().AddDate(1, 0, 0)),
		},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
	)
	ctx := context.Background()
	require.NoError(t, f.coord.LoadPositions(ctx, []PositionRecord{
		{Symbol: "MSFT-CALL-100", Quantity: decimal.NewFromInt(5)},
	}))

	snap := f.coord.Recalculate(ctx)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].Price.IsZero())
	requireNAVConsistent(t, snap)
}

func TestRecalculate_MonotonicVersionAndTimestamp(t *testing.T) {
	f := setupFixture(t,
		[]*models.Security{stockDef("AAPL")},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
	)
	ctx := context.Background()

	var lastVersion uint64
	lastTime := time.Time{}
	for i := 0; i < 50; i++ {
		snap := f.coord.Recalculate(ctx)
		assert.Greater(t, snap.Version, lastVersion)
		assert.True(t, snap.UpdatedAt.After(lastTime),
			"timestamp %v not after %v", snap.UpdatedAt, lastTime)
		lastVersion = snap.Version
		lastTime = snap.UpdatedAt
	}
}

func TestSnapshot_ConsistentUnderConcurrentRecalculation(t *testing.T) {
	f := setupFixture(t,
		[]*models.Security{
			stockDef("AAPL"),
			stockDef("MSFT"),
			callDef("AAPL-CALL-150", 150, time.Now().AddDate(1, 0, 0)),
		},
		map[string]decimal.Decimal{
			"AAPL": decimal.NewFromFloat(142.95),
			"MSFT": decimal.NewFromFloat(310.10),
		},
	)
	ctx := context.Background()
	require.NoError(t, f.coord.LoadPositions(ctx, []PositionRecord{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(1000)},
		{Symbol: "MSFT", Quantity: decimal.NewFromInt(-200)},
		{Symbol: "AAPL-CALL-150", Quantity: decimal.NewFromInt(5000)},
	}))
	f.coord.Recalculate(ctx)

	stop := make(chan struct{})
	wg := sync.WaitGroup{}

	// Writers: price ticks plus recalculation cycles.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.sim.Advance("AAPL", time.Minute)
				f.store.InvalidatePrice("AAPL")
				f.coord.Recalculate(ctx)
			}
		}
	}()

	// Readers: every observed snapshot must be fully post-cycle consistent.
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				snap := f.coord.Snapshot()
				requireNAVConsistent(t, snap)
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestRecalculate_EmitsEvents(t *testing.T) {
	f := setupFixture(t,
		[]*models.Security{stockDef("AAPL")},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
	)
	ctx := context.Background()
	require.NoError(t, f.coord.LoadPositions(ctx, []PositionRecord{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(10)},
	}))

	got := make(chan events.Event, 16)
	f.bus.Subscribe("test", func(ev events.Event) { got <- ev },
		events.TypePortfolioRecalculated)

	snap := f.coord.Recalculate(ctx)

	select {
	case ev := <-got:
		payload, ok := ev.Payload.(events.PortfolioRecalculated)
		require.True(t, ok)
		assert.True(t, payload.NAV.Equal(snap.NAV))
		assert.Equal(t, 1, payload.Positions)
		assert.Equal(t, snap.Version, payload.Version)
	case <-time.After(time.Second):
		t.Fatal("no recalculation event delivered")
	}
}
