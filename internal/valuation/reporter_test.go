package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/valuation/pkg/models"
	"go.uber.org/zap"
)

func setupReporter(t *testing.T) (*fixture, *Reporter) {
	f := setupFixture(t,
		[]*models.Security{stockDef("AAPL"), stockDef("MSFT")},
		map[string]decimal.Decimal{
			"AAPL": decimal.NewFromInt(100),
			"MSFT": decimal.NewFromInt(200),
		},
	)
	require.NoError(t, f.coord.LoadPositions(context.Background(), []PositionRecord{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(10)},
		{Symbol: "MSFT", Quantity: decimal.NewFromInt(20)},
	}))
	return f, NewReporter(zap.NewNop(), f.coord)
}

func directions(s *models.Summary) map[string]models.PriceDirection {
	out := make(map[string]models.PriceDirection, len(s.Lines))
	for _, line := range s.Lines {
		out[line.Symbol] = line.Direction
	}
	return out
}

func TestSummarize_FirstReportIsAllNew(t *testing.T) {
	f, reporter := setupReporter(t)
	f.coord.Recalculate(context.Background())

	summary := reporter.Summarize()
	require.NotNil(t, summary)
	for symbol, dir := range directions(summary) {
		assert.Equal(t, models.DirectionNew, dir, "symbol %s", symbol)
	}
}

func TestSummarize_NilWhenNothingChanged(t *testing.T) {
	f, reporter := setupReporter(t)
	f.coord.Recalculate(context.Background())

	require.NotNil(t, reporter.Summarize())
	assert.Nil(t, reporter.Summarize(), "unchanged portfolio must not re-emit")
}

func TestSummarize_NilWhenRecalculationMovedNothing(t *testing.T) {
	f, reporter := setupReporter(t)
	ctx := context.Background()
	f.coord.Recalculate(ctx)
	require.NotNil(t, reporter.Summarize())

	// Recalculation bumps the snapshot version even when no price moved; an
	// all-SAME cycle must still not re-emit.
	first := f.coord.Snapshot().Version
	f.coord.Recalculate(ctx)
	f.coord.Recalculate(ctx)
	require.Greater(t, f.coord.Snapshot().Version, first)

	assert.Nil(t, reporter.Summarize(), "all-SAME cycle must not re-emit")

	// Real movement afterwards is still reported.
	for {
		f.sim.Advance("AAPL", time.Hour)
		f.store.InvalidatePrice("AAPL")
		snap := f.coord.Recalculate(ctx)
		if !snap.Positions[0].Price.Equal(decimal.NewFromInt(100)) {
			break
		}
	}
	assert.NotNil(t, reporter.Summarize())
}

func TestSummarize_ClassifiesUpDownSame(t *testing.T) {
	f, reporter := setupReporter(t)
	ctx := context.Background()
	f.coord.Recalculate(ctx)
	require.NotNil(t, reporter.Summarize())

	// Drive AAPL up hard with a deterministic large drift step; leave MSFT
	// untouched so it reports SAME.
	for {
		f.sim.Advance("AAPL", time.Hour)
		f.store.InvalidatePrice("AAPL")
		snap := f.coord.Recalculate(ctx)
		if !snap.Positions[0].Price.Equal(decimal.NewFromInt(100)) {
			break
		}
	}

	summary := reporter.Summarize()
	require.NotNil(t, summary)
	dirs := directions(summary)
	assert.Contains(t, []models.PriceDirection{models.DirectionUp, models.DirectionDown}, dirs["AAPL"])
	assert.Equal(t, models.DirectionSame, dirs["MSFT"])

	for _, line := range summary.Lines {
		if line.Symbol == "AAPL" {
			require.NotNil(t, line.ChangePct, "moved line must carry a percentage")
		}
	}
}

func TestSummarize_ZeroBaselineClassifiesNew(t *testing.T) {
	// A position crossing from unpriced (zero) to priced must classify NEW,
	// never divide by the zero baseline.
	f := setupFixture(t,
		[]*models.Security{
			stockDef("AAPL"),
			callDef("AAPL-CALL-150", 150, time.Now().AddDate(0, 0, -1)),
		},
		map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(160)},
	)
	ctx := context.Background()
	require.NoError(t, f.coord.LoadPositions(ctx, []PositionRecord{
		{Symbol: "AAPL-CALL-150", Quantity: decimal.NewFromInt(5)},
	}))
	reporter := NewReporter(zap.NewNop(), f.coord)

	// Expired option prices at zero; baseline records zero.
	f.coord.Recalculate(ctx)
	require.NotNil(t, reporter.Summarize())

	// Replace with a live option so the price turns positive.
	_, err := f.store.Save(ctx, callDef("AAPL-CALL-150", 150, time.Now().AddDate(1, 0, 0)))
	require.NoError(t, err)
	snap := f.coord.Recalculate(ctx)
	require.True(t, snap.Positions[0].Price.IsPositive())

	summary := reporter.Summarize()
	require.NotNil(t, summary)
	line := summary.Lines[0]
	assert.Equal(t, models.DirectionNew, line.Direction)
	assert.Nil(t, line.ChangePct)
}

func TestChangePct(t *testing.T) {
	pct := ChangePct(decimal.NewFromInt(100), decimal.NewFromInt(110))
	require.NotNil(t, pct)
	assert.True(t, decimal.NewFromInt(10).Equal(*pct), "got %s", pct)

	assert.Nil(t, ChangePct(decimal.Zero, decimal.NewFromInt(10)))
}
