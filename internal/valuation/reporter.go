package valuation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfolio/valuation/pkg/models"
)

var hundred = decimal.NewFromInt(100)

// Reporter produces the change-aware portfolio summary. It compares each
// position's current price against a rolling baseline and classifies it as
// NEW, UP, DOWN or SAME. The first report after load is always all NEW.
type Reporter struct {
	logger *zap.Logger
	coord  *Coordinator

	mu          sync.Mutex
	baseline    map[string]decimal.Decimal
	lastVersion uint64
	reported    bool
}

// NewReporter creates a reporter over the coordinator's published snapshots.
func NewReporter(logger *zap.Logger, coord *Coordinator) *Reporter {
	return &Reporter{
		logger:   logger,
		coord:    coord,
		baseline: make(map[string]decimal.Decimal),
	}
}

// Summarize builds the summary for the current snapshot. Returns nil when no
// position moved against its baseline since the last emission, so periodic
// callers only log real movement; a recalculation cycle that repriced nothing
// does not re-emit. Read-only with respect to the portfolio.
func (r *Reporter) Summarize() *models.Summary {
	snap := r.coord.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reported && snap.Version == r.lastVersion {
		return nil
	}

	summary := &models.Summary{
		Lines:     make([]models.SummaryLine, 0, len(snap.Positions)),
		NAV:       snap.NAV,
		Version:   snap.Version,
		CreatedAt: snap.UpdatedAt,
	}

	moved := !r.reported
	for _, pos := range snap.Positions {
		line := models.SummaryLine{
			Symbol:      pos.Symbol,
			Quantity:    pos.Quantity,
			Price:       pos.Price,
			MarketValue: pos.MarketValue,
			Direction:   r.classify(pos.Symbol, pos.Price),
		}
		if line.Direction != models.DirectionNew {
			line.ChangePct = ChangePct(r.baseline[pos.Symbol], pos.Price)
		}
		if line.Direction != models.DirectionSame {
			moved = true
		}
		summary.Lines = append(summary.Lines, line)
		r.baseline[pos.Symbol] = pos.Price
	}

	r.lastVersion = snap.Version
	if !moved {
		return nil
	}
	r.reported = true

	r.logger.Info("portfolio summary",
		zap.String("nav", snap.NAV.StringFixed(2)),
		zap.Uint64("version", snap.Version),
		zap.String("table", renderTable(summary)))
	return summary
}

// classify compares price to the recorded baseline. A missing or zero
// baseline classifies as NEW: the percentage-change arithmetic never divides
// by a zero baseline. First report after load is NEW for every position.
func (r *Reporter) classify(symbol string, price decimal.Decimal) models.PriceDirection {
	if !r.reported {
		return models.DirectionNew
	}
	base, ok := r.baseline[symbol]
	if !ok || base.IsZero() {
		return models.DirectionNew
	}
	switch price.Cmp(base) {
	case 1:
		return models.DirectionUp
	case -1:
		return models.DirectionDown
	default:
		return models.DirectionSame
	}
}

// ChangePct computes the percentage move of price from base. Callers must
// have classified the line first; NEW lines have no percentage.
func ChangePct(base, price decimal.Decimal) *decimal.Decimal {
	if base.IsZero() {
		return nil
	}
	pct := price.Sub(base).Div(base).Mul(hundred)
	return &pct
}

func renderTable(s *models.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%-16s %12s %14s %16s %5s\n", "SYMBOL", "QTY", "PRICE", "MKT VALUE", "CHG")
	for _, line := range s.Lines {
		fmt.Fprintf(&b, "%-16s %12s %14s %16s %5s\n",
			line.Symbol,
			line.Quantity.StringFixed(0),
			line.Price.StringFixed(2),
			line.MarketValue.StringFixed(2),
			line.Direction)
	}
	fmt.Fprintf(&b, "%-16s %12s %14s %16s\n", "TOTAL", "", "", s.NAV.StringFixed(2))
	return b.String()
}
