package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SecurityKind identifies the closed set of instrument types the engine
// understands. The set is fixed; every dispatch on kind must handle all three.
type SecurityKind string

const (
	KindStock SecurityKind = "STOCK"
	KindCall  SecurityKind = "CALL"
	KindPut   SecurityKind = "PUT"
)

// Valid reports whether k is one of the known kinds.
func (k SecurityKind) Valid() bool {
	switch k {
	case KindStock, KindCall, KindPut:
		return true
	}
	return false
}

// IsOption reports whether k is a call or a put.
func (k SecurityKind) IsOption() bool {
	return k == KindCall || k == KindPut
}

// Security is an instrument definition. It is immutable after creation except
// for administrative replace/delete through the catalog store.
type Security struct {
	Ticker     string           `json:"ticker" gorm:"primaryKey" validate:"required,max=32"`
	Kind       SecurityKind     `json:"kind" validate:"required,oneof=STOCK CALL PUT"`
	Strike     *decimal.Decimal `json:"strike,omitempty" gorm:"type:decimal(20,8)" validate:"omitempty"`
	Maturity   *time.Time       `json:"maturity,omitempty"`
	Drift      decimal.Decimal  `json:"drift" gorm:"type:decimal(20,8)"`
	Volatility decimal.Decimal  `json:"volatility" gorm:"type:decimal(20,8)"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// UnderlyingTicker derives the underlying stock ticker for an option: the
// substring preceding the first separator, e.g. "AAPL-CALL-150" -> "AAPL".
// Returns "" for tickers without a separator.
func (s *Security) UnderlyingTicker() string {
	idx := strings.IndexByte(s.Ticker, '-')
	if idx <= 0 {
		return ""
	}
	return NormalizeTicker(s.Ticker[:idx])
}

// NormalizeTicker folds a ticker to its canonical form so that case variants
// of the same symbol share cache entries and price state.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Position is a single holding in the portfolio. Quantity is signed: positive
// long, negative short, zero permitted. Price and MarketValue are derived and
// rewritten every valuation cycle.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	Security    *Security       `json:"security,omitempty"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"market_value"`
	// Unmapped is set when the symbol resolves to no catalog security. The
	// position stays in the portfolio priced at zero.
	Unmapped bool `json:"unmapped,omitempty"`
}

// Portfolio is an immutable snapshot of all positions plus the derived NAV.
// The valuation coordinator builds a fresh Portfolio each cycle and swaps it
// into the published handle; readers must never mutate one.
type Portfolio struct {
	Positions []Position      `json:"positions"`
	NAV       decimal.Decimal `json:"nav"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PriceDirection classifies a position's current price against the reporting
// baseline.
type PriceDirection string

const (
	DirectionNew  PriceDirection = "NEW"
	DirectionUp   PriceDirection = "UP"
	DirectionDown PriceDirection = "DOWN"
	DirectionSame PriceDirection = "SAME"
)

// SummaryLine is one row of the change-aware portfolio summary.
type SummaryLine struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"market_value"`
	Direction   PriceDirection  `json:"direction"`
	// ChangePct is unset for NEW lines; a zero baseline never produces a
	// percentage.
	ChangePct *decimal.Decimal `json:"change_pct,omitempty"`
}

// Summary is the structured form of the periodic portfolio report.
type Summary struct {
	Lines     []SummaryLine   `json:"lines"`
	NAV       decimal.Decimal `json:"nav"`
	Version   uint64          `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
}
