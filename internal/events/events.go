// Package events provides the typed notification bus that decouples
// observers from the valuation path.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type identifies an event category.
type Type string

const (
	TypeMarketDataChanged     Type = "market.data.changed"
	TypePortfolioRecalculated Type = "portfolio.recalculated"
	TypePositionChanged       Type = "position.changed"
	TypeLifecycle             Type = "system.lifecycle"
)

// Event is the envelope every notification travels in. Delivery is
// at-most-once best-effort and never blocks the publisher.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      Type        `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New builds an event envelope with a fresh id and timestamp.
func New(t Type, source string, payload interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// MarketDataChanged reports a simulated price advance.
type MarketDataChanged struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
}

// PortfolioRecalculated reports a completed valuation cycle.
type PortfolioRecalculated struct {
	NAV       decimal.Decimal `json:"nav"`
	Positions int             `json:"positions"`
	Version   uint64          `json:"version"`
	Duration  time.Duration   `json:"duration"`
}

// PositionChanged reports a repriced position.
type PositionChanged struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// Lifecycle reports engine start/stop transitions.
type Lifecycle struct {
	State string `json:"state"`
}
