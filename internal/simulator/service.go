// Package simulator owns the simulated stock price state and advances each
// price along a discrete geometric Brownian motion step.
package simulator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfolio/valuation/pkg/metrics"
	"github.com/quantfolio/valuation/pkg/models"
)

const yearNanos = 365.0 * 24 * float64(time.Hour)

// stockState is the simulator's per-ticker state: the latest price, the
// stock's drift/volatility terms and its own random source.
type stockState struct {
	price      decimal.Decimal
	drift      decimal.Decimal
	volatility decimal.Decimal
	rng        *source
}

// Service is the market data simulator. It exclusively owns stock price
// state; readers take the shared lock, writers the exclusive one.
type Service struct {
	logger      *zap.Logger
	minInterval time.Duration
	maxInterval time.Duration

	mu     sync.RWMutex
	stocks map[string]*stockState
}

// NewService creates a simulator with the configured tick interval bounds.
func NewService(logger *zap.Logger, minInterval, maxInterval time.Duration) *Service {
	return &Service{
		logger:      logger,
		minInterval: minInterval,
		maxInterval: maxInterval,
		stocks:      make(map[string]*stockState),
	}
}

// Initialize registers the stocks to simulate. Stocks with no configured
// initial price are skipped with a warning; if nothing is left the engine has
// no market to value and startup must fail.
func (s *Service) Initialize(stocks []models.Security, initialPrices map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seed := uint64(time.Now().UnixNano())
	for i, sec := range stocks {
		if sec.Kind != models.KindStock {
			continue
		}
		ticker := models.NormalizeTicker(sec.Ticker)
		price, ok := initialPrices[ticker]
		if !ok || !price.IsPositive() {
			s.logger.Warn("skipping stock without a configured initial price",
				zap.String("ticker", ticker))
			continue
		}
		s.stocks[ticker] = &stockState{
			price:      price,
			drift:      sec.Drift,
			volatility: sec.Volatility,
			rng:        newSource(seed + uint64(i)*0x9e3779b97f4a7c15 + 1),
		}
	}

	if len(s.stocks) == 0 {
		return fmt.Errorf("no stocks initialized: every tracked stock is missing an initial price")
	}
	s.logger.Info("market data simulator initialized", zap.Int("stocks", len(s.stocks)))
	return nil
}

// Advance applies one GBM step to the ticker's price using the elapsed
// interval: S' = S + mu*S*dt + sigma*S*sqrt(dt)*eps, with dt in year-fraction
// units and eps standard normal from the stock's own source. The result is
// clamped at zero. Returns the new price, or zero for unknown tickers.
func (s *Service) Advance(ticker string, elapsed time.Duration) decimal.Decimal {
	ticker = models.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stocks[ticker]
	if !ok {
		return decimal.Zero
	}

	dt := float64(elapsed) / yearNanos
	eps := st.rng.normal()

	dtDec := decimal.NewFromFloat(dt)
	sqrtDt := decimal.NewFromFloat(math.Sqrt(dt))
	epsDec := decimal.NewFromFloat(eps)

	driftTerm := st.price.Mul(st.drift).Mul(dtDec)
	diffusionTerm := st.price.Mul(st.volatility).Mul(sqrtDt).Mul(epsDec)

	next := st.price.Add(driftTerm).Add(diffusionTerm)
	if next.IsNegative() {
		next = decimal.Zero
	}
	st.price = next
	metrics.SimulatorTicks.WithLabelValues(ticker).Inc()
	return next
}

// CurrentPrice returns the latest simulated price, or zero for unknown
// tickers: a gap in market data must read as "no data", never as a failure.
func (s *Service) CurrentPrice(ticker string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stocks[models.NormalizeTicker(ticker)]
	if !ok {
		return decimal.Zero
	}
	return st.price
}

// AllPrices returns a point-in-time copy of every tracked price. Mutating the
// returned map never affects simulator state.
func (s *Service) AllPrices() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.stocks))
	for ticker, st := range s.stocks {
		out[ticker] = st.price
	}
	return out
}

// Tickers returns the tracked stock tickers.
func (s *Service) Tickers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.stocks))
	for ticker := range s.stocks {
		out = append(out, ticker)
	}
	return out
}

// NextInterval draws the ticker's next randomized tick delay from its own
// source, uniform between the configured bounds.
func (s *Service) NextInterval(ticker string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stocks[models.NormalizeTicker(ticker)]
	if !ok {
		return s.maxInterval
	}
	spread := s.maxInterval - s.minInterval
	if spread <= 0 {
		return s.minInterval
	}
	return s.minInterval + time.Duration(st.rng.uniform()*float64(spread))
}
