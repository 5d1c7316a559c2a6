// Package pricing implements closed-form European option valuation.
package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/valuation/pkg/models"
)

const daysPerYear = 365.0

// Engine prices European options with the Black-Scholes formula against a
// configured risk-free rate. Monetary inputs and outputs are decimal; only
// the transcendental intermediates run in float64.
type Engine struct {
	riskFree decimal.Decimal
}

// NewEngine creates a pricing engine with the given annual risk-free rate.
func NewEngine(riskFree decimal.Decimal) *Engine {
	return &Engine{riskFree: riskFree}
}

// Price returns the theoretical value of the option given the current
// underlying price. Every precondition failure yields a zero price rather
// than an error: valuation must keep running across gaps in reference data.
//
// Maturity handling: strictly past -> 0 (expired); same calendar day ->
// intrinsic value, since the closed form divides by sqrt(t) and is undefined
// at t = 0; otherwise the standard formula with t = days/365.
func (e *Engine) Price(option *models.Security, underlying decimal.Decimal) decimal.Decimal {
	if option == nil || !option.Kind.IsOption() {
		return decimal.Zero
	}
	if !underlying.IsPositive() {
		return decimal.Zero
	}
	if option.Strike == nil || option.Maturity == nil {
		return decimal.Zero
	}

	days := daysToMaturity(*option.Maturity, time.Now())
	if days < 0 {
		return decimal.Zero
	}
	if days == 0 {
		return intrinsicValue(option.Kind, underlying, *option.Strike)
	}

	t := float64(days) / daysPerYear
	s, _ := underlying.Float64()
	k, _ := option.Strike.Float64()
	r, _ := e.riskFree.Float64()
	sigma, _ := option.Volatility.Float64()
	if sigma <= 0 || k <= 0 {
		return decimal.Zero
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	discount := math.Exp(-r * t)

	var price float64
	switch option.Kind {
	case models.KindCall:
		price = s*normCDF(d1) - k*discount*normCDF(d2)
	case models.KindPut:
		price = k*discount*normCDF(-d2) - s*normCDF(-d1)
	}
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(price)
}

func intrinsicValue(kind models.SecurityKind, underlying, strike decimal.Decimal) decimal.Decimal {
	var v decimal.Decimal
	switch kind {
	case models.KindCall:
		v = underlying.Sub(strike)
	case models.KindPut:
		v = strike.Sub(underlying)
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// daysToMaturity is the calendar-day difference between the maturity date and
// now, both truncated to UTC dates. Negative means expired, zero means the
// option matures today.
func daysToMaturity(maturity, now time.Time) int {
	m := maturity.UTC()
	n := now.UTC()
	mDate := time.Date(m.Year(), m.Month(), m.Day(), 0, 0, 0, 0, time.UTC)
	nDate := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return int(mDate.Sub(nDate).Hours() / 24)
}

// normCDF approximates the standard normal cumulative distribution with the
// Abramowitz-Stegun 26.2.17 polynomial, accurate to about 7.5e-8.
func normCDF(x float64) float64 {
	if x < 0 {
		return 1 - normCDF(-x)
	}
	k := 1.0 / (1.0 + 0.2316419*x)
	poly := k * (0.319381530 + k*(-0.356563782+k*(1.781477937+k*(-1.821255978+k*1.330274429))))
	pdf := math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
	return 1 - pdf*poly
}
