package tariff

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidRates is returned for rates that cannot produce a bill.
var ErrInvalidRates = errors.New("invalid tariff rates")

// Rates are the tariff constants applied to measured consumption. Prices are
// per kWh; tax rates are fractions.
type Rates struct {
	UnitPrice      float64
	PeakPrice      float64
	OffPeakPrice   float64
	ElectricityTax float64
	VAT            float64
}

// DefaultRates is the regulated flat tariff. Time-of-use prices are unset, so
// the flat path is used until they are configured.
func DefaultRates() Rates {
	return Rates{
		UnitPrice:      0.1121,
		ElectricityTax: 0.051127,
		VAT:            0.21,
	}
}

// Method names the pricing path a breakdown was computed with.
type Method string

const (
	Flat      Method = "flat"
	TimeOfUse Method = "time_of_use"
)

// Fallback reasons recorded when the time-of-use path could not be used.
const (
	FallbackIncompleteSplit = "peak or off-peak consumption missing"
	FallbackNoSplitPrices   = "time-of-use prices not configured"
)

// Consumption is the energy, in kWh, a bill is recomputed from.
type Consumption struct {
	Total   float64
	Peak    *float64
	OffPeak *float64
}

// Breakdown is a recomputed bill. Intermediate terms are unrounded; only
// Total is rounded to cents.
type Breakdown struct {
	Method         Method  `json:"method"`
	Fallback       string  `json:"fallback,omitempty"`
	Consumption    float64 `json:"consumption_kwh"`
	UnitPrice      float64 `json:"unit_price,omitempty"`
	EnergyTerm     float64 `json:"energy_term"`
	ElectricityTax float64 `json:"electricity_tax"`
	Subtotal       float64 `json:"subtotal"`
	VAT            float64 `json:"vat"`
	Total          float64 `json:"total"`
}

// Calculator recomputes bills from a fixed set of rates.
type Calculator struct {
	rates Rates
}

// NewCalculator validates rates and returns a Calculator for them.
func NewCalculator(rates Rates) (*Calculator, error) {
	if rates.UnitPrice <= 0 {
		return nil, fmt.Errorf("%w: unit price must be positive, got %v", ErrInvalidRates, rates.UnitPrice)
	}
	if rates.PeakPrice < 0 || rates.OffPeakPrice < 0 {
		return nil, fmt.Errorf("%w: time-of-use prices cannot be negative", ErrInvalidRates)
	}
	if rates.ElectricityTax < 0 || rates.VAT < 0 {
		return nil, fmt.Errorf("%w: tax rates cannot be negative", ErrInvalidRates)
	}
	return &Calculator{rates: rates}, nil
}

// Rates returns the calculator's rates.
func (c *Calculator) Rates() Rates {
	return c.rates
}

// WithUnitPrice returns a calculator that uses price on the flat path.
func (c *Calculator) WithUnitPrice(price float64) (*Calculator, error) {
	rates := c.rates
	rates.UnitPrice = price
	return NewCalculator(rates)
}

// Calculate prices in. The time-of-use path is used when both halves of the
// split and both split prices are available; otherwise the breakdown uses the
// flat price and records why in Fallback.
func (c *Calculator) Calculate(in Consumption) Breakdown {
	var b Breakdown
	switch {
	case in.Peak == nil || in.OffPeak == nil:
		b.Method, b.Fallback = Flat, FallbackIncompleteSplit
	case c.rates.PeakPrice == 0 || c.rates.OffPeakPrice == 0:
		b.Method, b.Fallback = Flat, FallbackNoSplitPrices
	default:
		b.Method = TimeOfUse
	}

	var energy decimal.Decimal
	if b.Method == TimeOfUse {
		peak := decimal.NewFromFloat(*in.Peak).Mul(decimal.NewFromFloat(c.rates.PeakPrice))
		offPeak := decimal.NewFromFloat(*in.OffPeak).Mul(decimal.NewFromFloat(c.rates.OffPeakPrice))
		energy = peak.Add(offPeak)
		b.Consumption = toFloat(decimal.NewFromFloat(*in.Peak).Add(decimal.NewFromFloat(*in.OffPeak)))
	} else {
		energy = decimal.NewFromFloat(in.Total).Mul(decimal.NewFromFloat(c.rates.UnitPrice))
		b.Consumption = in.Total
		b.UnitPrice = c.rates.UnitPrice
	}

	tax := energy.Mul(decimal.NewFromFloat(c.rates.ElectricityTax))
	subtotal := energy.Add(tax)
	vat := subtotal.Mul(decimal.NewFromFloat(c.rates.VAT))
	total := subtotal.Add(vat)

	b.EnergyTerm = toFloat(energy)
	b.ElectricityTax = toFloat(tax)
	b.Subtotal = toFloat(subtotal)
	b.VAT = toFloat(vat)
	b.Total = toFloat(total.Round(2))
	return b
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
