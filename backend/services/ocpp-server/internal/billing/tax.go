package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// TaxRates supplies the current GST and PST fractions (0.05 means 5%).
type TaxRates interface {
	Rates(ctx context.Context) (gst, pst decimal.Decimal, err error)
}

// StaticTaxRates serves fixed rates, typically from configuration.
type StaticTaxRates struct {
	GST decimal.Decimal
	PST decimal.Decimal
}

// Rates implements TaxRates.
func (s StaticTaxRates) Rates(context.Context) (decimal.Decimal, decimal.Decimal, error) {
	return s.GST, s.PST, nil
}

// TaxSplit is a gross deposit broken into its tax components and the credited remainder.
type TaxSplit struct {
	Gross decimal.Decimal
	GST   decimal.Decimal
	PST   decimal.Decimal
	Net   decimal.Decimal
}

// SplitTax treats gross as tax inclusive: each tax is gross times its rate, rounded to
// cents, and net is whatever remains so the parts always sum to gross.
func SplitTax(gross, gstRate, pstRate decimal.Decimal) TaxSplit {
	gst := RoundMoney(gross.Mul(gstRate))
	pst := RoundMoney(gross.Mul(pstRate))
	return TaxSplit{
		Gross: gross,
		GST:   gst,
		PST:   pst,
		Net:   gross.Sub(gst).Sub(pst),
	}
}
