package meter

import (
	"github.com/shopspring/decimal"
)

// Tariff holds per-unit prices for the two meters.
type Tariff struct {
	Dien decimal.Decimal `json:"dien" yaml:"dien"`
	Nuoc decimal.Decimal `json:"nuoc" yaml:"nuoc"`
}

// Usage is the consumption between two consecutive readings of one room.
// HasDien/HasNuoc are false when either endpoint is missing that meter.
type Usage struct {
	Dien    decimal.Decimal
	Nuoc    decimal.Decimal
	HasDien bool
	HasNuoc bool
}

// UsageBetween computes consumption from prev to cur. A negative delta means
// the meter was replaced or rolled over; it is returned as-is so the caller
// can flag it rather than silently hiding it.
func UsageBetween(prev, cur Reading) Usage {
	var u Usage
	if prev.Dien != nil && cur.Dien != nil {
		u.Dien = decimal.NewFromFloat(*cur.Dien).Sub(decimal.NewFromFloat(*prev.Dien))
		u.HasDien = true
	}
	if prev.Nuoc != nil && cur.Nuoc != nil {
		u.Nuoc = decimal.NewFromFloat(*cur.Nuoc).Sub(decimal.NewFromFloat(*prev.Nuoc))
		u.HasNuoc = true
	}
	return u
}

// Cost prices a usage under the given tariff. Missing meters contribute zero.
func (u Usage) Cost(t Tariff) decimal.Decimal {
	total := decimal.Zero
	if u.HasDien {
		total = total.Add(u.Dien.Mul(t.Dien))
	}
	if u.HasNuoc {
		total = total.Add(u.Nuoc.Mul(t.Nuoc))
	}
	return total
}
