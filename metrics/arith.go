package metrics

import "github.com/shopspring/decimal"

var (
	Hundred     = decimal.NewFromInt(100)
	DaysPerYear = decimal.NewFromInt(365)
	MinusOne    = decimal.NewFromInt(-1)
)

// SafeDivide returns n/d, or zero when d is zero. A KPI with no
// denominator activity reads as "no change", so this never fails.
func SafeDivide(n, d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.Zero
	}
	return n.Div(d)
}

// Percent is SafeDivide scaled to a percentage.
func Percent(n, d decimal.Decimal) decimal.Decimal {
	return SafeDivide(n, d).Mul(Hundred)
}

// Mean is the arithmetic mean of vs; zero for an empty list.
func Mean(vs ...decimal.Decimal) decimal.Decimal {
	if len(vs) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, vs...).Div(decimal.NewFromInt(int64(len(vs))))
}

// Display rounds a value for presentation. Stored values keep full precision.
func Display(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}
