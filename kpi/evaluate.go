package kpi

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/catalog"
	"github.com/warp/finance-metrics/metrics"
)

// Source is the read side of a computed metric store.
type Source interface {
	Value(k metrics.Key) decimal.Decimal
}

// Unit says what the threshold is compared against.
type Unit string

const (
	// UnitPercent compares the variance as a percentage of last year.
	UnitPercent Unit = "percent"
	// UnitPoints compares the raw variance (percentage points or days).
	UnitPoints Unit = "points"
)

// Result is one evaluated indicator.
type Result struct {
	Family       Family
	Period       metrics.Period
	Unit         Unit
	TY           decimal.Decimal
	LY           decimal.Decimal
	Var          decimal.Decimal
	VarPct       decimal.Decimal
	Impact       decimal.Decimal
	ValueImpact  decimal.Decimal
	ActiveMonths int
	Enabled      bool
	Flag         bool
}

// Measure is the figure the threshold applies to.
func (r Result) Measure() decimal.Decimal {
	if r.Unit == UnitPercent {
		return r.VarPct
	}
	return r.Var
}

// =============================================================================
// FAMILY DEFINITIONS
// =============================================================================

// pair reads the TY and LY values of a base for a period.
func pair(b metrics.Base) func(src Source, p metrics.Period) (decimal.Decimal, decimal.Decimal) {
	return func(src Source, p metrics.Period) (decimal.Decimal, decimal.Decimal) {
		return src.Value(b.In(p, metrics.TY)), src.Value(b.In(p, metrics.LY))
	}
}

func trailing(src Source, b metrics.Base) decimal.Decimal {
	return src.Value(b.In(metrics.Last12, metrics.TY))
}

// dailyFlow spreads a trailing-year flow over the days of the year.
func dailyFlow(flow decimal.Decimal) decimal.Decimal {
	return metrics.SafeDivide(flow, metrics.DaysPerYear)
}

type inputs struct {
	annual bool
	unit   Unit
	values func(src Source, p metrics.Period) (decimal.Decimal, decimal.Decimal)
	impact func(src Source, p metrics.Period, ty, ly decimal.Decimal) decimal.Decimal
}

func keys(ty, ly metrics.Key) func(src Source, _ metrics.Period) (decimal.Decimal, decimal.Decimal) {
	return func(src Source, _ metrics.Period) (decimal.Decimal, decimal.Decimal) {
		return src.Value(ty), src.Value(ly)
	}
}

func variance(_ Source, _ metrics.Period, ty, ly decimal.Decimal) decimal.Decimal {
	return ty.Sub(ly)
}

var families = map[Family]inputs{
	// Extra sales at last year's margin
	Revenue: {
		unit:   UnitPercent,
		values: pair(metrics.Sales),
		impact: func(src Source, p metrics.Period, ty, ly decimal.Decimal) decimal.Decimal {
			return ty.Sub(ly).Mul(src.Value(metrics.GMPct.In(p, metrics.LY))).Div(metrics.Hundred)
		},
	},
	// Margin movement applied to this year's sales
	GrossMargin: {
		unit:   UnitPoints,
		values: pair(metrics.GMPct),
		impact: func(src Source, p metrics.Period, ty, ly decimal.Decimal) decimal.Decimal {
			return ty.Sub(ly).Div(metrics.Hundred).Mul(src.Value(metrics.Sales.In(p, metrics.TY)))
		},
	},
	OverheadsValue: {
		unit:   UnitPercent,
		values: pair(metrics.Overheads),
		impact: func(_ Source, _ metrics.Period, ty, ly decimal.Decimal) decimal.Decimal {
			return ly.Sub(ty)
		},
	},
	OverheadsPct: {
		unit:   UnitPoints,
		values: pair(metrics.OverheadsPct),
		impact: func(src Source, p metrics.Period, ty, ly decimal.Decimal) decimal.Decimal {
			return ly.Sub(ty).Div(metrics.Hundred).Mul(src.Value(metrics.Sales.In(p, metrics.TY)))
		},
	},
	EBITDA: {
		unit:   UnitPercent,
		values: pair(metrics.EBITDA),
		impact: variance,
	},
	NewCustomers: {
		annual: true,
		unit:   UnitPercent,
		values: keys(catalog.SegmentKey(catalog.Customers, catalog.TYNew), catalog.SegmentKey(catalog.Customers, catalog.LYvsPYNew)),
		impact: func(src Source, _ metrics.Period, _, _ decimal.Decimal) decimal.Decimal {
			return src.Value(catalog.RevenueCustomersAcquired)
		},
	},
	Retention: {
		annual: true,
		unit:   UnitPoints,
		values: keys(catalog.RetentionLYvsTY, catalog.RetentionPYvsLY),
		impact: func(src Source, _ metrics.Period, _, _ decimal.Decimal) decimal.Decimal {
			return src.Value(catalog.RevenueCustomersRetained)
		},
	},
	Cash: {
		annual: true,
		unit:   UnitPercent,
		values: keys(metrics.ChartMonth(catalog.SeriesCashBalance, 0), metrics.ChartMonth(catalog.SeriesCashBalance, 12)),
		impact: variance,
	},
	// Fewer debtor days releases a day of sales per day saved
	DebtorDays: {
		annual: true,
		unit:   UnitPoints,
		values: keys(catalog.DebtorDaysTY, catalog.DebtorDaysLY),
		impact: func(src Source, _ metrics.Period, ty, ly decimal.Decimal) decimal.Decimal {
			return ly.Sub(ty).Mul(dailyFlow(trailing(src, metrics.Sales)))
		},
	},
	// More creditor days holds on to a day of spend per day gained
	CreditorDays: {
		annual: true,
		unit:   UnitPoints,
		values: keys(catalog.CreditorDaysTY, catalog.CreditorDaysLY),
		impact: func(src Source, _ metrics.Period, ty, ly decimal.Decimal) decimal.Decimal {
			spend := trailing(src, metrics.COS).Add(trailing(src, metrics.Overheads))
			return ty.Sub(ly).Mul(dailyFlow(spend))
		},
	},
	StockDays: {
		annual: true,
		unit:   UnitPoints,
		values: keys(catalog.StockDaysTY, catalog.StockDaysLY),
		impact: func(src Source, _ metrics.Period, ty, ly decimal.Decimal) decimal.Decimal {
			return ly.Sub(ty).Mul(dailyFlow(trailing(src, metrics.COS)))
		},
	},
}

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluate computes one indicator against a store. Criteria come from
// RawCriteria.Parse or DefaultCriteria.
func Evaluate(src Source, f Family, c Criteria) (Result, error) {
	def, ok := families[f]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownFamily, f)
	}

	p := c.Period
	if def.annual {
		p = metrics.Last12
	}

	ty, ly := def.values(src, p)
	r := Result{
		Family:       f,
		Period:       p,
		Unit:         def.unit,
		TY:           ty,
		LY:           ly,
		Var:          ty.Sub(ly),
		Enabled:      c.Enabled,
		ActiveMonths: ActiveMonths(src),
	}
	r.VarPct = metrics.Percent(r.Var, ly)
	r.Impact = def.impact(src, p, ty, ly)
	r.ValueImpact = r.Impact.Mul(decimal.NewFromInt(c.ValuationMultiple))
	r.Flag = c.Enabled && r.ActiveMonths >= c.MinMonths && crosses(r.Measure(), c.Direction, c.Threshold)
	return r, nil
}

// EvaluateAll evaluates every family with its criteria, or the default
// criteria when a family has none. It fails if a listed family has no
// definition.
func EvaluateAll(src Source, criteria map[Family]Criteria) ([]Result, error) {
	out := make([]Result, 0, len(Families))
	for _, f := range Families {
		c, ok := criteria[f]
		if !ok {
			c = DefaultCriteria()
		}
		r, err := Evaluate(src, f, c)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ActiveMonths counts months in the trailing year with any profit and
// loss activity.
func ActiveMonths(src Source) int {
	n := 0
	for i := 0; i < 12; i++ {
		if !src.Value(metrics.ChartMonth(catalog.SeriesProfit, i)).IsZero() {
			n++
		}
	}
	return n
}

func crosses(m decimal.Decimal, d Direction, threshold decimal.Decimal) bool {
	switch d {
	case Up:
		return m.IsPositive() && m.GreaterThanOrEqual(threshold)
	case Down:
		return m.IsNegative() && m.Neg().GreaterThanOrEqual(threshold)
	default:
		return !m.IsZero() && m.Abs().GreaterThanOrEqual(threshold)
	}
}
