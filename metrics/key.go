/*
key.go - Typed metric identifiers

PURPOSE:
  Every value in a MetricStore is addressed by a Key. Keys keep the names
  the dashboards and spreadsheet exports already know ("Sales_Month_TY",
  "GM%_Var_vs_LY_Last_3_Months_TY", "chart_revenue_month-4"), but they are
  built from structured parts instead of being typed out by hand.

KEY SHAPES:
  Base × Period × Year     Sales_Last_3_Months_TY
  Base × Period variance   Sales_Var_vs_LY_Last_3_Months_TY
                           Sales_Var%_vs_LY_Last_3_Months_TY
  Base × Bucket × Year     Sales_Last_6_4_Months_TY
  Chart series             chart_revenue_month-4, chart_revenue_6_4_months

SEE ALSO:
  - store.go: write-once storage addressed by Key
  - catalog/keys.go: the named families built from these parts
*/
package metrics

import "fmt"

// Key identifies one metric in a MetricStore.
type Key string

func (k Key) String() string { return string(k) }

// =============================================================================
// PERIODS
// =============================================================================

// Period is a trailing window length ending at the anchor month.
type Period int

const (
	Month Period = iota
	Last3
	Last6
	Last9
	Last12
)

// Periods lists every period in ascending length.
var Periods = []Period{Month, Last3, Last6, Last9, Last12}

// Months returns the number of months the period spans.
func (p Period) Months() int {
	switch p {
	case Last3:
		return 3
	case Last6:
		return 6
	case Last9:
		return 9
	case Last12:
		return 12
	default:
		return 1
	}
}

func (p Period) String() string {
	if p == Month {
		return "Month"
	}
	return fmt.Sprintf("Last_%d_Months", p.Months())
}

// PeriodOfMonths maps a month count back to its Period.
func PeriodOfMonths(n int) (Period, bool) {
	for _, p := range Periods {
		if p.Months() == n {
			return p, true
		}
	}
	return Month, false
}

// =============================================================================
// YEARS
// =============================================================================

// Year selects the comparison year of a window.
type Year string

const (
	TY Year = "TY" // this year
	LY Year = "LY" // last year, shifted 12 months back
	PY Year = "PY" // previous year, shifted 24 months back
)

// Shift is the offset delta applied to a TY window to land in this year.
func (y Year) Shift() int {
	switch y {
	case LY:
		return -12
	case PY:
		return -24
	default:
		return 0
	}
}

// =============================================================================
// BASES
// =============================================================================

// Base names a metric family that exists for every Period and Year.
type Base string

const (
	Sales        Base = "Sales"
	COS          Base = "COS"
	Overheads    Base = "Overheads"
	Income       Base = "Income"
	GM           Base = "GM"
	GMPct        Base = "GM%"
	GMEBITDA     Base = "GM_EBITDA"
	GMEBITDAPct  Base = "GM_EBITDA%"
	OverheadsPct Base = "Overheads%"
	NetProfit    Base = "Net_Profit"
	NetProfitPct Base = "Net_Profit%"
	EBITDA       Base = "EBITDA"
	EBITDAPct    Base = "EBITDA%"
)

// In returns the key of the base over a period in a year.
func (b Base) In(p Period, y Year) Key {
	return Key(fmt.Sprintf("%s_%s_%s", b, p, y))
}

// Var returns the TY minus LY variance key.
func (b Base) Var(p Period) Key {
	return Key(fmt.Sprintf("%s_Var_vs_LY_%s_TY", b, p))
}

// VarPct returns the variance-as-percentage-of-LY key.
func (b Base) VarPct(p Period) Key {
	return Key(fmt.Sprintf("%s_Var%%_vs_LY_%s_TY", b, p))
}

// InBucket returns the key of the base over an incremental bucket.
func (b Base) InBucket(bk Bucket, y Year) Key {
	return Key(fmt.Sprintf("%s_Last_%d_%d_Months_%s", b, bk.Far, bk.Near, y))
}

// =============================================================================
// INCREMENTAL BUCKETS
// =============================================================================

// Bucket is a non-overlapping slice of the trailing year, counted in
// months back from the anchor: {3,1} is months 1..3, {6,4} is months 4..6.
type Bucket struct {
	Far  int
	Near int
}

// Buckets lists the quarterly slices of the trailing twelve months.
var Buckets = []Bucket{{3, 1}, {6, 4}, {9, 7}, {12, 10}}

// Outer is the cumulative period that ends at the far edge of the bucket.
func (bk Bucket) Outer() Period {
	p, _ := PeriodOfMonths(bk.Far)
	return p
}

// Inner is the cumulative period the bucket sits on top of. The first
// bucket has none.
func (bk Bucket) Inner() (Period, bool) {
	if bk.Near <= 1 {
		return Month, false
	}
	return PeriodOfMonths(bk.Near - 1)
}

// =============================================================================
// CHART SERIES
// =============================================================================

// ChartMonth is the i-th point of a monthly chart series.
func ChartMonth(series string, i int) Key {
	return Key(fmt.Sprintf("chart_%s_month-%d", series, i))
}

// ChartBucket is a bucketed chart value such as chart_revenue_6_4_months.
func ChartBucket(series string, bk Bucket) Key {
	return Key(fmt.Sprintf("chart_%s_%d_%d_months", series, bk.Far, bk.Near))
}

// Chart is a free-form chart key: Chart("revenue", "this_month").
func Chart(series, suffix string) Key {
	return Key(fmt.Sprintf("chart_%s_%s", series, suffix))
}
