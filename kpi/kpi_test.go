package kpi_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-metrics/catalog"
	"github.com/warp/finance-metrics/kpi"
	"github.com/warp/finance-metrics/metrics"
)

// fakeStore returns zero for anything not set.
type fakeStore map[metrics.Key]decimal.Decimal

func (f fakeStore) Value(k metrics.Key) decimal.Decimal { return f[k] }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func activeYear(f fakeStore) fakeStore {
	for i := 0; i < 12; i++ {
		f[metrics.ChartMonth(catalog.SeriesProfit, i)] = d("1")
	}
	return f
}

func TestRawCriteria_Parse(t *testing.T) {
	c, err := kpi.RawCriteria{Period: "6", Direction: "-", MinMonths: "3", Threshold: "12.5", Enabled: "no"}.Parse()
	require.NoError(t, err)

	assert.Equal(t, metrics.Last6, c.Period)
	assert.Equal(t, kpi.Down, c.Direction)
	assert.Equal(t, 3, c.MinMonths)
	assert.True(t, c.Threshold.Equal(d("12.5")))
	assert.False(t, c.Enabled)
	assert.Equal(t, int64(kpi.DefaultValuationMultiple), c.ValuationMultiple)
}

func TestRawCriteria_ParseDefaults(t *testing.T) {
	c, err := kpi.RawCriteria{}.Parse()
	require.NoError(t, err)
	assert.Equal(t, kpi.DefaultCriteria(), c)
}

func TestRawCriteria_ParseRejectsMalformedFields(t *testing.T) {
	tests := []struct {
		name  string
		raw   kpi.RawCriteria
		field string
	}{
		{"period not a number", kpi.RawCriteria{Period: "twelve"}, "period"},
		{"period outside set", kpi.RawCriteria{Period: "4"}, "period"},
		{"unknown direction", kpi.RawCriteria{Direction: "up"}, "direction"},
		{"threshold not a number", kpi.RawCriteria{Threshold: "ten"}, "threshold"},
		{"negative threshold", kpi.RawCriteria{Threshold: "-1"}, "threshold"},
		{"enabled not yes/no", kpi.RawCriteria{Enabled: "maybe"}, "enabled"},
		{"min months too large", kpi.RawCriteria{MinMonths: "13"}, "min_months"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.raw.Parse()
			require.Error(t, err)
			assert.True(t, kpi.IsValidationError(err))

			var ve *kpi.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestRawCriteria_JunkMultipleFallsBack(t *testing.T) {
	c, err := kpi.RawCriteria{ValuationMultiple: "lots"}.Parse()
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.ValuationMultiple)
}

func TestParseFamily(t *testing.T) {
	f, err := kpi.ParseFamily("OH_PCT")
	require.NoError(t, err)
	assert.Equal(t, kpi.OverheadsPct, f)

	_, err = kpi.ParseFamily("payroll")
	assert.ErrorIs(t, err, kpi.ErrUnknownFamily)
}

func TestEvaluate_RevenueRise(t *testing.T) {
	// GIVEN: sales up from 1000 to 1200 over the last 3 months at a 40% margin
	src := activeYear(fakeStore{
		"Sales_Last_3_Months_TY": d("1200"),
		"Sales_Last_3_Months_LY": d("1000"),
		"GM%_Last_3_Months_LY":   d("40"),
	})
	c := kpi.DefaultCriteria()
	c.Period = metrics.Last3
	c.Direction = kpi.Up
	c.Threshold = d("15")

	// WHEN: revenue is evaluated
	r, err := kpi.Evaluate(src, kpi.Revenue, c)
	require.NoError(t, err)

	// THEN: a 20% rise crosses a 15% upward threshold
	assert.True(t, r.Var.Equal(d("200")))
	assert.True(t, r.VarPct.Equal(d("20")))
	assert.True(t, r.Impact.Equal(d("80")))
	assert.True(t, r.ValueImpact.Equal(d("240")))
	assert.True(t, r.Flag)
}

func TestEvaluate_Direction(t *testing.T) {
	src := activeYear(fakeStore{
		"Sales_Last_12_Months_TY": d("900"),
		"Sales_Last_12_Months_LY": d("1000"),
	})

	tests := []struct {
		dir  kpi.Direction
		flag bool
	}{
		{kpi.Up, false},
		{kpi.Down, true},
		{kpi.Either, true},
	}
	for _, tt := range tests {
		c := kpi.DefaultCriteria()
		c.Direction = tt.dir
		r, err := kpi.Evaluate(src, kpi.Revenue, c)
		require.NoError(t, err)
		assert.Equal(t, tt.flag, r.Flag, "direction %s", tt.dir)
	}
}

func TestEvaluate_PointFamiliesUseRawVariance(t *testing.T) {
	// GIVEN: margin moved from 30% to 42%, which is 12 points but 40%
	src := activeYear(fakeStore{
		"GM%_Last_12_Months_TY":   d("42"),
		"GM%_Last_12_Months_LY":   d("30"),
		"Sales_Last_12_Months_TY": d("1000"),
	})
	c := kpi.DefaultCriteria()
	c.Threshold = d("15")

	r, err := kpi.Evaluate(src, kpi.GrossMargin, c)
	require.NoError(t, err)

	assert.Equal(t, kpi.UnitPoints, r.Unit)
	assert.False(t, r.Flag, "12 points is below a 15 point threshold")
	assert.True(t, r.Impact.Equal(d("120")))
}

func TestEvaluate_AnnualFamiliesIgnorePeriod(t *testing.T) {
	src := activeYear(fakeStore{
		catalog.DebtorDaysTY:      d("45"),
		catalog.DebtorDaysLY:      d("60"),
		"Sales_Last_12_Months_TY": d("36500"),
	})
	c := kpi.DefaultCriteria()
	c.Period = metrics.Month

	r, err := kpi.Evaluate(src, kpi.DebtorDays, c)
	require.NoError(t, err)

	assert.Equal(t, metrics.Last12, r.Period)
	// 15 fewer days at 100 a day
	assert.True(t, r.Impact.Equal(d("1500")))
	assert.True(t, r.Flag)
}

func TestEvaluate_MinMonthsAndDisabled(t *testing.T) {
	src := fakeStore{
		"EBITDA_Last_12_Months_TY": d("500"),
		"EBITDA_Last_12_Months_LY": d("100"),
	}
	src[metrics.ChartMonth(catalog.SeriesProfit, 0)] = d("10")

	c := kpi.DefaultCriteria()
	c.MinMonths = 6
	r, err := kpi.Evaluate(src, kpi.EBITDA, c)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ActiveMonths)
	assert.False(t, r.Flag)

	c = kpi.DefaultCriteria()
	c.Enabled = false
	r, err = kpi.Evaluate(src, kpi.EBITDA, c)
	require.NoError(t, err)
	assert.False(t, r.Flag)
	assert.True(t, r.Var.Equal(d("400")))
}

func TestEvaluate_ZeroLastYearGivesZeroPercent(t *testing.T) {
	src := activeYear(fakeStore{"Overheads_Last_12_Months_TY": d("500")})

	r, err := kpi.Evaluate(src, kpi.OverheadsValue, kpi.DefaultCriteria())
	require.NoError(t, err)

	assert.True(t, r.VarPct.IsZero())
	assert.False(t, r.Flag)
	assert.True(t, r.Impact.Equal(d("-500")))
}

func TestEvaluate_UnknownFamily(t *testing.T) {
	_, err := kpi.Evaluate(fakeStore{}, "payroll", kpi.DefaultCriteria())
	assert.ErrorIs(t, err, kpi.ErrUnknownFamily)
}

func TestEvaluateAll_CoversEveryFamily(t *testing.T) {
	results, err := kpi.EvaluateAll(fakeStore{}, map[kpi.Family]kpi.Criteria{})
	require.NoError(t, err)
	require.Len(t, results, len(kpi.Families))
	for i, f := range kpi.Families {
		assert.Equal(t, f, results[i].Family)
		assert.False(t, results[i].Flag)
	}
}

func TestFamilies_EveryListedFamilyIsDefined(t *testing.T) {
	for _, f := range kpi.Families {
		_, err := kpi.Evaluate(fakeStore{}, f, kpi.DefaultCriteria())
		assert.NoError(t, err, "family %s", f)

		parsed, err := kpi.ParseFamily(string(f))
		assert.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
}

// enabledWithFlags returns n enabled results; the first flagged carry a flag.
func enabledWithFlags(flagged, n int) []kpi.Result {
	out := make([]kpi.Result, n)
	for i := range out {
		out[i] = kpi.Result{Enabled: true, Flag: i < flagged}
	}
	return out
}

func TestOpportunityScore(t *testing.T) {
	tests := []struct {
		name    string
		results []kpi.Result
		score   int
		ok      bool
	}{
		{"nothing enabled", []kpi.Result{{Enabled: false, Flag: true}}, 0, false},
		{"empty", nil, 0, false},
		{"two of three", []kpi.Result{
			{Enabled: true, Flag: true},
			{Enabled: true, Flag: true},
			{Enabled: true},
			{Enabled: false, Flag: true},
		}, 67, true},
		{"all flagged", []kpi.Result{{Enabled: true, Flag: true}}, 100, true},
		{"one of eight rounds half to even", enabledWithFlags(1, 8), 12, true},
		{"three of eight rounds half to even", enabledWithFlags(3, 8), 38, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, ok := kpi.OpportunityScore(tt.results)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestClampTarget(t *testing.T) {
	assert.Equal(t, 50, kpi.ClampTarget(""))
	assert.Equal(t, 50, kpi.ClampTarget("abc"))
	assert.Equal(t, 0, kpi.ClampTarget("-20"))
	assert.Equal(t, 100, kpi.ClampTarget("150"))
	assert.Equal(t, 70, kpi.ClampTarget("66"))
	assert.Equal(t, 60, kpi.ClampTarget("64"))

	// Halves go to the even ten.
	assert.Equal(t, 20, kpi.ClampTarget("25"))
	assert.Equal(t, 40, kpi.ClampTarget("35"))
	assert.Equal(t, 40, kpi.ClampTarget("45"))
	assert.Equal(t, 0, kpi.ClampTarget("5"))
}
