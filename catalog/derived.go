package catalog

import (
	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/metrics"
)

// =============================================================================
// DERIVED RULES
// =============================================================================
//
// Rules are listed by report section. Order here does not matter for
// correctness; Build sorts them by their declared reads.

var years = []metrics.Year{metrics.TY, metrics.LY}

// varianceBases get TY-LY and percentage-of-LY variances.
var varianceBases = []metrics.Base{
	metrics.Sales,
	metrics.GM,
	metrics.Overheads,
	metrics.NetProfit,
	metrics.EBITDA,
}

// marginBases are percentages; their variance is a plain subtraction.
var marginBases = []metrics.Base{
	metrics.GMPct,
	metrics.OverheadsPct,
	metrics.NetProfitPct,
	metrics.EBITDAPct,
}

// DerivedRules returns every derivation rule of the catalog.
func DerivedRules() []Rule {
	var rules []Rule
	for _, section := range [][]Rule{
		spreadRules(),
		varianceRules(),
		netWorthRules(),
		profitMovementRules(),
		revenueChartRules(),
		grossMarginChartRules(),
		overheadsChartRules(),
		profitChartRules(SeriesNetProfit, metrics.NetProfit),
		profitChartRules(SeriesEBITDA, metrics.EBITDA),
		netWorthChartRules(),
		balanceChartRules(),
		revenueDriverRules(),
		customerRules(),
		profitMonthRules(),
		workingCapitalRules(),
	} {
		rules = append(rules, section...)
	}
	return rules
}

// spreadRules builds margins and their percentages for every period.
//
//	GM          = Sales - COS
//	GM_EBITDA   = Income - COS
//	Net_Profit  = GM - Overheads
//	EBITDA      = GM_EBITDA - Overheads
//
// Percentages are over Sales, except GM_EBITDA% which is over Income.
func spreadRules() []Rule {
	var rules []Rule
	for _, p := range metrics.Periods {
		for _, y := range years {
			k := func(b metrics.Base) metrics.Key { return b.In(p, y) }
			rules = append(rules,
				Diff(k(metrics.GM), k(metrics.Sales), k(metrics.COS)),
				Ratio(k(metrics.GMPct), k(metrics.GM), k(metrics.Sales)),
				Diff(k(metrics.GMEBITDA), k(metrics.Income), k(metrics.COS)),
				Ratio(k(metrics.GMEBITDAPct), k(metrics.GMEBITDA), k(metrics.Income)),
				Ratio(k(metrics.OverheadsPct), k(metrics.Overheads), k(metrics.Sales)),
				Diff(k(metrics.NetProfit), k(metrics.GM), k(metrics.Overheads)),
				Ratio(k(metrics.NetProfitPct), k(metrics.NetProfit), k(metrics.Sales)),
				Diff(k(metrics.EBITDA), k(metrics.GMEBITDA), k(metrics.Overheads)),
				Ratio(k(metrics.EBITDAPct), k(metrics.EBITDA), k(metrics.Sales)),
			)
		}
	}
	return rules
}

func varianceRules() []Rule {
	var rules []Rule
	for _, p := range metrics.Periods {
		for _, b := range varianceBases {
			rules = append(rules,
				Diff(b.Var(p), b.In(p, metrics.TY), b.In(p, metrics.LY)),
				Ratio(b.VarPct(p), b.Var(p), b.In(p, metrics.LY)),
			)
		}
		for _, b := range marginBases {
			rules = append(rules, Diff(b.Var(p), b.In(p, metrics.TY), b.In(p, metrics.LY)))
		}
	}
	return rules
}

func netWorthRules() []Rule {
	var rules []Rule
	for _, n := range []int{3, 12} {
		for _, y := range years {
			points := make([]metrics.Key, n)
			for k := 0; k < n; k++ {
				points[k] = NetWorthPoint(k, y)
			}
			rules = append(rules, MeanOf(NetWorthAverage(n, y), points...))
		}
		rules = append(rules,
			Diff(NetWorthVar(n), NetWorthAverage(n, metrics.TY), NetWorthAverage(n, metrics.LY)),
			Ratio(NetWorthVarPct(n), NetWorthVar(n), NetWorthAverage(n, metrics.LY)),
		)
	}
	rules = append(rules,
		Diff(NetWorthVar(1), NetWorthPoint(0, metrics.TY), NetWorthPoint(0, metrics.LY)),
		Ratio(NetWorthVarPct(1), NetWorthVar(1), NetWorthPoint(0, metrics.LY)),
	)
	return rules
}

// profitMovementRules bridge the trailing-year net profit change into a
// sales volume effect, a margin effect and an overheads effect.
func profitMovementRules() []Rule {
	salesTY := metrics.Sales.In(metrics.Last12, metrics.TY)
	salesLY := metrics.Sales.In(metrics.Last12, metrics.LY)
	marginTY := metrics.GMPct.In(metrics.Last12, metrics.TY)
	marginLY := metrics.GMPct.In(metrics.Last12, metrics.LY)

	return []Rule{
		Diff(ProfitMovement, metrics.NetProfit.In(metrics.Last12, metrics.TY), metrics.NetProfit.In(metrics.Last12, metrics.LY)),
		Custom(SalesProfitMovement, []metrics.Key{salesTY, salesLY, marginLY}, func(get Getter) decimal.Decimal {
			return get(salesTY).Sub(get(salesLY)).Mul(get(marginLY)).Div(metrics.Hundred)
		}),
		Custom(MarginProfitMovement, []metrics.Key{marginTY, marginLY, salesTY}, func(get Getter) decimal.Decimal {
			return get(marginTY).Sub(get(marginLY)).Div(metrics.Hundred).Mul(get(salesTY))
		}),
		Diff(OverheadsProfitMovement, metrics.Overheads.In(metrics.Last12, metrics.TY), metrics.Overheads.In(metrics.Last12, metrics.LY)),
	}
}

// =============================================================================
// CHART SECTIONS
// =============================================================================

// headlineRules publish this month/quarter/year values of a base, its
// variance and its variance percentage. flipVariance negates the variances
// so a fall in a cost reads as an improvement.
func headlineRules(series string, b metrics.Base, flipVariance bool) []Rule {
	var rules []Rule
	for _, s := range Spans {
		rules = append(rules, Alias(ChartThis(series, s), b.In(s.Period, metrics.TY)))
		if flipVariance {
			rules = append(rules,
				Negated(ChartVsLastYear(series, s), b.Var(s.Period)),
				Negated(ChartVsLastYearPct(series, s), b.VarPct(s.Period)),
			)
		} else {
			rules = append(rules,
				Alias(ChartVsLastYear(series, s), b.Var(s.Period)),
				Alias(ChartVsLastYearPct(series, s), b.VarPct(s.Period)),
			)
		}
	}
	return rules
}

// bucketRules split the trailing-year variance of a monetary base into
// quarterly increments: 3_1 is the 3-month variance, 6_4 is the 6-month
// variance less the 3-month one, and so on.
func bucketRules(series string, b metrics.Base) []Rule {
	var rules []Rule
	for _, bk := range metrics.Buckets {
		inner, ok := bk.Inner()
		if !ok {
			rules = append(rules, Alias(metrics.ChartBucket(series, bk), b.Var(bk.Outer())))
			continue
		}
		rules = append(rules, Diff(metrics.ChartBucket(series, bk), b.Var(bk.Outer()), b.Var(inner)))
	}
	return rules
}

func revenueChartRules() []Rule {
	return append(headlineRules(SeriesRevenue, metrics.Sales, false), bucketRules(SeriesRevenue, metrics.Sales)...)
}

// grossMarginChartRules include the margin-percentage buckets. Those are
// not differences of cumulative GM% variances: each side recomputes its
// margin over the months inside the bucket only, then TY and LY are
// subtracted.
func grossMarginChartRules() []Rule {
	var rules []Rule
	for i := 0; i < RollingMonths; i++ {
		rev := metrics.ChartMonth(SeriesRevenue, i)
		cos := metrics.ChartMonth(SeriesCostOfSales, i)
		gm := metrics.ChartMonth(SeriesGrossMargin, i)
		rules = append(rules,
			Diff(gm, rev, cos),
			Ratio(metrics.ChartMonth(SeriesGrossMarginPct, i), gm, rev),
		)
	}

	for _, bk := range metrics.Buckets {
		out := metrics.ChartBucket(SeriesGrossMarginPct, bk)
		inner, ok := bk.Inner()
		if !ok {
			rules = append(rules, Alias(out, metrics.GMPct.Var(bk.Outer())))
			continue
		}

		for _, y := range years {
			for _, b := range []metrics.Base{metrics.Sales, metrics.COS} {
				rules = append(rules, Diff(b.InBucket(bk, y), b.In(bk.Outer(), y), b.In(inner, y)))
			}
		}
		sTY, cTY := metrics.Sales.InBucket(bk, metrics.TY), metrics.COS.InBucket(bk, metrics.TY)
		sLY, cLY := metrics.Sales.InBucket(bk, metrics.LY), metrics.COS.InBucket(bk, metrics.LY)
		rules = append(rules, Custom(out, []metrics.Key{sTY, cTY, sLY, cLY}, func(get Getter) decimal.Decimal {
			ty := metrics.Percent(get(sTY).Sub(get(cTY)), get(sTY))
			ly := metrics.Percent(get(sLY).Sub(get(cLY)), get(sLY))
			return ty.Sub(ly)
		}))
	}
	return rules
}

func overheadsChartRules() []Rule {
	return append(headlineRules(SeriesOverheads, metrics.Overheads, true), bucketRules(SeriesOverheads, metrics.Overheads)...)
}

// profitChartRules serve both net profit and EBITDA. The monthly series
// differ: net profit is gross margin less overheads, EBITDA starts from
// the unfiltered income series.
func profitChartRules(series string, b metrics.Base) []Rule {
	rules := append(headlineRules(series, b, false), bucketRules(series, b)...)
	for i := 0; i < RollingMonths; i++ {
		out := metrics.ChartMonth(series, i)
		oh := metrics.ChartMonth(SeriesOverheads, i)
		if b == metrics.NetProfit {
			rules = append(rules, Diff(out, metrics.ChartMonth(SeriesGrossMargin, i), oh))
			continue
		}
		inc := metrics.ChartMonth(SeriesIncome, i)
		cos := metrics.ChartMonth(SeriesCostOfSales, i)
		rules = append(rules, Custom(out, []metrics.Key{inc, cos, oh}, func(get Getter) decimal.Decimal {
			return get(inc).Sub(get(cos)).Sub(get(oh))
		}))
	}
	return rules
}

func netWorthChartRules() []Rule {
	averages := map[string]int{"month": 1, "quarter": 3, "year": 12}

	var rules []Rule
	for _, s := range Spans {
		n := averages[s.Name]
		this := NetWorthPoint(0, metrics.TY)
		if n > 1 {
			this = NetWorthAverage(n, metrics.TY)
		}
		rules = append(rules,
			Alias(ChartThis(SeriesNetWorth, s), this),
			Alias(ChartVsLastYear(SeriesNetWorth, s), NetWorthVar(n)),
			Alias(ChartVsLastYearPct(SeriesNetWorth, s), NetWorthVarPct(n)),
		)
	}
	for k := 0; k < 12; k++ {
		rules = append(rules, Alias(metrics.ChartMonth(SeriesNetWorth, k), NetWorthPoint(k, metrics.TY)))
	}
	rules = append(rules, Alias(metrics.ChartMonth(SeriesNetWorth, 12), NetWorthPoint(0, metrics.LY)))
	return rules
}

// balanceChartRules cover total assets/liabilities movement, the current
// ratio series and the cash position.
func balanceChartRules() []Rule {
	rules := []Rule{
		Diff(metrics.Key("chart_"+SeriesAssets), metrics.ChartMonth(SeriesAssets, 0), metrics.ChartMonth(SeriesAssets, 12)),
		Diff(metrics.Key("chart_"+SeriesLiabilities), metrics.ChartMonth(SeriesLiabilities, 0), metrics.ChartMonth(SeriesLiabilities, 12)),
		Diff(CashBalanceMovement, metrics.ChartMonth(SeriesCashBalance, 0), metrics.ChartMonth(SeriesCashBalance, 12)),
	}
	for i := 0; i < HistoryMonths; i++ {
		ca := metrics.ChartMonth(SeriesCurrentAssets, i)
		cl := metrics.ChartMonth(SeriesCurrentLiabilities, i)
		rules = append(rules, Custom(metrics.ChartMonth(SeriesCurrentRatio, i), []metrics.Key{ca, cl}, func(get Getter) decimal.Decimal {
			return metrics.SafeDivide(get(ca), get(cl)).Neg()
		}))
	}
	rules = append(rules,
		Alias(CurrentRatioTY, metrics.ChartMonth(SeriesCurrentRatio, 0)),
		Alias(CurrentRatioLY, metrics.ChartMonth(SeriesCurrentRatio, 12)),
	)
	return rules
}

// revenueDriverRules decompose the trailing-year revenue change into a
// value effect (change in average ticket at last year's volume) and a
// volume effect (change in count at this year's average ticket).
func revenueDriverRules() []Rule {
	revTY := metrics.ChartMonth(SeriesRevenue, 0)
	revLY := metrics.ChartMonth(SeriesRevenue, 12)

	drivers := []struct {
		avgTY, avgLY, countTY, countLY, value, volume metrics.Key
	}{
		{AvgValuePerTransactionTY, AvgValuePerTransactionLY, SalesTransactionsTY, SalesTransactionsLY, ImpactTransactionValue, ImpactTransactionNumber},
		{AvgValuePerInvoiceTY, AvgValuePerInvoiceLY, SalesInvoicesTY, SalesInvoicesLY, ImpactInvoiceValue, ImpactInvoiceNumber},
	}

	var rules []Rule
	for _, d := range drivers {
		rules = append(rules,
			Quotient(d.avgTY, revTY, d.countTY),
			Quotient(d.avgLY, revLY, d.countLY),
			Custom(d.value, []metrics.Key{d.avgTY, d.avgLY, d.countLY}, func(get Getter) decimal.Decimal {
				return get(d.avgTY).Sub(get(d.avgLY)).Mul(get(d.countLY))
			}),
			Custom(d.volume, []metrics.Key{d.avgTY, d.countTY, d.countLY}, func(get Getter) decimal.Decimal {
				return get(d.avgTY).Mul(get(d.countTY).Sub(get(d.countLY)))
			}),
		)
	}
	return rules
}

// retention writes 100 * retained / (retained + lost), or 100 when there
// was nobody to retain or lose.
func retention(out, retained, lost metrics.Key) Rule {
	return Custom(out, []metrics.Key{retained, lost}, func(get Getter) decimal.Decimal {
		base := get(retained).Add(get(lost))
		if base.IsZero() {
			return metrics.Hundred
		}
		return metrics.Percent(get(retained), base)
	})
}

func customerRules() []Rule {
	seg := func(s Segment) metrics.Key { return SegmentKey(Customers, s) }
	tyNew, tyExisting := seg(TYNew), seg(TYExisting)
	lyNew, lyExisting := seg(LYvsPYNew), seg(LYvsPYExisting)

	rules := []Rule{
		retention(RetentionLYvsTY, seg(LYvsTYRetained), seg(LYvsTYLost)),
		retention(RetentionPYvsLY, seg(PYvsLYRetained), seg(PYvsLYLost)),
		retention(SupplierRetentionLYvsTY, SegmentKey(Suppliers, LYvsTYRetained), SegmentKey(Suppliers, LYvsTYLost)),
		retention(SupplierRetentionPYvsLY, SegmentKey(Suppliers, PYvsLYRetained), SegmentKey(Suppliers, PYvsLYLost)),
		Quotient(MeanRevenuePerCustomerTY, metrics.Sales.In(metrics.Last12, metrics.TY), CountKey(Customers, metrics.TY)),
		Quotient(MeanRevenuePerCustomerLY, metrics.Sales.In(metrics.Last12, metrics.LY), CountKey(Customers, metrics.LY)),

		// Revenue attributable to winning more new customers than last year
		Custom(RevenueCustomersAcquired, []metrics.Key{MeanRevenuePerCustomerTY, tyNew, lyNew}, func(get Getter) decimal.Decimal {
			return get(MeanRevenuePerCustomerTY).Mul(get(tyNew).Sub(get(lyNew)))
		}),
	}

	// Revenue attributable to the change in retention rate, applied to last
	// year's customer base at this year's revenue per active customer.
	reads := []metrics.Key{RetentionLYvsTY, RetentionPYvsLY, lyNew, lyExisting, SalesTransactionsTY, AvgValuePerTransactionTY, tyNew, tyExisting}
	rules = append(rules, Custom(RevenueCustomersRetained, reads, func(get Getter) decimal.Decimal {
		if !get(tyNew).IsPositive() || !get(tyExisting).IsPositive() {
			return decimal.Zero
		}
		rateDelta := get(RetentionLYvsTY).Sub(get(RetentionPYvsLY)).Div(metrics.Hundred)
		base := get(lyNew).Add(get(lyExisting))
		perCustomer := metrics.SafeDivide(
			get(SalesTransactionsTY).Mul(get(AvgValuePerTransactionTY)),
			get(tyNew).Add(get(tyExisting)),
		)
		return rateDelta.Mul(base).Mul(perCustomer)
	}))
	return rules
}

// profitMonthRules count profitable single months in each trailing year.
func profitMonthRules() []Rule {
	count := func(out metrics.Key, from int) Rule {
		reads := make([]metrics.Key, 12)
		for i := range reads {
			reads[i] = metrics.ChartMonth(SeriesProfit, from+i)
		}
		return Custom(out, reads, func(get Getter) decimal.Decimal {
			n := int64(0)
			for _, k := range reads {
				if get(k).IsPositive() {
					n++
				}
			}
			return decimal.NewFromInt(n)
		})
	}
	return []Rule{count(ProfitMonthsTY, 0), count(ProfitMonthsLY, 12)}
}

func workingCapitalRules() []Rule {
	sales := func(y metrics.Year) metrics.Key { return metrics.Sales.In(metrics.Last12, y) }
	cos := func(y metrics.Year) metrics.Key { return metrics.COS.In(metrics.Last12, y) }
	oh := func(y metrics.Year) metrics.Key { return metrics.Overheads.In(metrics.Last12, y) }

	return []Rule{
		Days(DebtorDaysTY, ReceivableTY, sales(metrics.TY)),
		Days(DebtorDaysLY, ReceivableLY, sales(metrics.LY)),
		Days(CreditorDaysTY, PayableTY, oh(metrics.TY), cos(metrics.TY)),
		Days(CreditorDaysLY, PayableLY, oh(metrics.LY), cos(metrics.LY)),
		Days(StockDaysTY, StockTY, cos(metrics.TY)),
		Days(StockDaysLY, StockLY, cos(metrics.LY)),
	}
}
