package catalog

import (
	"github.com/warp/finance-metrics/ledger"
	"github.com/warp/finance-metrics/metrics"
)

// =============================================================================
// RAW SPECS - one ledger aggregate each
// =============================================================================
//
// Sign convention: COS, overheads, assets, liabilities, net worth and cash
// are booked with the opposite sign to how they are reported, so those
// families set Negate. Current assets/liabilities and AR/AP/stock balances
// keep the ledger sign; the ratio and days formulas correct for it.

var (
	salesOnly       = []ledger.Category{ledger.CategorySales}
	cosOnly         = []ledger.Category{ledger.CategoryCostOfSales}
	overheadsOnly   = []ledger.Category{ledger.CategoryOverheads}
	supplierSpend   = []ledger.Category{ledger.CategoryCostOfSales, ledger.CategoryOverheads}
	assets          = []ledger.Category{ledger.CategoryFixedAssets, ledger.CategoryCurrentAssets}
	liabilities     = []ledger.Category{ledger.CategoryCurrentLiabilities, ledger.CategoryLongTermLiabilities}
	currentAssets   = []ledger.Category{ledger.CategoryCurrentAssets}
	currentLiabs    = []ledger.Category{ledger.CategoryCurrentLiabilities}
	workingCapital  = []ledger.Category{ledger.CategoryCurrentAssets, ledger.CategoryCurrentLiabilities}
	tradingExcludes = ledger.ProfitExclusions | ledger.ExcludeJournals
)

// periodFamily describes a Base measured over every Period and Year.
type periodFamily struct {
	base       metrics.Base
	categories []ledger.Category
	exclude    ledger.Exclusion
	negate     bool
}

var periodFamilies = []periodFamily{
	{metrics.Sales, salesOnly, ledger.ProfitExclusions, false},
	{metrics.Income, salesOnly, 0, false},
	{metrics.COS, cosOnly, ledger.ProfitExclusions, true},
	{metrics.Overheads, overheadsOnly, ledger.ProfitExclusions, true},
}

// chartSeries is a twelve-month trailing sum sampled at offsets 0..-12.
type chartSeries struct {
	name       string
	categories []ledger.Category
	exclude    ledger.Exclusion
	negate     bool
}

var rollingSeries = []chartSeries{
	{SeriesRevenue, salesOnly, ledger.ProfitExclusions, false},
	{SeriesIncome, salesOnly, 0, false},
	{SeriesCostOfSales, cosOnly, ledger.ProfitExclusions, true},
	{SeriesOverheads, overheadsOnly, ledger.ProfitExclusions, true},
}

// PeriodWindow is the offset window of a Period in a Year.
func PeriodWindow(p metrics.Period, y metrics.Year) ledger.Window {
	return ledger.Trailing(p.Months(), 0).Shift(y.Shift())
}

// yearWindow is the trailing twelve months of a Year.
func yearWindow(y metrics.Year) ledger.Window {
	return PeriodWindow(metrics.Last12, y)
}

// RawSpecs returns every raw spec of the catalog in a stable order.
func RawSpecs() []ledger.MetricSpec {
	var specs []ledger.MetricSpec
	add := func(s ledger.MetricSpec) { specs = append(specs, s) }

	// Sales / Income / COS / Overheads for each period, TY and LY
	for _, f := range periodFamilies {
		for _, p := range metrics.Periods {
			for _, y := range []metrics.Year{metrics.TY, metrics.LY} {
				add(ledger.MetricSpec{
					Name:       f.base.In(p, y),
					Categories: f.categories,
					Window:     PeriodWindow(p, y),
					Negate:     f.negate,
					Exclude:    f.exclude,
				})
			}
		}
	}

	// Rolling twelve-month chart series
	for _, f := range rollingSeries {
		for i := 0; i < RollingMonths; i++ {
			add(ledger.MetricSpec{
				Name:       metrics.ChartMonth(f.name, i),
				Categories: f.categories,
				Window:     ledger.Trailing(12, -i),
				Negate:     f.negate,
				Exclude:    f.exclude,
			})
		}
	}

	// Single-month profit for profit-month counts
	for i := 0; i < HistoryMonths; i++ {
		add(ledger.MetricSpec{
			Name:       metrics.ChartMonth(SeriesProfit, i),
			Categories: ledger.ProfitAndLoss,
			Window:     ledger.At(-i),
			Exclude:    ledger.ProfitExclusions,
		})
	}

	specs = append(specs, balanceSheetSpecs()...)
	specs = append(specs, revenueDriverSpecs()...)
	specs = append(specs, segmentationSpecs(Customers, salesOnly)...)
	specs = append(specs, segmentationSpecs(Suppliers, supplierSpend)...)
	return specs
}

func balanceSheetSpecs() []ledger.MetricSpec {
	var specs []ledger.MetricSpec

	// Net worth: cumulative position at each of the last 12 month-ends
	for k := 0; k < 12; k++ {
		for _, y := range []metrics.Year{metrics.TY, metrics.LY} {
			specs = append(specs, ledger.MetricSpec{
				Name:       NetWorthPoint(k, y),
				Categories: ledger.BalanceSheet,
				Window:     ledger.UpTo(-k + y.Shift()),
				Negate:     true,
			})
		}
	}

	for _, at := range []int{0, 12} {
		specs = append(specs,
			ledger.MetricSpec{
				Name:       metrics.ChartMonth(SeriesAssets, at),
				Categories: assets,
				Window:     ledger.UpTo(-at),
				Negate:     true,
			},
			ledger.MetricSpec{
				Name:       metrics.ChartMonth(SeriesLiabilities, at),
				Categories: liabilities,
				Window:     ledger.UpTo(-at),
				Negate:     true,
			},
		)
	}

	for i := 0; i < HistoryMonths; i++ {
		specs = append(specs,
			ledger.MetricSpec{
				Name:       metrics.ChartMonth(SeriesCurrentAssets, i),
				Categories: currentAssets,
				Window:     ledger.UpTo(-i),
			},
			ledger.MetricSpec{
				Name:       metrics.ChartMonth(SeriesCurrentLiabilities, i),
				Categories: currentLiabs,
				Window:     ledger.UpTo(-i),
			},
			ledger.MetricSpec{
				Name:       metrics.ChartMonth(SeriesCashBalance, i),
				Categories: workingCapital,
				Window:     ledger.UpTo(-i),
				Role:       ledger.RoleCash,
				Negate:     true,
			},
		)
	}

	roles := []struct {
		ty, ly     metrics.Key
		role       ledger.Role
		categories []ledger.Category
	}{
		{ReceivableTY, ReceivableLY, ledger.RoleReceivable, workingCapital},
		{PayableTY, PayableLY, ledger.RolePayable, workingCapital},
		{StockTY, StockLY, ledger.RoleStock, currentAssets},
	}
	for _, r := range roles {
		specs = append(specs,
			ledger.MetricSpec{Name: r.ty, Categories: r.categories, Window: ledger.UpTo(0), Role: r.role},
			ledger.MetricSpec{Name: r.ly, Categories: r.categories, Window: ledger.UpTo(-12), Role: r.role},
		)
	}
	return specs
}

func revenueDriverSpecs() []ledger.MetricSpec {
	return []ledger.MetricSpec{
		{
			Name:        SalesTransactionsTY,
			Categories:  salesOnly,
			Window:      yearWindow(metrics.TY),
			Aggregation: ledger.AggCount,
			Exclude:     tradingExcludes,
		},
		{
			Name:        SalesTransactionsLY,
			Categories:  salesOnly,
			Window:      yearWindow(metrics.LY),
			Aggregation: ledger.AggCount,
			Exclude:     tradingExcludes,
		},
		{
			Name:         SalesInvoicesTY,
			Categories:   salesOnly,
			Window:       yearWindow(metrics.TY),
			Aggregation:  ledger.AggCountDistinctInvoice,
			Exclude:      ledger.ProfitExclusions,
			InvoicesOnly: true,
		},
		{
			Name:         SalesInvoicesLY,
			Categories:   salesOnly,
			Window:       yearWindow(metrics.LY),
			Aggregation:  ledger.AggCountDistinctInvoice,
			Exclude:      ledger.ProfitExclusions,
			InvoicesOnly: true,
		},
		{
			Name:        MinSalesOffset,
			Categories:  salesOnly,
			Window:      ledger.UpTo(0),
			Aggregation: ledger.AggMinOffset,
		},
	}
}

// segmentationSpecs counts counterparties by activity in TY, LY and PY.
// Active means at least one qualifying fact in that year's trailing window.
func segmentationSpecs(party Party, categories []ledger.Category) []ledger.MetricSpec {
	ty, ly, py := yearWindow(metrics.TY), yearWindow(metrics.LY), yearWindow(metrics.PY)

	segments := []struct {
		name    Segment
		window  ledger.Window
		compare ledger.Window
		present bool
	}{
		{TYExisting, ty, ly, true},
		{TYNew, ty, ly, false},
		{LYvsTYRetained, ly, ty, true},
		{LYvsTYLost, ly, ty, false},
		{LYvsPYExisting, ly, py, true},
		{LYvsPYNew, ly, py, false},
		{PYvsLYRetained, py, ly, true},
		{PYvsLYLost, py, ly, false},
	}

	var specs []ledger.MetricSpec
	for _, s := range segments {
		specs = append(specs, ledger.MetricSpec{
			Name:        SegmentKey(party, s.name),
			Categories:  categories,
			Window:      s.window,
			Aggregation: ledger.AggCountDistinctContact,
			Exclude:     tradingExcludes,
			Segment:     &ledger.Segment{Compare: s.compare, Present: s.present},
		})
	}
	for _, y := range []metrics.Year{metrics.TY, metrics.LY, metrics.PY} {
		specs = append(specs, ledger.MetricSpec{
			Name:        CountKey(party, y),
			Categories:  categories,
			Window:      yearWindow(y),
			Aggregation: ledger.AggCountDistinctContact,
			Exclude:     tradingExcludes,
		})
	}
	return specs
}
