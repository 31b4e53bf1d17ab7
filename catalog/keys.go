package catalog

import (
	"fmt"

	"github.com/warp/finance-metrics/metrics"
)

// Chart series names.
const (
	SeriesRevenue            = "revenue"
	SeriesIncome             = "income"
	SeriesCostOfSales        = "cost_of_sales"
	SeriesOverheads          = "overheads"
	SeriesProfit             = "profit"
	SeriesGrossMargin        = "gross_margin"
	SeriesGrossMarginPct     = "gross_margin_pc"
	SeriesNetProfit          = "net_profit"
	SeriesEBITDA             = "ebitda"
	SeriesNetWorth           = "net_worth"
	SeriesAssets             = "assets"
	SeriesLiabilities        = "liabilities"
	SeriesCurrentAssets      = "current_assets"
	SeriesCurrentLiabilities = "current_liabilities"
	SeriesCurrentRatio       = "current_ratio"
	SeriesCashBalance        = "cash_balance"
)

// Window lengths of the chart series.
const (
	RollingMonths = 13 // month-0 .. month-12
	HistoryMonths = 24 // month-0 .. month-23
)

// Single-valued raw keys.
const (
	SalesTransactionsTY metrics.Key = "chart_total_sales_transactions-0"
	SalesTransactionsLY metrics.Key = "chart_total_sales_transactions-12"
	SalesInvoicesTY     metrics.Key = "chart_total_sales_invoices-0"
	SalesInvoicesLY     metrics.Key = "chart_total_sales_invoices-12"
	MinSalesOffset      metrics.Key = "chart_minimum_rolling_offset_sales"
	ReceivableTY        metrics.Key = "chart_accounts_receivable-0"
	ReceivableLY        metrics.Key = "chart_accounts_receivable-12"
	PayableTY           metrics.Key = "chart_accounts_payable-0"
	PayableLY           metrics.Key = "chart_accounts_payable-12"
	StockTY             metrics.Key = "chart_stock-0"
	StockLY             metrics.Key = "chart_stock-12"
)

// Derived single-valued keys read by reports and KPI evaluators.
const (
	RetentionLYvsTY          metrics.Key = "chart_retention_rate_LY_vs_TY"
	RetentionPYvsLY          metrics.Key = "chart_retention_rate_PY_vs_LY"
	SupplierRetentionLYvsTY  metrics.Key = "chart_supplier_retention_rate_LY_vs_TY"
	SupplierRetentionPYvsLY  metrics.Key = "chart_supplier_retention_rate_PY_vs_LY"
	MeanRevenuePerCustomerTY metrics.Key = "mean_revenue_per_customer_TY"
	MeanRevenuePerCustomerLY metrics.Key = "mean_revenue_per_customer_LY"
	RevenueCustomersAcquired metrics.Key = "chart_revenue_customers_acquired"
	RevenueCustomersRetained metrics.Key = "chart_revenue_customers_retained"
	ProfitMonthsTY           metrics.Key = "chart_num_profit_months_ty"
	ProfitMonthsLY           metrics.Key = "chart_num_profit_months_ly"
	CurrentRatioTY           metrics.Key = "chart_current_ratio_TY"
	CurrentRatioLY           metrics.Key = "chart_current_ratio_LY"
	DebtorDaysTY             metrics.Key = "chart_debtor_days_TY"
	DebtorDaysLY             metrics.Key = "chart_debtor_days_LY"
	CreditorDaysTY           metrics.Key = "chart_creditor_days_TY"
	CreditorDaysLY           metrics.Key = "chart_creditor_days_LY"
	StockDaysTY              metrics.Key = "chart_stock_days_TY"
	StockDaysLY              metrics.Key = "chart_stock_days_LY"
	CashBalanceMovement      metrics.Key = "chart_cash_balance_vs_last_year"

	AvgValuePerTransactionTY metrics.Key = "chart_average_value_per_transaction-0"
	AvgValuePerTransactionLY metrics.Key = "chart_average_value_per_transaction-12"
	AvgValuePerInvoiceTY     metrics.Key = "chart_average_value_per_invoice-0"
	AvgValuePerInvoiceLY     metrics.Key = "chart_average_value_per_invoice-12"
	ImpactTransactionValue   metrics.Key = "chart_impact_on_revenue_transaction_value"
	ImpactTransactionNumber  metrics.Key = "chart_impact_on_revenue_transaction_number"
	ImpactInvoiceValue       metrics.Key = "chart_impact_on_revenue_invoice_value"
	ImpactInvoiceNumber      metrics.Key = "chart_impact_on_revenue_invoice_number"

	ProfitMovement          metrics.Key = "Profit_Movement_TYL12M"
	SalesProfitMovement     metrics.Key = "Sales_Profit_Movement_TYL12M"
	MarginProfitMovement    metrics.Key = "GM%_Profit_Movement_TYL12M"
	OverheadsProfitMovement metrics.Key = "Overheads_Profit_Movement_TYL12M"
)

// =============================================================================
// NET WORTH
// =============================================================================

// NetWorthPoint is the cumulative balance-sheet position k months before
// the anchor of year y.
func NetWorthPoint(k int, y metrics.Year) metrics.Key {
	if k == 0 {
		return metrics.Key(fmt.Sprintf("Net_Worth_Current_Month_%s", y))
	}
	return metrics.Key(fmt.Sprintf("Net_Worth_Current_Month_-%d_%s", k, y))
}

// NetWorthAverage is the mean position over the first n monthly points.
func NetWorthAverage(n int, y metrics.Year) metrics.Key {
	return metrics.Key(fmt.Sprintf("Net_Worth_%s_%d_Month_Ave", y, n))
}

// NetWorthVar is the TY-LY variance for a month (n=1) or an average (n>1).
func NetWorthVar(n int) metrics.Key {
	if n <= 1 {
		return "Net_Worth_Var_vs_LY_Month_TY"
	}
	return metrics.Key(fmt.Sprintf("Net_Worth_Var_vs_LY_%d_Month_Ave_TY", n))
}

// NetWorthVarPct is NetWorthVar as a percentage of LY.
func NetWorthVarPct(n int) metrics.Key {
	if n <= 1 {
		return "Net_Worth_Var%_vs_LY_Month_TY"
	}
	return metrics.Key(fmt.Sprintf("Net_Worth_Var%%_vs_LY_%d_Month_Ave_TY", n))
}

// =============================================================================
// SEGMENTATION
// =============================================================================

// Party is the counterparty side of a segmentation family.
type Party string

const (
	Customers Party = "Customer"
	Suppliers Party = "Supplier"
)

// Segment names one counterparty slice, e.g. TY_New or LY_vs_TY_Lost.
type Segment string

const (
	TYExisting     Segment = "TY_Existing"
	TYNew          Segment = "TY_New"
	LYvsTYRetained Segment = "LY_vs_TY_Retained"
	LYvsTYLost     Segment = "LY_vs_TY_Lost"
	LYvsPYExisting Segment = "LY_vs_PY_Existing"
	LYvsPYNew      Segment = "LY_vs_PY_New"
	PYvsLYRetained Segment = "PY_vs_LY_Retained"
	PYvsLYLost     Segment = "PY_vs_LY_Lost"
)

func SegmentKey(p Party, s Segment) metrics.Key {
	return metrics.Key(fmt.Sprintf("%s_Segmentation_%s", p, s))
}

func CountKey(p Party, y metrics.Year) metrics.Key {
	return metrics.Key(fmt.Sprintf("%s_Count_%s", p, y))
}

// =============================================================================
// CHART SPANS
// =============================================================================

// Span is a headline chart period: this month, quarter or year.
type Span struct {
	Name   string
	Period metrics.Period
}

var Spans = []Span{
	{"month", metrics.Month},
	{"quarter", metrics.Last3},
	{"year", metrics.Last12},
}

func ChartThis(series string, s Span) metrics.Key {
	return metrics.Chart(series, "this_"+s.Name)
}

func ChartVsLastYear(series string, s Span) metrics.Key {
	return metrics.Chart(series, "this_"+s.Name+"_vs_last_year")
}

func ChartVsLastYearPct(series string, s Span) metrics.Key {
	return metrics.Chart(series, "this_"+s.Name+"_vs_last_year%")
}
