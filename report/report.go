/*
Package report turns a finished metrics run into the flat, ordered list of
(name, value) rows that every presentation surface consumes.

PURPOSE:
  The engine produces a frozen store. Consumers want a stable row order,
  display rounding and, usually, the same answer twice without paying for
  a second run. This package provides the row model, a caching service in
  front of the engine, and the spreadsheet and CSV exports.

ROW ORDER:
  Raw metrics in catalog declaration order, then derived metrics in
  evaluation order. The order depends only on the catalog, never on which
  raw query happened to finish first.

SEE ALSO:
  - service.go: cached report retrieval
  - export.go: XLSX and CSV writers
*/
package report

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/catalog"
	"github.com/warp/finance-metrics/engine"
	"github.com/warp/finance-metrics/ledger"
	"github.com/warp/finance-metrics/metrics"
)

// Row is one reported metric at full precision.
type Row struct {
	Name  metrics.Key
	Value decimal.Decimal
}

// Display is the value as shown to users.
func (r Row) Display() decimal.Decimal { return metrics.Display(r.Value) }

// Report is the presentable result of one run.
type Report struct {
	RunID       uuid.UUID
	Client      ledger.Client
	Anchor      string
	Version     string
	Rows        []Row
	Raw         int
	Derived     int
	Elapsed     time.Duration
	GeneratedAt time.Time

	store *metrics.Store
}

// Value reads a metric by name; missing metrics read as zero.
func (r *Report) Value(k metrics.Key) decimal.Decimal {
	return r.store.Value(k)
}

// Lookup reads a metric by name and reports whether it exists.
func (r *Report) Lookup(k metrics.Key) (decimal.Decimal, bool) {
	return r.store.Get(k)
}

// AnchorMonth formats an accounting date the way report keys use it.
func AnchorMonth(t time.Time) string {
	if t.IsZero() {
		return "unanchored"
	}
	return t.Format("2006-01")
}

// Build lays out a finished run in catalog order.
func Build(cat *catalog.Catalog, res *engine.Result) *Report {
	rows := make([]Row, 0, res.Store.Len())
	for _, s := range cat.Specs() {
		rows = append(rows, Row{Name: s.Name, Value: res.Store.Value(s.Name)})
	}
	for _, r := range cat.Order() {
		for _, k := range r.Writes {
			rows = append(rows, Row{Name: k, Value: res.Store.Value(k)})
		}
	}

	return &Report{
		RunID:       res.RunID,
		Client:      res.Client,
		Anchor:      AnchorMonth(res.Client.AccountingDate),
		Version:     cat.Version(),
		Rows:        rows,
		Raw:         res.Raw,
		Derived:     res.Derived,
		Elapsed:     res.Elapsed,
		GeneratedAt: time.Now().UTC(),
		store:       res.Store,
	}
}
