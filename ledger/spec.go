/*
spec.go - Declarative description of one raw aggregate

PURPOSE:
  A MetricSpec says which facts feed a metric and how they are reduced.
  Specs are static data compiled into the catalog; the data-access layer
  turns each one into a query (SQL for sqlite, a scan for memory).

FILTER ORDER:
  1. category ∈ Categories
  2. offset inside Window
  3. Exclude flags (nominal name, other income, journal sources)
  4. Role (receivable, payable, cash, stock) when set
  5. InvoicesOnly when set
  6. Segment (counterparty active / inactive in a comparison window)

AGGREGATIONS:
  AggSum                  sum(amount)
  AggCount                count(*)
  AggCountDistinctInvoice count(distinct invoice number), falling back to
                          count(distinct journal reference) when zero
  AggCountDistinctContact count(distinct contact)
  AggMinOffset            min(offset)

  No matching rows always reduces to zero.
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/metrics"
)

// =============================================================================
// WINDOW - inclusive month-offset predicate
// =============================================================================

// Window is an inclusive offset range. When Open is set the range has no
// lower bound: it selects every offset up to and including Hi, which is
// how cumulative balance-sheet positions are measured.
type Window struct {
	Lo   int
	Hi   int
	Open bool
}

// Between selects offsets lo..hi inclusive.
func Between(lo, hi int) Window { return Window{Lo: lo, Hi: hi} }

// At selects a single month.
func At(offset int) Window { return Window{Lo: offset, Hi: offset} }

// UpTo selects every offset at or before hi.
func UpTo(hi int) Window { return Window{Hi: hi, Open: true} }

// Trailing selects the n months ending at offset end.
func Trailing(n, end int) Window { return Window{Lo: end - n + 1, Hi: end} }

func (w Window) Contains(offset int) bool {
	if offset > w.Hi {
		return false
	}
	return w.Open || offset >= w.Lo
}

// Shift moves the window by delta months.
func (w Window) Shift(delta int) Window {
	return Window{Lo: w.Lo + delta, Hi: w.Hi + delta, Open: w.Open}
}

func (w Window) Valid() bool { return w.Open || w.Lo <= w.Hi }

func (w Window) String() string {
	if w.Open {
		return fmt.Sprintf("offset<=%d", w.Hi)
	}
	if w.Lo == w.Hi {
		return fmt.Sprintf("offset=%d", w.Hi)
	}
	return fmt.Sprintf("%d<=offset<=%d", w.Lo, w.Hi)
}

// =============================================================================
// AGGREGATION / EXCLUSION / ROLE
// =============================================================================

type Aggregation int

const (
	AggSum Aggregation = iota
	AggCount
	AggCountDistinctInvoice
	AggCountDistinctContact
	AggMinOffset
)

// IsCount reports whether the aggregation is answered by Reader.Count.
func (a Aggregation) IsCount() bool {
	return a == AggCount || a == AggCountDistinctInvoice || a == AggCountDistinctContact
}

func (a Aggregation) String() string {
	switch a {
	case AggCount:
		return "count"
	case AggCountDistinctInvoice:
		return "count_distinct_invoice"
	case AggCountDistinctContact:
		return "count_distinct_contact"
	case AggMinOffset:
		return "min_offset"
	default:
		return "sum"
	}
}

// Exclusion is a bitset of fact filters.
type Exclusion uint8

const (
	// ExcludeNominal drops accounts that fail the nominal-eligibility test.
	ExcludeNominal Exclusion = 1 << iota
	// ExcludeOtherIncome drops accounts typed as other income.
	ExcludeOtherIncome
	// ExcludeJournals drops manual journals, credit notes and overpayments.
	ExcludeJournals
)

// ProfitExclusions is the default filter for profit/loss metrics.
const ProfitExclusions = ExcludeNominal | ExcludeOtherIncome

func (e Exclusion) Has(f Exclusion) bool { return e&f != 0 }

// Role restricts a spec to accounts the classifier places in a role.
type Role int

const (
	RoleAny Role = iota
	RoleReceivable
	RolePayable
	RoleCash
	RoleStock
)

func (r Role) String() string {
	switch r {
	case RoleReceivable:
		return "receivable"
	case RolePayable:
		return "payable"
	case RoleCash:
		return "cash"
	case RoleStock:
		return "stock"
	default:
		return "any"
	}
}

// Segment keeps only counterparties whose activity in Compare matches
// Present. Activity is judged with the spec's own categories and exclusions.
type Segment struct {
	Compare Window
	Present bool
}

// =============================================================================
// METRIC SPEC
// =============================================================================

// MetricSpec describes one raw aggregate.
type MetricSpec struct {
	Name         metrics.Key
	Categories   []Category
	Window       Window
	Aggregation  Aggregation
	Negate       bool
	Exclude      Exclusion
	Role         Role
	InvoicesOnly bool
	Segment      *Segment
}

// Validate checks a spec for structural errors.
func (s MetricSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSpec)
	}
	if len(s.Categories) == 0 {
		return fmt.Errorf("%w: %s has no categories", ErrInvalidSpec, s.Name)
	}
	if !s.Window.Valid() {
		return fmt.Errorf("%w: %s window %s", ErrInvalidSpec, s.Name, s.Window)
	}
	if s.Segment != nil && s.Aggregation != AggCountDistinctContact {
		return fmt.Errorf("%w: %s segments only count contacts", ErrInvalidSpec, s.Name)
	}
	return nil
}

func (s MetricSpec) HasCategory(c Category) bool {
	for _, x := range s.Categories {
		if x == c {
			return true
		}
	}
	return false
}

// Finish applies the spec's sign normalization to a reduced value.
func (s MetricSpec) Finish(v decimal.Decimal) decimal.Decimal {
	if s.Negate {
		return v.Neg()
	}
	return v
}

// Admits reports whether a fact passes every filter except Window and
// Segment. Those two depend on the query being answered.
func (s MetricSpec) Admits(f Fact, a Account, cl Classifier) bool {
	if !s.HasCategory(f.Category) {
		return false
	}
	if s.Exclude.Has(ExcludeNominal) && !cl.IsNominalEligible(a, f.Category) {
		return false
	}
	if s.Exclude.Has(ExcludeOtherIncome) && cl.IsOtherIncome(a) {
		return false
	}
	if s.Exclude.Has(ExcludeJournals) && f.IsJournal() {
		return false
	}
	if s.Role != RoleAny && !cl.HasRole(a, s.Role) {
		return false
	}
	if s.InvoicesOnly && !f.IsInvoice() {
		return false
	}
	return true
}
