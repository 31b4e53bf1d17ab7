package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/ledger"
)

// =============================================================================
// SPEC COMPILATION
// =============================================================================

// filter is a WHERE clause with its positional arguments.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, args ...any) {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, args...)
}

func (f *filter) where() string {
	return strings.Join(f.clauses, "\n\t\t  AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// compileFilter turns every MetricSpec filter except Segment into SQL over
// facts aliased f and accounts aliased a.
func compileFilter(client ledger.ClientID, spec ledger.MetricSpec, w ledger.Window, f, a string) *filter {
	q := &filter{}
	q.add(f+".client_id = ?", int64(client))

	cats := make([]any, len(spec.Categories))
	for i, c := range spec.Categories {
		cats[i] = string(c)
	}
	q.add(fmt.Sprintf("%s.category IN (%s)", f, placeholders(len(cats))), cats...)

	if w.Open {
		q.add(f+".month_offset <= ?", w.Hi)
	} else {
		q.add(f+".month_offset BETWEEN ? AND ?", w.Lo, w.Hi)
	}

	if spec.Exclude.Has(ledger.ExcludeNominal) {
		q.add(fmt.Sprintf("fm_nominal_eligible(%s.name, %s.category) = 1", a, f))
	}
	if spec.Exclude.Has(ledger.ExcludeOtherIncome) {
		q.add(fmt.Sprintf("fm_other_income(%s.name, %s.type) = 0", a, a))
	}
	if spec.Exclude.Has(ledger.ExcludeJournals) {
		sources := toArgs(ledger.JournalSources)
		types := toArgs(ledger.JournalSourceTypes)
		q.add(fmt.Sprintf("%s.source NOT IN (%s)", f, placeholders(len(sources))), sources...)
		q.add(fmt.Sprintf("%s.source_type NOT IN (%s)", f, placeholders(len(types))), types...)
	}
	if spec.Role != ledger.RoleAny {
		q.add(fmt.Sprintf("fm_role(%s.name, %s.type, ?) = 1", a, a), int64(spec.Role))
	}
	if spec.InvoicesOnly {
		q.add(fmt.Sprintf("(%s.source = ? OR (%s.source = ? AND %s.source_type = ?))", f, f, f),
			ledger.SourceInvoice, ledger.SourceData, ledger.SourceTypeInvoice)
	}
	return q
}

// compile builds the full WHERE clause of a spec, including the
// counterparty segment subquery.
func compile(client ledger.ClientID, spec ledger.MetricSpec) *filter {
	q := compileFilter(client, spec, spec.Window, "f", "a")
	if spec.Segment == nil {
		return q
	}

	sub := compileFilter(client, spec, spec.Segment.Compare, "f2", "a2")
	sub.add("f2.contact_id <> ''")
	op := "IN"
	if !spec.Segment.Present {
		op = "NOT IN"
	}
	q.add(fmt.Sprintf(`f.contact_id %s (
			SELECT f2.contact_id FROM facts f2
			JOIN accounts a2 ON a2.client_id = f2.client_id AND a2.id = f2.account_id
			WHERE %s)`, op, sub.where()), sub.args...)
	return q
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

const fromFacts = `FROM facts f
		JOIN accounts a ON a.client_id = f.client_id AND a.id = f.account_id`

// =============================================================================
// READER
// =============================================================================

// Aggregate answers sum and min-offset specs. Amounts are summed in Go so
// decimal precision survives.
func (s *Store) Aggregate(ctx context.Context, client ledger.ClientID, spec ledger.MetricSpec) (decimal.Decimal, error) {
	q := compile(client, spec)

	switch spec.Aggregation {
	case ledger.AggSum:
		return s.sum(ctx, q)
	case ledger.AggMinOffset:
		var v sql.NullInt64
		query := fmt.Sprintf("SELECT MIN(f.month_offset) %s\n\t\tWHERE %s", fromFacts, q.where())
		if err := s.db.QueryRowContext(ctx, query, q.args...).Scan(&v); err != nil {
			return decimal.Zero, mapError(err)
		}
		return decimal.NewFromInt(v.Int64), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s is a count", ledger.ErrInvalidSpec, spec.Name)
	}
}

func (s *Store) sum(ctx context.Context, q *filter) (decimal.Decimal, error) {
	query := fmt.Sprintf("SELECT f.amount %s\n\t\tWHERE %s", fromFacts, q.where())
	rows, err := s.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("malformed amount %q: %w", raw, err)
		}
		total = total.Add(v)
	}
	return total, mapError(rows.Err())
}

// Count answers the counting specs.
func (s *Store) Count(ctx context.Context, client ledger.ClientID, spec ledger.MetricSpec) (int64, error) {
	q := compile(client, spec)

	var selectExpr string
	switch spec.Aggregation {
	case ledger.AggCount:
		selectExpr = "COUNT(*), 0"
	case ledger.AggCountDistinctContact:
		selectExpr = "COUNT(DISTINCT NULLIF(f.contact_id, '')), 0"
	case ledger.AggCountDistinctInvoice:
		selectExpr = "COUNT(DISTINCT NULLIF(f.invoice_number, '')), COUNT(DISTINCT NULLIF(f.reference, ''))"
	default:
		return 0, fmt.Errorf("%w: %s is not a count", ledger.ErrInvalidSpec, spec.Name)
	}

	var n, fallback int64
	query := fmt.Sprintf("SELECT %s %s\n\t\tWHERE %s", selectExpr, fromFacts, q.where())
	if err := s.db.QueryRowContext(ctx, query, q.args...).Scan(&n, &fallback); err != nil {
		return 0, mapError(err)
	}
	if n == 0 {
		n = fallback
	}
	return n, nil
}
