package catalog

import (
	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/metrics"
)

// Getter reads a declared input of the rule being applied.
type Getter func(metrics.Key) decimal.Decimal

// Formula computes a rule's outputs, aligned with Rule.Writes.
type Formula func(get Getter) []decimal.Decimal

// Rule is one derivation step. A rule may read only the keys in Reads and
// must return exactly one value per key in Writes.
type Rule struct {
	Name    string
	Reads   []metrics.Key
	Writes  []metrics.Key
	Formula Formula
}

// =============================================================================
// FORMULA CONSTRUCTORS
// =============================================================================

// Custom wraps an arbitrary single-output formula.
func Custom(out metrics.Key, reads []metrics.Key, f func(get Getter) decimal.Decimal) Rule {
	return Rule{
		Name:   string(out),
		Reads:  reads,
		Writes: []metrics.Key{out},
		Formula: func(get Getter) []decimal.Decimal {
			return []decimal.Decimal{f(get)}
		},
	}
}

// Diff writes a - b.
func Diff(out, a, b metrics.Key) Rule {
	return Custom(out, []metrics.Key{a, b}, func(get Getter) decimal.Decimal {
		return get(a).Sub(get(b))
	})
}

// Ratio writes safe_divide(n, d) * 100.
func Ratio(out, n, d metrics.Key) Rule {
	return Custom(out, []metrics.Key{n, d}, func(get Getter) decimal.Decimal {
		return metrics.Percent(get(n), get(d))
	})
}

// Quotient writes safe_divide(n, d).
func Quotient(out, n, d metrics.Key) Rule {
	return Custom(out, []metrics.Key{n, d}, func(get Getter) decimal.Decimal {
		return metrics.SafeDivide(get(n), get(d))
	})
}

// Alias republishes a value under a chart name.
func Alias(out, in metrics.Key) Rule {
	return Custom(out, []metrics.Key{in}, func(get Getter) decimal.Decimal {
		return get(in)
	})
}

// Negated republishes -in.
func Negated(out, in metrics.Key) Rule {
	return Custom(out, []metrics.Key{in}, func(get Getter) decimal.Decimal {
		return get(in).Neg()
	})
}

// MeanOf writes the arithmetic mean of ins.
func MeanOf(out metrics.Key, ins ...metrics.Key) Rule {
	return Custom(out, ins, func(get Getter) decimal.Decimal {
		vs := make([]decimal.Decimal, len(ins))
		for i, k := range ins {
			vs[i] = get(k)
		}
		return metrics.Mean(vs...)
	})
}

// Days writes -1 * safe_divide(balance, sum(flows)) * 365. The leading -1
// turns the ledger sign of a balance-sheet position into a positive count.
func Days(out, balance metrics.Key, flows ...metrics.Key) Rule {
	reads := append([]metrics.Key{balance}, flows...)
	return Custom(out, reads, func(get Getter) decimal.Decimal {
		total := decimal.Zero
		for _, k := range flows {
			total = total.Add(get(k))
		}
		return metrics.SafeDivide(get(balance), total).Mul(metrics.DaysPerYear).Neg()
	})
}
