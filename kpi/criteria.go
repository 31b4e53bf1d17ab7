/*
Package kpi evaluates profitability indicators on top of a computed metric
store.

PURPOSE:
  The metric store answers "what happened". This package answers "is it
  worth a conversation": each indicator family compares this year with
  last year over a chosen period and raises a flag when the movement
  crosses a configured threshold in a configured direction. The share of
  enabled indicators that raise a flag is the opportunity score.

FAMILIES:
  revenue, gm, oh_val, oh_pct, ebitda, newcust, retention, cash,
  debtordays, creditordays, stockdays

CRITERIA:
  period      1, 3, 6, 9 or 12 months (annual families ignore it)
  direction   "+" rise, "-" fall, "+/-" either way
  min_months  minimum months with trading activity in the last 12
  threshold   decimal; percent for value families, points for ratio families
  enabled     "Yes" or "No"

SEE ALSO:
  - evaluate.go: per-family inputs and impact formulas
  - score.go: opportunity score and discussion targets
*/
package kpi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/metrics"
)

// Family names one indicator.
type Family string

const (
	Revenue        Family = "revenue"
	GrossMargin    Family = "gm"
	OverheadsValue Family = "oh_val"
	OverheadsPct   Family = "oh_pct"
	EBITDA         Family = "ebitda"
	NewCustomers   Family = "newcust"
	Retention      Family = "retention"
	Cash           Family = "cash"
	DebtorDays     Family = "debtordays"
	CreditorDays   Family = "creditordays"
	StockDays      Family = "stockdays"
)

// Families lists every family in report order.
var Families = []Family{
	Revenue, GrossMargin, OverheadsValue, OverheadsPct, EBITDA,
	NewCustomers, Retention, Cash, DebtorDays, CreditorDays, StockDays,
}

// ParseFamily accepts a family name case-insensitively.
func ParseFamily(s string) (Family, error) {
	for _, f := range Families {
		if strings.EqualFold(strings.TrimSpace(s), string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
}

// Direction is the movement a flag looks for.
type Direction string

const (
	Up     Direction = "+"
	Down   Direction = "-"
	Either Direction = "+/-"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownFamily is returned for an indicator name outside Families.
	ErrUnknownFamily = errors.New("unknown kpi family")

	// ErrInvalidCriteria is the sentinel every ValidationError wraps.
	ErrInvalidCriteria = errors.New("invalid kpi criteria")
)

// ValidationError reports one malformed criteria field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidCriteria }

// IsValidationError returns true if err is a criteria validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidCriteria)
}

// =============================================================================
// CRITERIA
// =============================================================================

// DefaultValuationMultiple turns a profit impact into a valuation impact.
const DefaultValuationMultiple = 3

// Criteria is a validated indicator configuration.
type Criteria struct {
	Period            metrics.Period
	Direction         Direction
	MinMonths         int
	Threshold         decimal.Decimal
	Enabled           bool
	ValuationMultiple int64
}

// DefaultCriteria is what an unconfigured indicator uses.
func DefaultCriteria() Criteria {
	return Criteria{
		Period:            metrics.Last12,
		Direction:         Either,
		Threshold:         decimal.NewFromInt(10),
		Enabled:           true,
		ValuationMultiple: DefaultValuationMultiple,
	}
}

// RawCriteria is criteria as submitted by a form or JSON body. Empty
// fields take the default.
type RawCriteria struct {
	Period            string `json:"period"`
	Direction         string `json:"direction"`
	MinMonths         string `json:"min_months"`
	Threshold         string `json:"threshold"`
	Enabled           string `json:"enabled"`
	ValuationMultiple string `json:"val_adj"`
}

// Parse validates raw criteria. It never evaluates anything, so a bad
// configuration is rejected before any metric is read.
func (r RawCriteria) Parse() (Criteria, error) {
	c := DefaultCriteria()

	if s := strings.TrimSpace(r.Period); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Criteria{}, &ValidationError{Field: "period", Value: r.Period, Reason: "not a whole number"}
		}
		p, ok := metrics.PeriodOfMonths(n)
		if !ok {
			return Criteria{}, &ValidationError{Field: "period", Value: r.Period, Reason: "must be 1, 3, 6, 9 or 12"}
		}
		c.Period = p
	}

	if s := strings.TrimSpace(r.Direction); s != "" {
		switch d := Direction(s); d {
		case Up, Down, Either:
			c.Direction = d
		default:
			return Criteria{}, &ValidationError{Field: "direction", Value: r.Direction, Reason: `must be "+", "-" or "+/-"`}
		}
	}

	if s := strings.TrimSpace(r.MinMonths); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 12 {
			return Criteria{}, &ValidationError{Field: "min_months", Value: r.MinMonths, Reason: "must be between 0 and 12"}
		}
		c.MinMonths = n
	}

	if s := strings.TrimSpace(r.Threshold); s != "" {
		t, err := decimal.NewFromString(s)
		if err != nil {
			return Criteria{}, &ValidationError{Field: "threshold", Value: r.Threshold, Reason: "not a number"}
		}
		if t.IsNegative() {
			return Criteria{}, &ValidationError{Field: "threshold", Value: r.Threshold, Reason: "must not be negative"}
		}
		c.Threshold = t
	}

	if s := strings.TrimSpace(r.Enabled); s != "" {
		on, err := parseYesNo(s)
		if err != nil {
			return Criteria{}, &ValidationError{Field: "enabled", Value: r.Enabled, Reason: err.Error()}
		}
		c.Enabled = on
	}

	if s := strings.TrimSpace(r.ValuationMultiple); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// A junk multiple falls back to the default
			n = DefaultValuationMultiple
		}
		c.ValuationMultiple = n
	}
	return c, nil
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return false, errors.New(`must be "Yes" or "No"`)
}
