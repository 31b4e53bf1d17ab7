/*
Package catalog is the fixed, versioned set of metric computations.

PURPOSE:
  The catalog holds two things: the raw MetricSpecs the data-access layer
  answers, and the derivation Rules that expand those raw values into the
  full report. It is data, not a plugin system; adding a metric means
  editing this package and bumping Version.

KEY CONCEPTS:
  - Raw spec: one ledger aggregate (raw.go)
  - Rule: pure formula with declared Reads and Writes (rule.go, derived.go)
  - Evaluation order: a topological sort of rules by their Reads

VALIDATION (at load, never per client):
  - every raw spec is structurally valid
  - no key is produced twice (ErrDuplicateOutput)
  - every read is produced by a raw spec or a rule (ErrUnknownInput)
  - the rule graph has no cycle (ErrCycle)

  New() validates the built-in catalog; Build() validates an arbitrary
  one and is what tests use to exercise the failure modes.

SEE ALSO:
  - engine/engine.go: runs the raw pass then the rules in Order()
  - metrics/key.go: key builders shared with the rules
*/
package catalog

import (
	"errors"
	"fmt"

	"github.com/warp/finance-metrics/ledger"
	"github.com/warp/finance-metrics/metrics"
)

// Version identifies the metric catalog. It is part of every report cache key.
const Version = "vfd-2024.3"

var (
	// ErrDuplicateOutput is returned when two producers write the same key.
	ErrDuplicateOutput = errors.New("metric produced more than once")

	// ErrUnknownInput is returned when a rule reads a key nothing produces.
	ErrUnknownInput = errors.New("rule reads an unknown metric")

	// ErrCycle is returned when rules depend on each other in a loop.
	ErrCycle = errors.New("derivation rules form a cycle")

	// ErrMalformedRule is returned for a rule with no outputs or formula.
	ErrMalformedRule = errors.New("malformed rule")
)

// Catalog is a validated set of raw specs and ordered rules.
type Catalog struct {
	version string
	specs   []ledger.MetricSpec
	order   []Rule
	deps    map[metrics.Key][]metrics.Key
}

// New returns the built-in catalog. It only fails if this package itself
// is broken, which the package tests guard against.
func New() (*Catalog, error) {
	return Build(Version, RawSpecs(), DerivedRules())
}

// MustNew is New for program start-up.
func MustNew() *Catalog {
	c, err := New()
	if err != nil {
		panic(fmt.Sprintf("metric catalog: %v", err))
	}
	return c
}

// Build validates specs and rules and orders the rules for evaluation.
func Build(version string, specs []ledger.MetricSpec, rules []Rule) (*Catalog, error) {
	producer := make(map[metrics.Key]string, len(specs)+len(rules))

	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if prev, ok := producer[s.Name]; ok {
			return nil, fmt.Errorf("%w: %s (raw, already from %s)", ErrDuplicateOutput, s.Name, prev)
		}
		producer[s.Name] = "raw"
	}

	// ruleOf maps each derived key to the index of the rule writing it
	ruleOf := make(map[metrics.Key]int)
	for i, r := range rules {
		if len(r.Writes) == 0 || r.Formula == nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedRule, r.Name)
		}
		for _, k := range r.Writes {
			if prev, ok := producer[k]; ok {
				return nil, fmt.Errorf("%w: %s (rule %q, already from %s)", ErrDuplicateOutput, k, r.Name, prev)
			}
			producer[k] = "rule " + r.Name
			ruleOf[k] = i
		}
	}

	deps := make(map[metrics.Key][]metrics.Key)
	for _, r := range rules {
		for _, in := range r.Reads {
			if _, ok := producer[in]; !ok {
				return nil, fmt.Errorf("%w: rule %q reads %s", ErrUnknownInput, r.Name, in)
			}
		}
		for _, out := range r.Writes {
			deps[out] = r.Reads
		}
	}

	order, err := topoSort(rules, ruleOf)
	if err != nil {
		return nil, err
	}

	return &Catalog{version: version, specs: specs, order: order, deps: deps}, nil
}

// topoSort orders rules so every rule follows the rules producing its
// reads. Ties keep declaration order so runs are reproducible.
func topoSort(rules []Rule, ruleOf map[metrics.Key]int) ([]Rule, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(rules))
	order := make([]Rule, 0, len(rules))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: through %q", ErrCycle, rules[i].Name)
		}
		state[i] = visiting
		for _, in := range rules[i].Reads {
			if j, ok := ruleOf[in]; ok {
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		state[i] = done
		order = append(order, rules[i])
		return nil
	}

	for i := range rules {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (c *Catalog) Version() string { return c.version }

// Specs returns the raw specs in declaration order.
func (c *Catalog) Specs() []ledger.MetricSpec { return c.specs }

// Order returns the rules in evaluation order.
func (c *Catalog) Order() []Rule { return c.order }

// Dependencies returns the declared reads of a derived key.
func (c *Catalog) Dependencies(k metrics.Key) ([]metrics.Key, bool) {
	d, ok := c.deps[k]
	return d, ok
}

// Size returns the number of raw and derived keys.
func (c *Catalog) Size() (raw, derived int) {
	return len(c.specs), len(c.deps)
}
