/*
Package classify maps free-text account names and types to the roles the
metric catalog filters on.

PURPOSE:
  Upstream bookkeeping systems give every account a user-editable name and
  a loosely standardised type. The catalog needs to know which accounts are
  trading activity (nominal), which are other income, and which carry
  receivables, payables, cash or stock. Those answers come from a
  versioned ruleset of substring patterns, not from code.

MATCHING:
  - Case-insensitive substring containment, never equality, except for
    the type_equals lists.
  - HTML entities are decoded on both the pattern and the account text
    before comparing ("Contr&ocirc;le" matches "Contrôle").
  - Empty or unknown text fails every test. Classification has no error
    path: an account that matches nothing is simply "neither".

RULESET:
  rules.yaml is embedded and used by Default(). Deployments can point
  classify.rules_path at their own copy; Load validates it.

SEE ALSO:
  - ledger/spec.go: Exclusion and Role flags that consult this package
  - store/sqlite/driver.go: the same rules exposed as SQL functions
*/
package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/warp/finance-metrics/ledger"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// ErrInvalidRuleset is returned when a ruleset file cannot be used.
var ErrInvalidRuleset = errors.New("invalid classification ruleset")

// ARAP is the receivable/payable classification of an account.
type ARAP int

const (
	Neither ARAP = iota
	Receivable
	Payable
)

func (a ARAP) String() string {
	switch a {
	case Receivable:
		return "receivable"
	case Payable:
		return "payable"
	default:
		return "neither"
	}
}

// =============================================================================
// RULESET - YAML shape
// =============================================================================

// RoleRule describes how an account earns a role.
type RoleRule struct {
	TypeEquals   []string `yaml:"type_equals"`
	TypeContains []string `yaml:"type_contains"`
	NameContains []string `yaml:"name_contains"`
	NameExcludes []string `yaml:"name_excludes"`
}

// Ruleset is the on-disk form of the classification rules.
type Ruleset struct {
	Version string `yaml:"version"`
	Nominal struct {
		ExcludeNames []string `yaml:"exclude_names"`
		Categories   []string `yaml:"categories"`
	} `yaml:"nominal"`
	OtherIncome RoleRule `yaml:"other_income"`
	Roles       struct {
		Receivable RoleRule `yaml:"receivable"`
		Payable    RoleRule `yaml:"payable"`
		Cash       RoleRule `yaml:"cash"`
		Stock      RoleRule `yaml:"stock"`
	} `yaml:"roles"`
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// matcher is a RoleRule with its patterns normalised once.
type matcher struct {
	typeEquals   []string
	typeContains []string
	nameContains []string
	nameExcludes []string
}

// Classifier answers account classification questions. It is immutable
// and safe for concurrent use.
type Classifier struct {
	version           string
	nominalExclusions []string
	nominalCategories map[ledger.Category]bool
	otherIncome       matcher
	roles             map[ledger.Role]matcher
}

// Default returns the classifier built from the embedded ruleset.
func Default() *Classifier {
	c, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded ruleset: %v", err))
	}
	return c
}

// Load reads a ruleset file. An empty path yields Default().
func Load(path string) (*Classifier, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return Parse(raw)
}

// Parse builds a classifier from YAML.
func Parse(raw []byte) (*Classifier, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleset, err)
	}
	return New(rs)
}

// New validates a ruleset and compiles it.
func New(rs Ruleset) (*Classifier, error) {
	if rs.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrInvalidRuleset)
	}
	if len(rs.Nominal.ExcludeNames) == 0 {
		return nil, fmt.Errorf("%w: no nominal exclusions", ErrInvalidRuleset)
	}

	c := &Classifier{
		version:           rs.Version,
		nominalExclusions: normalizeAll(rs.Nominal.ExcludeNames),
		nominalCategories: make(map[ledger.Category]bool),
		otherIncome:       compile(rs.OtherIncome),
		roles: map[ledger.Role]matcher{
			ledger.RoleReceivable: compile(rs.Roles.Receivable),
			ledger.RolePayable:    compile(rs.Roles.Payable),
			ledger.RoleCash:       compile(rs.Roles.Cash),
			ledger.RoleStock:      compile(rs.Roles.Stock),
		},
	}
	for _, label := range rs.Nominal.Categories {
		cat, err := ledger.ParseCategory(label)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRuleset, err)
		}
		c.nominalCategories[cat] = true
	}
	return c, nil
}

// Version identifies the ruleset; it is part of every report cache key.
func (c *Classifier) Version() string { return c.version }

// IsNominalEligible is true unless the account sits in a nominal category
// and its name matches an exclusion. Accounts outside those categories are
// always eligible.
func (c *Classifier) IsNominalEligible(a ledger.Account, cat ledger.Category) bool {
	return c.NominalEligible(a.Name, string(cat))
}

// NominalEligible is IsNominalEligible over raw text.
func (c *Classifier) NominalEligible(name, category string) bool {
	cat, err := ledger.ParseCategory(category)
	if err != nil || !c.nominalCategories[cat] {
		return true
	}
	return !containsAny(normalize(name), c.nominalExclusions)
}

func (c *Classifier) IsOtherIncome(a ledger.Account) bool {
	return c.otherIncome.match(a.Name, a.Type)
}

// OtherIncome is IsOtherIncome over raw text.
func (c *Classifier) OtherIncome(name, typ string) bool {
	return c.otherIncome.match(name, typ)
}

// ClassifyARAP places an account as receivable, payable or neither.
func (c *Classifier) ClassifyARAP(a ledger.Account) ARAP {
	switch {
	case c.HasRole(a, ledger.RoleReceivable):
		return Receivable
	case c.HasRole(a, ledger.RolePayable):
		return Payable
	default:
		return Neither
	}
}

func (c *Classifier) HasRole(a ledger.Account, r ledger.Role) bool {
	return c.Role(a.Name, a.Type, r)
}

// Role is HasRole over raw text.
func (c *Classifier) Role(name, typ string, r ledger.Role) bool {
	if r == ledger.RoleAny {
		return true
	}
	m, ok := c.roles[r]
	if !ok {
		return false
	}
	return m.match(name, typ)
}

// =============================================================================
// MATCHING
// =============================================================================

func compile(r RoleRule) matcher {
	return matcher{
		typeEquals:   normalizeAll(r.TypeEquals),
		typeContains: normalizeAll(r.TypeContains),
		nameContains: normalizeAll(r.NameContains),
		nameExcludes: normalizeAll(r.NameExcludes),
	}
}

func (m matcher) match(name, typ string) bool {
	n, t := normalize(name), normalize(typ)
	if containsAny(n, m.nameExcludes) {
		return false
	}
	if t != "" {
		for _, want := range m.typeEquals {
			if t == want {
				return true
			}
		}
	}
	return containsAny(t, m.typeContains) || containsAny(n, m.nameContains)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(html.UnescapeString(s)))
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func containsAny(s string, patterns []string) bool {
	if s == "" {
		return false
	}
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
