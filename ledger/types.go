/*
Package ledger defines the accounting facts the metrics engine reads.

PURPOSE:
  A client's books arrive as a flat list of ledger facts: one signed amount
  against one account, in one category, at one month offset from the
  client's current accounting month. Everything the engine reports is an
  aggregate over some slice of these facts.

KEY CONCEPTS IN THIS FILE (types.go):
  - ClientID: scopes every computation
  - Category: fixed enumeration of profit/loss and balance-sheet buckets
  - Account: free-text name and type used only for classification
  - Fact: one immutable ledger line
  - Offset: months relative to the anchor (0 = current, negative = past)

DESIGN PRINCIPLES:
  1. Immutability: facts are read, never written, by the engine
  2. Precision: amounts are decimal.Decimal
  3. Sign convention: amounts keep the ledger's accounting sign; the
     catalog decides which families are flipped for reporting

SEE ALSO:
  - spec.go: MetricSpec, the declarative filter over facts
  - reader.go: data-access contract
  - store/memory.go: in-memory implementation
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ClientID identifies the business whose books are being measured.
type ClientID int64

func (c ClientID) String() string { return fmt.Sprintf("%d", int64(c)) }

// Client is the per-client metadata the engine needs besides facts.
type Client struct {
	ID   ClientID
	Name string
	// AccountingDate is the anchor month; offset 0 is the month containing it.
	AccountingDate time.Time
}

// =============================================================================
// CATEGORY
// =============================================================================

type Category string

const (
	CategorySales               Category = "Sales"
	CategoryCostOfSales         Category = "Cost of Sales"
	CategoryOverheads           Category = "Overheads"
	CategoryFixedAssets         Category = "Fixed assets"
	CategoryCurrentAssets       Category = "Current assets"
	CategoryCurrentLiabilities  Category = "Current liabilities"
	CategoryLongTermLiabilities Category = "Long term liabilities"
)

// Categories lists every category in ledger order.
var Categories = []Category{
	CategorySales,
	CategoryCostOfSales,
	CategoryOverheads,
	CategoryFixedAssets,
	CategoryCurrentAssets,
	CategoryCurrentLiabilities,
	CategoryLongTermLiabilities,
}

// ProfitAndLoss are the categories that make up the income statement.
var ProfitAndLoss = []Category{CategorySales, CategoryCostOfSales, CategoryOverheads}

// BalanceSheet are the categories that make up net worth.
var BalanceSheet = []Category{
	CategoryFixedAssets,
	CategoryCurrentAssets,
	CategoryCurrentLiabilities,
	CategoryLongTermLiabilities,
}

// ParseCategory accepts a category label case-insensitively.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if strings.EqualFold(strings.TrimSpace(s), string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// =============================================================================
// ACCOUNT
// =============================================================================

// AccountID references a chart-of-accounts entry.
type AccountID string

// Account is a chart-of-accounts entry. Name and Type are free text from
// the upstream bookkeeping system and may contain HTML entities.
type Account struct {
	ID   AccountID
	Name string
	Type string
}

// =============================================================================
// FACT
// =============================================================================

// ContactID references a customer or supplier.
type ContactID string

// Source tags where a fact came from in the upstream system.
const (
	SourceInvoice         = "invoice"
	SourceData            = "data"
	SourceManualJournal   = "manual-journal"
	SourceCreditNote      = "credit-note"
	SourceOverpayment     = "overpayment"
	SourceBankTransaction = "bank-transaction"

	SourceTypeInvoice = "INV"
)

// JournalSources and JournalSourceTypes mark facts that are bookkeeping
// adjustments rather than trading activity.
var (
	JournalSources     = []string{SourceManualJournal, SourceCreditNote, SourceOverpayment}
	JournalSourceTypes = []string{"MJ", "CN", "OVERPAYMENTS"}
)

// Fact is one immutable ledger line.
type Fact struct {
	Client        ClientID
	Account       AccountID
	Contact       ContactID
	Category      Category
	Amount        decimal.Decimal
	Offset        int
	Source        string
	SourceType    string
	InvoiceNumber string
	Reference     string
	Currency      string
}

// IsJournal reports whether the fact is a bookkeeping adjustment.
func (f Fact) IsJournal() bool {
	for _, s := range JournalSources {
		if f.Source == s {
			return true
		}
	}
	for _, s := range JournalSourceTypes {
		if f.SourceType == s {
			return true
		}
	}
	return false
}

// IsInvoice reports whether the fact was raised by a sales invoice.
func (f Fact) IsInvoice() bool {
	return f.Source == SourceInvoice || (f.Source == SourceData && f.SourceType == SourceTypeInvoice)
}
