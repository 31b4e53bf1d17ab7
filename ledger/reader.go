package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Reader is the read-only data-access contract the engine runs against.
// Implementations must return zero, not an error, when no facts match.
type Reader interface {
	// Aggregate answers AggSum and AggMinOffset specs with the ledger's own
	// sign. Callers apply MetricSpec.Finish.
	Aggregate(ctx context.Context, client ClientID, spec MetricSpec) (decimal.Decimal, error)

	// Count answers the counting aggregations.
	Count(ctx context.Context, client ClientID, spec MetricSpec) (int64, error)

	// Client returns client metadata, including the anchor month.
	Client(ctx context.Context, client ClientID) (Client, error)
}

// Loader writes a client's books. The engine never calls it; scenarios,
// imports and tests do.
type Loader interface {
	SaveClient(ctx context.Context, c Client) error
	SaveAccounts(ctx context.Context, client ClientID, accounts []Account) error
	AppendFacts(ctx context.Context, facts []Fact) error
}

// Classifier answers the account questions a MetricSpec can ask.
type Classifier interface {
	IsNominalEligible(a Account, c Category) bool
	IsOtherIncome(a Account) bool
	HasRole(a Account, r Role) bool
}
