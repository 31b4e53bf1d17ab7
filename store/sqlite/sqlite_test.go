package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-metrics/catalog"
	"github.com/warp/finance-metrics/classify"
	"github.com/warp/finance-metrics/engine"
	"github.com/warp/finance-metrics/kpi"
	"github.com/warp/finance-metrics/ledger"
	"github.com/warp/finance-metrics/ledger/store"
	"github.com/warp/finance-metrics/metrics"
	"github.com/warp/finance-metrics/store/sqlite"
)

const clientID ledger.ClientID = 11

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:", classify.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var (
	accounts = []ledger.Account{
		{ID: "200", Name: "Sales", Type: "REVENUE"},
		{ID: "260", Name: "Other Revenue", Type: "OTHERINCOME"},
		{ID: "310", Name: "Purchases", Type: "DIRECTCOSTS"},
		{ID: "400", Name: "Rent", Type: "OVERHEADS"},
		{ID: "404", Name: "Bank Interest", Type: "OVERHEADS"},
		{ID: "610", Name: "Accounts Receivable", Type: "CURRENT"},
		{ID: "800", Name: "Accounts Payable", Type: "CURRLIAB"},
		{ID: "090", Name: "Business Bank Account", Type: "BANK"},
	}

	facts = []ledger.Fact{
		{Client: clientID, Account: "200", Contact: "acme", Category: ledger.CategorySales, Amount: decimal.RequireFromString("1000.10"), Offset: 0, Source: ledger.SourceInvoice, InvoiceNumber: "INV-3"},
		{Client: clientID, Account: "200", Contact: "bolt", Category: ledger.CategorySales, Amount: decimal.NewFromInt(500), Offset: -3, Source: ledger.SourceData, SourceType: "INV", InvoiceNumber: "INV-2"},
		{Client: clientID, Account: "200", Contact: "acme", Category: ledger.CategorySales, Amount: decimal.NewFromInt(1200), Offset: -12, Source: ledger.SourceInvoice, InvoiceNumber: "INV-1"},
		{Client: clientID, Account: "200", Contact: "crux", Category: ledger.CategorySales, Amount: decimal.NewFromInt(600), Offset: -15, Source: ledger.SourceInvoice},
		{Client: clientID, Account: "200", Category: ledger.CategorySales, Amount: decimal.NewFromInt(-40), Offset: 0, Source: ledger.SourceManualJournal, Reference: "MJ-1"},
		{Client: clientID, Account: "260", Category: ledger.CategorySales, Amount: decimal.NewFromInt(75), Offset: 0},
		{Client: clientID, Account: "200", Category: ledger.CategorySales, Amount: decimal.NewFromInt(30), Offset: -5, Reference: "REF-9"},
		{Client: clientID, Account: "200", Category: ledger.CategorySales, Amount: decimal.NewFromInt(20), Offset: -5, Reference: "REF-10"},
		{Client: clientID, Account: "310", Contact: "dray", Category: ledger.CategoryCostOfSales, Amount: decimal.NewFromInt(-400), Offset: 0},
		{Client: clientID, Account: "310", Contact: "dray", Category: ledger.CategoryCostOfSales, Amount: decimal.NewFromInt(-500), Offset: -12},
		{Client: clientID, Account: "400", Category: ledger.CategoryOverheads, Amount: decimal.NewFromInt(-100), Offset: 0},
		{Client: clientID, Account: "404", Category: ledger.CategoryOverheads, Amount: decimal.NewFromInt(-999), Offset: 0},
		{Client: clientID, Account: "610", Category: ledger.CategoryCurrentAssets, Amount: decimal.NewFromInt(800), Offset: -20},
		{Client: clientID, Account: "610", Category: ledger.CategoryCurrentAssets, Amount: decimal.NewFromInt(-300), Offset: -1},
		{Client: clientID, Account: "800", Category: ledger.CategoryCurrentLiabilities, Amount: decimal.NewFromInt(-450), Offset: -2},
		{Client: clientID, Account: "090", Category: ledger.CategoryCurrentAssets, Amount: decimal.NewFromInt(2500), Offset: -30},
	}
)

func load(t *testing.T, l ledger.Loader) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.SaveClient(ctx, ledger.Client{
		ID:             clientID,
		Name:           "Quayside Foods",
		AccountingDate: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, l.SaveAccounts(ctx, clientID, accounts))
	require.NoError(t, l.AppendFacts(ctx, facts))
}

// =============================================================================
// LOADER / CLIENTS
// =============================================================================

func TestStore_ClientRoundTrip(t *testing.T) {
	s := newStore(t)
	load(t, s)

	c, err := s.Client(context.Background(), clientID)
	require.NoError(t, err)
	assert.Equal(t, clientID, c.ID)
	assert.Equal(t, "Quayside Foods", c.Name)
	assert.True(t, c.AccountingDate.Equal(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))

	clients, err := s.ListClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Quayside Foods", clients[0].Name)
}

func TestStore_UnknownClient(t *testing.T) {
	s := newStore(t)

	_, err := s.Client(context.Background(), 404)
	assert.True(t, ledger.IsNotFound(err))

	err = s.SaveAccounts(context.Background(), 404, accounts[:1])
	assert.True(t, errors.Is(err, ledger.ErrClientNotFound))
}

func TestStore_AppendFactsRejectsUnknownAccount(t *testing.T) {
	// GIVEN: books with a registered chart of accounts
	s := newStore(t)
	load(t, s)
	ctx := context.Background()
	spec := ledger.MetricSpec{Name: "n", Categories: []ledger.Category{ledger.CategorySales}, Window: ledger.At(-7), Aggregation: ledger.AggCount}

	// WHEN: a batch mixes a valid fact with one on an unknown account
	err := s.AppendFacts(ctx, []ledger.Fact{
		{Client: clientID, Account: "200", Category: ledger.CategorySales, Amount: decimal.NewFromInt(1), Offset: -7},
		{Client: clientID, Account: "999", Category: ledger.CategorySales, Amount: decimal.NewFromInt(1), Offset: -7},
	})

	// THEN: the batch is rejected as a whole
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrUnknownAccount))
	n, err := s.Count(ctx, clientID, spec)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_DeleteClientCascades(t *testing.T) {
	s := newStore(t)
	load(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteClient(ctx, clientID))
	assert.True(t, ledger.IsNotFound(s.DeleteClient(ctx, clientID)))

	// Re-creating the client starts from empty books.
	require.NoError(t, s.SaveClient(ctx, ledger.Client{ID: clientID, Name: "again"}))
	v, err := s.Aggregate(ctx, clientID, ledger.MetricSpec{
		Name: "s", Categories: ledger.ProfitAndLoss, Window: ledger.UpTo(0),
	})
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestStore_SchemaVersion(t *testing.T) {
	s := newStore(t)

	v, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateDown())
	v, _, err = s.SchemaVersion()
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestStore_Criteria(t *testing.T) {
	s := newStore(t)
	load(t, s)
	ctx := context.Background()

	raw := kpi.RawCriteria{Period: "6", Direction: "+", MinMonths: "3", Threshold: "12.5", Enabled: "Yes", ValuationMultiple: "4"}
	require.NoError(t, s.SaveCriteria(ctx, clientID, kpi.Revenue, raw))

	raw.Threshold = "15"
	require.NoError(t, s.SaveCriteria(ctx, clientID, kpi.Revenue, raw))
	require.NoError(t, s.SaveCriteria(ctx, clientID, kpi.Cash, kpi.RawCriteria{Enabled: "No"}))

	got, err := s.LoadCriteria(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "15", got[kpi.Revenue].Threshold)
	assert.Equal(t, "4", got[kpi.Revenue].ValuationMultiple)
	assert.Equal(t, "No", got[kpi.Cash].Enabled)

	err = s.SaveCriteria(ctx, 404, kpi.Revenue, raw)
	assert.True(t, errors.Is(err, ledger.ErrClientNotFound))
}

// =============================================================================
// READER
// =============================================================================

func TestStore_FiltersRunInSQL(t *testing.T) {
	s := newStore(t)
	load(t, s)
	ctx := context.Background()

	tests := []struct {
		name string
		spec ledger.MetricSpec
		want string
	}{
		{
			name: "sum keeps decimal precision",
			spec: ledger.MetricSpec{Categories: []ledger.Category{ledger.CategorySales}, Window: ledger.At(0)},
			want: "1035.1",
		},
		{
			name: "other income excluded",
			spec: ledger.MetricSpec{Categories: []ledger.Category{ledger.CategorySales}, Window: ledger.At(0), Exclude: ledger.ExcludeOtherIncome},
			want: "960.1",
		},
		{
			name: "journals excluded",
			spec: ledger.MetricSpec{Categories: []ledger.Category{ledger.CategorySales}, Window: ledger.At(0), Exclude: ledger.ProfitExclusions | ledger.ExcludeJournals},
			want: "1000.1",
		},
		{
			name: "nominal exclusion drops bank interest",
			spec: ledger.MetricSpec{Categories: []ledger.Category{ledger.CategoryOverheads}, Window: ledger.At(0), Exclude: ledger.ExcludeNominal},
			want: "-100",
		},
		{
			name: "open window with receivable role",
			spec: ledger.MetricSpec{Categories: []ledger.Category{ledger.CategoryCurrentAssets}, Window: ledger.UpTo(0), Role: ledger.RoleReceivable},
			want: "500",
		},
		{
			name: "earliest offset",
			spec: ledger.MetricSpec{Categories: []ledger.Category{ledger.CategorySales}, Window: ledger.UpTo(0), Aggregation: ledger.AggMinOffset},
			want: "-15",
		},
		{
			name: "no rows reduce to zero",
			spec: ledger.MetricSpec{Categories: []ledger.Category{ledger.CategoryFixedAssets}, Window: ledger.UpTo(0), Aggregation: ledger.AggMinOffset},
			want: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.spec.Name = "probe"
			got, err := s.Aggregate(ctx, clientID, tt.spec)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestStore_Counts(t *testing.T) {
	s := newStore(t)
	load(t, s)
	ctx := context.Background()
	sales := []ledger.Category{ledger.CategorySales}

	tests := []struct {
		name string
		spec ledger.MetricSpec
		want int64
	}{
		{"rows", ledger.MetricSpec{Categories: sales, Window: ledger.At(0), Aggregation: ledger.AggCount}, 3},
		{"invoices only", ledger.MetricSpec{Categories: sales, Window: ledger.Trailing(12, 0), Aggregation: ledger.AggCount, InvoicesOnly: true}, 2},
		{"distinct invoices", ledger.MetricSpec{Categories: sales, Window: ledger.Trailing(12, 0), Aggregation: ledger.AggCountDistinctInvoice}, 2},
		{"invoice numbers before references", ledger.MetricSpec{Categories: sales, Window: ledger.At(0), Aggregation: ledger.AggCountDistinctInvoice}, 1},
		{"reference fallback", ledger.MetricSpec{Categories: sales, Window: ledger.At(-5), Aggregation: ledger.AggCountDistinctInvoice}, 2},
		{"distinct contacts ignore blanks", ledger.MetricSpec{Categories: sales, Window: ledger.UpTo(0), Aggregation: ledger.AggCountDistinctContact}, 3},
		{
			"retained customers",
			ledger.MetricSpec{Categories: sales, Window: ledger.Trailing(12, 0), Aggregation: ledger.AggCountDistinctContact,
				Segment: &ledger.Segment{Compare: ledger.Trailing(12, -12), Present: true}},
			1,
		},
		{
			"new customers",
			ledger.MetricSpec{Categories: sales, Window: ledger.Trailing(12, 0), Aggregation: ledger.AggCountDistinctContact,
				Segment: &ledger.Segment{Compare: ledger.Trailing(12, -12), Present: false}},
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.spec.Name = "probe"
			got, err := s.Count(ctx, clientID, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_MatchesMemoryStore(t *testing.T) {
	// GIVEN: the same books in SQLite and in memory
	s := newStore(t)
	load(t, s)
	m := store.NewMemory(classify.Default())
	load(t, m)

	cat := catalog.MustNew()
	ctx := context.Background()

	// WHEN: the full catalog runs against both
	fromSQL, err := engine.New(cat, s, engine.Config{Workers: 4}).Compute(ctx, clientID)
	require.NoError(t, err)
	fromMem, err := engine.New(cat, m, engine.Config{Workers: 4}).Compute(ctx, clientID)
	require.NoError(t, err)

	// THEN: every metric agrees
	require.Equal(t, fromMem.Store.Len(), fromSQL.Store.Len())
	for _, e := range fromMem.Store.Sorted() {
		got, ok := fromSQL.Store.Get(e.Key)
		require.True(t, ok, "missing %s", e.Key)
		assert.True(t, e.Value.Equal(got), "%s: memory %s, sqlite %s", e.Key, e.Value, got)
	}
	assert.True(t, fromSQL.Store.Value(metrics.Key("Sales_Month_TY")).Equal(decimal.RequireFromString("1000.1")))
}

// =============================================================================
// SQLMOCK
// =============================================================================

var salesSpec = ledger.MetricSpec{
	Name:       "Sales_Month_TY",
	Categories: []ledger.Category{ledger.CategorySales},
	Window:     ledger.At(0),
	Exclude:    ledger.ProfitExclusions,
}

func TestAggregate_SumsAmountTextInGo(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"amount"}).AddRow("10.50").AddRow("-0.25").AddRow("0.001")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT f.amount FROM facts f")).
		WithArgs(int64(clientID), "Sales", 0, 0).
		WillReturnRows(rows)

	got, err := sqlite.NewWithDB(db).Aggregate(context.Background(), clientID, salesSpec)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("10.251")), "got %s", got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregate_MalformedAmount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT f.amount").WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("n/a"))

	_, err = sqlite.NewWithDB(db).Aggregate(context.Background(), clientID, salesSpec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed amount")
}

func TestAggregate_ConnectionLossIsRetryable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT f.amount").WillReturnError(sql.ErrConnDone)

	_, err = sqlite.NewWithDB(db).Aggregate(context.Background(), clientID, salesSpec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrConnectionLost))
	assert.True(t, ledger.IsRetryable(err))
}

func TestCount_FallsBackToReferences(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT NULLIF(f.invoice_number, ''))")).
		WillReturnRows(sqlmock.NewRows([]string{"n", "fallback"}).AddRow(0, 3))

	spec := salesSpec
	spec.Aggregation = ledger.AggCountDistinctInvoice
	n, err := sqlite.NewWithDB(db).Count(context.Background(), clientID, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregate_RejectsCountSpecs(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	spec := salesSpec
	spec.Aggregation = ledger.AggCount
	_, err = sqlite.NewWithDB(db).Aggregate(context.Background(), clientID, spec)
	assert.True(t, errors.Is(err, ledger.ErrInvalidSpec))
}
