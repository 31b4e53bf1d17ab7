package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-metrics/catalog"
	"github.com/warp/finance-metrics/classify"
	"github.com/warp/finance-metrics/engine"
	"github.com/warp/finance-metrics/ledger"
	"github.com/warp/finance-metrics/ledger/store"
	"github.com/warp/finance-metrics/metrics"
)

const clientID ledger.ClientID = 7

// books is a small trading client: one sales, one cost of sales and one
// overheads account, with a couple of customers spread over two years.
func books(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory(classify.Default())

	require.NoError(t, m.SaveClient(ctx, ledger.Client{
		ID:             clientID,
		Name:           "Corner Bakery",
		AccountingDate: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, m.SaveAccounts(ctx, clientID, []ledger.Account{
		{ID: "200", Name: "Sales", Type: "REVENUE"},
		{ID: "310", Name: "Purchases", Type: "DIRECTCOSTS"},
		{ID: "400", Name: "Rent", Type: "OVERHEADS"},
		{ID: "404", Name: "Bank Interest", Type: "OVERHEADS"},
	}))

	sale := func(amount int64, offset int, contact ledger.ContactID, invoice string) ledger.Fact {
		return ledger.Fact{
			Client: clientID, Account: "200", Contact: contact, Category: ledger.CategorySales,
			Amount: decimal.NewFromInt(amount), Offset: offset,
			Source: ledger.SourceInvoice, InvoiceNumber: invoice,
		}
	}
	cost := func(account ledger.AccountID, cat ledger.Category, amount int64, offset int) ledger.Fact {
		return ledger.Fact{
			Client: clientID, Account: account, Category: cat,
			Amount: decimal.NewFromInt(amount), Offset: offset, Source: ledger.SourceData,
		}
	}

	require.NoError(t, m.AppendFacts(ctx, []ledger.Fact{
		sale(1000, 0, "acme", "INV-3"),
		sale(500, -3, "bolt", "INV-2"),
		sale(1200, -12, "acme", "INV-1"),
		sale(600, -15, "crux", ""),
		cost("310", ledger.CategoryCostOfSales, -400, 0),
		cost("310", ledger.CategoryCostOfSales, -500, -12),
		cost("400", ledger.CategoryOverheads, -100, 0),
		cost("404", ledger.CategoryOverheads, -999, 0),
	}))
	return m
}

func compute(t *testing.T, r ledger.Reader) *engine.Result {
	t.Helper()
	e := engine.New(catalog.MustNew(), r, engine.Config{Workers: 4, QueryTimeout: time.Second})
	res, err := e.Compute(context.Background(), clientID)
	require.NoError(t, err)
	return res
}

func assertValue(t *testing.T, s *metrics.Store, k metrics.Key, want string) {
	t.Helper()
	v, ok := s.Get(k)
	if assert.True(t, ok, "missing %s", k) {
		assert.True(t, v.Equal(decimal.RequireFromString(want)), "%s = %s, want %s", k, v, want)
	}
}

func TestCompute_MonthHeadlines(t *testing.T) {
	// GIVEN: sales of 1000 this month and 1200 a year ago, costs of 400 and 500
	m := books(t)

	// WHEN: the run completes
	res := compute(t, m)

	// THEN: raw values, margins and variances line up
	s := res.Store
	assertValue(t, s, "Sales_Month_TY", "1000")
	assertValue(t, s, "Sales_Month_LY", "1200")
	assertValue(t, s, "COS_Month_TY", "400")
	assertValue(t, s, "GM_Month_TY", "600")
	assertValue(t, s, "GM_Month_LY", "700")
	assertValue(t, s, "GM%_Month_TY", "60")
	assertValue(t, s, "Sales_Var_vs_LY_Month_TY", "-200")
	assertValue(t, s, "GM_Var_vs_LY_Month_TY", "-100")
	assert.True(t, s.Frozen())
	assert.Equal(t, clientID, res.Client.ID)
	assert.Equal(t, s.Len(), res.Raw+res.Derived)
}

func TestCompute_OverheadsAreReportedPositiveWithoutNominalAccounts(t *testing.T) {
	res := compute(t, books(t))

	// Rent is -100 in the ledger; Bank Interest is a nominal account
	assertValue(t, res.Store, "Overheads_Month_TY", "100")
	assertValue(t, res.Store, "Net_Profit_Month_TY", "500")
}

func TestCompute_NetProfitIsMarginLessOverheadsEverywhere(t *testing.T) {
	s := compute(t, books(t)).Store

	for _, p := range metrics.Periods {
		for _, y := range []metrics.Year{metrics.TY, metrics.LY} {
			np := s.Value(metrics.NetProfit.In(p, y))
			gm := s.Value(metrics.GM.In(p, y))
			oh := s.Value(metrics.Overheads.In(p, y))
			assert.True(t, np.Equal(gm.Sub(oh)), "%s %s", p, y)
		}
	}
}

func TestCompute_MarginBucketsRecomputeOverTheBucketOnly(t *testing.T) {
	// GIVEN: a year where the 4-6 month slice trades at a thin margin this
	// year and a fat one last year, while the latest quarter goes the other way
	ctx := context.Background()
	m := store.NewMemory(classify.Default())
	require.NoError(t, m.SaveClient(ctx, ledger.Client{
		ID: clientID, Name: "Mill Lane Cycles", AccountingDate: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, m.SaveAccounts(ctx, clientID, []ledger.Account{
		{ID: "200", Name: "Sales", Type: "REVENUE"},
		{ID: "310", Name: "Parts", Type: "DIRECTCOSTS"},
	}))
	line := func(account ledger.AccountID, cat ledger.Category, amount int64, offset int) ledger.Fact {
		return ledger.Fact{Client: clientID, Account: account, Category: cat, Amount: decimal.NewFromInt(amount), Offset: offset}
	}
	require.NoError(t, m.AppendFacts(ctx, []ledger.Fact{
		line("200", ledger.CategorySales, 1000, 0),
		line("310", ledger.CategoryCostOfSales, -500, 0),
		line("200", ledger.CategorySales, 100, -4),
		line("310", ledger.CategoryCostOfSales, -90, -4),
		line("200", ledger.CategorySales, 1000, -12),
		line("310", ledger.CategoryCostOfSales, -600, -12),
		line("200", ledger.CategorySales, 1000, -16),
		line("310", ledger.CategoryCostOfSales, -200, -16),
	}))

	// WHEN: the run completes
	s := compute(t, m).Store

	// THEN: each side's margin is taken over months 4-6 alone: 10% vs 80%
	bk := metrics.Bucket{Far: 6, Near: 4}
	assertValue(t, s, metrics.Sales.InBucket(bk, metrics.TY), "100")
	assertValue(t, s, metrics.COS.InBucket(bk, metrics.TY), "90")
	assertValue(t, s, metrics.Sales.InBucket(bk, metrics.LY), "1000")
	assertValue(t, s, metrics.COS.InBucket(bk, metrics.LY), "200")
	assertValue(t, s, metrics.ChartBucket(catalog.SeriesGrossMarginPct, bk), "-70")

	// and it is not the difference of the cumulative margin variances
	naive := s.Value(metrics.GMPct.Var(metrics.Last6)).Sub(s.Value(metrics.GMPct.Var(metrics.Last3)))
	assert.Equal(t, "-23.6364", naive.Round(4).String())
	assert.False(t, naive.Equal(s.Value(metrics.ChartBucket(catalog.SeriesGrossMarginPct, bk))))
}

func TestCompute_RevenueDriversExplainRevenueChange(t *testing.T) {
	s := compute(t, books(t)).Store

	// 1500 this trailing year over 2 sales, 1800 last year over 2 sales
	assertValue(t, s, "chart_revenue_month-0", "1500")
	assertValue(t, s, "chart_revenue_month-12", "1800")
	assertValue(t, s, catalog.SalesTransactionsTY, "2")

	change := s.Value("chart_revenue_month-0").Sub(s.Value("chart_revenue_month-12"))
	explained := s.Value(catalog.ImpactTransactionValue).Add(s.Value(catalog.ImpactTransactionNumber))
	assert.True(t, change.Round(6).Equal(explained.Round(6)), "change %s explained %s", change, explained)
}

func TestCompute_CustomerRetention(t *testing.T) {
	// GIVEN: acme and crux bought last year, only acme came back
	s := compute(t, books(t)).Store

	// THEN: half of last year's customers were retained
	assertValue(t, s, catalog.SegmentKey(catalog.Customers, catalog.LYvsTYRetained), "1")
	assertValue(t, s, catalog.SegmentKey(catalog.Customers, catalog.LYvsTYLost), "1")
	assertValue(t, s, catalog.SegmentKey(catalog.Customers, catalog.TYNew), "1")
	assertValue(t, s, catalog.RetentionLYvsTY, "50")

	// Nobody traded two years ago, so there was nobody to lose
	assertValue(t, s, catalog.RetentionPYvsLY, "100")
}

func TestCompute_EmptyBooksProduceZeros(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(classify.Default())
	require.NoError(t, m.SaveClient(ctx, ledger.Client{ID: clientID, Name: "Dormant Ltd"}))

	s := compute(t, m).Store

	assertValue(t, s, "Sales_Month_TY", "0")
	assertValue(t, s, "GM%_Month_TY", "0")
	assertValue(t, s, catalog.DebtorDaysTY, "0")
}

func TestCompute_UnknownClient(t *testing.T) {
	e := engine.New(catalog.MustNew(), books(t), engine.Config{})

	res, err := e.Compute(context.Background(), 404)

	assert.Nil(t, res)
	assert.True(t, ledger.IsNotFound(err))
	var re *engine.RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ledger.ClientID(404), re.Client)
}

// flakyReader fails one aggregate with a timeout.
type flakyReader struct {
	ledger.Reader
	failOn metrics.Key
}

func (f flakyReader) Aggregate(ctx context.Context, c ledger.ClientID, spec ledger.MetricSpec) (decimal.Decimal, error) {
	if spec.Name == f.failOn {
		return decimal.Zero, context.DeadlineExceeded
	}
	return f.Reader.Aggregate(ctx, c, spec)
}

func TestCompute_QueryFailureAbortsRun(t *testing.T) {
	// GIVEN: a reader that times out on one raw aggregate
	r := flakyReader{Reader: books(t), failOn: "COS_Last_6_Months_LY"}
	e := engine.New(catalog.MustNew(), r, engine.Config{Workers: 2})

	// WHEN: the run executes
	res, err := e.Compute(context.Background(), clientID)

	// THEN: no store comes back and the failure is retryable
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrQueryFailed))
	assert.True(t, ledger.IsRetryable(err))

	var re *engine.RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "raw", re.Phase)
}

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Aggregate(ctx context.Context, c ledger.ClientID, spec ledger.MetricSpec) (decimal.Decimal, error) {
	args := m.Called(ctx, c, spec)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockReader) Count(ctx context.Context, c ledger.ClientID, spec ledger.MetricSpec) (int64, error) {
	args := m.Called(ctx, c, spec)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockReader) Client(ctx context.Context, c ledger.ClientID) (ledger.Client, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(ledger.Client), args.Error(1)
}

func TestCompute_QueriesEverySpecOnce(t *testing.T) {
	cat := catalog.MustNew()
	r := new(mockReader)
	r.On("Client", mock.Anything, clientID).Return(ledger.Client{ID: clientID}, nil).Once()
	r.On("Aggregate", mock.Anything, clientID, mock.Anything).Return(decimal.Zero, nil)
	r.On("Count", mock.Anything, clientID, mock.Anything).Return(int64(0), nil)

	res, err := engine.New(cat, r, engine.Config{Workers: 3}).Compute(context.Background(), clientID)
	require.NoError(t, err)

	var sums, counts int
	for _, spec := range cat.Specs() {
		if spec.Aggregation.IsCount() {
			counts++
		} else {
			sums++
		}
	}
	r.AssertExpectations(t)
	r.AssertNumberOfCalls(t, "Aggregate", sums)
	r.AssertNumberOfCalls(t, "Count", counts)
	assert.Equal(t, sums+counts, res.Raw)
}

func TestCompute_ConnectionLossIsRetryable(t *testing.T) {
	r := new(mockReader)
	r.On("Client", mock.Anything, clientID).Return(ledger.Client{ID: clientID}, nil)
	r.On("Aggregate", mock.Anything, clientID, mock.Anything).Return(decimal.Zero, nil).Maybe()
	r.On("Count", mock.Anything, clientID, mock.Anything).Return(int64(0), ledger.ErrConnectionLost)

	res, err := engine.New(catalog.MustNew(), r, engine.Config{Workers: 1}).Compute(context.Background(), clientID)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ledger.ErrConnectionLost)
	assert.True(t, ledger.IsRetryable(err))
}

func TestDerive_RejectsUndeclaredRead(t *testing.T) {
	specs := []ledger.MetricSpec{
		{Name: "a", Categories: []ledger.Category{ledger.CategorySales}, Window: ledger.At(0)},
		{Name: "b", Categories: []ledger.Category{ledger.CategorySales}, Window: ledger.At(-1)},
	}
	sneaky := catalog.Custom("c", []metrics.Key{"a"}, func(get catalog.Getter) decimal.Decimal {
		return get("a").Add(get("b"))
	})
	cat, err := catalog.Build("t", specs, []catalog.Rule{sneaky})
	require.NoError(t, err)

	s := metrics.NewStore()
	require.NoError(t, s.Put("a", decimal.NewFromInt(1)))
	require.NoError(t, s.Put("b", decimal.NewFromInt(2)))

	err = engine.Derive(cat, s)
	assert.True(t, errors.Is(err, engine.ErrUndeclaredRead))
	assert.False(t, s.Has("c"))
}

func TestDerive_RejectsWrongOutputCount(t *testing.T) {
	specs := []ledger.MetricSpec{{Name: "a", Categories: []ledger.Category{ledger.CategorySales}, Window: ledger.At(0)}}
	r := catalog.Rule{
		Name:   "pair",
		Reads:  []metrics.Key{"a"},
		Writes: []metrics.Key{"x", "y"},
		Formula: func(get catalog.Getter) []decimal.Decimal {
			return []decimal.Decimal{get("a")}
		},
	}
	cat, err := catalog.Build("t", specs, []catalog.Rule{r})
	require.NoError(t, err)

	s := metrics.NewStore()
	require.NoError(t, s.Put("a", decimal.NewFromInt(1)))

	assert.True(t, errors.Is(engine.Derive(cat, s), engine.ErrUndeclaredWrite))
}

func TestDerive_IsDeterministic(t *testing.T) {
	res := compute(t, books(t))

	again := compute(t, books(t))

	a, b := res.Store.Sorted(), again.Store.Sorted()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Key, b[i].Key)
		assert.True(t, a[i].Value.Equal(b[i].Value), a[i].Key)
	}
}
