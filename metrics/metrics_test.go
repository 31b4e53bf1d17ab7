package metrics_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-metrics/metrics"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSafeDivide_ZeroDenominator(t *testing.T) {
	for _, n := range []string{"0", "10", "-10", "123.45"} {
		got := metrics.SafeDivide(d(n), decimal.Zero)
		assert.True(t, got.IsZero(), "safe divide %s/0 = %s", n, got)
	}
}

func TestSafeDivide_Regular(t *testing.T) {
	assert.True(t, metrics.SafeDivide(d("600"), d("1000")).Equal(d("0.6")))
	assert.True(t, metrics.Percent(d("600"), d("1000")).Equal(d("60")))
	assert.True(t, metrics.Percent(d("-50"), d("200")).Equal(d("-25")))
}

func TestMean(t *testing.T) {
	assert.True(t, metrics.Mean().IsZero())
	assert.True(t, metrics.Mean(d("1"), d("2"), d("6")).Equal(d("3")))
}

func TestKeys_NamesMatchReportVocabulary(t *testing.T) {
	assert.Equal(t, metrics.Key("Sales_Month_TY"), metrics.Sales.In(metrics.Month, metrics.TY))
	assert.Equal(t, metrics.Key("COS_Last_12_Months_LY"), metrics.COS.In(metrics.Last12, metrics.LY))
	assert.Equal(t, metrics.Key("GM%_Var_vs_LY_Last_3_Months_TY"), metrics.GMPct.Var(metrics.Last3))
	assert.Equal(t, metrics.Key("Sales_Var%_vs_LY_Month_TY"), metrics.Sales.VarPct(metrics.Month))
	assert.Equal(t, metrics.Key("Sales_Last_6_4_Months_LY"), metrics.Sales.InBucket(metrics.Bucket{Far: 6, Near: 4}, metrics.LY))
	assert.Equal(t, metrics.Key("chart_revenue_month-7"), metrics.ChartMonth("revenue", 7))
	assert.Equal(t, metrics.Key("chart_overheads_12_10_months"), metrics.ChartBucket("overheads", metrics.Bucket{Far: 12, Near: 10}))
}

func TestBucket_InnerOuter(t *testing.T) {
	first := metrics.Buckets[0]
	_, ok := first.Inner()
	assert.False(t, ok)
	assert.Equal(t, metrics.Last3, first.Outer())

	last := metrics.Buckets[3]
	inner, ok := last.Inner()
	require.True(t, ok)
	assert.Equal(t, metrics.Last9, inner)
	assert.Equal(t, metrics.Last12, last.Outer())
}

func TestStore_WriteOnce(t *testing.T) {
	// GIVEN: a store with one value
	s := metrics.NewStore()
	require.NoError(t, s.Put("a", d("1")))

	// WHEN: the same key is written again
	err := s.Put("a", d("2"))

	// THEN: the write is rejected and the first value survives
	assert.True(t, errors.Is(err, metrics.ErrAlreadyWritten))
	assert.True(t, s.Value("a").Equal(d("1")))
}

func TestStore_FrozenRejectsWrites(t *testing.T) {
	s := metrics.NewStore()
	require.NoError(t, s.Put("a", d("1")))
	s.Freeze()

	err := s.Put("b", d("2"))
	assert.True(t, errors.Is(err, metrics.ErrFrozen))
	assert.True(t, s.Frozen())
	assert.Equal(t, 1, s.Len())
}

func TestStore_MissingKeyReadsZero(t *testing.T) {
	s := metrics.NewStore()
	_, ok := s.Get("nope")
	assert.False(t, ok)
	assert.True(t, s.Value("nope").IsZero())
}

func TestStore_EntriesKeepWriteOrder(t *testing.T) {
	s := metrics.NewStore()
	for _, k := range []metrics.Key{"c", "a", "b"} {
		require.NoError(t, s.Put(k, decimal.Zero))
	}

	var order, sorted []metrics.Key
	for _, e := range s.Entries() {
		order = append(order, e.Key)
	}
	for _, e := range s.Sorted() {
		sorted = append(sorted, e.Key)
	}
	assert.Equal(t, []metrics.Key{"c", "a", "b"}, order)
	assert.Equal(t, []metrics.Key{"a", "b", "c"}, sorted)
}

func TestStore_ConcurrentDisjointWrites(t *testing.T) {
	s := metrics.NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put(metrics.ChartMonth("x", i), decimal.NewFromInt(int64(i))))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
