package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"spesebook/internal/core"
	"spesebook/internal/log"
	"spesebook/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spend(t *testing.T, s *storage.Store, cat int64, cents int64, ts time.Time) {
	t.Helper()
	_, err := s.AddExpense(context.Background(), core.NewExpense{Name: "x", CategoryID: cat, Amount: core.Money{Cents: cents}, Timestamp: ts})
	require.NoError(t, err)
}

func TestExpensesByCategory_UsesCurrentName(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.AddCategory(ctx, core.NewCategory{Name: "Rent", Color: "#111"})
	require.NoError(t, err)
	food, err := s.AddCategory(ctx, core.NewCategory{Name: "Food", Color: "#222"})
	require.NoError(t, err)
	require.Equal(t, int64(3), food)

	spend(t, s, food, 1200, time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
	spend(t, s, food, 800, time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC))
	spend(t, s, core.NoneCategoryID, 500, time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC))

	r := NewReporter(s, log.Discard())

	before, err := r.ExpensesByCategory(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Len(t, before["Food"], 2)

	require.NoError(t, s.UpdateCategory(ctx, food, core.CategoryPatch{Name: ptr("Groceries")}))

	after, err := r.ExpensesByCategory(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.NotContains(t, after, "Food")
	assert.Len(t, after["Groceries"], 2)
	assert.Len(t, after["None"], 1)
	assert.True(t, after["Groceries"][0].Timestamp.Before(after["Groceries"][1].Timestamp))
}

func TestTotalsAndCategoryTotals(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	food, err := s.AddCategory(ctx, core.NewCategory{Name: "Food", Color: "#222"})
	require.NoError(t, err)
	rent, err := s.AddCategory(ctx, core.NewCategory{Name: "Rent", Color: "#111"})
	require.NoError(t, err)

	spend(t, s, food, 1250, time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
	spend(t, s, food, 750, time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC))
	spend(t, s, rent, 90000, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	spend(t, s, rent, 90000, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))

	r := NewReporter(s, log.Discard())

	total, err := r.TotalForRange(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, "920.00", total.String())

	totals, err := r.CategoryTotals(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, []core.CategoryAmount{
		{Name: "Rent", Amount: core.Money{Cents: 90000}},
		{Name: "Food", Amount: core.Money{Cents: 2000}},
	}, totals)

	empty, err := r.TotalForRange(ctx, "not a date", "2024-03-31")
	require.NoError(t, err)
	assert.Zero(t, empty.Cents)
}

func TestTotalForRange_LargeAmountsDoNotWrap(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	big := core.MaxCents - 1
	for d := 1; d <= 3; d++ {
		spend(t, s, core.NoneCategoryID, big, time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC))
	}

	_, err := s.AddExpense(ctx, core.NewExpense{Name: "x", CategoryID: core.NoneCategoryID, Amount: core.Money{Cents: core.MaxCents}, Timestamp: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)})
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	r := NewReporter(s, log.Discard())
	total, err := r.TotalForRange(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), total.Cents)

	totals, err := r.CategoryTotals(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Positive(t, totals[0].Amount.Cents)
}

func TestWeekBuckets(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	// week of Mon 2024-03-04 .. Sun 2024-03-10
	spend(t, s, 1, 100, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	spend(t, s, 1, 200, time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC))
	spend(t, s, 1, 700, time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC))
	spend(t, s, 1, 999, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC))
	spend(t, s, 1, 999, time.Date(2024, 3, 3, 23, 0, 0, 0, time.UTC))

	buckets, err := NewReporter(s, log.Discard()).WeekBuckets(ctx, core.NewDate(2024, 3, 7))
	require.NoError(t, err)
	require.Len(t, buckets, 7)

	var labels []string
	var totals []int64
	for _, b := range buckets {
		labels = append(labels, b.Label)
		totals = append(totals, b.Total.Cents)
	}
	assert.Equal(t, []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}, labels)
	assert.Equal(t, []int64{300, 0, 0, 0, 0, 0, 700}, totals)
	assert.Equal(t, "2024-03-04", buckets[0].From.String())

	sunday, err := NewReporter(s, log.Discard()).WeekBuckets(ctx, core.NewDate(2024, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04", sunday[0].From.String(), "Sunday belongs to the week before")
}

func TestMonthBuckets(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	spend(t, s, 1, 100, time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC))
	spend(t, s, 1, 250, time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC))
	spend(t, s, 1, 250, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC))

	buckets, err := NewReporter(s, log.Discard()).MonthBuckets(ctx, 2024, time.February)
	require.NoError(t, err)
	require.Len(t, buckets, 29)
	assert.Equal(t, "1", buckets[0].Label)
	assert.Equal(t, "29", buckets[28].Label)
	assert.Equal(t, int64(100), buckets[0].Total.Cents)
	assert.Equal(t, int64(500), buckets[28].Total.Cents)
	for _, b := range buckets[1:28] {
		assert.Zero(t, b.Total.Cents, b.Label)
	}

	_, err = NewReporter(s, log.Discard()).MonthBuckets(ctx, 2024, 13)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestYearBuckets(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	spend(t, s, 1, 100, time.Date(2023, 12, 31, 8, 0, 0, 0, time.UTC))
	spend(t, s, 1, 300, time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC))
	spend(t, s, 1, 400, time.Date(2024, 12, 1, 8, 0, 0, 0, time.UTC))

	buckets, err := NewReporter(s, log.Discard()).YearBuckets(ctx, 2024)
	require.NoError(t, err)
	require.Len(t, buckets, 12)
	assert.Equal(t, "Jan", buckets[0].Label)
	assert.Equal(t, "Dec", buckets[11].Label)
	assert.Equal(t, int64(300), buckets[0].Total.Cents)
	assert.Equal(t, int64(400), buckets[11].Total.Cents)
	assert.Equal(t, "2024-02-29", buckets[1].To.String())

	var sum int64
	for _, b := range buckets {
		sum += b.Total.Cents
	}
	assert.Equal(t, int64(700), sum)
}

type brokenQuerier struct{}

func (brokenQuerier) ListExpensesInRange(context.Context, string, string) ([]core.Expense, error) {
	return []core.Expense{{ID: 1, CategoryID: 9, Amount: core.Money{Cents: 1}}}, nil
}

func (brokenQuerier) GetCategory(context.Context, int64) (*core.Category, error) {
	return nil, errors.New("database is locked")
}

func TestExpensesByCategory_PropagatesLookupErrors(t *testing.T) {
	_, err := NewReporter(brokenQuerier{}, log.Discard()).ExpensesByCategory(context.Background(), "2024-01-01", "2024-01-31")
	assert.Error(t, err)
}
