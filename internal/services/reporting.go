package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"spesebook/internal/core"
	"spesebook/internal/log"
)

// ExpenseQuerier is the read side of the store used for reporting.
type ExpenseQuerier interface {
	ListExpensesInRange(ctx context.Context, start, end string) ([]core.Expense, error)
	GetCategory(ctx context.Context, id int64) (*core.Category, error)
}

// Reporter groups and sums expenses for charts and summaries.
type Reporter struct {
	store  ExpenseQuerier
	logger *log.Logger
}

func NewReporter(store ExpenseQuerier, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.Default(log.ComponentReporting)
	}
	return &Reporter{store: store, logger: logger.WithComponent(log.ComponentReporting)}
}

// ExpensesByCategory groups the expenses in range by the current name of
// their category, so renames relabel history.
func (r *Reporter) ExpensesByCategory(ctx context.Context, start, end string) (map[string][]core.Expense, error) {
	expenses, err := r.store.ListExpensesInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string)
	out := make(map[string][]core.Expense)
	for _, e := range expenses {
		name, ok := names[e.CategoryID]
		if !ok {
			name, err = r.categoryName(ctx, e.CategoryID)
			if err != nil {
				return nil, err
			}
			names[e.CategoryID] = name
		}
		out[name] = append(out[name], e)
	}
	return out, nil
}

// TotalForRange sums the amounts of the expenses in range.
func (r *Reporter) TotalForRange(ctx context.Context, start, end string) (core.Money, error) {
	expenses, err := r.store.ListExpensesInRange(ctx, start, end)
	if err != nil {
		return core.Money{}, err
	}
	var total core.Money
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total, nil
}

// CategoryTotals sums the range per category name, largest first.
func (r *Reporter) CategoryTotals(ctx context.Context, start, end string) ([]core.CategoryAmount, error) {
	grouped, err := r.ExpensesByCategory(ctx, start, end)
	if err != nil {
		return nil, err
	}

	out := make([]core.CategoryAmount, 0, len(grouped))
	for name, expenses := range grouped {
		var sum core.Money
		for _, e := range expenses {
			sum = sum.Add(e.Amount)
		}
		out = append(out, core.CategoryAmount{Name: name, Amount: sum})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount.Cents != out[j].Amount.Cents {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

var weekdayLabels = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// WeekBuckets returns seven daily buckets, Monday to Sunday, for the week
// containing day.
func (r *Reporter) WeekBuckets(ctx context.Context, day core.Date) ([]core.Bucket, error) {
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDays(-offset)

	buckets := make([]core.Bucket, 7)
	for i := range buckets {
		d := monday.AddDays(i)
		buckets[i] = core.Bucket{Label: weekdayLabels[i], From: d, To: d}
	}
	return r.fill(ctx, buckets)
}

// MonthBuckets returns one bucket per day of the month, labelled 1..N.
func (r *Reporter) MonthBuckets(ctx context.Context, year int, month time.Month) ([]core.Bucket, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("%w: month %d", core.ErrValidation, month)
	}
	n := core.DaysIn(year, month)
	buckets := make([]core.Bucket, n)
	for i := range buckets {
		d := core.NewDate(year, int(month), i+1)
		buckets[i] = core.Bucket{Label: strconv.Itoa(i + 1), From: d, To: d}
	}
	return r.fill(ctx, buckets)
}

// YearBuckets returns twelve monthly buckets, January to December.
func (r *Reporter) YearBuckets(ctx context.Context, year int) ([]core.Bucket, error) {
	buckets := make([]core.Bucket, 12)
	for i := range buckets {
		m := time.Month(i + 1)
		buckets[i] = core.Bucket{
			Label: m.String()[:3],
			From:  core.NewDate(year, int(m), 1),
			To:    core.NewDate(year, int(m), core.DaysIn(year, m)),
		}
	}
	return r.fill(ctx, buckets)
}

// fill sums the expenses of the whole span into contiguous, ordered buckets
// by their local day.
func (r *Reporter) fill(ctx context.Context, buckets []core.Bucket) ([]core.Bucket, error) {
	from, to := buckets[0].From, buckets[len(buckets)-1].To
	expenses, err := r.store.ListExpensesInRange(ctx, from.String(), to.String())
	if err != nil {
		return nil, err
	}

	for _, e := range expenses {
		i := sort.Search(len(buckets), func(i int) bool {
			return !buckets[i].To.Before(e.Day.Time)
		})
		if i < len(buckets) && !e.Day.Before(buckets[i].From.Time) {
			buckets[i].Total = buckets[i].Total.Add(e.Amount)
		}
	}

	r.logger.DebugContext(ctx, "Bucketed expenses",
		log.FieldOperation, log.OpAggregate,
		log.FieldRangeStart, from.String(),
		log.FieldRangeEnd, to.String(),
		log.FieldCount, len(expenses))
	return buckets, nil
}

func (r *Reporter) categoryName(ctx context.Context, id int64) (string, error) {
	c, err := r.store.GetCategory(ctx, id)
	if err != nil {
		return "", fmt.Errorf("resolve category %d: %w", id, err)
	}
	if c == nil {
		return core.NoneCategoryName, nil
	}
	return c.Name, nil
}
