package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"spesebook/internal/core"
	"spesebook/internal/log"
	"spesebook/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	return openStoreIn(t, time.UTC)
}

func openStoreIn(t *testing.T, loc *time.Location) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Options{
		Path:     filepath.Join(t.TempDir(), "spesebook.db"),
		Location: loc,
		Logger:   log.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addRecurring(t *testing.T, s *storage.Store, name string, start time.Time, f core.Frequency) int64 {
	t.Helper()
	id, err := s.AddExpense(context.Background(), core.NewExpense{
		Name:       name,
		CategoryID: core.NoneCategoryID,
		Amount:     core.Money{Cents: 1500},
		Timestamp:  start,
		Memo:       ptr("auto"),
		Frequency:  f,
	})
	require.NoError(t, err)
	e, err := s.GetExpense(context.Background(), id)
	require.NoError(t, err)
	return *e.RecurringRuleID
}

func ruleExpenses(t *testing.T, s *storage.Store, ruleID int64) []core.Expense {
	t.Helper()
	all, err := s.ListExpensesInRange(context.Background(), "2000-01-01", "2100-01-01")
	require.NoError(t, err)
	var out []core.Expense
	for _, e := range all {
		if e.RecurringRuleID != nil && *e.RecurringRuleID == ruleID {
			out = append(out, e)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// flakyStore fails or rewrites selected rules on top of a real store.
type flakyStore struct {
	*storage.Store
	mu          sync.Mutex
	failRule    int64
	garbageRule int64
	calls       int
}

func (f *flakyStore) ListRuleRecords(ctx context.Context) ([]storage.RuleRecord, error) {
	recs, err := f.Store.ListRuleRecords(ctx)
	for i := range recs {
		if recs[i].ID == f.garbageRule {
			recs[i].NextTriggerRaw = "not-a-time"
		}
	}
	return recs, err
}

func (f *flakyStore) MaterializeOccurrence(ctx context.Context, o storage.Occurrence) (int64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if o.RuleID == f.failRule {
		return 0, errors.New("disk I/O error")
	}
	return f.Store.MaterializeOccurrence(ctx, o)
}

func TestCatchUp_MonthlyScenario(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	ruleID := addRecurring(t, s, "gym", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), core.Monthly)

	p := NewRecurringProcessor(s, 2, log.Discard())
	report, err := p.CatchUp(ctx, time.Date(2024, 4, 20, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, CatchUpReport{RulesChecked: 1, Materialized: 3}, report)

	got := ruleExpenses(t, s, ruleID)
	require.Len(t, got, 4)
	var days []string
	for _, e := range got {
		days = append(days, e.Day.String())
		assert.Equal(t, "gym", e.Name)
		assert.Equal(t, int64(1500), e.Amount.Cents)
		assert.Equal(t, "auto", *e.Memo)
	}
	assert.Equal(t, []string{"2024-01-15", "2024-02-15", "2024-03-15", "2024-04-15"}, days)

	rule, err := s.GetRecurringRule(ctx, ruleID)
	require.NoError(t, err)
	assert.True(t, rule.NextTrigger.Equal(time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)), "next trigger %v", rule.NextTrigger)
}

func TestCatchUp_DaylightSavingZone(t *testing.T) {
	tests := []struct {
		name     string
		zone     string
		start    [5]int // y, m, d, h, min in the zone
		now      [3]int // y, m, d at noon in the zone
		wantDays []string
		gapDay   string
		gapClock string
		clock    string
	}{
		{
			name:     "new york gap at 02:00",
			zone:     "America/New_York",
			start:    [5]int{2024, 3, 8, 2, 30},
			now:      [3]int{2024, 3, 13},
			wantDays: []string{"2024-03-08", "2024-03-09", "2024-03-10", "2024-03-11", "2024-03-12", "2024-03-13"},
			gapDay:   "2024-03-10",
			gapClock: "03:30",
			clock:    "02:30",
		},
		{
			name:     "santiago gap at midnight",
			zone:     "America/Santiago",
			start:    [5]int{2024, 9, 5, 0, 30},
			now:      [3]int{2024, 9, 12},
			wantDays: []string{"2024-09-05", "2024-09-06", "2024-09-07", "2024-09-08", "2024-09-09", "2024-09-10", "2024-09-11", "2024-09-12"},
			gapDay:   "2024-09-08",
			gapClock: "01:30",
			clock:    "00:30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			loc, err := time.LoadLocation(tt.zone)
			require.NoError(t, err)
			s := openStoreIn(t, loc)

			start := time.Date(tt.start[0], time.Month(tt.start[1]), tt.start[2], tt.start[3], tt.start[4], 0, 0, loc)
			ruleID := addRecurring(t, s, "walk", start, core.Daily)

			now := time.Date(tt.now[0], time.Month(tt.now[1]), tt.now[2], 12, 0, 0, 0, loc)
			report, err := NewRecurringProcessor(s, 1, log.Discard()).CatchUp(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, len(tt.wantDays)-1, report.Materialized)

			got := ruleExpenses(t, s, ruleID)
			var days []string
			for _, e := range got {
				day := e.Day.String()
				days = append(days, day)
				local := e.Timestamp.In(loc)
				assert.Equal(t, day, local.Format("2006-01-02"), "stored day matches local date")
				want := tt.clock
				if day == tt.gapDay {
					want = tt.gapClock
				}
				assert.Equal(t, want, local.Format("15:04"), "time of day on %s", day)
			}
			assert.Equal(t, tt.wantDays, days)

			rule, err := s.GetRecurringRule(ctx, ruleID)
			require.NoError(t, err)
			next := rule.NextTrigger.In(loc)
			assert.Equal(t, tt.clock, next.Format("15:04"))
			assert.Equal(t, now.AddDate(0, 0, 1).Format("2006-01-02"), next.Format("2006-01-02"))
		})
	}
}

func TestCatchUp_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	ruleID := addRecurring(t, s, "coffee", time.Date(2024, 2, 26, 7, 30, 0, 0, time.UTC), core.Daily)
	now := time.Date(2024, 3, 2, 7, 30, 0, 0, time.UTC)

	p := NewRecurringProcessor(s, 4, log.Discard())
	first, err := p.CatchUp(ctx, now)
	require.NoError(t, err)
	// Feb 27, 28, 29, Mar 1, Mar 2 (due exactly at now)
	assert.Equal(t, 5, first.Materialized)

	second, err := p.CatchUp(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Materialized)
	assert.Len(t, ruleExpenses(t, s, ruleID), 6)
}

func TestCatchUp_NextTriggerIsFirstAfterNow(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC)
	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	for _, f := range []core.Frequency{core.Daily, core.Weekly, core.Monthly, core.Yearly} {
		t.Run(string(f), func(t *testing.T) {
			s := openStore(t)
			ruleID := addRecurring(t, s, "r", start, f)

			_, err := NewRecurringProcessor(s, 1, log.Discard()).CatchUp(ctx, now)
			require.NoError(t, err)

			// replay the schedule independently
			want := 0
			trigger := start
			for {
				next, err := core.Advance(trigger, f, start, time.UTC)
				require.NoError(t, err)
				trigger = next
				if trigger.After(now) {
					break
				}
				want++
			}

			rule, err := s.GetRecurringRule(ctx, ruleID)
			require.NoError(t, err)
			assert.True(t, rule.NextTrigger.Equal(trigger), "got %v want %v", rule.NextTrigger, trigger)
			assert.Len(t, ruleExpenses(t, s, ruleID), want+1)
		})
	}
}

func TestCatchUp_FailureIsolatedPerRule(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	broken := addRecurring(t, s, "broken", start, core.Weekly)
	healthy := addRecurring(t, s, "healthy", start, core.Weekly)
	now := time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)

	fs := &flakyStore{Store: s, failRule: broken}
	report, err := NewRecurringProcessor(fs, 2, log.Discard()).CatchUp(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RulesFailed)
	assert.Equal(t, 3, report.Materialized)

	assert.Len(t, ruleExpenses(t, s, healthy), 4)
	assert.Len(t, ruleExpenses(t, s, broken), 1)

	rule, err := s.GetRecurringRule(ctx, broken)
	require.NoError(t, err)
	assert.True(t, rule.NextTrigger.Equal(start.AddDate(0, 0, 7)), "failed rule is not advanced")

	// next session without the fault recovers exactly the missed occurrences
	report, err = NewRecurringProcessor(s, 2, log.Discard()).CatchUp(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Materialized)
	assert.Len(t, ruleExpenses(t, s, broken), 4)
	assert.Len(t, ruleExpenses(t, s, healthy), 4)
}

func TestCatchUp_SkipsMalformedRules(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)

	orphan := addRecurring(t, s, "orphan", start, core.Daily)
	for _, e := range ruleExpenses(t, s, orphan) {
		require.NoError(t, s.DeleteExpense(ctx, e.ID))
	}
	garbage := addRecurring(t, s, "garbage", start, core.Daily)
	fine := addRecurring(t, s, "fine", start, core.Daily)

	fs := &flakyStore{Store: s, garbageRule: garbage}
	report, err := NewRecurringProcessor(fs, 3, log.Discard()).CatchUp(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, report.RulesChecked)
	assert.Equal(t, 2, report.RulesSkipped)
	assert.Equal(t, 0, report.RulesFailed)
	assert.Equal(t, 2, report.Materialized)

	assert.Empty(t, ruleExpenses(t, s, orphan))
	assert.Len(t, ruleExpenses(t, s, garbage), 1)
	assert.Len(t, ruleExpenses(t, s, fine), 3)
}

func TestCatchUp_NothingDue(t *testing.T) {
	s := openStore(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	addRecurring(t, s, "yearly", start, core.Yearly)

	fs := &flakyStore{Store: s}
	report, err := NewRecurringProcessor(fs, 1, log.Discard()).CatchUp(context.Background(), start.AddDate(0, 6, 0))
	require.NoError(t, err)
	assert.Equal(t, CatchUpReport{RulesChecked: 1}, report)
	assert.Zero(t, fs.calls)
}

func TestCatchUp_CancelledContext(t *testing.T) {
	s := openStore(t)
	addRecurring(t, s, "daily", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), core.Daily)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRecurringProcessor(s, 1, log.Discard()).CatchUp(ctx, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, context.Canceled)
}
