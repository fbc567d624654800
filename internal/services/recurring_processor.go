package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spesebook/internal/core"
	"spesebook/internal/log"
	"spesebook/internal/storage"

	"golang.org/x/sync/errgroup"
)

// RuleStore is the persistence the recurrence engine needs.
type RuleStore interface {
	ListRuleRecords(ctx context.Context) ([]storage.RuleRecord, error)
	LatestExpenseForRule(ctx context.Context, ruleID int64) (*core.Expense, error)
	MaterializeOccurrence(ctx context.Context, o storage.Occurrence) (int64, error)
	Location() *time.Location
}

// CatchUpReport summarises one catch-up pass.
type CatchUpReport struct {
	RulesChecked int
	RulesSkipped int // no template, unreadable schedule, or advanced elsewhere
	RulesFailed  int // persistence error; retried next pass
	Materialized int
}

// RecurringProcessor materializes the occurrences of recurring rules that
// fell due since the last pass.
type RecurringProcessor struct {
	store   RuleStore
	workers int
	logger  *log.Logger
}

// NewRecurringProcessor creates a processor that handles up to workers rules
// at a time.
func NewRecurringProcessor(store RuleStore, workers int, logger *log.Logger) *RecurringProcessor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default(log.ComponentRecurrence)
	}
	return &RecurringProcessor{
		store:   store,
		workers: workers,
		logger:  logger.WithComponent(log.ComponentRecurrence),
	}
}

// CatchUp brings every rule up to date with now. Rules are processed
// independently; a failing rule is logged and counted but never stops the
// others. The returned error is non-nil only when the pass itself could not
// run (rules unreadable, context cancelled).
func (p *RecurringProcessor) CatchUp(ctx context.Context, now time.Time) (CatchUpReport, error) {
	if p.store == nil {
		return CatchUpReport{}, fmt.Errorf("processor not properly initialized")
	}

	records, err := p.store.ListRuleRecords(ctx)
	if err != nil {
		return CatchUpReport{}, fmt.Errorf("failed to list recurring rules: %w", err)
	}

	p.logger.InfoContext(ctx, "Catching up recurring rules",
		log.FieldOperation, log.OpCatchUp,
		log.FieldCount, len(records),
		"now", storage.FormatInstant(now))

	var (
		mu     sync.Mutex
		report = CatchUpReport{RulesChecked: len(records)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			n, outcome := p.catchUpRule(gctx, rec, now)

			mu.Lock()
			defer mu.Unlock()
			report.Materialized += n
			switch outcome {
			case ruleSkipped:
				report.RulesSkipped++
			case ruleFailed:
				report.RulesFailed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	p.logger.InfoContext(ctx, "Recurring catch-up complete",
		log.FieldOperation, log.OpCatchUp,
		"rules_checked", report.RulesChecked,
		"rules_skipped", report.RulesSkipped,
		"rules_failed", report.RulesFailed,
		"materialized", report.Materialized)

	return report, nil
}

type ruleOutcome int

const (
	ruleDone ruleOutcome = iota
	ruleSkipped
	ruleFailed
)

func (p *RecurringProcessor) catchUpRule(ctx context.Context, rec storage.RuleRecord, now time.Time) (int, ruleOutcome) {
	logger := p.logger.With(log.FieldRuleID, rec.ID, log.FieldFrequency, rec.Frequency)

	rule, err := rec.Rule()
	if err != nil {
		logger.WarnContext(ctx, "Skipping recurring rule with unreadable schedule",
			log.FieldNextTrigger, rec.NextTriggerRaw,
			log.FieldError, err)
		return 0, ruleSkipped
	}
	if !rule.Due(now) {
		return 0, ruleDone
	}

	tmpl, err := p.store.LatestExpenseForRule(ctx, rule.ID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load template expense", log.FieldError, err)
		return 0, ruleFailed
	}
	if tmpl == nil {
		logger.WarnContext(ctx, "Skipping recurring rule without any expense")
		return 0, ruleSkipped
	}

	loc := p.store.Location()
	expected := rec.NextTriggerRaw
	due := rule.NextTrigger
	materialized := 0

	for rule.Due(now) {
		if err := ctx.Err(); err != nil {
			return materialized, ruleFailed
		}

		next, err := core.Advance(due, rule.Frequency, rule.Start, loc)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to compute next trigger", log.FieldError, err)
			return materialized, ruleFailed
		}

		_, err = p.store.MaterializeOccurrence(ctx, storage.Occurrence{
			RuleID:   rule.ID,
			Expected: expected,
			Due:      due,
			Next:     next,
			Template: *tmpl,
		})
		if errors.Is(err, storage.ErrRuleAdvanced) {
			logger.WarnContext(ctx, "Recurring rule advanced elsewhere, leaving it",
				log.FieldDueAt, storage.FormatInstant(due))
			return materialized, ruleSkipped
		}
		if err != nil {
			logger.ErrorContext(ctx, "Failed to materialize occurrence",
				log.FieldDueAt, storage.FormatInstant(due),
				log.FieldError, err)
			return materialized, ruleFailed
		}

		materialized++
		expected = storage.FormatInstant(next)
		due = next
		rule.NextTrigger = next
	}

	logger.InfoContext(ctx, "Recurring rule caught up",
		log.FieldOperation, log.OpMaterialize,
		log.FieldCount, materialized,
		log.FieldNextTrigger, storage.FormatInstant(rule.NextTrigger))
	return materialized, ruleDone
}
