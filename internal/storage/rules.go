package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spesebook/internal/core"
	"spesebook/internal/log"
)

// RuleRecord is a recurring rule as persisted. The raw trigger text is kept
// so a materialization can compare against exactly what was read.
type RuleRecord struct {
	ID             int64
	Frequency      string
	StartRaw       string
	NextTriggerRaw string
}

// Rule decodes the record.
func (r RuleRecord) Rule() (core.RecurringRule, error) {
	f, err := core.ParseFrequency(r.Frequency)
	if err != nil {
		return core.RecurringRule{}, err
	}
	if !f.Recurring() {
		return core.RecurringRule{}, fmt.Errorf("%w: rule %d has frequency %q", core.ErrInvalidFrequency, r.ID, r.Frequency)
	}
	start, err := parseInstant(r.StartRaw)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("rule %d start: %w", r.ID, err)
	}
	next, err := parseInstant(r.NextTriggerRaw)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("rule %d next trigger: %w", r.ID, err)
	}
	return core.RecurringRule{ID: r.ID, Frequency: f, Start: start, NextTrigger: next}, nil
}

// Occurrence is one scheduled materialization of a rule.
type Occurrence struct {
	RuleID   int64
	Expected string    // next_trigger as read before computing Next
	Due      time.Time // timestamp of the new expense
	Next     time.Time // trigger after Due
	Template core.Expense
}

func (s *Store) ListRuleRecords(ctx context.Context) ([]RuleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, frequency, start_at, next_trigger FROM recurring_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list recurring rules: %w", err)
	}
	defer rows.Close()

	var out []RuleRecord
	for rows.Next() {
		var r RuleRecord
		if err := rows.Scan(&r.ID, &r.Frequency, &r.StartRaw, &r.NextTriggerRaw); err != nil {
			return nil, fmt.Errorf("scan recurring rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRecurringRules returns every decodable rule; others are logged and skipped.
func (s *Store) ListRecurringRules(ctx context.Context) ([]core.RecurringRule, error) {
	records, err := s.ListRuleRecords(ctx)
	if err != nil {
		return nil, err
	}
	rules := make([]core.RecurringRule, 0, len(records))
	for _, rec := range records {
		rule, err := rec.Rule()
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping unreadable recurring rule",
				log.FieldRuleID, rec.ID,
				log.FieldError, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// GetRecurringRule returns the rule with id, or nil when there is none.
func (s *Store) GetRecurringRule(ctx context.Context, id int64) (*core.RecurringRule, error) {
	var rec RuleRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, frequency, start_at, next_trigger FROM recurring_rules WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Frequency, &rec.StartRaw, &rec.NextTriggerRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recurring rule %d: %w", id, err)
	}
	rule, err := rec.Rule()
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// CancelRecurrence deletes a rule. Expenses it already produced are kept
// and lose their rule reference.
func (s *Store) CancelRecurrence(ctx context.Context, ruleID int64) error {
	var detached int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE expenses SET recurring_rule_id = NULL WHERE recurring_rule_id = ?`, ruleID)
		if err != nil {
			return fmt.Errorf("detach expenses: %w", err)
		}
		if detached, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = ?`, ruleID)
		if err != nil {
			return fmt.Errorf("delete recurring rule: %w", err)
		}
		return requireAffected(res, "recurring rule", ruleID)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Recurrence cancelled",
		log.FieldOperation, log.OpCancel,
		log.FieldRuleID, ruleID,
		log.FieldCount, detached)
	return nil
}

// LatestExpenseForRule returns the most recent expense a rule produced, or
// nil when it has none.
func (s *Store) LatestExpenseForRule(ctx context.Context, ruleID int64) (*core.Expense, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE recurring_rule_id = ?
		 ORDER BY occurred_at DESC, id DESC LIMIT 1`, ruleID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest expense for rule %d: %w", ruleID, err)
	}
	return &e, nil
}

// MaterializeOccurrence inserts the expense for one due occurrence and moves
// the rule's trigger forward, atomically. The advance only applies while the
// stored trigger still equals o.Expected; otherwise nothing is written and
// ErrRuleAdvanced is returned.
func (s *Store) MaterializeOccurrence(ctx context.Context, o Occurrence) (int64, error) {
	if !o.Next.After(o.Due) {
		return 0, fmt.Errorf("%w: next trigger %s is not after %s", core.ErrValidation, FormatInstant(o.Next), FormatInstant(o.Due))
	}

	due := o.Due.UTC()
	ruleID := o.RuleID
	e := o.Template
	e.ID = 0
	e.Timestamp = due
	e.Day = core.DateOf(due, s.loc)
	e.RecurringRuleID = &ruleID

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE recurring_rules SET next_trigger = ? WHERE id = ? AND next_trigger = ?`,
			FormatInstant(o.Next), o.RuleID, o.Expected)
		if err != nil {
			return fmt.Errorf("advance recurring rule: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var found int64
			err := tx.QueryRowContext(ctx, `SELECT id FROM recurring_rules WHERE id = ?`, o.RuleID).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: recurring rule %d", core.ErrNotFound, o.RuleID)
			}
			return fmt.Errorf("%w: rule %d", ErrRuleAdvanced, o.RuleID)
		}

		id, err = insertExpense(ctx, tx, e)
		if err != nil && isUniqueViolation(err) {
			return fmt.Errorf("%w: rule %d occurrence %s", core.ErrDuplicate, o.RuleID, FormatInstant(due))
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.DebugContext(ctx, "Occurrence materialized",
		log.FieldOperation, log.OpMaterialize,
		log.FieldRuleID, o.RuleID,
		log.FieldExpenseID, id,
		log.FieldDueAt, FormatInstant(due),
		log.FieldNextTrigger, FormatInstant(o.Next))
	return id, nil
}
