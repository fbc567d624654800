package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"spesebook/internal/core"
	"spesebook/internal/log"
)

const expenseColumns = `id, name, category_id, subcategory, amount_cents, picture_uri, memo, occurred_at, day, recurring_rule_id`

// AddExpense inserts an expense and returns its id. A recurring frequency
// also creates the rule that schedules later occurrences; rule and first
// expense are written in one transaction and share the same instant.
func (s *Store) AddExpense(ctx context.Context, in core.NewExpense) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	ts := in.Timestamp.UTC()
	day := core.DateOf(ts, s.loc)
	if !in.Day.IsEmpty() && !in.Day.Equal(day.Time) {
		return 0, fmt.Errorf("%w: %s is %s locally, not %s", core.ErrDayMismatch, FormatInstant(ts), day, in.Day)
	}

	var id int64
	var ruleID *int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := categoryExists(ctx, tx, in.CategoryID); err != nil {
			return err
		}

		if in.Frequency.Recurring() {
			next, err := core.Advance(ts, in.Frequency, ts, s.loc)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO recurring_rules (frequency, start_at, next_trigger) VALUES (?, ?, ?)`,
				string(in.Frequency), FormatInstant(ts), FormatInstant(next))
			if err != nil {
				return fmt.Errorf("insert recurring rule: %w", err)
			}
			rid, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ruleID = &rid
		}

		var err error
		id, err = insertExpense(ctx, tx, core.Expense{
			Name:            strings.TrimSpace(in.Name),
			CategoryID:      in.CategoryID,
			Subcategory:     in.Subcategory,
			Amount:          in.Amount,
			PictureURI:      in.PictureURI,
			Memo:            in.Memo,
			Timestamp:       ts,
			Day:             day,
			RecurringRuleID: ruleID,
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	fields := log.NewFields().
		WithOperation(log.OpCreate).
		WithExpense(id, in.Name, in.Amount.Cents, in.CategoryID)
	fields[log.FieldDay] = day.String()
	if ruleID != nil {
		fields.WithRule(*ruleID, string(in.Frequency))
	}
	s.logger.Fields(ctx, "Expense created", fields)
	return id, nil
}

// UpdateExpense changes only the fields set in patch. An empty picture URI
// or memo clears the stored value.
func (s *Store) UpdateExpense(ctx context.Context, id int64, patch core.ExpensePatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	var (
		sets []string
		args []any
	)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, strings.TrimSpace(*patch.Name))
	}
	if patch.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, *patch.CategoryID)
	}
	if patch.Amount != nil {
		sets = append(sets, "amount_cents = ?")
		args = append(args, patch.Amount.Cents)
	}
	if patch.PictureURI != nil {
		sets = append(sets, "picture_uri = ?")
		args = append(args, emptyAsNull(*patch.PictureURI))
	}
	if patch.Memo != nil {
		sets = append(sets, "memo = ?")
		args = append(args, emptyAsNull(*patch.Memo))
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if len(sets) == 0 {
			var found int64
			err := tx.QueryRowContext(ctx, `SELECT id FROM expenses WHERE id = ?`, id).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: expense %d", core.ErrNotFound, id)
			}
			return err
		}
		if patch.CategoryID != nil {
			if err := categoryExists(ctx, tx, *patch.CategoryID); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE expenses SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, id)...)
		if err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		return requireAffected(res, "expense", id)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Expense updated",
		log.FieldOperation, log.OpUpdate,
		log.FieldExpenseID, id)
	return nil
}

// DeleteExpense removes the row only. Its recurring rule keeps scheduling
// and its picture stays on disk.
func (s *Store) DeleteExpense(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if err := requireAffected(res, "expense", id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Expense deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldExpenseID, id)
	return nil
}

// GetExpense returns the expense with id, or nil when there is none.
func (s *Store) GetExpense(ctx context.Context, id int64) (*core.Expense, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get expense %d: %w", id, err)
	}
	return &e, nil
}

// ListExpensesForDay returns the expenses of a local day by timestamp.
func (s *Store) ListExpensesForDay(ctx context.Context, day core.Date) ([]core.Expense, error) {
	return s.queryExpenses(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE day = ? ORDER BY occurred_at, id`,
		day.String())
}

// ListExpensesInRange returns the expenses between two inclusive bounds,
// each a local date (YYYY-MM-DD) or local date-time. A date end bound covers
// the whole day. Unparsable bounds yield an empty result and a warning.
func (s *Store) ListExpensesInRange(ctx context.Context, start, end string) ([]core.Expense, error) {
	sp, err := resolveRange(start, end, s.loc)
	if err != nil {
		s.logger.WarnContext(ctx, "Ignoring range query with unparsable bound",
			log.FieldOperation, log.OpList,
			log.FieldRangeStart, start,
			log.FieldRangeEnd, end,
			log.FieldError, err)
		return []core.Expense{}, nil
	}
	if sp.empty() {
		return []core.Expense{}, nil
	}

	if sp.byDay {
		return s.queryExpenses(ctx,
			`SELECT `+expenseColumns+` FROM expenses WHERE day >= ? AND day <= ? ORDER BY occurred_at, id`,
			sp.fromDay.String(), sp.toDay.String())
	}
	return s.queryExpenses(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE occurred_at >= ? AND occurred_at < ? ORDER BY occurred_at, id`,
		FormatInstant(sp.from), FormatInstant(sp.to))
}

func (s *Store) queryExpenses(ctx context.Context, query string, args ...any) ([]core.Expense, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	out := []core.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertExpense(ctx context.Context, tx *sql.Tx, e core.Expense) (int64, error) {
	var ruleID sql.NullInt64
	if e.RecurringRuleID != nil {
		ruleID = sql.NullInt64{Int64: *e.RecurringRuleID, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO expenses (name, category_id, subcategory, amount_cents, picture_uri, memo, occurred_at, day, recurring_rule_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.CategoryID, nullString(e.Subcategory), e.Amount.Cents,
		nullString(e.PictureURI), nullString(e.Memo),
		FormatInstant(e.Timestamp), e.Day.String(), ruleID)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	return res.LastInsertId()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e                          core.Expense
		subcategory, picture, memo sql.NullString
		occurredAt, day            string
		ruleID                     sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.Name, &e.CategoryID, &subcategory, &e.Amount.Cents,
		&picture, &memo, &occurredAt, &day, &ruleID); err != nil {
		return core.Expense{}, err
	}

	ts, err := parseInstant(occurredAt)
	if err != nil {
		return core.Expense{}, err
	}
	d, err := core.ParseDate(day)
	if err != nil {
		return core.Expense{}, err
	}

	e.Subcategory = stringPtr(subcategory)
	e.PictureURI = stringPtr(picture)
	e.Memo = stringPtr(memo)
	e.Timestamp = ts
	e.Day = d
	if ruleID.Valid {
		id := ruleID.Int64
		e.RecurringRuleID = &id
	}
	return e, nil
}

func emptyAsNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
