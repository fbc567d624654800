package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"spesebook/internal/core"
	"spesebook/internal/log"
)

// AddCategory inserts a category and returns its id. Names are unique
// without regard to case.
func (s *Store) AddCategory(ctx context.Context, in core.NewCategory) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	name := strings.TrimSpace(in.Name)

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkCategoryNameFree(ctx, tx, name, 0); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO categories (name, color, icon) VALUES (?, ?, ?)`,
			name, in.Color, nullString(in.Icon))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: category %q", core.ErrDuplicate, name)
			}
			return fmt.Errorf("insert category: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "Category created",
		log.FieldOperation, log.OpCreate,
		log.FieldCategoryID, id,
		log.FieldCategory, name)
	return id, nil
}

// UpdateCategory changes only the fields set in patch. An empty patch is a
// no-op. The None category keeps its name.
func (s *Store) UpdateCategory(ctx context.Context, id int64, patch core.CategoryPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	if err := patch.Validate(); err != nil {
		return err
	}
	if id == core.NoneCategoryID && patch.Name != nil && !strings.EqualFold(strings.TrimSpace(*patch.Name), core.NoneCategoryName) {
		return core.ErrSentinelCategory
	}

	var (
		sets []string
		args []any
	)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, strings.TrimSpace(*patch.Name))
	}
	if patch.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, *patch.Color)
	}
	args = append(args, id)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if patch.Name != nil {
			if err := checkCategoryNameFree(ctx, tx, strings.TrimSpace(*patch.Name), id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE categories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: category %q", core.ErrDuplicate, *patch.Name)
			}
			return fmt.Errorf("update category: %w", err)
		}
		return requireAffected(res, "category", id)
	})
	if err != nil {
		return err
	}

	s.invalidateCategory(id)
	s.logger.InfoContext(ctx, "Category updated",
		log.FieldOperation, log.OpUpdate,
		log.FieldCategoryID, id)
	return nil
}

// DeleteCategory moves every expense of the category to None and removes
// the category, in one transaction.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	if id == core.NoneCategoryID {
		return core.ErrSentinelCategory
	}

	var moved int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE expenses SET category_id = ? WHERE category_id = ?`, core.NoneCategoryID, id)
		if err != nil {
			return fmt.Errorf("reassign expenses: %w", err)
		}
		if moved, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete category: %w", err)
		}
		return requireAffected(res, "category", id)
	})
	if err != nil {
		return err
	}

	s.invalidateCategory(id)
	s.logger.InfoContext(ctx, "Category deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldCategoryID, id,
		log.FieldCount, moved)
	return nil
}

// GetCategory returns the category with id, or nil when there is none.
func (s *Store) GetCategory(ctx context.Context, id int64) (*core.Category, error) {
	if c, ok := s.categories.Get(categoryKey(id)); ok {
		return &c, nil
	}
	gen := s.categoryGeneration()

	var (
		c    core.Category
		icon sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, color, icon FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Color, &icon)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category %d: %w", id, err)
	}
	c.Icon = stringPtr(icon)

	s.cacheCategory(gen, c)
	return &c, nil
}

// ListCategories returns every category in insertion order, None first.
func (s *Store) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, color, icon FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var (
			c    core.Category
			icon sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &icon); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Icon = stringPtr(icon)
		out = append(out, c)
	}
	return out, rows.Err()
}

func checkCategoryNameFree(ctx context.Context, tx *sql.Tx, name string, exceptID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM categories WHERE name = ? COLLATE NOCASE AND id != ?`, name, exceptID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check category name: %w", err)
	default:
		return fmt.Errorf("%w: category %q", core.ErrDuplicate, name)
	}
}

func categoryExists(ctx context.Context, tx *sql.Tx, id int64) error {
	var found int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM categories WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: unknown category %d", core.ErrValidation, id)
	}
	if err != nil {
		return fmt.Errorf("check category: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", core.ErrNotFound, entity, id)
	}
	return nil
}

func (s *Store) categoryGeneration() uint64 {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	return s.catGen
}

// cacheCategory stores c unless a category write happened since gen was read.
func (s *Store) cacheCategory(gen uint64, c core.Category) {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	if s.catGen != gen {
		return
	}
	s.categories.Set(categoryKey(c.ID), c)
}

func (s *Store) invalidateCategory(id int64) {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	s.catGen++
	s.categories.Delete(categoryKey(id))
}

func categoryKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
