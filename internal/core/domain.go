package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	None    Frequency = "none"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// NoneCategoryID identifies the sentinel category that receives the expenses
// of deleted categories. It is seeded by the first migration.
const (
	NoneCategoryID   int64 = 1
	NoneCategoryName       = "None"
)

const (
	maxNameLength = 200
	maxMemoLength = 2000
)

type (
	Frequency string

	// Date is a local calendar date stored as midnight UTC of that date.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Category struct {
		ID    int64
		Name  string
		Color string
		Icon  *string
	}

	NewCategory struct {
		Name  string
		Color string
		Icon  *string
	}

	// CategoryPatch carries the fields to change; nil fields are left alone.
	CategoryPatch struct {
		Name  *string
		Color *string
	}

	Expense struct {
		ID              int64
		Name            string
		CategoryID      int64
		Subcategory     *string
		Amount          Money
		PictureURI      *string
		Memo            *string
		Timestamp       time.Time // UTC
		Day             Date      // local date of Timestamp
		RecurringRuleID *int64
	}

	NewExpense struct {
		Name        string
		CategoryID  int64
		Amount      Money
		Timestamp   time.Time
		Day         Date // optional; must match Timestamp when set
		Subcategory *string
		PictureURI  *string
		Memo        *string
		Frequency   Frequency // empty means None
	}

	// ExpensePatch carries the fields to change; nil fields are left alone.
	ExpensePatch struct {
		Name       *string
		CategoryID *int64
		Amount     *Money
		PictureURI *string
		Memo       *string
	}

	RecurringRule struct {
		ID          int64
		Frequency   Frequency
		Start       time.Time
		NextTrigger time.Time
	}
)

// Valid reports whether f is a known frequency, None included.
func (f Frequency) Valid() bool {
	switch f {
	case None, Daily, Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

// Recurring reports whether f schedules further occurrences.
func (f Frequency) Recurring() bool {
	return f != "" && f != None
}

// ParseFrequency accepts the persisted names case-insensitively; an empty
// string is None.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return None, nil
	}
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
	return f, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Start returns local midnight of the date in loc.
func (d Date) Start(loc *time.Location) time.Time {
	return time.Date(d.Year(), time.Month(d.Month()), d.Day(), 0, 0, 0, 0, loc)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: invalid date %q", ErrValidation, s)
	}
	return Date{Time: t}, nil
}

// IsEmpty returns true if the date is zero
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// DateLayout is the textual form of a Date.
const DateLayout = "2006-01-02"

func (c NewCategory) Validate() error {
	if err := validateName(c.Name); err != nil {
		return err
	}
	if strings.TrimSpace(c.Color) == "" {
		return ErrEmptyColor
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p CategoryPatch) IsEmpty() bool {
	return p.Name == nil && p.Color == nil
}

func (p CategoryPatch) Validate() error {
	if p.Name != nil {
		if err := validateName(*p.Name); err != nil {
			return err
		}
	}
	if p.Color != nil && strings.TrimSpace(*p.Color) == "" {
		return ErrEmptyColor
	}
	return nil
}

func (e NewExpense) Validate() error {
	if err := validateName(e.Name); err != nil {
		return err
	}
	if e.CategoryID <= 0 {
		return fmt.Errorf("%w: category id %d", ErrValidation, e.CategoryID)
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if e.Frequency != "" && !e.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, e.Frequency)
	}
	if e.Memo != nil && len(*e.Memo) > maxMemoLength {
		return fmt.Errorf("%w: memo too long (max %d characters)", ErrValidation, maxMemoLength)
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p ExpensePatch) IsEmpty() bool {
	return p.Name == nil && p.CategoryID == nil && p.Amount == nil && p.PictureURI == nil && p.Memo == nil
}

func (p ExpensePatch) Validate() error {
	if p.Name != nil {
		if err := validateName(*p.Name); err != nil {
			return err
		}
	}
	if p.CategoryID != nil && *p.CategoryID <= 0 {
		return fmt.Errorf("%w: category id %d", ErrValidation, *p.CategoryID)
	}
	if p.Amount != nil {
		if err := p.Amount.Validate(); err != nil {
			return err
		}
	}
	if p.Memo != nil && len(*p.Memo) > maxMemoLength {
		return fmt.Errorf("%w: memo too long (max %d characters)", ErrValidation, maxMemoLength)
	}
	return nil
}

// Due reports whether the rule has an occurrence at or before now.
func (r RecurringRule) Due(now time.Time) bool {
	return !r.NextTrigger.After(now)
}

func validateName(name string) error {
	if len(strings.TrimSpace(name)) == 0 {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name too long (max %d characters)", ErrValidation, maxNameLength)
	}
	return nil
}
