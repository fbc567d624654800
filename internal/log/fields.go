package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldExpenseID   = "expense_id"
	FieldExpenseName = "expense_name"
	FieldAmountCents = "amount_cents"
	FieldCategoryID  = "category_id"
	FieldCategory    = "category"
	FieldRuleID      = "rule_id"
	FieldFrequency   = "frequency"
	FieldDay         = "day"
	FieldDueAt       = "due_at"
	FieldNextTrigger = "next_trigger"
	FieldCount       = "count"
	FieldRangeStart  = "range_start"
	FieldRangeEnd    = "range_end"
	FieldPath        = "path"
	FieldURI         = "uri"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentStorage    = "storage"
	ComponentRecurrence = "recurrence"
	ComponentReporting  = "reporting"
	ComponentExpense    = "expense"
	ComponentImages     = "images"
	ComponentSession    = "session"
	ComponentCache      = "cache"
	ComponentMigrate    = "migrate"
)

// Operations defines standard operation names
const (
	OpCreate      = "create"
	OpRead        = "read"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpList        = "list"
	OpMigrate     = "migrate"
	OpCatchUp     = "catch_up"
	OpMaterialize = "materialize"
	OpCancel      = "cancel"
	OpAggregate   = "aggregate"
	OpStartup     = "startup"
	OpShutdown    = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithExpense adds expense-related fields
func (f LogFields) WithExpense(id int64, name string, amountCents int64, categoryID int64) LogFields {
	f[FieldExpenseID] = id
	f[FieldExpenseName] = name
	f[FieldAmountCents] = amountCents
	f[FieldCategoryID] = categoryID
	return f
}

// WithRule adds recurring rule fields
func (f LogFields) WithRule(id int64, frequency string) LogFields {
	f[FieldRuleID] = id
	f[FieldFrequency] = frequency
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
