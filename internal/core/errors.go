package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, the recurrence engine and reporting.
// Callers match with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrDuplicate          = errors.New("duplicate entry")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTransientQuery     = errors.New("unparsable query bound")
)

var (
	ErrInvalidAmount    = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrEmptyName        = fmt.Errorf("%w: empty name", ErrValidation)
	ErrEmptyColor       = fmt.Errorf("%w: empty color", ErrValidation)
	ErrInvalidFrequency = fmt.Errorf("%w: invalid frequency", ErrValidation)
	ErrZeroTimestamp    = fmt.Errorf("%w: timestamp cannot be zero", ErrValidation)
	ErrDayMismatch      = fmt.Errorf("%w: day does not match timestamp", ErrValidation)
	ErrSentinelCategory = fmt.Errorf("%w: the None category cannot be renamed or deleted", ErrValidation)
)
