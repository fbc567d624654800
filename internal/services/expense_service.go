package services

import (
	"context"
	"fmt"

	"spesebook/internal/core"
	"spesebook/internal/log"
)

// ExpenseWriter is the subset of the store the expense service drives.
type ExpenseWriter interface {
	AddExpense(ctx context.Context, in core.NewExpense) (int64, error)
	UpdateExpense(ctx context.Context, id int64, patch core.ExpensePatch) error
	DeleteExpense(ctx context.Context, id int64) error
	GetExpense(ctx context.Context, id int64) (*core.Expense, error)
}

// ImageStore moves pictures into durable storage and removes them.
type ImageStore interface {
	SaveImage(ctx context.Context, sourceURI string) (string, error)
	DeleteImage(ctx context.Context, uri string) error
}

// ExpenseService pairs expense writes with the image store
type ExpenseService struct {
	storage ExpenseWriter
	images  ImageStore
	logger  *log.Logger
}

func NewExpenseService(storage ExpenseWriter, images ImageStore, logger *log.Logger) *ExpenseService {
	if logger == nil {
		logger = log.Default(log.ComponentExpense)
	}
	return &ExpenseService{
		storage: storage,
		images:  images,
		logger:  logger.WithComponent(log.ComponentExpense),
	}
}

// CreateExpense saves the picture at pictureSource, if any, and inserts the
// expense referencing the durable copy. The copy is removed again when the
// insert fails.
func (s *ExpenseService) CreateExpense(ctx context.Context, in core.NewExpense, pictureSource string) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}

	var saved string
	if pictureSource != "" && s.images != nil {
		uri, err := s.images.SaveImage(ctx, pictureSource)
		if err != nil {
			return 0, fmt.Errorf("save picture: %w", err)
		}
		saved = uri
		if uri != "" {
			in.PictureURI = &uri
		}
	}

	id, err := s.storage.AddExpense(ctx, in)
	if err != nil {
		if saved != "" {
			s.discardImage(ctx, saved)
		}
		return 0, err
	}
	return id, nil
}

// ReplacePicture stores a new picture for an expense and drops the old one.
// An empty source clears the picture.
func (s *ExpenseService) ReplacePicture(ctx context.Context, id int64, pictureSource string) error {
	current, err := s.storage.GetExpense(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: expense %d", core.ErrNotFound, id)
	}

	uri := ""
	if pictureSource != "" && s.images != nil {
		if uri, err = s.images.SaveImage(ctx, pictureSource); err != nil {
			return fmt.Errorf("save picture: %w", err)
		}
	}

	if err := s.storage.UpdateExpense(ctx, id, core.ExpensePatch{PictureURI: &uri}); err != nil {
		if uri != "" {
			s.discardImage(ctx, uri)
		}
		return err
	}

	if current.PictureURI != nil && *current.PictureURI != uri {
		s.discardImage(ctx, *current.PictureURI)
	}
	return nil
}

// RemoveExpense deletes the expense and then, as a separate step, its
// picture. A picture that cannot be removed is logged; the delete stands.
func (s *ExpenseService) RemoveExpense(ctx context.Context, id int64) error {
	current, err := s.storage.GetExpense(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: expense %d", core.ErrNotFound, id)
	}

	if err := s.storage.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}

	if current.PictureURI != nil {
		s.discardImage(ctx, *current.PictureURI)
	}
	return nil
}

func (s *ExpenseService) discardImage(ctx context.Context, uri string) {
	if s.images == nil {
		return
	}
	if err := s.images.DeleteImage(ctx, uri); err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete picture",
			log.FieldURI, uri,
			log.FieldError, err)
	}
}
