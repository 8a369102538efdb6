// Package catalog manages sections and books
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"library-manager/internal/apperr"
	"library-manager/internal/models"
	"library-manager/internal/storage"
)

// Service validates and applies catalog changes
type Service struct {
	store  storage.Storage
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a catalog service. A nil clock means time.Now.
func NewService(store storage.Storage, logger *zap.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, logger: logger, now: now}
}

func (s *Service) today() time.Time {
	return models.DateOf(s.now())
}

// SectionInput holds the editable fields of a section
type SectionInput struct {
	Name        string
	DateCreated time.Time
	Description string
}

func (in *SectionInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" || in.Description == "" || in.DateCreated.IsZero() {
		return apperr.Validation("name, date and description are required")
	}
	in.DateCreated = models.DateOf(in.DateCreated)
	return nil
}

// CreateSection adds a section. The stored creation date is today.
func (s *Service) CreateSection(ctx context.Context, in SectionInput) (*models.Section, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	today := s.today()
	if in.DateCreated.Before(today) {
		return nil, apperr.Validation("date must be today or later")
	}

	section := models.Section{Name: in.Name, DateCreated: today, Description: in.Description}
	id, err := s.store.CreateSection(ctx, &section)
	if err != nil {
		return nil, mapErr(err, "section %q", in.Name)
	}
	section.ID = id

	s.logger.Info("Section created", zap.Int64("section_id", id), zap.String("name", section.Name))
	return &section, nil
}

// GetSection returns a section by id
func (s *Service) GetSection(ctx context.Context, id int64) (*models.Section, error) {
	section, err := s.store.GetSection(ctx, id)
	if err != nil {
		return nil, mapErr(err, "section %d", id)
	}
	return section, nil
}

// ListSections returns all sections ordered by name
func (s *Service) ListSections(ctx context.Context) ([]models.Section, error) {
	sections, err := s.store.ListSections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	return sections, nil
}

// UpdateSection replaces the editable fields of a section
func (s *Service) UpdateSection(ctx context.Context, id int64, in SectionInput) (*models.Section, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	section, err := s.store.GetSection(ctx, id)
	if err != nil {
		return nil, mapErr(err, "section %d", id)
	}
	section.Name = in.Name
	section.DateCreated = in.DateCreated
	section.Description = in.Description

	if err := s.store.UpdateSection(ctx, section); err != nil {
		return nil, mapErr(err, "section %q", in.Name)
	}

	s.logger.Info("Section updated", zap.Int64("section_id", id))
	return section, nil
}

// DeleteSection removes a section together with its books and their ledger rows
func (s *Service) DeleteSection(ctx context.Context, id int64) error {
	err := s.store.RunInTx(ctx, func(tx storage.Store) error {
		if _, err := tx.GetSection(ctx, id); err != nil {
			return mapErr(err, "section %d", id)
		}

		books, err := tx.ListBooksBySection(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list books: %w", err)
		}
		for _, b := range books {
			if err := deleteBook(ctx, tx, &b); err != nil {
				return err
			}
		}

		if err := tx.DeleteSection(ctx, id); err != nil {
			return mapErr(err, "section %d", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Section deleted", zap.Int64("section_id", id))
	return nil
}

// BookInput holds the editable fields of a book
type BookInput struct {
	SectionID int64
	Name      string
	Authors   string
	Content   string
	Price     int64
	DateAdded time.Time
}

func (in *BookInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Authors = strings.TrimSpace(in.Authors)
	if in.Name == "" || in.Authors == "" || strings.TrimSpace(in.Content) == "" || in.DateAdded.IsZero() {
		return apperr.Validation("name, content, authors and date are required")
	}
	if in.Price < 0 {
		return apperr.Validation("price must not be negative")
	}
	in.DateAdded = models.DateOf(in.DateAdded)
	return nil
}

// CreateBook adds a book to a section. The stored date is today.
func (s *Service) CreateBook(ctx context.Context, in BookInput) (*models.Book, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetSection(ctx, in.SectionID); err != nil {
		return nil, mapErr(err, "section %d", in.SectionID)
	}
	today := s.today()
	if in.DateAdded.Before(today) {
		return nil, apperr.Validation("date must be today or later")
	}

	book := models.Book{
		SectionID: in.SectionID,
		Name:      in.Name,
		Authors:   in.Authors,
		Content:   in.Content,
		Price:     in.Price,
		DateAdded: today,
	}
	id, err := s.store.CreateBook(ctx, &book)
	if err != nil {
		return nil, mapErr(err, "book %q", in.Name)
	}
	book.ID = id

	s.logger.Info("Book created",
		zap.Int64("book_id", id),
		zap.String("name", book.Name),
		zap.Int64("section_id", book.SectionID),
	)
	return &book, nil
}

// GetBook returns a book by id
func (s *Service) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, mapErr(err, "book %d", id)
	}
	return book, nil
}

// GetBookByName returns a book by its unique name
func (s *Service) GetBookByName(ctx context.Context, name string) (*models.Book, error) {
	book, err := s.store.GetBookByName(ctx, name)
	if err != nil {
		return nil, mapErr(err, "book %q", name)
	}
	return book, nil
}

// ListBooks returns all books ordered by name
func (s *Service) ListBooks(ctx context.Context) ([]models.Book, error) {
	books, err := s.store.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// ListBooksInSection returns the books of one section
func (s *Service) ListBooksInSection(ctx context.Context, sectionID int64) ([]models.Book, error) {
	if _, err := s.store.GetSection(ctx, sectionID); err != nil {
		return nil, mapErr(err, "section %d", sectionID)
	}
	books, err := s.store.ListBooksBySection(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// UpdateBook replaces the editable fields of a book.
// Issues keep referring to the old name after a rename. A book with pending
// requests cannot be renamed, those would no longer resolve to it.
func (s *Service) UpdateBook(ctx context.Context, id int64, in BookInput) (*models.Book, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var (
		book    *models.Book
		oldName string
	)
	err := s.store.RunInTx(ctx, func(tx storage.Store) error {
		if _, err := tx.GetSection(ctx, in.SectionID); err != nil {
			return mapErr(err, "section %d", in.SectionID)
		}

		var err error
		book, err = tx.GetBook(ctx, id)
		if err != nil {
			return mapErr(err, "book %d", id)
		}
		oldName = book.Name

		if oldName != in.Name {
			pending, err := tx.CountRequestsByBook(ctx, oldName)
			if err != nil {
				return fmt.Errorf("failed to count requests: %w", err)
			}
			if pending > 0 {
				return apperr.Validation("book %q has %d pending requests, accept or reject them before renaming", oldName, pending)
			}
		}

		book.SectionID = in.SectionID
		book.Name = in.Name
		book.Authors = in.Authors
		book.Content = in.Content
		book.Price = in.Price
		book.DateAdded = in.DateAdded

		if err := tx.UpdateBook(ctx, book); err != nil {
			return mapErr(err, "book %q", in.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldName != book.Name {
		s.logger.Warn("Book renamed, existing ledger rows keep the old name",
			zap.Int64("book_id", id),
			zap.String("old_name", oldName),
			zap.String("new_name", book.Name),
		)
	}
	return book, nil
}

// DeleteBook removes a book together with every request and issue that names it
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	err := s.store.RunInTx(ctx, func(tx storage.Store) error {
		book, err := tx.GetBook(ctx, id)
		if err != nil {
			return mapErr(err, "book %d", id)
		}
		return deleteBook(ctx, tx, book)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Book deleted", zap.Int64("book_id", id))
	return nil
}

func deleteBook(ctx context.Context, tx storage.Store, book *models.Book) error {
	if _, err := tx.DeleteRequestsByBook(ctx, book.Name); err != nil {
		return fmt.Errorf("failed to delete requests for %q: %w", book.Name, err)
	}
	if _, err := tx.DeleteIssuesByBook(ctx, book.Name); err != nil {
		return fmt.Errorf("failed to delete issues for %q: %w", book.Name, err)
	}
	if err := tx.DeleteBook(ctx, book.ID); err != nil {
		return mapErr(err, "book %d", book.ID)
	}
	return nil
}

func mapErr(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound(format, args...)
	case errors.Is(err, storage.ErrDuplicate):
		return apperr.Validation("%s already exists", fmt.Sprintf(format, args...))
	default:
		return fmt.Errorf("failed to store %s: %w", fmt.Sprintf(format, args...), err)
	}
}
