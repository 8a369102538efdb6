package lending

import (
	"context"
	"fmt"
	"strings"

	"library-manager/internal/apperr"
	"library-manager/internal/models"
	"library-manager/internal/storage"
)

// Reading is the content of a book as served to a reader
type Reading struct {
	BookName string `json:"book_name"`
	Authors  string `json:"authors"`
	Content  string `json:"content"`
}

// ReadContent returns the book content for a caller who has any issue for the book.
// The caller's latest content snapshot is preferred over the live content.
func (s *Service) ReadContent(ctx context.Context, p models.Principal, bookName string) (*Reading, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, err
	}

	book, err := s.store.GetBookByName(ctx, strings.TrimSpace(bookName))
	if err != nil {
		return nil, notFound(err, "book %q", bookName)
	}

	issues, err := s.store.ListIssues(ctx, storage.IssueFilter{UserName: p.Username, BookName: book.Name})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	if len(issues) == 0 && !p.IsAdmin {
		return nil, apperr.Forbidden("user %q has no issue for book %q", p.Username, book.Name)
	}

	reading := &Reading{BookName: book.Name, Authors: book.Authors, Content: book.Content}
	// Issues are ordered by id, newest last
	for i := len(issues) - 1; i >= 0; i-- {
		if issues[i].Snapshot != nil {
			reading.Content = *issues[i].Snapshot
			break
		}
	}
	return reading, nil
}

// Quote is the payment confirmation for a book. No charge is made.
type Quote struct {
	BookID   int64  `json:"book_id"`
	BookName string `json:"book_name"`
	Authors  string `json:"authors"`
	Price    int64  `json:"price"`
	UserName string `json:"user_name"`
}

// PaymentQuote returns the confirmation details for paying for a book
func (s *Service) PaymentQuote(ctx context.Context, p models.Principal, bookID int64) (*Quote, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, err
	}

	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, notFound(err, "book %d", bookID)
	}
	return &Quote{
		BookID:   book.ID,
		BookName: book.Name,
		Authors:  book.Authors,
		Price:    book.Price,
		UserName: p.Username,
	}, nil
}

// PendingRequests lists pending requests, all of them when userName is empty
func (s *Service) PendingRequests(ctx context.Context, userName string) ([]models.BookRequest, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, err
	}

	requests, err := s.store.ListRequests(ctx, userName)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// Issues lists issues matching the filter
func (s *Service) Issues(ctx context.Context, filter storage.IssueFilter) ([]models.BookIssue, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, err
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

// Quota reports how many loans a user has and how many more they may request
type Quota struct {
	Accepted  int `json:"accepted"`
	Pending   int `json:"pending"`
	Remaining int `json:"remaining"`
}

// UserQuota returns the loan counts for a user
func (s *Service) UserQuota(ctx context.Context, userName string) (Quota, error) {
	if err := s.sweep(ctx); err != nil {
		return Quota{}, err
	}

	accepted, err := s.store.CountIssues(ctx, storage.IssueFilter{
		UserName: userName,
		States:   []models.IssueState{models.StateAccepted},
	})
	if err != nil {
		return Quota{}, fmt.Errorf("failed to count issued books: %w", err)
	}
	pending, err := s.store.CountRequests(ctx, userName)
	if err != nil {
		return Quota{}, fmt.Errorf("failed to count requests: %w", err)
	}

	q := Quota{Accepted: accepted, Pending: pending, Remaining: MaxActiveLoans - accepted - pending}
	if q.Remaining < 0 {
		q.Remaining = 0
	}
	return q, nil
}

// Issue returns a single issue
func (s *Service) Issue(ctx context.Context, issueID int64) (*models.BookIssue, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, err
	}

	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, notFound(err, "issue %d", issueID)
	}
	return issue, nil
}
