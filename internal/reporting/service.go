// Package reporting computes read-only aggregates over the catalog, the
// ledger and the transition journal
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"library-manager/internal/models"
	"library-manager/internal/storage"
)

// TopBooksLimit is the number of books shown in the dashboard ranking
const TopBooksLimit = 5

// JournalReader answers period statistics from the transition journal
type JournalReader interface {
	GetTopBooks(ctx context.Context, limit int, startDate, endDate time.Time, userName string) ([]models.BookStat, error)
	GetLastTransitions(ctx context.Context, limit int) ([]models.Transition, error)
}

// Service builds reports
type Service struct {
	store   storage.Storage
	journal JournalReader
}

// NewService creates a reporting service. journal may be nil when no journal is configured.
func NewService(store storage.Storage, journal JournalReader) *Service {
	return &Service{store: store, journal: journal}
}

// Dashboard is the administrator overview
type Dashboard struct {
	Counts   models.Counts             `json:"counts"`
	Sections []models.SectionBookCount `json:"sections"`
	TopBooks []models.BookStat         `json:"top_books"`
}

// Dashboard returns counts, books per section and the most issued books
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	counts, err := s.Counts(ctx)
	if err != nil {
		return nil, err
	}

	sections, err := s.store.GetSectionBookCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count books per section: %w", err)
	}

	top, err := s.TopIssuedBooks(ctx, TopBooksLimit)
	if err != nil {
		return nil, err
	}

	return &Dashboard{Counts: counts, Sections: sections, TopBooks: top}, nil
}

// Counts returns the dashboard totals
func (s *Service) Counts(ctx context.Context) (models.Counts, error) {
	var c models.Counts

	users, err := s.store.CountUsers(ctx)
	if err != nil {
		return c, fmt.Errorf("failed to count users: %w", err)
	}
	sections, err := s.store.CountSections(ctx)
	if err != nil {
		return c, fmt.Errorf("failed to count sections: %w", err)
	}
	books, err := s.store.CountBooks(ctx)
	if err != nil {
		return c, fmt.Errorf("failed to count books: %w", err)
	}
	accepted, err := s.store.CountIssues(ctx, storage.IssueFilter{States: []models.IssueState{models.StateAccepted}})
	if err != nil {
		return c, fmt.Errorf("failed to count issued books: %w", err)
	}
	pending, err := s.store.CountRequests(ctx, "")
	if err != nil {
		return c, fmt.Errorf("failed to count requests: %w", err)
	}

	c = models.Counts{
		Users:           users,
		Sections:        sections,
		Books:           books,
		AcceptedIssues:  accepted,
		PendingRequests: pending,
	}
	return c, nil
}

// TopIssuedBooks ranks books by issues that were Accepted, Returned or Revoked.
// Ties are broken by book name ascending.
func (s *Service) TopIssuedBooks(ctx context.Context, limit int) ([]models.BookStat, error) {
	stats, err := s.store.GetTopBooks(ctx, limit, models.IssuedStates)
	if err != nil {
		return nil, fmt.Errorf("failed to rank books: %w", err)
	}
	return stats, nil
}

// BookHolders lists the users currently holding an Accepted copy of a book
func (s *Service) BookHolders(ctx context.Context, bookName string) ([]models.BookHolder, error) {
	issues, err := s.store.ListIssues(ctx, storage.IssueFilter{
		BookName: bookName,
		States:   []models.IssueState{models.StateAccepted},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list holders: %w", err)
	}

	holders := make([]models.BookHolder, 0, len(issues))
	for _, i := range issues {
		holders = append(holders, models.BookHolder{
			UserName:   i.UserName,
			IssueDate:  i.IssueDate,
			ReturnDate: i.ReturnDate,
		})
	}
	return holders, nil
}

// BookFeedback lists the feedback left on a book
func (s *Service) BookFeedback(ctx context.Context, bookName string) ([]models.BookFeedback, error) {
	issues, err := s.store.ListIssues(ctx, storage.IssueFilter{BookName: bookName, WithFeedback: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}

	feedback := make([]models.BookFeedback, 0, len(issues))
	for _, i := range issues {
		feedback = append(feedback, models.BookFeedback{UserName: i.UserName, Feedback: *i.Feedback})
	}
	return feedback, nil
}

// AcceptedBookNames returns the distinct names of books with at least one Accepted issue
func (s *Service) AcceptedBookNames(ctx context.Context) ([]string, error) {
	issues, err := s.store.ListIssues(ctx, storage.IssueFilter{States: []models.IssueState{models.StateAccepted}})
	if err != nil {
		return nil, fmt.Errorf("failed to list issued books: %w", err)
	}

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, i := range issues {
		if _, ok := seen[i.BookName]; ok {
			continue
		}
		seen[i.BookName] = struct{}{}
		names = append(names, i.BookName)
	}
	sort.Strings(names)
	return names, nil
}

// ErrNoJournal is returned by journal backed reports when no journal is configured
var ErrNoJournal = errors.New("transition journal is not configured")

// Activity ranks books by acceptances within a period, optionally for one user
func (s *Service) Activity(ctx context.Context, limit int, from, to time.Time, userName string) ([]models.BookStat, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	stats, err := s.journal.GetTopBooks(ctx, limit, from, to, userName)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return stats, nil
}

// RecentTransitions returns the newest journal entries
func (s *Service) RecentTransitions(ctx context.Context, limit int) ([]models.Transition, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	transitions, err := s.journal.GetLastTransitions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transitions: %w", err)
	}
	return transitions, nil
}
