// Package lending implements the request and issue lifecycle of the library:
// submitting requests, administrator decisions, returns, revocation and the
// overdue sweep that runs before every operation.
package lending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"library-manager/internal/apperr"
	"library-manager/internal/models"
	"library-manager/internal/storage"
)

// MaxActiveLoans caps a user's Accepted issues, their pending requests, and the sum of both
const MaxActiveLoans = 5

// MaxFeedbackLength is the longest feedback text accepted
const MaxFeedbackLength = 255

const maxTransitionAttempts = 3

// Journal receives every ledger transition after it is committed
type Journal interface {
	Record(ctx context.Context, t models.Transition) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, models.Transition) error { return nil }

// Service runs lending operations against a storage backend
type Service struct {
	store   storage.Storage
	journal Journal
	logger  *zap.Logger
	now     func() time.Time
	locks   *userLocks
}

// Option configures a Service
type Option func(*Service)

// WithJournal sets the journal that receives transitions
func WithJournal(j Journal) Option {
	return func(s *Service) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source used to compute "today"
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a lending service
func NewService(store storage.Storage, opts ...Option) *Service {
	s := &Service{
		store:   store,
		journal: nopJournal{},
		logger:  zap.NewNop(),
		now:     time.Now,
		locks:   newUserLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the current calendar date
func (s *Service) Today() time.Time {
	return models.DateOf(s.now())
}

// SubmitRequestInput holds the fields of a new book request
type SubmitRequestInput struct {
	UserName    string
	BookName    string
	RequestedOn time.Time
	DueBy       time.Time
}

// SubmitRequest records a pending request for a book
func (s *Service) SubmitRequest(ctx context.Context, p models.Principal, in SubmitRequestInput) (*models.BookRequest, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, err
	}

	in.UserName = strings.TrimSpace(in.UserName)
	in.BookName = strings.TrimSpace(in.BookName)
	if in.UserName == "" || in.BookName == "" || in.RequestedOn.IsZero() || in.DueBy.IsZero() {
		return nil, apperr.Validation("user, book, request date and return date are required")
	}
	requestedOn := models.DateOf(in.RequestedOn)
	dueBy := models.DateOf(in.DueBy)
	today := s.Today()

	unlock := s.locks.lock(in.UserName)
	defer unlock()

	var created models.BookRequest
	err := s.store.RunInTx(ctx, func(tx storage.Store) error {
		if _, err := tx.GetUserByUsername(ctx, in.UserName); err != nil {
			return notFound(err, "user %q", in.UserName)
		}
		if _, err := tx.GetBookByName(ctx, in.BookName); err != nil {
			return notFound(err, "book %q", in.BookName)
		}

		if requestedOn.Before(today) {
			return apperr.Validation("request date must be today or later")
		}
		if requestedOn.After(dueBy) {
			return apperr.Validation("request date must not be after the return date")
		}

		dup, err := tx.HasRequest(ctx, in.UserName, in.BookName)
		if err != nil {
			return fmt.Errorf("failed to check pending requests: %w", err)
		}
		if dup {
			return apperr.Validation("book %q is already requested", in.BookName)
		}

		held, err := tx.CountIssues(ctx, storage.IssueFilter{
			UserName: in.UserName,
			BookName: in.BookName,
			States:   []models.IssueState{models.StateAccepted},
		})
		if err != nil {
			return fmt.Errorf("failed to check issued books: %w", err)
		}
		if held > 0 {
			return apperr.Validation("book %q is already issued", in.BookName)
		}

		if err := checkCapacity(ctx, tx, in.UserName); err != nil {
			return err
		}

		created = models.BookRequest{
			UserName:    in.UserName,
			BookName:    in.BookName,
			RequestDate: requestedOn,
			ReturnDate:  dueBy,
			Status:      models.RequestPending,
		}
		id, err := tx.CreateRequest(ctx, &created)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		created.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Request submitted",
		zap.Int64("request_id", created.ID),
		zap.String("user", created.UserName),
		zap.String("book", created.BookName),
		zap.String("actor", p.Username),
	)
	return &created, nil
}

func checkCapacity(ctx context.Context, tx storage.Store, userName string) error {
	accepted, err := tx.CountIssues(ctx, storage.IssueFilter{
		UserName: userName,
		States:   []models.IssueState{models.StateAccepted},
	})
	if err != nil {
		return fmt.Errorf("failed to count issued books: %w", err)
	}
	if accepted >= MaxActiveLoans {
		return apperr.Capacity("user %q already has %d issued books", userName, accepted)
	}

	pending, err := tx.CountRequests(ctx, userName)
	if err != nil {
		return fmt.Errorf("failed to count requests: %w", err)
	}
	if pending >= MaxActiveLoans {
		return apperr.Capacity("user %q already has %d pending requests", userName, pending)
	}

	if accepted+pending >= MaxActiveLoans {
		return apperr.Capacity("user %q has %d issued books and %d pending requests", userName, accepted, pending)
	}
	return nil
}

// AcceptRequest turns a pending request into an Accepted issue, or a Declined
// one when the user already holds the maximum number of books
func (s *Service) AcceptRequest(ctx context.Context, p models.Principal, requestID int64) (Outcome, error) {
	return s.resolveRequest(ctx, p, requestID, true)
}

// RejectRequest turns a pending request into a Declined issue
func (s *Service) RejectRequest(ctx context.Context, p models.Principal, requestID int64) (Outcome, error) {
	return s.resolveRequest(ctx, p, requestID, false)
}

func (s *Service) resolveRequest(ctx context.Context, p models.Principal, requestID int64, accept bool) (Outcome, error) {
	if err := s.sweep(ctx); err != nil {
		return Outcome{}, err
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return Outcome{}, notFound(err, "request %d", requestID)
	}

	unlock := s.locks.lock(req.UserName)
	defer unlock()

	today := s.Today()
	var outcome Outcome
	err = s.store.RunInTx(ctx, func(tx storage.Store) error {
		// Re-read under the lock, the request may have been resolved meanwhile
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return notFound(err, "request %d", requestID)
		}

		issue := models.BookIssue{
			UserName:   req.UserName,
			BookName:   req.BookName,
			IssueDate:  req.RequestDate,
			ReturnDate: req.ReturnDate,
			State:      models.StateDeclined,
		}
		outcome = Outcome{Kind: OutcomeApplied}

		if accept {
			book, err := tx.GetBookByName(ctx, req.BookName)
			if err != nil {
				return notFound(err, "book %q", req.BookName)
			}
			issue.BookAuthor = book.Authors

			accepted, err := tx.CountIssues(ctx, storage.IssueFilter{
				UserName: req.UserName,
				States:   []models.IssueState{models.StateAccepted},
			})
			if err != nil {
				return fmt.Errorf("failed to count issued books: %w", err)
			}

			if accepted >= MaxActiveLoans {
				outcome = Outcome{
					Kind:    OutcomeAutoDeclined,
					Message: fmt.Sprintf("user %q already has %d issued books", req.UserName, accepted),
				}
			} else {
				content := book.Content
				issue.State = models.StateAccepted
				issue.IssueDate = today
				issue.Snapshot = &content
			}
		}

		id, err := tx.CreateIssue(ctx, &issue)
		if err != nil {
			return fmt.Errorf("failed to create issue: %w", err)
		}
		issue.ID = id

		if err := tx.DeleteRequest(ctx, req.ID); err != nil {
			return fmt.Errorf("failed to delete request: %w", err)
		}

		outcome.Issue = &issue
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	s.record(ctx, p, outcome.Issue, models.StatePending)
	s.logger.Info("Request resolved",
		zap.Int64("request_id", requestID),
		zap.Int64("issue_id", outcome.Issue.ID),
		zap.String("state", outcome.Issue.State.String()),
		zap.String("outcome", string(outcome.Kind)),
		zap.String("actor", p.Username),
	)
	return outcome, nil
}

// Revoke ends an Accepted loan early. Issues in any other state are left
// untouched and an OutcomeInvalidTransition is returned.
func (s *Service) Revoke(ctx context.Context, p models.Principal, issueID int64) (Outcome, error) {
	return s.transition(ctx, p, issueID, models.StateRevoked)
}

// ReturnBook marks an issue as Returned. Any prior state is accepted.
func (s *Service) ReturnBook(ctx context.Context, p models.Principal, issueID int64) (Outcome, error) {
	return s.transition(ctx, p, issueID, models.StateReturned)
}

func (s *Service) transition(ctx context.Context, p models.Principal, issueID int64, to models.IssueState) (Outcome, error) {
	if err := s.sweep(ctx); err != nil {
		return Outcome{}, err
	}

	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return Outcome{}, notFound(err, "issue %d", issueID)
	}

	unlock := s.locks.lock(issue.UserName)
	defer unlock()

	var (
		outcome Outcome
		from    models.IssueState
	)
	err = s.store.RunInTx(ctx, func(tx storage.Store) error {
		// The state may move between the read and the conditional update
		for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
			issue, err := tx.GetIssue(ctx, issueID)
			if err != nil {
				return notFound(err, "issue %d", issueID)
			}
			from = issue.State

			if !from.CanTransitionTo(to) {
				outcome = Outcome{
					Kind:    OutcomeInvalidTransition,
					Issue:   issue,
					Message: fmt.Sprintf("status is %s, not %s, cannot change", from, models.StateAccepted),
				}
				return nil
			}

			returnDate := s.Today()
			changed, err := tx.TransitionIssue(ctx, issueID, from, to, returnDate)
			if err != nil {
				return fmt.Errorf("failed to update issue: %w", err)
			}
			if !changed {
				continue
			}

			issue.State = to
			issue.ReturnDate = returnDate
			outcome = Outcome{Kind: OutcomeApplied, Issue: issue}
			return nil
		}
		return fmt.Errorf("issue %d changed state %d times during update", issueID, maxTransitionAttempts)
	})
	if err != nil {
		return Outcome{}, err
	}

	if !outcome.Changed() {
		s.logger.Info("Transition skipped",
			zap.Int64("issue_id", issueID),
			zap.String("state", from.String()),
			zap.String("target", to.String()),
		)
		return outcome, nil
	}

	s.record(ctx, p, outcome.Issue, from)
	s.logger.Info("Issue updated",
		zap.Int64("issue_id", issueID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("actor", p.Username),
	)
	return outcome, nil
}

// SweepOverdue revokes every Accepted issue whose return date has passed
// and returns how many were revoked
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	today := s.Today()

	var revoked []models.BookIssue
	err := s.store.RunInTx(ctx, func(tx storage.Store) error {
		issues, err := tx.ListIssues(ctx, storage.IssueFilter{States: []models.IssueState{models.StateAccepted}})
		if err != nil {
			return fmt.Errorf("failed to list issued books: %w", err)
		}

		for _, issue := range issues {
			if !today.After(issue.ReturnDate) {
				continue
			}
			changed, err := tx.TransitionIssue(ctx, issue.ID, models.StateAccepted, models.StateRevoked, today)
			if err != nil {
				return fmt.Errorf("failed to revoke issue %d: %w", issue.ID, err)
			}
			if !changed {
				// Returned or revoked concurrently
				continue
			}
			issue.State = models.StateRevoked
			issue.ReturnDate = today
			revoked = append(revoked, issue)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep overdue issues: %w", err)
	}

	for i := range revoked {
		s.record(ctx, models.System, &revoked[i], models.StateAccepted)
	}
	if len(revoked) > 0 {
		s.logger.Info("Revoked overdue issues", zap.Int("count", len(revoked)))
	}
	return len(revoked), nil
}

func (s *Service) sweep(ctx context.Context) error {
	_, err := s.SweepOverdue(ctx)
	return err
}

// AttachFeedback stores feedback text on an issue
func (s *Service) AttachFeedback(ctx context.Context, p models.Principal, issueID int64, text string) (*models.BookIssue, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("feedback is required")
	}
	if len([]rune(text)) > MaxFeedbackLength {
		return nil, apperr.Validation("feedback must be at most %d characters", MaxFeedbackLength)
	}

	var updated *models.BookIssue
	err := s.store.RunInTx(ctx, func(tx storage.Store) error {
		if err := tx.SetIssueFeedback(ctx, issueID, text); err != nil {
			return notFound(err, "issue %d", issueID)
		}
		issue, err := tx.GetIssue(ctx, issueID)
		if err != nil {
			return notFound(err, "issue %d", issueID)
		}
		updated = issue
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Feedback attached",
		zap.Int64("issue_id", issueID),
		zap.String("book", updated.BookName),
		zap.String("actor", p.Username),
	)
	return updated, nil
}

func (s *Service) record(ctx context.Context, p models.Principal, issue *models.BookIssue, from models.IssueState) {
	t := models.Transition{
		ID:       uuid.NewString(),
		IssueID:  issue.ID,
		UserName: issue.UserName,
		BookName: issue.BookName,
		From:     from,
		To:       issue.State,
		Actor:    p.Username,
		At:       s.now().UTC(),
	}
	if err := s.journal.Record(ctx, t); err != nil {
		s.logger.Warn("Failed to record transition",
			zap.Error(err),
			zap.Int64("issue_id", issue.ID),
			zap.String("to", issue.State.String()),
		)
	}
}

// notFound converts storage.ErrNotFound into an apperr not found error
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return fmt.Errorf("failed to load %s: %w", fmt.Sprintf(format, args...), err)
}
