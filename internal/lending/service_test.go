package lending

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-manager/internal/apperr"
	"library-manager/internal/models"
	"library-manager/internal/storage"
	"library-manager/internal/storage/sqlstore"
	"library-manager/internal/storage/stubs"
)

var (
	admin = models.Principal{UserID: 1, Username: "admin", IsAdmin: true}
	alice = models.Principal{UserID: 2, Username: "alice"}
)

type fixture struct {
	svc     *Service
	store   storage.Storage
	journal *stubs.MemoryJournal
	now     time.Time
	today   time.Time
}

func newFixture(t *testing.T, store storage.Storage) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:   store,
		journal: stubs.NewMemoryJournal(),
		now:     time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC),
	}
	f.today = models.DateOf(f.now)
	f.svc = NewService(store, WithJournal(f.journal), WithClock(func() time.Time { return f.now }))

	for _, u := range []models.User{
		{Username: "admin", PasswordHash: "x", IsAdmin: true},
		{Username: "alice", PasswordHash: "x"},
		{Username: "bob", PasswordHash: "x"},
	} {
		_, err := store.CreateUser(ctx, &u)
		require.NoError(t, err)
	}

	sectionID, err := store.CreateSection(ctx, &models.Section{Name: "Fiction", DateCreated: f.today})
	require.NoError(t, err)
	for i := 1; i <= 8; i++ {
		_, err := store.CreateBook(ctx, &models.Book{
			SectionID: sectionID,
			Name:      bookName(i),
			Authors:   fmt.Sprintf("Author %d", i),
			Content:   fmt.Sprintf("Content of book %d", i),
			Price:     int64(i),
			DateAdded: f.today,
		})
		require.NoError(t, err)
	}
	return f
}

func newMockFixture(t *testing.T) *fixture {
	return newFixture(t, stubs.NewMockDB())
}

func bookName(i int) string {
	return fmt.Sprintf("Book %d", i)
}

func (f *fixture) submit(t *testing.T, user string, book int) *models.BookRequest {
	t.Helper()
	req, err := f.svc.SubmitRequest(context.Background(), alice, SubmitRequestInput{
		UserName:    user,
		BookName:    bookName(book),
		RequestedOn: f.today,
		DueBy:       f.today.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) issue(t *testing.T, issue models.BookIssue) int64 {
	t.Helper()
	id, err := f.store.CreateIssue(context.Background(), &issue)
	require.NoError(t, err)
	return id
}

func TestSubmitRequest_Validation(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	f.submit(t, "alice", 1)
	f.issue(t, models.BookIssue{
		UserName: "alice", BookName: bookName(2), IssueDate: f.today,
		ReturnDate: f.today.AddDate(0, 0, 3), State: models.StateAccepted,
	})

	testCases := []struct {
		name    string
		in      SubmitRequestInput
		wantErr error
	}{
		{
			name:    "unknown user",
			in:      SubmitRequestInput{UserName: "nobody", BookName: bookName(3), RequestedOn: f.today, DueBy: f.today},
			wantErr: apperr.ErrNotFound,
		},
		{
			name:    "unknown book",
			in:      SubmitRequestInput{UserName: "alice", BookName: "Missing", RequestedOn: f.today, DueBy: f.today},
			wantErr: apperr.ErrNotFound,
		},
		{
			name:    "missing dates",
			in:      SubmitRequestInput{UserName: "alice", BookName: bookName(3)},
			wantErr: apperr.ErrValidationFailed,
		},
		{
			name:    "requested in the past",
			in:      SubmitRequestInput{UserName: "alice", BookName: bookName(3), RequestedOn: f.today.AddDate(0, 0, -1), DueBy: f.today},
			wantErr: apperr.ErrValidationFailed,
		},
		{
			name:    "requested after due date",
			in:      SubmitRequestInput{UserName: "alice", BookName: bookName(3), RequestedOn: f.today.AddDate(0, 0, 2), DueBy: f.today.AddDate(0, 0, 1)},
			wantErr: apperr.ErrValidationFailed,
		},
		{
			name:    "already requested",
			in:      SubmitRequestInput{UserName: "alice", BookName: bookName(1), RequestedOn: f.today, DueBy: f.today},
			wantErr: apperr.ErrValidationFailed,
		},
		{
			name:    "already issued",
			in:      SubmitRequestInput{UserName: "alice", BookName: bookName(2), RequestedOn: f.today, DueBy: f.today},
			wantErr: apperr.ErrValidationFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SubmitRequest(ctx, alice, tc.in)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	// Same-day request with same-day return is allowed
	_, err := f.svc.SubmitRequest(ctx, alice, SubmitRequestInput{
		UserName: "alice", BookName: bookName(3), RequestedOn: f.today, DueBy: f.today,
	})
	assert.NoError(t, err)
}

func TestSubmitRequest_PendingCap(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	for i := 1; i <= MaxActiveLoans; i++ {
		f.submit(t, "alice", i)
	}

	_, err := f.svc.SubmitRequest(ctx, alice, SubmitRequestInput{
		UserName: "alice", BookName: bookName(6), RequestedOn: f.today, DueBy: f.today,
	})
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	n, err := f.store.CountRequests(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, MaxActiveLoans, n)

	// Other users are unaffected
	f.submit(t, "bob", 6)
}

func TestSubmitRequest_CombinedCap(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		f.issue(t, models.BookIssue{
			UserName: "alice", BookName: bookName(i), IssueDate: f.today,
			ReturnDate: f.today.AddDate(0, 0, 3), State: models.StateAccepted,
		})
	}
	f.submit(t, "alice", 4)
	f.submit(t, "alice", 5)

	_, err := f.svc.SubmitRequest(ctx, alice, SubmitRequestInput{
		UserName: "alice", BookName: bookName(6), RequestedOn: f.today, DueBy: f.today,
	})
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
}

func TestSubmitRequest_IssueCap(t *testing.T) {
	f := newMockFixture(t)

	for i := 1; i <= MaxActiveLoans; i++ {
		f.issue(t, models.BookIssue{
			UserName: "alice", BookName: bookName(i), IssueDate: f.today,
			ReturnDate: f.today.AddDate(0, 0, 3), State: models.StateAccepted,
		})
	}

	_, err := f.svc.SubmitRequest(context.Background(), alice, SubmitRequestInput{
		UserName: "alice", BookName: bookName(6), RequestedOn: f.today, DueBy: f.today,
	})
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
}

func TestSubmitRequest_ConcurrentCap(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(book int) {
			defer wg.Done()
			_, err := f.svc.SubmitRequest(ctx, alice, SubmitRequestInput{
				UserName: "alice", BookName: bookName(book), RequestedOn: f.today, DueBy: f.today,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, MaxActiveLoans, succeeded)
	n, err := f.store.CountRequests(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, MaxActiveLoans, n)
}

func testRoundTrip(t *testing.T, f *fixture) {
	ctx := context.Background()
	requestedOn := f.today.AddDate(0, 0, 1)

	req, err := f.svc.SubmitRequest(ctx, alice, SubmitRequestInput{
		UserName:    "alice",
		BookName:    bookName(1),
		RequestedOn: requestedOn,
		DueBy:       requestedOn.AddDate(0, 0, 7),
	})
	require.NoError(t, err)

	outcome, err := f.svc.AcceptRequest(ctx, admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome.Kind)

	issues, err := f.store.ListIssues(ctx, storage.IssueFilter{UserName: "alice", BookName: bookName(1)})
	require.NoError(t, err)
	require.Len(t, issues, 1)

	issue := issues[0]
	assert.Equal(t, models.StateAccepted, issue.State)
	assert.Equal(t, f.today, issue.IssueDate)
	assert.Equal(t, requestedOn.AddDate(0, 0, 7), issue.ReturnDate)
	assert.Equal(t, "Author 1", issue.BookAuthor)
	require.NotNil(t, issue.Snapshot)
	assert.Equal(t, "Content of book 1", *issue.Snapshot)

	requests, err := f.store.ListRequests(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestAcceptRequest_RoundTrip(t *testing.T) {
	testRoundTrip(t, newMockFixture(t))
}

func TestAcceptRequest_RoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "lending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Initialize(ctx))

	testRoundTrip(t, newFixture(t, db))
}

func TestAcceptRequest_AutoDeclineAtCap(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	for i := 1; i <= MaxActiveLoans; i++ {
		req := f.submit(t, "alice", i)
		outcome, err := f.svc.AcceptRequest(ctx, admin, req.ID)
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, outcome.Kind)
	}

	// A sixth request can only exist if it predates the cap
	sixth := models.BookRequest{
		UserName:    "alice",
		BookName:    bookName(6),
		RequestDate: f.today,
		ReturnDate:  f.today.AddDate(0, 0, 3),
		Status:      models.RequestPending,
	}
	id, err := f.store.CreateRequest(ctx, &sixth)
	require.NoError(t, err)

	outcome, err := f.svc.AcceptRequest(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoDeclined, outcome.Kind)
	require.NotNil(t, outcome.Issue)
	assert.Equal(t, models.StateDeclined, outcome.Issue.State)
	assert.Equal(t, sixth.RequestDate, outcome.Issue.IssueDate)
	assert.Equal(t, sixth.ReturnDate, outcome.Issue.ReturnDate)
	assert.Nil(t, outcome.Issue.Snapshot)

	_, err = f.store.GetRequest(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	accepted, err := f.store.CountIssues(ctx, storage.IssueFilter{UserName: "alice", States: []models.IssueState{models.StateAccepted}})
	require.NoError(t, err)
	assert.Equal(t, MaxActiveLoans, accepted)
}

func TestAcceptRequest_NotFound(t *testing.T) {
	f := newMockFixture(t)

	_, err := f.svc.AcceptRequest(context.Background(), admin, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.RejectRequest(context.Background(), admin, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRejectRequest(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	req := f.submit(t, "alice", 1)

	outcome, err := f.svc.RejectRequest(ctx, admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome.Kind)
	assert.Equal(t, models.StateDeclined, outcome.Issue.State)
	assert.Equal(t, req.RequestDate, outcome.Issue.IssueDate)
	assert.Equal(t, req.ReturnDate, outcome.Issue.ReturnDate)

	_, err = f.store.GetRequest(ctx, req.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSweepOverdue(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	overdue := f.issue(t, models.BookIssue{
		UserName: "alice", BookName: bookName(1), IssueDate: f.today.AddDate(0, 0, -7),
		ReturnDate: f.today.AddDate(0, 0, -1), State: models.StateAccepted,
	})
	dueToday := f.issue(t, models.BookIssue{
		UserName: "alice", BookName: bookName(2), IssueDate: f.today.AddDate(0, 0, -7),
		ReturnDate: f.today, State: models.StateAccepted,
	})
	future := f.issue(t, models.BookIssue{
		UserName: "alice", BookName: bookName(3), IssueDate: f.today,
		ReturnDate: f.today.AddDate(0, 0, 1), State: models.StateAccepted,
	})
	returned := f.issue(t, models.BookIssue{
		UserName: "alice", BookName: bookName(4), IssueDate: f.today.AddDate(0, 0, -9),
		ReturnDate: f.today.AddDate(0, 0, -5), State: models.StateReturned,
	})

	n, err := f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after := func(id int64) models.BookIssue {
		issue, err := f.store.GetIssue(ctx, id)
		require.NoError(t, err)
		return *issue
	}

	got := after(overdue)
	assert.Equal(t, models.StateRevoked, got.State)
	assert.Equal(t, f.today, got.ReturnDate)
	assert.Equal(t, models.StateAccepted, after(dueToday).State)
	assert.Equal(t, models.StateAccepted, after(future).State)
	assert.Equal(t, f.today.AddDate(0, 0, 1), after(future).ReturnDate)
	assert.Equal(t, models.StateReturned, after(returned).State)

	before, err := f.store.ListIssues(ctx, storage.IssueFilter{})
	require.NoError(t, err)

	// A second sweep changes nothing
	n, err = f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	again, err := f.store.ListIssues(ctx, storage.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, again)

	last, err := f.journal.GetLastTransitions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, models.StateRevoked, last[0].To)
	assert.Equal(t, models.System.Username, last[0].Actor)
}

func TestSweepRunsBeforeOperations(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	id := f.issue(t, models.BookIssue{
		UserName: "alice", BookName: bookName(1), IssueDate: f.today.AddDate(0, 0, -7),
		ReturnDate: f.today.AddDate(0, 0, -1), State: models.StateAccepted,
	})

	_, err := f.svc.PendingRequests(ctx, "alice")
	require.NoError(t, err)

	issue, err := f.store.GetIssue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StateRevoked, issue.State)

	// The freed slot lets the user request the book again
	f.submit(t, "alice", 1)
}

func TestRevoke(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	accepted := f.issue(t, models.BookIssue{
		UserName: "alice", BookName: bookName(1), IssueDate: f.today,
		ReturnDate: f.today.AddDate(0, 0, 5), State: models.StateAccepted,
	})

	outcome, err := f.svc.Revoke(ctx, admin, accepted)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome.Kind)
	assert.Equal(t, models.StateRevoked, outcome.Issue.State)
	assert.Equal(t, f.today, outcome.Issue.ReturnDate)
	assert.NoError(t, outcome.Err())

	_, err = f.svc.Revoke(ctx, admin, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRevoke_GuardOnNonAccepted(t *testing.T) {
	testCases := []struct {
		name  string
		state models.IssueState
	}{
		{name: "returned", state: models.StateReturned},
		{name: "declined", state: models.StateDeclined},
		{name: "revoked", state: models.StateRevoked},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newMockFixture(t)
			ctx := context.Background()
			returnDate := f.today.AddDate(0, 0, -3)

			id := f.issue(t, models.BookIssue{
				UserName: "alice", BookName: bookName(1), IssueDate: f.today.AddDate(0, 0, -9),
				ReturnDate: returnDate, State: tc.state,
			})

			outcome, err := f.svc.Revoke(ctx, admin, id)
			require.NoError(t, err)
			assert.Equal(t, OutcomeInvalidTransition, outcome.Kind)
			assert.False(t, outcome.Changed())
			assert.ErrorIs(t, outcome.Err(), apperr.ErrInvalidStateTransition)

			issue, err := f.store.GetIssue(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tc.state, issue.State)
			assert.Equal(t, returnDate, issue.ReturnDate)
		})
	}
}

func TestReturnBook_FromAnyState(t *testing.T) {
	for _, state := range []models.IssueState{models.StateAccepted, models.StateDeclined, models.StateRevoked, models.StateReturned} {
		t.Run(state.String(), func(t *testing.T) {
			f := newMockFixture(t)
			ctx := context.Background()

			id := f.issue(t, models.BookIssue{
				UserName: "alice", BookName: bookName(1), IssueDate: f.today.AddDate(0, 0, -2),
				ReturnDate: f.today.AddDate(0, 0, 4), State: state,
			})

			outcome, err := f.svc.ReturnBook(ctx, alice, id)
			require.NoError(t, err)
			assert.Equal(t, OutcomeApplied, outcome.Kind)
			assert.Equal(t, models.StateReturned, outcome.Issue.State)
			assert.Equal(t, f.today, outcome.Issue.ReturnDate)
		})
	}
}

func TestAttachFeedback(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	id := f.issue(t, models.BookIssue{
		UserName: "alice", BookName: bookName(1), IssueDate: f.today,
		ReturnDate: f.today, State: models.StateDeclined,
	})

	issue, err := f.svc.AttachFeedback(ctx, alice, id, "  Great read  ")
	require.NoError(t, err)
	require.NotNil(t, issue.Feedback)
	assert.Equal(t, "Great read", *issue.Feedback)

	_, err = f.svc.AttachFeedback(ctx, alice, id, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	long := make([]byte, MaxFeedbackLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.svc.AttachFeedback(ctx, alice, id, string(long))
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	_, err = f.svc.AttachFeedback(ctx, alice, 999, "text")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReadContent(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	_, err := f.svc.ReadContent(ctx, alice, bookName(1))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.ReadContent(ctx, alice, "Missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	reading, err := f.svc.ReadContent(ctx, admin, bookName(1))
	require.NoError(t, err)
	assert.Equal(t, "Content of book 1", reading.Content)

	req := f.submit(t, "alice", 1)
	_, err = f.svc.AcceptRequest(ctx, admin, req.ID)
	require.NoError(t, err)

	// Later catalog edits do not change the accepted snapshot
	book, err := f.store.GetBookByName(ctx, bookName(1))
	require.NoError(t, err)
	book.Content = "Edited"
	require.NoError(t, f.store.UpdateBook(ctx, book))

	reading, err = f.svc.ReadContent(ctx, alice, bookName(1))
	require.NoError(t, err)
	assert.Equal(t, "Content of book 1", reading.Content)
	assert.Equal(t, "Author 1", reading.Authors)
}

func TestPaymentQuoteAndQuota(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	book, err := f.store.GetBookByName(ctx, bookName(3))
	require.NoError(t, err)

	quote, err := f.svc.PaymentQuote(ctx, alice, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), quote.Price)
	assert.Equal(t, "alice", quote.UserName)

	_, err = f.svc.PaymentQuote(ctx, alice, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.submit(t, "alice", 1)
	f.submit(t, "alice", 2)
	f.issue(t, models.BookIssue{
		UserName: "alice", BookName: bookName(4), IssueDate: f.today,
		ReturnDate: f.today, State: models.StateAccepted,
	})

	q, err := f.svc.UserQuota(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Quota{Accepted: 1, Pending: 2, Remaining: 2}, q)
}

func TestJournalRecordsTransitions(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	req := f.submit(t, "alice", 1)
	outcome, err := f.svc.AcceptRequest(ctx, admin, req.ID)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	_, err = f.svc.ReturnBook(ctx, alice, outcome.Issue.ID)
	require.NoError(t, err)

	last, err := f.journal.GetLastTransitions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, last, 2)

	assert.Equal(t, models.StateAccepted, last[0].From)
	assert.Equal(t, models.StateReturned, last[0].To)
	assert.Equal(t, "alice", last[0].Actor)

	assert.Equal(t, models.StatePending, last[1].From)
	assert.Equal(t, models.StateAccepted, last[1].To)
	assert.Equal(t, "admin", last[1].Actor)
	assert.NotEmpty(t, last[1].ID)
}

func TestIssue(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	id := f.issue(t, models.BookIssue{UserName: "alice", BookName: bookName(1), State: models.StateReturned})

	issue, err := f.svc.Issue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, issue.ID)
	assert.Equal(t, "alice", issue.UserName)
	assert.Equal(t, models.StateReturned, issue.State)

	_, err = f.svc.Issue(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// interleavedStore applies a competing write inside the transaction right
// before the first issue update, as another committer would under read committed.
type interleavedStore struct {
	storage.Storage
	once   sync.Once
	before func(ctx context.Context, tx storage.Store)
}

func (s *interleavedStore) RunInTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return s.Storage.RunInTx(ctx, func(tx storage.Store) error {
		return fn(&interleavedTx{Store: tx, s: s})
	})
}

func (s *interleavedStore) interfere(ctx context.Context, tx storage.Store) {
	if s.before != nil {
		s.once.Do(func() { s.before(ctx, tx) })
	}
}

type interleavedTx struct {
	storage.Store
	s *interleavedStore
}

func (tx *interleavedTx) TransitionIssue(ctx context.Context, id int64, from, to models.IssueState, returnDate time.Time) (bool, error) {
	tx.s.interfere(ctx, tx.Store)
	return tx.Store.TransitionIssue(ctx, id, from, to, returnDate)
}

func (tx *interleavedTx) SetIssueFeedback(ctx context.Context, id int64, feedback string) error {
	tx.s.interfere(ctx, tx.Store)
	return tx.Store.SetIssueFeedback(ctx, id, feedback)
}

func TestConcurrentIssueWrites(t *testing.T) {
	testCases := []struct {
		name      string
		initial   models.IssueState
		overdue   bool
		competing models.IssueState
		run       func(f *fixture, id int64) error
		want      models.IssueState
		feedback  bool
		journaled []models.IssueState
	}{
		{
			name:      "sweep skips a loan returned meanwhile",
			initial:   models.StateAccepted,
			overdue:   true,
			competing: models.StateReturned,
			run: func(f *fixture, id int64) error {
				n, err := f.svc.SweepOverdue(context.Background())
				if err == nil && n != 0 {
					err = fmt.Errorf("swept %d issues", n)
				}
				return err
			},
			want: models.StateReturned,
		},
		{
			name:      "return retries after a concurrent revoke",
			initial:   models.StateAccepted,
			competing: models.StateRevoked,
			run: func(f *fixture, id int64) error {
				_, err := f.svc.ReturnBook(context.Background(), alice, id)
				return err
			},
			want:      models.StateReturned,
			journaled: []models.IssueState{models.StateRevoked},
		},
		{
			name:      "feedback keeps a concurrent revoke",
			initial:   models.StateAccepted,
			competing: models.StateRevoked,
			run: func(f *fixture, id int64) error {
				_, err := f.svc.AttachFeedback(context.Background(), alice, id, "Gripping")
				return err
			},
			want:     models.StateRevoked,
			feedback: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := &interleavedStore{Storage: stubs.NewMockDB()}
			f := newFixture(t, store)
			ctx := context.Background()

			due := f.today.AddDate(0, 0, 3)
			if tc.overdue {
				due = f.today.AddDate(0, 0, -1)
			}
			id := f.issue(t, models.BookIssue{
				UserName: "alice", BookName: bookName(1), IssueDate: f.today.AddDate(0, 0, -7),
				ReturnDate: due, State: tc.initial,
			})

			store.before = func(ctx context.Context, tx storage.Store) {
				changed, err := tx.TransitionIssue(ctx, id, tc.initial, tc.competing, f.today)
				require.NoError(t, err)
				require.True(t, changed)
			}

			require.NoError(t, tc.run(f, id))

			issue, err := f.store.GetIssue(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tc.want, issue.State)
			if tc.feedback {
				require.NotNil(t, issue.Feedback)
				assert.Equal(t, "Gripping", *issue.Feedback)
			}

			last, err := f.journal.GetLastTransitions(ctx, 10)
			require.NoError(t, err)
			require.Len(t, last, len(tc.journaled))
			for i, from := range tc.journaled {
				assert.Equal(t, from, last[i].From)
				assert.Equal(t, tc.want, last[i].To)
			}
		})
	}
}
