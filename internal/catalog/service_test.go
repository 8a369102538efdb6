package catalog

import (
	"context"
	"path/filepath"
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

var now = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func today() time.Time {
	return models.DateOf(now)
}

func newService(store storage.Storage) *Service {
	return NewService(store, nil, func() time.Time { return now })
}

func createSection(t *testing.T, svc *Service, name string) *models.Section {
	t.Helper()
	section, err := svc.CreateSection(context.Background(), SectionInput{
		Name: name, DateCreated: today(), Description: name + " books",
	})
	require.NoError(t, err)
	return section
}

func createBook(t *testing.T, svc *Service, sectionID int64, name string) *models.Book {
	t.Helper()
	book, err := svc.CreateBook(context.Background(), BookInput{
		SectionID: sectionID, Name: name, Authors: "Someone", Content: "Once upon a time", Price: 5, DateAdded: today(),
	})
	require.NoError(t, err)
	return book
}

func TestCreateSection_Validation(t *testing.T) {
	svc := newService(stubs.NewMockDB())
	ctx := context.Background()
	createSection(t, svc, "Fiction")

	testCases := []struct {
		name string
		in   SectionInput
	}{
		{name: "missing name", in: SectionInput{DateCreated: today(), Description: "d"}},
		{name: "missing description", in: SectionInput{Name: "History", DateCreated: today()}},
		{name: "missing date", in: SectionInput{Name: "History", Description: "d"}},
		{name: "date in the past", in: SectionInput{Name: "History", DateCreated: today().AddDate(0, 0, -1), Description: "d"}},
		{name: "duplicate name", in: SectionInput{Name: "Fiction", DateCreated: today(), Description: "d"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSection(ctx, tc.in)
			assert.ErrorIs(t, err, apperr.ErrValidationFailed)
		})
	}
}

func TestCreateSection_StoresToday(t *testing.T) {
	svc := newService(stubs.NewMockDB())

	section, err := svc.CreateSection(context.Background(), SectionInput{
		Name: "Poetry", DateCreated: today().AddDate(0, 0, 3), Description: "Verse",
	})
	require.NoError(t, err)
	assert.Equal(t, today(), section.DateCreated)
}

func TestCreateBook_Validation(t *testing.T) {
	svc := newService(stubs.NewMockDB())
	ctx := context.Background()
	section := createSection(t, svc, "Fiction")
	createBook(t, svc, section.ID, "Dune")

	valid := BookInput{SectionID: section.ID, Name: "Emma", Authors: "Austen", Content: "text", Price: 1, DateAdded: today()}

	testCases := []struct {
		name    string
		mutate  func(in *BookInput)
		wantErr error
	}{
		{name: "unknown section", mutate: func(in *BookInput) { in.SectionID = 999 }, wantErr: apperr.ErrNotFound},
		{name: "missing authors", mutate: func(in *BookInput) { in.Authors = " " }, wantErr: apperr.ErrValidationFailed},
		{name: "missing content", mutate: func(in *BookInput) { in.Content = "" }, wantErr: apperr.ErrValidationFailed},
		{name: "negative price", mutate: func(in *BookInput) { in.Price = -1 }, wantErr: apperr.ErrValidationFailed},
		{name: "date in the past", mutate: func(in *BookInput) { in.DateAdded = today().AddDate(0, 0, -1) }, wantErr: apperr.ErrValidationFailed},
		{name: "duplicate name", mutate: func(in *BookInput) { in.Name = "Dune" }, wantErr: apperr.ErrValidationFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			_, err := svc.CreateBook(ctx, in)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	book, err := svc.CreateBook(ctx, valid)
	require.NoError(t, err)
	assert.Equal(t, today(), book.DateAdded)
}

func TestUpdateBook(t *testing.T) {
	svc := newService(stubs.NewMockDB())
	ctx := context.Background()
	fiction := createSection(t, svc, "Fiction")
	classics := createSection(t, svc, "Classics")
	createBook(t, svc, fiction.ID, "Dune")
	emma := createBook(t, svc, fiction.ID, "Emma")

	updated, err := svc.UpdateBook(ctx, emma.ID, BookInput{
		SectionID: classics.ID, Name: "Emma (1815)", Authors: "Jane Austen", Content: "new", Price: 7, DateAdded: today(),
	})
	require.NoError(t, err)
	assert.Equal(t, classics.ID, updated.SectionID)
	assert.Equal(t, "Emma (1815)", updated.Name)

	_, err = svc.UpdateBook(ctx, emma.ID, BookInput{
		SectionID: classics.ID, Name: "Dune", Authors: "x", Content: "x", DateAdded: today(),
	})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	_, err = svc.UpdateBook(ctx, 999, BookInput{
		SectionID: classics.ID, Name: "Other", Authors: "x", Content: "x", DateAdded: today(),
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateBook_RenameWithPendingRequests(t *testing.T) {
	store := stubs.NewMockDB()
	svc := newService(store)
	ctx := context.Background()
	fiction := createSection(t, svc, "Fiction")
	dune := createBook(t, svc, fiction.ID, "Dune")
	seedLedger(t, store, "Dune", 1)

	_, err := svc.UpdateBook(ctx, dune.ID, BookInput{
		SectionID: fiction.ID, Name: "Dune Messiah", Authors: "Frank Herbert", Content: "x", DateAdded: today(),
	})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	got, err := store.GetBook(ctx, dune.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Name)

	// Keeping the name is still allowed
	updated, err := svc.UpdateBook(ctx, dune.ID, BookInput{
		SectionID: fiction.ID, Name: "Dune", Authors: "Frank Herbert", Content: "new", Price: 3, DateAdded: today(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.Price)

	// Once the request is resolved the rename goes through and issues keep the old name
	_, err = store.DeleteRequestsByBook(ctx, "Dune")
	require.NoError(t, err)
	updated, err = svc.UpdateBook(ctx, dune.ID, BookInput{
		SectionID: fiction.ID, Name: "Dune Messiah", Authors: "Frank Herbert", Content: "x", DateAdded: today(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", updated.Name)

	issues, err := store.CountIssues(ctx, storage.IssueFilter{BookName: "Dune"})
	require.NoError(t, err)
	assert.Equal(t, 1, issues)
}

func TestUpdateSection(t *testing.T) {
	svc := newService(stubs.NewMockDB())
	ctx := context.Background()
	fiction := createSection(t, svc, "Fiction")
	createSection(t, svc, "Poetry")

	updated, err := svc.UpdateSection(ctx, fiction.ID, SectionInput{
		Name: "Novels", DateCreated: today().AddDate(0, 0, -30), Description: "Long stories",
	})
	require.NoError(t, err)
	assert.Equal(t, "Novels", updated.Name)
	assert.Equal(t, today().AddDate(0, 0, -30), updated.DateCreated)

	_, err = svc.UpdateSection(ctx, fiction.ID, SectionInput{Name: "Poetry", DateCreated: today(), Description: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)
}

func seedLedger(t *testing.T, store storage.Storage, bookName string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := store.CreateRequest(ctx, &models.BookRequest{
			UserName: "user", BookName: bookName, RequestDate: today(), ReturnDate: today(), Status: models.RequestPending,
		})
		require.NoError(t, err)
		_, err = store.CreateIssue(ctx, &models.BookIssue{
			UserName: "user", BookName: bookName, IssueDate: today(), ReturnDate: today(), State: models.StateReturned,
		})
		require.NoError(t, err)
	}
}

func testCascadeDelete(t *testing.T, store storage.Storage) {
	svc := newService(store)
	ctx := context.Background()

	section := createSection(t, svc, "Fiction")
	dune := createBook(t, svc, section.ID, "Dune")
	createBook(t, svc, section.ID, "Emma")
	seedLedger(t, store, "Dune", 3)
	seedLedger(t, store, "Emma", 2)

	require.NoError(t, svc.DeleteBook(ctx, dune.ID))

	_, err := store.GetBook(ctx, dune.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	issues, err := store.CountIssues(ctx, storage.IssueFilter{BookName: "Dune"})
	require.NoError(t, err)
	assert.Zero(t, issues)

	requests, err := store.ListRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, requests, 2)
	for _, r := range requests {
		assert.Equal(t, "Emma", r.BookName)
	}

	_, err = store.GetSection(ctx, section.ID)
	assert.NoError(t, err, "section must survive a book delete")

	// Deleting the section removes the remaining book and its ledger rows
	require.NoError(t, svc.DeleteSection(ctx, section.ID))

	books, err := store.ListBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)

	issues, err = store.CountIssues(ctx, storage.IssueFilter{})
	require.NoError(t, err)
	assert.Zero(t, issues)

	pending, err := store.CountRequests(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, pending)

	assert.ErrorIs(t, svc.DeleteSection(ctx, section.ID), apperr.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteBook(ctx, dune.ID), apperr.ErrNotFound)
}

func TestCascadeDelete(t *testing.T) {
	testCascadeDelete(t, stubs.NewMockDB())
}

func TestCascadeDeleteSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Initialize(ctx))

	testCascadeDelete(t, db)
}
