package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-manager/internal/models"
	"library-manager/internal/storage/stubs"
)

var day = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, db *stubs.MockDB) {
	t.Helper()
	ctx := context.Background()

	_, err := db.CreateUser(ctx, &models.User{Username: "alice"})
	require.NoError(t, err)
	_, err = db.CreateUser(ctx, &models.User{Username: "bob"})
	require.NoError(t, err)

	fiction, err := db.CreateSection(ctx, &models.Section{Name: "Fiction"})
	require.NoError(t, err)
	science, err := db.CreateSection(ctx, &models.Section{Name: "Science"})
	require.NoError(t, err)
	_, err = db.CreateSection(ctx, &models.Section{Name: "Empty"})
	require.NoError(t, err)

	for _, b := range []models.Book{
		{SectionID: fiction, Name: "Dune"},
		{SectionID: fiction, Name: "Emma"},
		{SectionID: science, Name: "Cosmos"},
	} {
		_, err := db.CreateBook(ctx, &b)
		require.NoError(t, err)
	}

	feedback := "Great"
	for _, i := range []models.BookIssue{
		{UserName: "alice", BookName: "Dune", State: models.StateAccepted, IssueDate: day, ReturnDate: day.AddDate(0, 0, 7)},
		{UserName: "bob", BookName: "Dune", State: models.StateReturned, Feedback: &feedback},
		{UserName: "bob", BookName: "Emma", State: models.StateAccepted, IssueDate: day, ReturnDate: day},
		{UserName: "alice", BookName: "Cosmos", State: models.StateRevoked},
		{UserName: "alice", BookName: "Emma", State: models.StateDeclined},
		{UserName: "bob", BookName: "Cosmos", State: models.StateDeclined},
	} {
		_, err := db.CreateIssue(ctx, &i)
		require.NoError(t, err)
	}

	_, err = db.CreateRequest(ctx, &models.BookRequest{UserName: "alice", BookName: "Emma"})
	require.NoError(t, err)
}

func TestDashboard(t *testing.T) {
	db := stubs.NewMockDB()
	seed(t, db)
	svc := NewService(db, nil)

	d, err := svc.Dashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.Counts{Users: 2, Sections: 3, Books: 3, AcceptedIssues: 2, PendingRequests: 1}, d.Counts)
	assert.Equal(t, []models.SectionBookCount{
		{SectionName: "Fiction", BookCount: 2},
		{SectionName: "Science", BookCount: 1},
	}, d.Sections)
	assert.Equal(t, []models.BookStat{
		{BookName: "Dune", IssueCount: 2},
		{BookName: "Cosmos", IssueCount: 1},
		{BookName: "Emma", IssueCount: 1},
	}, d.TopBooks)
}

func TestTopIssuedBooks_LimitAndTies(t *testing.T) {
	db := stubs.NewMockDB()
	ctx := context.Background()
	for _, name := range []string{"F", "E", "D", "C", "B", "A"} {
		_, err := db.CreateIssue(ctx, &models.BookIssue{UserName: "u", BookName: name, State: models.StateReturned})
		require.NoError(t, err)
	}

	stats, err := NewService(db, nil).TopIssuedBooks(ctx, TopBooksLimit)
	require.NoError(t, err)
	require.Len(t, stats, TopBooksLimit)
	assert.Equal(t, "A", stats[0].BookName)
	assert.Equal(t, "E", stats[4].BookName)
}

func TestBookDetails(t *testing.T) {
	db := stubs.NewMockDB()
	seed(t, db)
	svc := NewService(db, nil)
	ctx := context.Background()

	holders, err := svc.BookHolders(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, []models.BookHolder{{UserName: "alice", IssueDate: day, ReturnDate: day.AddDate(0, 0, 7)}}, holders)

	feedback, err := svc.BookFeedback(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, []models.BookFeedback{{UserName: "bob", Feedback: "Great"}}, feedback)

	names, err := svc.AcceptedBookNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dune", "Emma"}, names)
}

func TestActivity(t *testing.T) {
	ctx := context.Background()

	_, err := NewService(stubs.NewMockDB(), nil).Activity(ctx, 5, day, day, "")
	assert.ErrorIs(t, err, ErrNoJournal)

	journal := stubs.NewMemoryJournal()
	require.NoError(t, journal.Record(ctx, models.Transition{BookName: "Dune", UserName: "alice", To: models.StateAccepted, At: day.Add(time.Hour)}))
	require.NoError(t, journal.Record(ctx, models.Transition{BookName: "Emma", UserName: "bob", To: models.StateAccepted, At: day.Add(2 * time.Hour)}))

	svc := NewService(stubs.NewMockDB(), journal)
	stats, err := svc.Activity(ctx, 5, day, day.AddDate(0, 0, 1), "bob")
	require.NoError(t, err)
	assert.Equal(t, []models.BookStat{{BookName: "Emma", IssueCount: 1}}, stats)

	recent, err := svc.RecentTransitions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Emma", recent[0].BookName)
}
