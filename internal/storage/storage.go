package storage

import (
	"context"
	"errors"
	"time"

	"library-manager/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique name is already taken
	ErrDuplicate = errors.New("duplicate record")
)

// IssueFilter narrows ListIssues and CountIssues. Empty fields match everything.
type IssueFilter struct {
	UserName     string
	BookName     string
	States       []models.IssueState
	WithFeedback bool
}

// Store defines the record-level data operations. Implementations are used
// both directly and inside RunInTx.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	CountUsers(ctx context.Context) (int, error)
	CountAdmins(ctx context.Context) (int, error)

	// Section operations
	CreateSection(ctx context.Context, section *models.Section) (int64, error)
	GetSection(ctx context.Context, id int64) (*models.Section, error)
	GetSectionByName(ctx context.Context, name string) (*models.Section, error)
	ListSections(ctx context.Context) ([]models.Section, error)
	UpdateSection(ctx context.Context, section *models.Section) error
	DeleteSection(ctx context.Context, id int64) error
	CountSections(ctx context.Context) (int, error)

	// Book operations
	CreateBook(ctx context.Context, book *models.Book) (int64, error)
	GetBook(ctx context.Context, id int64) (*models.Book, error)
	GetBookByName(ctx context.Context, name string) (*models.Book, error)
	ListBooks(ctx context.Context) ([]models.Book, error)
	ListBooksBySection(ctx context.Context, sectionID int64) ([]models.Book, error)
	UpdateBook(ctx context.Context, book *models.Book) error
	DeleteBook(ctx context.Context, id int64) error
	CountBooks(ctx context.Context) (int, error)

	// Request operations
	CreateRequest(ctx context.Context, req *models.BookRequest) (int64, error)
	GetRequest(ctx context.Context, id int64) (*models.BookRequest, error)
	// ListRequests returns all pending requests, or only the given user's when userName is set
	ListRequests(ctx context.Context, userName string) ([]models.BookRequest, error)
	CountRequests(ctx context.Context, userName string) (int, error)
	HasRequest(ctx context.Context, userName, bookName string) (bool, error)
	CountRequestsByBook(ctx context.Context, bookName string) (int, error)
	DeleteRequest(ctx context.Context, id int64) error
	DeleteRequestsByBook(ctx context.Context, bookName string) (int64, error)

	// Issue operations
	CreateIssue(ctx context.Context, issue *models.BookIssue) (int64, error)
	GetIssue(ctx context.Context, id int64) (*models.BookIssue, error)
	// TransitionIssue moves an issue from one state to another and stamps its
	// return date. It reports false, without error, when the issue is missing
	// or no longer in the from state.
	TransitionIssue(ctx context.Context, id int64, from, to models.IssueState, returnDate time.Time) (bool, error)
	// SetIssueFeedback replaces the feedback text and leaves the other columns alone
	SetIssueFeedback(ctx context.Context, id int64, feedback string) error
	ListIssues(ctx context.Context, filter IssueFilter) ([]models.BookIssue, error)
	CountIssues(ctx context.Context, filter IssueFilter) (int, error)
	DeleteIssuesByBook(ctx context.Context, bookName string) (int64, error)

	// Statistics operations

	// GetTopBooks returns top N books by number of issues in the given states.
	// Ties are broken by book name ascending.
	GetTopBooks(ctx context.Context, limit int, states []models.IssueState) ([]models.BookStat, error)

	// GetSectionBookCounts returns the number of books per section.
	// Sections without books are omitted.
	GetSectionBookCounts(ctx context.Context) ([]models.SectionBookCount, error)
}

// Storage defines the interface for data storage operations
type Storage interface {
	Store

	// RunInTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
