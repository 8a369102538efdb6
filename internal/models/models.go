package models

import "time"

// Section groups books in the catalog
type Section struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	DateCreated time.Time `db:"date_created" json:"date_created"`
	Description string    `db:"description" json:"description"`
}

// Book represents a book in the catalog
type Book struct {
	ID        int64     `db:"id" json:"id"`
	SectionID int64     `db:"section_id" json:"section_id"`
	Name      string    `db:"name" json:"name"`
	Authors   string    `db:"authors" json:"authors"`
	Content   string    `db:"content" json:"content,omitempty"`
	Price     int64     `db:"price" json:"price"`
	DateAdded time.Time `db:"date_added" json:"date_added"`
}

// User represents a library member or administrator
type User struct {
	ID           int64  `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password_hash" json:"-"`
	Name         string `db:"name" json:"name"`
	IsAdmin      bool   `db:"is_admin" json:"is_admin"`
}

// RequestStatus is the status of a BookRequest. Resolved requests are deleted,
// so pending is the only stored value.
type RequestStatus string

const RequestPending RequestStatus = "pending"

// BookRequest is a member's pending ask to borrow a book.
// Books and users are referenced by name.
type BookRequest struct {
	ID          int64         `db:"id" json:"id"`
	UserName    string        `db:"user_name" json:"user_name"`
	BookName    string        `db:"book_name" json:"book_name"`
	RequestDate time.Time     `db:"request_date" json:"request_date"`
	ReturnDate  time.Time     `db:"return_date" json:"return_date"`
	Status      RequestStatus `db:"status" json:"status"`
}

// BookIssue is the durable record of a loan decision and its lifecycle
type BookIssue struct {
	ID         int64      `db:"id" json:"id"`
	UserName   string     `db:"user_name" json:"user_name"`
	BookName   string     `db:"book_name" json:"book_name"`
	BookAuthor string     `db:"book_author" json:"book_author"`
	IssueDate  time.Time  `db:"issue_date" json:"issue_date"`
	ReturnDate time.Time  `db:"return_date" json:"return_date"`
	State      IssueState `db:"state" json:"state"`
	// Snapshot holds the book content copied at acceptance
	Snapshot *string `db:"snapshot" json:"-"`
	Feedback *string `db:"feedback" json:"feedback,omitempty"`
}

// Principal is the authenticated caller of an operation
type Principal struct {
	UserID   int64
	Username string
	IsAdmin  bool
}

// System is the principal used for automatic transitions such as the overdue sweep
var System = Principal{Username: "system", IsAdmin: true}

// Transition is a journal entry describing one ledger state change
type Transition struct {
	ID       string     `json:"id"`
	IssueID  int64      `json:"issue_id"`
	UserName string     `json:"user_name"`
	BookName string     `json:"book_name"`
	From     IssueState `json:"from"`
	To       IssueState `json:"to"`
	Actor    string     `json:"actor"`
	At       time.Time  `json:"at"`
}

// Counts holds the dashboard totals
type Counts struct {
	Users           int `json:"users"`
	Sections        int `json:"sections"`
	Books           int `json:"books"`
	AcceptedIssues  int `json:"accepted_issues"`
	PendingRequests int `json:"pending_requests"`
}

// SectionBookCount is the number of books in a section
type SectionBookCount struct {
	SectionName string `db:"section_name" json:"section_name"`
	BookCount   int    `db:"book_count" json:"book_count"`
}

// BookStat represents book issue statistics
type BookStat struct {
	BookName   string `db:"book_name" json:"book_name"`
	IssueCount int    `db:"issue_count" json:"issue_count"`
}

// BookHolder is a user currently holding an accepted copy of a book
type BookHolder struct {
	UserName   string    `json:"user_name"`
	IssueDate  time.Time `json:"issue_date"`
	ReturnDate time.Time `json:"return_date"`
}

// BookFeedback is feedback left by a user on a book
type BookFeedback struct {
	UserName string `json:"user_name"`
	Feedback string `json:"feedback"`
}

// DateOf truncates t to its calendar date at midnight UTC
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
