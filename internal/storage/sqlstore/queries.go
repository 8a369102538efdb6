package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"library-manager/internal/models"
	"library-manager/internal/storage"
)

const (
	tableUsers    = "users"
	tableSections = "sections"
	tableBooks    = "books"
	tableRequests = "book_requests"
	tableIssues   = "book_issues"
)

// queries implements storage.Store on either the pool or a transaction
type queries struct {
	ext         sqlx.ExtContext
	d           goqu.DialectWrapper
	dialectName string
	// returning is set when the dialect supports INSERT ... RETURNING
	returning bool
}

func newQueries(ext sqlx.ExtContext, dialect string, returning bool) *queries {
	return &queries{
		ext:         ext,
		d:           goqu.Dialect(dialect),
		dialectName: dialect,
		returning:   returning,
	}
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (q *queries) get(ctx context.Context, dest interface{}, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if err := sqlx.GetContext(ctx, q.ext, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	}
	return nil
}

func (q *queries) selectAll(ctx context.Context, dest interface{}, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q.ext, dest, query, args...)
}

func (q *queries) exec(ctx context.Context, b sqlBuilder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}

func (q *queries) insert(ctx context.Context, table string, rec goqu.Record) (int64, error) {
	ds := q.d.Insert(table).Rows(rec).Prepared(true)

	if q.returning {
		var id int64
		if err := q.get(ctx, &id, ds.Returning("id")); err != nil {
			return 0, translate(err)
		}
		return id, nil
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	return res.LastInsertId()
}

// update runs an UPDATE by id and reports ErrNotFound when no row matched
func (q *queries) update(ctx context.Context, table string, id int64, rec goqu.Record) error {
	n, err := q.exec(ctx, q.d.Update(table).Set(rec).Where(goqu.C("id").Eq(id)).Prepared(true))
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (q *queries) deleteByID(ctx context.Context, table string, id int64) error {
	n, err := q.exec(ctx, q.d.Delete(table).Where(goqu.C("id").Eq(id)).Prepared(true))
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (q *queries) count(ctx context.Context, table string, where ...exp.Expression) (int, error) {
	var n int
	ds := q.d.From(table).Select(goqu.COUNT("*")).Where(where...).Prepared(true)
	if err := q.get(ctx, &n, ds); err != nil {
		return 0, err
	}
	return n, nil
}

// User operations

func (q *queries) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	id, err := q.insert(ctx, tableUsers, goqu.Record{
		"username":      user.Username,
		"password_hash": user.PasswordHash,
		"name":          user.Name,
		"is_admin":      user.IsAdmin,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

func (q *queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	if err := q.get(ctx, &u, q.d.From(tableUsers).Where(goqu.C("id").Eq(id)).Prepared(true)); err != nil {
		return nil, err
	}
	return &u, nil
}

func (q *queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := q.get(ctx, &u, q.d.From(tableUsers).Where(goqu.C("username").Eq(username)).Prepared(true)); err != nil {
		return nil, err
	}
	return &u, nil
}

func (q *queries) UpdateUser(ctx context.Context, user *models.User) error {
	err := q.update(ctx, tableUsers, user.ID, goqu.Record{
		"username":      user.Username,
		"password_hash": user.PasswordHash,
		"name":          user.Name,
		"is_admin":      user.IsAdmin,
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return err
}

func (q *queries) CountUsers(ctx context.Context) (int, error) {
	return q.count(ctx, tableUsers)
}

func (q *queries) CountAdmins(ctx context.Context) (int, error) {
	return q.count(ctx, tableUsers, goqu.C("is_admin").IsTrue())
}

// Section operations

func (q *queries) CreateSection(ctx context.Context, section *models.Section) (int64, error) {
	id, err := q.insert(ctx, tableSections, goqu.Record{
		"name":         section.Name,
		"date_created": section.DateCreated,
		"description":  section.Description,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create section: %w", err)
	}
	return id, nil
}

func (q *queries) GetSection(ctx context.Context, id int64) (*models.Section, error) {
	var s models.Section
	if err := q.get(ctx, &s, q.d.From(tableSections).Where(goqu.C("id").Eq(id)).Prepared(true)); err != nil {
		return nil, err
	}
	normalizeSection(&s)
	return &s, nil
}

func (q *queries) GetSectionByName(ctx context.Context, name string) (*models.Section, error) {
	var s models.Section
	if err := q.get(ctx, &s, q.d.From(tableSections).Where(goqu.C("name").Eq(name)).Prepared(true)); err != nil {
		return nil, err
	}
	normalizeSection(&s)
	return &s, nil
}

func (q *queries) ListSections(ctx context.Context) ([]models.Section, error) {
	var sections []models.Section
	if err := q.selectAll(ctx, &sections, q.d.From(tableSections).Order(goqu.C("name").Asc()).Prepared(true)); err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	for i := range sections {
		normalizeSection(&sections[i])
	}
	return sections, nil
}

func (q *queries) UpdateSection(ctx context.Context, section *models.Section) error {
	err := q.update(ctx, tableSections, section.ID, goqu.Record{
		"name":         section.Name,
		"date_created": section.DateCreated,
		"description":  section.Description,
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to update section: %w", err)
	}
	return err
}

func (q *queries) DeleteSection(ctx context.Context, id int64) error {
	return q.deleteByID(ctx, tableSections, id)
}

func (q *queries) CountSections(ctx context.Context) (int, error) {
	return q.count(ctx, tableSections)
}

// Book operations

func (q *queries) CreateBook(ctx context.Context, book *models.Book) (int64, error) {
	id, err := q.insert(ctx, tableBooks, bookRecord(book))
	if err != nil {
		return 0, fmt.Errorf("failed to create book: %w", err)
	}
	return id, nil
}

func bookRecord(book *models.Book) goqu.Record {
	return goqu.Record{
		"section_id": book.SectionID,
		"name":       book.Name,
		"authors":    book.Authors,
		"content":    book.Content,
		"price":      book.Price,
		"date_added": book.DateAdded,
	}
}

func (q *queries) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	return q.getBook(ctx, goqu.C("id").Eq(id))
}

func (q *queries) GetBookByName(ctx context.Context, name string) (*models.Book, error) {
	return q.getBook(ctx, goqu.C("name").Eq(name))
}

func (q *queries) getBook(ctx context.Context, where exp.Expression) (*models.Book, error) {
	var b models.Book
	if err := q.get(ctx, &b, q.d.From(tableBooks).Where(where).Prepared(true)); err != nil {
		return nil, err
	}
	b.DateAdded = models.DateOf(b.DateAdded)
	return &b, nil
}

func (q *queries) ListBooks(ctx context.Context) ([]models.Book, error) {
	return q.listBooks(ctx)
}

func (q *queries) ListBooksBySection(ctx context.Context, sectionID int64) ([]models.Book, error) {
	return q.listBooks(ctx, goqu.C("section_id").Eq(sectionID))
}

func (q *queries) listBooks(ctx context.Context, where ...exp.Expression) ([]models.Book, error) {
	var books []models.Book
	ds := q.d.From(tableBooks).Where(where...).Order(goqu.C("name").Asc()).Prepared(true)
	if err := q.selectAll(ctx, &books, ds); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	for i := range books {
		books[i].DateAdded = models.DateOf(books[i].DateAdded)
	}
	return books, nil
}

func (q *queries) UpdateBook(ctx context.Context, book *models.Book) error {
	err := q.update(ctx, tableBooks, book.ID, bookRecord(book))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to update book: %w", err)
	}
	return err
}

func (q *queries) DeleteBook(ctx context.Context, id int64) error {
	return q.deleteByID(ctx, tableBooks, id)
}

func (q *queries) CountBooks(ctx context.Context) (int, error) {
	return q.count(ctx, tableBooks)
}

// Request operations

func (q *queries) CreateRequest(ctx context.Context, req *models.BookRequest) (int64, error) {
	id, err := q.insert(ctx, tableRequests, goqu.Record{
		"user_name":    req.UserName,
		"book_name":    req.BookName,
		"request_date": req.RequestDate,
		"return_date":  req.ReturnDate,
		"status":       string(req.Status),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	return id, nil
}

func (q *queries) GetRequest(ctx context.Context, id int64) (*models.BookRequest, error) {
	var r models.BookRequest
	if err := q.get(ctx, &r, q.d.From(tableRequests).Where(goqu.C("id").Eq(id)).Prepared(true)); err != nil {
		return nil, err
	}
	normalizeRequest(&r)
	return &r, nil
}

func (q *queries) ListRequests(ctx context.Context, userName string) ([]models.BookRequest, error) {
	var requests []models.BookRequest
	ds := q.d.From(tableRequests).Where(requestFilter(userName)...).Order(goqu.C("id").Asc()).Prepared(true)
	if err := q.selectAll(ctx, &requests, ds); err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	for i := range requests {
		normalizeRequest(&requests[i])
	}
	return requests, nil
}

func requestFilter(userName string) []exp.Expression {
	if userName == "" {
		return nil
	}
	return []exp.Expression{goqu.C("user_name").Eq(userName)}
}

func (q *queries) CountRequests(ctx context.Context, userName string) (int, error) {
	return q.count(ctx, tableRequests, requestFilter(userName)...)
}

func (q *queries) HasRequest(ctx context.Context, userName, bookName string) (bool, error) {
	n, err := q.count(ctx, tableRequests, goqu.C("user_name").Eq(userName), goqu.C("book_name").Eq(bookName))
	return n > 0, err
}

func (q *queries) DeleteRequest(ctx context.Context, id int64) error {
	return q.deleteByID(ctx, tableRequests, id)
}

func (q *queries) CountRequestsByBook(ctx context.Context, bookName string) (int, error) {
	return q.count(ctx, tableRequests, goqu.C("book_name").Eq(bookName))
}

func (q *queries) DeleteRequestsByBook(ctx context.Context, bookName string) (int64, error) {
	return q.exec(ctx, q.d.Delete(tableRequests).Where(goqu.C("book_name").Eq(bookName)).Prepared(true))
}

// Issue operations

func (q *queries) CreateIssue(ctx context.Context, issue *models.BookIssue) (int64, error) {
	id, err := q.insert(ctx, tableIssues, issueRecord(issue))
	if err != nil {
		return 0, fmt.Errorf("failed to create issue: %w", err)
	}
	return id, nil
}

func issueRecord(issue *models.BookIssue) goqu.Record {
	return goqu.Record{
		"user_name":   issue.UserName,
		"book_name":   issue.BookName,
		"book_author": issue.BookAuthor,
		"issue_date":  issue.IssueDate,
		"return_date": issue.ReturnDate,
		"state":       string(issue.State),
		"snapshot":    nullable(issue.Snapshot),
		"feedback":    nullable(issue.Feedback),
	}
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func (q *queries) GetIssue(ctx context.Context, id int64) (*models.BookIssue, error) {
	var i models.BookIssue
	if err := q.get(ctx, &i, q.d.From(tableIssues).Where(goqu.C("id").Eq(id)).Prepared(true)); err != nil {
		return nil, err
	}
	normalizeIssue(&i)
	return &i, nil
}

func (q *queries) TransitionIssue(ctx context.Context, id int64, from, to models.IssueState, returnDate time.Time) (bool, error) {
	n, err := q.exec(ctx, q.d.Update(tableIssues).
		Set(goqu.Record{"state": string(to), "return_date": returnDate}).
		Where(goqu.C("id").Eq(id), goqu.C("state").Eq(string(from))).
		Prepared(true))
	if err != nil {
		return false, fmt.Errorf("failed to update issue state: %w", err)
	}
	return n > 0, nil
}

func (q *queries) SetIssueFeedback(ctx context.Context, id int64, feedback string) error {
	err := q.update(ctx, tableIssues, id, goqu.Record{"feedback": feedback})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return err
}

func (q *queries) ListIssues(ctx context.Context, filter storage.IssueFilter) ([]models.BookIssue, error) {
	var issues []models.BookIssue
	ds := q.d.From(tableIssues).Where(issueFilter(filter)...).Order(goqu.C("id").Asc()).Prepared(true)
	if err := q.selectAll(ctx, &issues, ds); err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	for i := range issues {
		normalizeIssue(&issues[i])
	}
	return issues, nil
}

func (q *queries) CountIssues(ctx context.Context, filter storage.IssueFilter) (int, error) {
	return q.count(ctx, tableIssues, issueFilter(filter)...)
}

func issueFilter(f storage.IssueFilter) []exp.Expression {
	var where []exp.Expression
	if f.UserName != "" {
		where = append(where, goqu.C("user_name").Eq(f.UserName))
	}
	if f.BookName != "" {
		where = append(where, goqu.C("book_name").Eq(f.BookName))
	}
	if len(f.States) > 0 {
		where = append(where, goqu.C("state").In(stateStrings(f.States)))
	}
	if f.WithFeedback {
		where = append(where, goqu.C("feedback").IsNotNull())
	}
	return where
}

func stateStrings(states []models.IssueState) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}

func (q *queries) DeleteIssuesByBook(ctx context.Context, bookName string) (int64, error) {
	return q.exec(ctx, q.d.Delete(tableIssues).Where(goqu.C("book_name").Eq(bookName)).Prepared(true))
}

// Statistics operations

// GetTopBooks returns top N books by issue count over the given states
func (q *queries) GetTopBooks(ctx context.Context, limit int, states []models.IssueState) ([]models.BookStat, error) {
	ds := q.d.From(tableIssues).
		Select(goqu.C("book_name"), goqu.COUNT("*").As("issue_count")).
		Where(goqu.C("state").In(stateStrings(states))).
		GroupBy(goqu.C("book_name")).
		Order(goqu.I("issue_count").Desc(), goqu.C("book_name").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	var stats []models.BookStat
	if err := q.selectAll(ctx, &stats, ds.Prepared(true)); err != nil {
		return nil, fmt.Errorf("failed to get top books: %w", err)
	}
	return stats, nil
}

// GetSectionBookCounts returns the number of books in every non-empty section
func (q *queries) GetSectionBookCounts(ctx context.Context) ([]models.SectionBookCount, error) {
	ds := q.d.From(goqu.T(tableSections).As("s")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("s.id").Eq(goqu.I("b.section_id")))).
		Select(goqu.I("s.name").As("section_name"), goqu.COUNT("b.id").As("book_count")).
		GroupBy(goqu.I("s.id"), goqu.I("s.name")).
		Order(goqu.I("s.name").Asc()).
		Prepared(true)

	var counts []models.SectionBookCount
	if err := q.selectAll(ctx, &counts, ds); err != nil {
		return nil, fmt.Errorf("failed to count books per section: %w", err)
	}
	return counts, nil
}

func normalizeSection(s *models.Section) {
	s.DateCreated = models.DateOf(s.DateCreated)
}

func normalizeRequest(r *models.BookRequest) {
	r.RequestDate = models.DateOf(r.RequestDate)
	r.ReturnDate = models.DateOf(r.ReturnDate)
}

func normalizeIssue(i *models.BookIssue) {
	i.IssueDate = models.DateOf(i.IssueDate)
	i.ReturnDate = models.DateOf(i.ReturnDate)
}

var _ storage.Store = (*queries)(nil)
