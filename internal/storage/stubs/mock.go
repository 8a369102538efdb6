package stubs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"library-manager/internal/models"
	"library-manager/internal/storage"
)

// MockDB is an in-memory implementation of the storage.Storage interface for testing
type MockDB struct {
	// txMu serializes writers so RunInTx can swap in its working copy safely
	txMu sync.Mutex
	mu   sync.RWMutex
	d    *data
}

type data struct {
	nextID   int64
	users    map[int64]models.User
	sections map[int64]models.Section
	books    map[int64]models.Book
	requests map[int64]models.BookRequest
	issues   map[int64]models.BookIssue
}

func newData() *data {
	return &data{
		users:    make(map[int64]models.User),
		sections: make(map[int64]models.Section),
		books:    make(map[int64]models.Book),
		requests: make(map[int64]models.BookRequest),
		issues:   make(map[int64]models.BookIssue),
	}
}

func (d *data) clone() *data {
	c := newData()
	c.nextID = d.nextID
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.sections {
		c.sections[k] = v
	}
	for k, v := range d.books {
		c.books[k] = v
	}
	for k, v := range d.requests {
		c.requests[k] = v
	}
	for k, v := range d.issues {
		c.issues[k] = v
	}
	return c
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{d: newData()}
}

// Initialize does nothing, the mock starts empty
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

func (m *MockDB) read(fn func(d *data) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.d)
}

func (m *MockDB) write(fn func(d *data) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.d)
}

// RunInTx runs fn against a copy of the data and publishes the copy on success
func (m *MockDB) RunInTx(ctx context.Context, fn func(tx storage.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := &MockDB{d: m.d.clone()}
	m.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}

	m.mu.Lock()
	m.d = work.d
	m.mu.Unlock()
	return nil
}

// User operations

func (m *MockDB) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	var id int64
	err := m.write(func(d *data) error {
		for _, u := range d.users {
			if u.Username == user.Username {
				return fmt.Errorf("user %q: %w", user.Username, storage.ErrDuplicate)
			}
		}
		id = d.id()
		u := *user
		u.ID = id
		d.users[id] = u
		return nil
	})
	return id, err
}

func (m *MockDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var out *models.User
	err := m.read(func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (m *MockDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var out *models.User
	err := m.read(func(d *data) error {
		for _, u := range d.users {
			if u.Username == username {
				out = &u
				return nil
			}
		}
		return storage.ErrNotFound
	})
	return out, err
}

func (m *MockDB) UpdateUser(ctx context.Context, user *models.User) error {
	return m.write(func(d *data) error {
		if _, ok := d.users[user.ID]; !ok {
			return storage.ErrNotFound
		}
		for _, u := range d.users {
			if u.ID != user.ID && u.Username == user.Username {
				return fmt.Errorf("user %q: %w", user.Username, storage.ErrDuplicate)
			}
		}
		d.users[user.ID] = *user
		return nil
	})
}

func (m *MockDB) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := m.read(func(d *data) error {
		n = len(d.users)
		return nil
	})
	return n, err
}

func (m *MockDB) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := m.read(func(d *data) error {
		for _, u := range d.users {
			if u.IsAdmin {
				n++
			}
		}
		return nil
	})
	return n, err
}

// Section operations

func (m *MockDB) CreateSection(ctx context.Context, section *models.Section) (int64, error) {
	var id int64
	err := m.write(func(d *data) error {
		for _, s := range d.sections {
			if s.Name == section.Name {
				return fmt.Errorf("section %q: %w", section.Name, storage.ErrDuplicate)
			}
		}
		id = d.id()
		s := *section
		s.ID = id
		d.sections[id] = s
		return nil
	})
	return id, err
}

func (m *MockDB) GetSection(ctx context.Context, id int64) (*models.Section, error) {
	var out *models.Section
	err := m.read(func(d *data) error {
		s, ok := d.sections[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (m *MockDB) GetSectionByName(ctx context.Context, name string) (*models.Section, error) {
	var out *models.Section
	err := m.read(func(d *data) error {
		for _, s := range d.sections {
			if s.Name == name {
				out = &s
				return nil
			}
		}
		return storage.ErrNotFound
	})
	return out, err
}

func (m *MockDB) ListSections(ctx context.Context) ([]models.Section, error) {
	var sections []models.Section
	err := m.read(func(d *data) error {
		for _, s := range d.sections {
			sections = append(sections, s)
		}
		return nil
	})

	// Sort by name
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].Name < sections[j].Name
	})

	return sections, err
}

func (m *MockDB) UpdateSection(ctx context.Context, section *models.Section) error {
	return m.write(func(d *data) error {
		if _, ok := d.sections[section.ID]; !ok {
			return storage.ErrNotFound
		}
		for _, s := range d.sections {
			if s.ID != section.ID && s.Name == section.Name {
				return fmt.Errorf("section %q: %w", section.Name, storage.ErrDuplicate)
			}
		}
		d.sections[section.ID] = *section
		return nil
	})
}

func (m *MockDB) DeleteSection(ctx context.Context, id int64) error {
	return m.write(func(d *data) error {
		if _, ok := d.sections[id]; !ok {
			return storage.ErrNotFound
		}
		delete(d.sections, id)
		return nil
	})
}

func (m *MockDB) CountSections(ctx context.Context) (int, error) {
	var n int
	err := m.read(func(d *data) error {
		n = len(d.sections)
		return nil
	})
	return n, err
}

// Book operations

func (m *MockDB) CreateBook(ctx context.Context, book *models.Book) (int64, error) {
	var id int64
	err := m.write(func(d *data) error {
		for _, b := range d.books {
			if b.Name == book.Name {
				return fmt.Errorf("book %q: %w", book.Name, storage.ErrDuplicate)
			}
		}
		id = d.id()
		b := *book
		b.ID = id
		d.books[id] = b
		return nil
	})
	return id, err
}

func (m *MockDB) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	var out *models.Book
	err := m.read(func(d *data) error {
		b, ok := d.books[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = &b
		return nil
	})
	return out, err
}

func (m *MockDB) GetBookByName(ctx context.Context, name string) (*models.Book, error) {
	var out *models.Book
	err := m.read(func(d *data) error {
		for _, b := range d.books {
			if b.Name == name {
				out = &b
				return nil
			}
		}
		return storage.ErrNotFound
	})
	return out, err
}

func (m *MockDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	return m.listBooks(func(models.Book) bool { return true })
}

func (m *MockDB) ListBooksBySection(ctx context.Context, sectionID int64) ([]models.Book, error) {
	return m.listBooks(func(b models.Book) bool { return b.SectionID == sectionID })
}

func (m *MockDB) listBooks(keep func(models.Book) bool) ([]models.Book, error) {
	var books []models.Book
	err := m.read(func(d *data) error {
		for _, b := range d.books {
			if keep(b) {
				books = append(books, b)
			}
		}
		return nil
	})

	sort.Slice(books, func(i, j int) bool {
		return books[i].Name < books[j].Name
	})

	return books, err
}

func (m *MockDB) UpdateBook(ctx context.Context, book *models.Book) error {
	return m.write(func(d *data) error {
		if _, ok := d.books[book.ID]; !ok {
			return storage.ErrNotFound
		}
		for _, b := range d.books {
			if b.ID != book.ID && b.Name == book.Name {
				return fmt.Errorf("book %q: %w", book.Name, storage.ErrDuplicate)
			}
		}
		d.books[book.ID] = *book
		return nil
	})
}

func (m *MockDB) DeleteBook(ctx context.Context, id int64) error {
	return m.write(func(d *data) error {
		if _, ok := d.books[id]; !ok {
			return storage.ErrNotFound
		}
		delete(d.books, id)
		return nil
	})
}

func (m *MockDB) CountBooks(ctx context.Context) (int, error) {
	var n int
	err := m.read(func(d *data) error {
		n = len(d.books)
		return nil
	})
	return n, err
}

// Request operations

func (m *MockDB) CreateRequest(ctx context.Context, req *models.BookRequest) (int64, error) {
	var id int64
	err := m.write(func(d *data) error {
		id = d.id()
		r := *req
		r.ID = id
		d.requests[id] = r
		return nil
	})
	return id, err
}

func (m *MockDB) GetRequest(ctx context.Context, id int64) (*models.BookRequest, error) {
	var out *models.BookRequest
	err := m.read(func(d *data) error {
		r, ok := d.requests[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = &r
		return nil
	})
	return out, err
}

func (m *MockDB) ListRequests(ctx context.Context, userName string) ([]models.BookRequest, error) {
	var requests []models.BookRequest
	err := m.read(func(d *data) error {
		for _, r := range d.requests {
			if userName == "" || r.UserName == userName {
				requests = append(requests, r)
			}
		}
		return nil
	})

	sort.Slice(requests, func(i, j int) bool {
		return requests[i].ID < requests[j].ID
	})

	return requests, err
}

func (m *MockDB) CountRequests(ctx context.Context, userName string) (int, error) {
	requests, err := m.ListRequests(ctx, userName)
	return len(requests), err
}

func (m *MockDB) CountRequestsByBook(ctx context.Context, bookName string) (int, error) {
	var n int
	err := m.read(func(d *data) error {
		for _, r := range d.requests {
			if r.BookName == bookName {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (m *MockDB) HasRequest(ctx context.Context, userName, bookName string) (bool, error) {
	var found bool
	err := m.read(func(d *data) error {
		for _, r := range d.requests {
			if r.UserName == userName && r.BookName == bookName {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

func (m *MockDB) DeleteRequest(ctx context.Context, id int64) error {
	return m.write(func(d *data) error {
		if _, ok := d.requests[id]; !ok {
			return storage.ErrNotFound
		}
		delete(d.requests, id)
		return nil
	})
}

func (m *MockDB) DeleteRequestsByBook(ctx context.Context, bookName string) (int64, error) {
	var n int64
	err := m.write(func(d *data) error {
		for id, r := range d.requests {
			if r.BookName == bookName {
				delete(d.requests, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// Issue operations

func (m *MockDB) CreateIssue(ctx context.Context, issue *models.BookIssue) (int64, error) {
	var id int64
	err := m.write(func(d *data) error {
		id = d.id()
		i := *issue
		i.ID = id
		d.issues[id] = i
		return nil
	})
	return id, err
}

func (m *MockDB) GetIssue(ctx context.Context, id int64) (*models.BookIssue, error) {
	var out *models.BookIssue
	err := m.read(func(d *data) error {
		i, ok := d.issues[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = &i
		return nil
	})
	return out, err
}

func (m *MockDB) TransitionIssue(ctx context.Context, id int64, from, to models.IssueState, returnDate time.Time) (bool, error) {
	var changed bool
	err := m.write(func(d *data) error {
		i, ok := d.issues[id]
		if !ok || i.State != from {
			return nil
		}
		i.State = to
		i.ReturnDate = returnDate
		d.issues[id] = i
		changed = true
		return nil
	})
	return changed, err
}

func (m *MockDB) SetIssueFeedback(ctx context.Context, id int64, feedback string) error {
	return m.write(func(d *data) error {
		i, ok := d.issues[id]
		if !ok {
			return storage.ErrNotFound
		}
		i.Feedback = &feedback
		d.issues[id] = i
		return nil
	})
}

func (m *MockDB) ListIssues(ctx context.Context, filter storage.IssueFilter) ([]models.BookIssue, error) {
	var issues []models.BookIssue
	err := m.read(func(d *data) error {
		for _, i := range d.issues {
			if matches(i, filter) {
				issues = append(issues, i)
			}
		}
		return nil
	})

	sort.Slice(issues, func(i, j int) bool {
		return issues[i].ID < issues[j].ID
	})

	return issues, err
}

func (m *MockDB) CountIssues(ctx context.Context, filter storage.IssueFilter) (int, error) {
	issues, err := m.ListIssues(ctx, filter)
	return len(issues), err
}

func (m *MockDB) DeleteIssuesByBook(ctx context.Context, bookName string) (int64, error) {
	var n int64
	err := m.write(func(d *data) error {
		for id, i := range d.issues {
			if i.BookName == bookName {
				delete(d.issues, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func matches(i models.BookIssue, f storage.IssueFilter) bool {
	if f.UserName != "" && i.UserName != f.UserName {
		return false
	}
	if f.BookName != "" && i.BookName != f.BookName {
		return false
	}
	if f.WithFeedback && i.Feedback == nil {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, st := range f.States {
		if i.State == st {
			return true
		}
	}
	return false
}

// Statistics operations

// GetTopBooks returns top N books by issue count over the given states
func (m *MockDB) GetTopBooks(ctx context.Context, limit int, states []models.IssueState) ([]models.BookStat, error) {
	issues, err := m.ListIssues(ctx, storage.IssueFilter{States: states})
	if err != nil {
		return nil, err
	}

	// Count books
	bookCounts := make(map[string]int)
	for _, issue := range issues {
		bookCounts[issue.BookName]++
	}

	// Convert to slice
	var stats []models.BookStat
	for bookName, count := range bookCounts {
		stats = append(stats, models.BookStat{
			BookName:   bookName,
			IssueCount: count,
		})
	}

	// Sort by count descending, then by name
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].IssueCount != stats[j].IssueCount {
			return stats[i].IssueCount > stats[j].IssueCount
		}
		return stats[i].BookName < stats[j].BookName
	})

	// Limit results
	if limit > 0 && limit < len(stats) {
		stats = stats[:limit]
	}

	return stats, nil
}

// GetSectionBookCounts returns the number of books in every non-empty section
func (m *MockDB) GetSectionBookCounts(ctx context.Context) ([]models.SectionBookCount, error) {
	var counts []models.SectionBookCount
	err := m.read(func(d *data) error {
		perSection := make(map[int64]int)
		for _, b := range d.books {
			perSection[b.SectionID]++
		}
		for id, n := range perSection {
			s, ok := d.sections[id]
			if !ok {
				continue
			}
			counts = append(counts, models.SectionBookCount{SectionName: s.Name, BookCount: n})
		}
		return nil
	})

	sort.Slice(counts, func(i, j int) bool {
		return counts[i].SectionName < counts[j].SectionName
	})

	return counts, err
}
