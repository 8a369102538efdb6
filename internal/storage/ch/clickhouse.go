package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"library-manager/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseJournal stores ledger transitions in ClickHouse for period statistics
type ClickHouseJournal struct {
	conn clickhouse.Conn
}

// NewClickHouseJournal creates a new ClickHouse connection
func NewClickHouseJournal(host string, port int, database, user, password string, useTLS bool) (*ClickHouseJournal, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseJournal{conn: conn}, nil
}

// Initialize creates the issue_events table when it does not exist
func (j *ClickHouseJournal) Initialize(ctx context.Context) error {
	err := j.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS issue_events (
			id String,
			at DateTime,
			issue_id Int64,
			book_name String,
			user_name String,
			from_state LowCardinality(String),
			to_state LowCardinality(String),
			actor String
		) ENGINE = MergeTree()
		ORDER BY at
	`)
	if err != nil {
		return fmt.Errorf("failed to create issue_events table: %w", err)
	}
	return nil
}

// Record stores a ledger transition
func (j *ClickHouseJournal) Record(ctx context.Context, t models.Transition) error {
	err := j.conn.Exec(ctx, `INSERT INTO issue_events (id, at, issue_id, book_name, user_name, from_state, to_state, actor) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.At, t.IssueID, t.BookName, t.UserName, string(t.From), string(t.To), t.Actor)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// GetLastTransitions returns the last N transitions, newest first
func (j *ClickHouseJournal) GetLastTransitions(ctx context.Context, limit int) ([]models.Transition, error) {
	rows, err := j.conn.Query(ctx, `
		SELECT id, at, issue_id, book_name, user_name, from_state, to_state, actor
		FROM issue_events
		ORDER BY at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get last transitions: %w", err)
	}
	defer rows.Close()

	var transitions []models.Transition
	for rows.Next() {
		var (
			t        models.Transition
			from, to string
		)
		if err := rows.Scan(&t.ID, &t.At, &t.IssueID, &t.BookName, &t.UserName, &from, &to, &t.Actor); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.From = models.IssueState(from)
		t.To = models.IssueState(to)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// GetTopBooks returns top N books by accepted transitions within the specified time period.
// If userName is empty, all users are counted.
func (j *ClickHouseJournal) GetTopBooks(ctx context.Context, limit int, startDate, endDate time.Time, userName string) ([]models.BookStat, error) {
	query := `
		SELECT book_name, count() AS issue_count
		FROM issue_events
		WHERE to_state = ? AND at >= ? AND at <= ?`
	args := []interface{}{string(models.StateAccepted), startDate, endDate}

	if userName != "" {
		query += ` AND user_name = ?`
		args = append(args, userName)
	}

	query += `
		GROUP BY book_name
		ORDER BY issue_count DESC, book_name ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := j.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get top books: %w", err)
	}
	defer rows.Close()

	var stats []models.BookStat
	for rows.Next() {
		var (
			stat  models.BookStat
			count uint64
		)
		if err := rows.Scan(&stat.BookName, &count); err != nil {
			return nil, fmt.Errorf("failed to scan book stat: %w", err)
		}
		stat.IssueCount = int(count)
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// Close closes the database connection
func (j *ClickHouseJournal) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}
