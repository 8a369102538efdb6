package stubs

import (
	"context"
	"sort"
	"sync"
	"time"

	"library-manager/internal/models"
)

// MemoryJournal keeps ledger transitions in memory
type MemoryJournal struct {
	mu          sync.RWMutex
	transitions []models.Transition
}

// NewMemoryJournal creates an empty journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{transitions: make([]models.Transition, 0)}
}

// Initialize does nothing for the in-memory journal
func (j *MemoryJournal) Initialize(ctx context.Context) error {
	return nil
}

// Record appends a transition
func (j *MemoryJournal) Record(ctx context.Context, t models.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.transitions = append(j.transitions, t)
	return nil
}

// GetLastTransitions returns the last N transitions, newest first
func (j *MemoryJournal) GetLastTransitions(ctx context.Context, limit int) ([]models.Transition, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	// Sort transitions by time descending
	sorted := make([]models.Transition, len(j.transitions))
	copy(sorted, j.transitions)
	sort.SliceStable(sorted, func(i, k int) bool {
		return sorted[i].At.After(sorted[k].At)
	})

	if limit > len(sorted) {
		limit = len(sorted)
	}

	return sorted[:limit], nil
}

// GetTopBooks returns top N books by accepted transitions within the period.
// If userName is set only that user's transitions are counted.
func (j *MemoryJournal) GetTopBooks(ctx context.Context, limit int, startDate, endDate time.Time, userName string) ([]models.BookStat, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	bookCounts := make(map[string]int)
	for _, t := range j.transitions {
		if t.To != models.StateAccepted {
			continue
		}
		if t.At.Before(startDate) || t.At.After(endDate) {
			continue
		}
		if userName != "" && t.UserName != userName {
			continue
		}
		bookCounts[t.BookName]++
	}

	var stats []models.BookStat
	for bookName, count := range bookCounts {
		stats = append(stats, models.BookStat{BookName: bookName, IssueCount: count})
	}

	sort.Slice(stats, func(i, k int) bool {
		if stats[i].IssueCount != stats[k].IssueCount {
			return stats[i].IssueCount > stats[k].IssueCount
		}
		return stats[i].BookName < stats[k].BookName
	})

	if limit > 0 && limit < len(stats) {
		stats = stats[:limit]
	}

	return stats, nil
}

// Close does nothing for the in-memory journal
func (j *MemoryJournal) Close() error {
	return nil
}
