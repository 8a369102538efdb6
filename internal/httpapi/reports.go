package httpapi

import (
	"net/http"
	"time"

	"library-manager/internal/apperr"
	"library-manager/internal/reporting"
)

const defaultActivityWindow = 30 * 24 * time.Hour

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.reports.Dashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (s *Server) handleTopBooks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, reporting.TopBooksLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.reports.TopIssuedBooks(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func bookParam(r *http.Request) (string, error) {
	name := r.URL.Query().Get("book")
	if name == "" {
		return "", apperr.Validation("book is required")
	}
	return name, nil
}

func (s *Server) handleHolders(w http.ResponseWriter, r *http.Request) {
	name, err := bookParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	holders, err := s.reports.BookHolders(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holders)
}

func (s *Server) handleBookFeedback(w http.ResponseWriter, r *http.Request) {
	name, err := bookParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	feedback, err := s.reports.BookFeedback(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedback)
}

func (s *Server) handleAcceptedBooks(w http.ResponseWriter, r *http.Request) {
	names, err := s.reports.AcceptedBookNames(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// handleActivity ranks books accepted within [from, to). Without dates the last 30 days are used.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(r, reporting.TopBooksLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if to.IsZero() {
		to = s.lending.Today().AddDate(0, 0, 1)
	}
	if from.IsZero() {
		from = to.Add(-defaultActivityWindow)
	}
	if !from.Before(to) {
		s.fail(w, r, apperr.Validation("from must be before to"))
		return
	}

	stats, err := s.reports.Activity(r.Context(), limit, from, to, q.Get("user"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	transitions, err := s.reports.RecentTransitions(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}
