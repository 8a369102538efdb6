package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"library-manager/internal/apperr"
	"library-manager/internal/lending"
	"library-manager/internal/models"
	"library-manager/internal/storage"
)

type submitRequest struct {
	UserName    string `json:"user_name"`
	RequestDate string `json:"request_date"`
	ReturnDate  string `json:"return_date"`
}

// handleSubmitRequest files a request for the caller. Administrators may file for another user.
func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req submitRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	p := principalFrom(r.Context())
	userName := p.Username
	if req.UserName != "" {
		if err := ownerOrAdmin(p, req.UserName); err != nil {
			s.fail(w, r, err)
			return
		}
		userName = req.UserName
	}

	requestedOn, err := parseDate("request_date", req.RequestDate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	dueBy, err := parseDate("return_date", req.ReturnDate)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	book, err := s.catalog.GetBook(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	created, err := s.lending.SubmitRequest(r.Context(), p, lending.SubmitRequestInput{
		UserName:    userName,
		BookName:    book.Name,
		RequestedOn: requestedOn,
		DueBy:       dueBy,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleListRequests lists pending requests. Members only see their own.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	userName := r.URL.Query().Get("user")
	if !p.IsAdmin {
		userName = p.Username
	}

	requests, err := s.lending.PendingRequests(r.Context(), userName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.lending.AcceptRequest)
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.lending.RejectRequest)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.lending.Revoke)
}

// handleReturn lets the holder or an administrator return a book
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.checkIssueOwner(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.decide(w, r, s.lending.ReturnBook)
}

// decide runs a request or issue decision. Auto-declines and invalid
// transitions are reported as outcomes with status 200.
func (s *Server) decide(w http.ResponseWriter, r *http.Request, op func(context.Context, models.Principal, int64) (lending.Outcome, error)) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	outcome, err := op(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) checkIssueOwner(ctx context.Context, issueID int64) error {
	issue, err := s.lending.Issue(ctx, issueID)
	if err != nil {
		return err
	}
	return ownerOrAdmin(principalFrom(ctx), issue.UserName)
}

// handleListIssues lists issues filtered by user, book and state. Members only see their own.
func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	q := r.URL.Query()

	filter := storage.IssueFilter{UserName: q.Get("user"), BookName: q.Get("book")}
	if !p.IsAdmin {
		filter.UserName = p.Username
	}
	if raw := q.Get("state"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			state, err := models.ParseIssueState(strings.TrimSpace(part))
			if err != nil {
				s.fail(w, r, apperr.Validation("%s", err.Error()))
				return
			}
			filter.States = append(filter.States, state)
		}
	}

	issues, err := s.lending.Issues(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req feedbackRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.checkIssueOwner(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}

	issue, err := s.lending.AttachFeedback(r.Context(), principalFrom(r.Context()), id, req.Feedback)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) readBook(r *http.Request) (*lending.Reading, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	book, err := s.catalog.GetBook(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return s.lending.ReadContent(r.Context(), principalFrom(r.Context()), book.Name)
}

func (s *Server) handleReadContent(w http.ResponseWriter, r *http.Request) {
	reading, err := s.readBook(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleDownload serves the book content as a text attachment
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	reading, err := s.readBook(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reading.BookName+".txt"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(reading.Content))
}

func (s *Server) handlePaymentQuote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	quote, err := s.lending.PaymentQuote(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
