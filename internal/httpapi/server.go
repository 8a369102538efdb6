// Package httpapi exposes the library services as a JSON API
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"library-manager/internal/apperr"
	"library-manager/internal/auth"
	"library-manager/internal/catalog"
	"library-manager/internal/lending"
	"library-manager/internal/models"
	"library-manager/internal/reporting"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const dateLayout = "2006-01-02"

// Server handles HTTP requests for the library API
type Server struct {
	auth    *auth.Service
	catalog *catalog.Service
	lending *lending.Service
	reports *reporting.Service
	limiter *limiterStore
	logger  *zap.Logger
}

// Options configures the HTTP server
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *zap.Logger
}

// NewServer creates a new HTTP server for the API
func NewServer(authSvc *auth.Service, catalogSvc *catalog.Service, lendingSvc *lending.Service, reportSvc *reporting.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		auth:    authSvc,
		catalog: catalogSvc,
		lending: lendingSvc,
		reports: reportSvc,
		limiter: newLimiterStore(opts.RateLimitRPS, opts.RateLimitBurst),
		logger:  logger,
	}
}

// Handler returns the routed API wrapped in the request-scoped middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.requestID(s.accessLog(s.rateLimit(mux)))
}

// RegisterRoutes registers API routes on the provided mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Accounts
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.member(s.handleMe))
	mux.HandleFunc("PUT /api/me", s.member(s.handleUpdateProfile))

	// Catalog
	mux.HandleFunc("GET /api/sections", s.member(s.handleListSections))
	mux.HandleFunc("POST /api/sections", s.admin(s.handleCreateSection))
	mux.HandleFunc("GET /api/sections/{id}", s.member(s.handleGetSection))
	mux.HandleFunc("PUT /api/sections/{id}", s.admin(s.handleUpdateSection))
	mux.HandleFunc("DELETE /api/sections/{id}", s.admin(s.handleDeleteSection))
	mux.HandleFunc("GET /api/sections/{id}/books", s.member(s.handleListSectionBooks))
	mux.HandleFunc("GET /api/books", s.member(s.handleListBooks))
	mux.HandleFunc("POST /api/books", s.admin(s.handleCreateBook))
	mux.HandleFunc("GET /api/books/{id}", s.member(s.handleGetBook))
	mux.HandleFunc("PUT /api/books/{id}", s.admin(s.handleUpdateBook))
	mux.HandleFunc("DELETE /api/books/{id}", s.admin(s.handleDeleteBook))

	// Lending
	mux.HandleFunc("POST /api/books/{id}/requests", s.member(s.handleSubmitRequest))
	mux.HandleFunc("GET /api/books/{id}/content", s.member(s.handleReadContent))
	mux.HandleFunc("GET /api/books/{id}/download", s.member(s.handleDownload))
	mux.HandleFunc("GET /api/books/{id}/payment", s.member(s.handlePaymentQuote))
	mux.HandleFunc("GET /api/requests", s.member(s.handleListRequests))
	mux.HandleFunc("POST /api/requests/{id}/accept", s.admin(s.handleAcceptRequest))
	mux.HandleFunc("POST /api/requests/{id}/reject", s.admin(s.handleRejectRequest))
	mux.HandleFunc("GET /api/issues", s.member(s.handleListIssues))
	mux.HandleFunc("POST /api/issues/{id}/revoke", s.admin(s.handleRevoke))
	mux.HandleFunc("POST /api/issues/{id}/return", s.member(s.handleReturn))
	mux.HandleFunc("POST /api/issues/{id}/feedback", s.member(s.handleFeedback))

	// Reports
	mux.HandleFunc("GET /api/reports/dashboard", s.admin(s.handleDashboard))
	mux.HandleFunc("GET /api/reports/top-books", s.admin(s.handleTopBooks))
	mux.HandleFunc("GET /api/reports/holders", s.admin(s.handleHolders))
	mux.HandleFunc("GET /api/reports/feedback", s.admin(s.handleBookFeedback))
	mux.HandleFunc("GET /api/reports/accepted-books", s.admin(s.handleAcceptedBooks))
	mux.HandleFunc("GET /api/reports/activity", s.admin(s.handleActivity))
	mux.HandleFunc("GET /api/reports/transitions", s.admin(s.handleTransitions))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, reporting.ErrNoJournal):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := apperr.Message(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestIDFrom(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid %s %q, expected YYYY-MM-DD", field, value)
	}
	return d, nil
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperr.Validation("invalid limit %q", raw)
	}
	return limit, nil
}

// ownerOrAdmin rejects callers acting on another user's records
func ownerOrAdmin(p models.Principal, userName string) error {
	if p.IsAdmin || p.Username == userName {
		return nil
	}
	return apperr.Forbidden("not allowed to act for user %q", userName)
}
