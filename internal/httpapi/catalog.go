package httpapi

import (
	"net/http"

	"library-manager/internal/catalog"
	"library-manager/internal/models"
)

type sectionRequest struct {
	Name        string `json:"name"`
	DateCreated string `json:"date_created"`
	Description string `json:"description"`
}

func (req sectionRequest) input() (catalog.SectionInput, error) {
	date, err := parseDate("date_created", req.DateCreated)
	if err != nil {
		return catalog.SectionInput{}, err
	}
	return catalog.SectionInput{Name: req.Name, DateCreated: date, Description: req.Description}, nil
}

type bookRequest struct {
	SectionID int64  `json:"section_id"`
	Name      string `json:"name"`
	Authors   string `json:"authors"`
	Content   string `json:"content"`
	Price     int64  `json:"price"`
	DateAdded string `json:"date_added"`
}

func (req bookRequest) input() (catalog.BookInput, error) {
	date, err := parseDate("date_added", req.DateAdded)
	if err != nil {
		return catalog.BookInput{}, err
	}
	return catalog.BookInput{
		SectionID: req.SectionID,
		Name:      req.Name,
		Authors:   req.Authors,
		Content:   req.Content,
		Price:     req.Price,
		DateAdded: date,
	}, nil
}

func (s *Server) handleListSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.catalog.ListSections(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sections)
}

func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	section, err := s.catalog.GetSection(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, section)
}

func (s *Server) handleCreateSection(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	section, err := s.catalog.CreateSection(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, section)
}

func (s *Server) handleUpdateSection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req sectionRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	section, err := s.catalog.UpdateSection(r.Context(), id, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, section)
}

func (s *Server) handleDeleteSection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.catalog.DeleteSection(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSectionBooks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	books, err := s.catalog.ListBooksInSection(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withoutContent(books))
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.catalog.ListBooks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withoutContent(books))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	book, err := s.catalog.GetBook(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !principalFrom(r.Context()).IsAdmin {
		book.Content = ""
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	book, err := s.catalog.CreateBook(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req bookRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	book, err := s.catalog.UpdateBook(r.Context(), id, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.catalog.DeleteBook(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withoutContent hides book content in listings, readers fetch it through the content route
func withoutContent(books []models.Book) []models.Book {
	for i := range books {
		books[i].Content = ""
	}
	return books
}
