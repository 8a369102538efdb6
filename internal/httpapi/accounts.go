package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"library-manager/internal/auth"
	"library-manager/internal/lending"
	"library-manager/internal/models"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.auth.Register(r.Context(), req.Username, req.Password, req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	user, token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.logger.Info("User logged in", zap.String("username", user.Username))
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

type meResponse struct {
	User  *models.User  `json:"user"`
	Quota lending.Quota `json:"quota"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	user, err := s.auth.GetUser(r.Context(), p.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	quota, err := s.lending.UserQuota(r.Context(), user.Username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: user, Quota: quota})
}

type profileRequest struct {
	CurrentPassword string `json:"current_password"`
	Username        string `json:"username"`
	NewPassword     string `json:"new_password"`
	Name            string `json:"name"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	p := principalFrom(r.Context())
	user, err := s.auth.UpdateProfile(r.Context(), p.UserID, auth.ProfileInput{
		CurrentPassword: req.CurrentPassword,
		Username:        req.Username,
		NewPassword:     req.NewPassword,
		Name:            req.Name,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// The token carries the username, so issue a fresh one
	token, err := s.auth.Tokens().Issue(user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}
