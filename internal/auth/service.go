// Package auth manages user accounts, passwords and access tokens
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"library-manager/internal/apperr"
	"library-manager/internal/models"
	"library-manager/internal/storage"
)

// Service registers and authenticates users
type Service struct {
	store  storage.Storage
	tokens *Tokens
	logger *zap.Logger
}

// NewService creates an auth service
func NewService(store storage.Storage, tokens *Tokens, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, tokens: tokens, logger: logger}
}

// Tokens returns the token issuer used by the service
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// Register creates a member account
func (s *Service) Register(ctx context.Context, username, password, name string) (*models.User, error) {
	return s.create(ctx, username, password, name, false)
}

func (s *Service) create(ctx context.Context, username, password, name string, admin bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	name = strings.TrimSpace(name)
	if username == "" || password == "" || name == "" {
		return nil, apperr.Validation("username, password and name are required")
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{Username: username, PasswordHash: hash, Name: name, IsAdmin: admin}
	id, err := s.store.CreateUser(ctx, &user)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Validation("username %q already exists", username)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.ID = id

	s.logger.Info("User registered", zap.Int64("user_id", id), zap.String("username", username), zap.Bool("admin", admin))
	return &user, nil
}

// Login checks the credentials and returns the user with a fresh token
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, "", err
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Verify parses an access token and resolves it against the stored account.
// The principal carries the stored username and admin flag. A token issued
// before a rename, or for a deleted account, is rejected.
func (s *Service) Verify(ctx context.Context, token string) (models.Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return models.Principal{}, apperr.Unauthorized("invalid token")
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Principal{}, apperr.Unauthorized("account no longer exists")
		}
		return models.Principal{}, fmt.Errorf("failed to load user: %w", err)
	}
	if user.Username != claims.Username {
		s.logger.Warn("Token issued for a previous username",
			zap.Int64("user_id", user.ID),
			zap.String("token_username", claims.Username),
		)
		return models.Principal{}, apperr.Unauthorized("token is no longer valid")
	}

	return models.Principal{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin}, nil
}

// Authenticate checks a username and password
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Unauthorized("invalid username or password")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("Failed login attempt", zap.String("username", user.Username))
		return nil, apperr.Unauthorized("invalid username or password")
	}
	return user, nil
}

// GetUser returns a user by id
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("user %d", id)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// ProfileInput holds a profile change. Empty NewPassword keeps the current one.
type ProfileInput struct {
	CurrentPassword string
	Username        string
	NewPassword     string
	Name            string
}

// UpdateProfile changes a user's username, name or password after checking
// the current password. Ledger rows keep the old username.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if in.Username == "" || in.Name == "" || in.CurrentPassword == "" {
		return nil, apperr.Validation("username, name and current password are required")
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.CurrentPassword)); err != nil {
		return nil, apperr.Validation("current password is incorrect")
	}

	user.Username = in.Username
	user.Name = in.Name
	if in.NewPassword != "" {
		hash, err := hashPassword(in.NewPassword)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Validation("username %q already exists", in.Username)
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.logger.Info("Profile updated", zap.Int64("user_id", userID))
	return user, nil
}

// EnsureAdmin creates an administrator account unless one already exists.
// It reports whether a new account was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	admins, err := s.store.CountAdmins(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count admins: %w", err)
	}
	if admins > 0 {
		return false, nil
	}

	if _, err := s.create(ctx, username, password, "Administrator", true); err != nil {
		return false, err
	}
	return true, nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", apperr.Validation("password is too long")
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
