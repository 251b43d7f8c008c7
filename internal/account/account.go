// Package account registers users and logs them in with email and password.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/models"
	"live-auction/internal/session"

	"golang.org/x/crypto/bcrypt"
)

// hashCost is the bcrypt work factor for stored passwords
const hashCost = 10

// UserStore is the part of the durable store accounts need
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// Service issues sessions for registered users
type Service struct {
	users    UserStore
	sessions session.Store
}

// NewService creates an account service
func NewService(users UserStore, sessions session.Store) *Service {
	return &Service{users: users, sessions: sessions}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates the user and signs them in
func (s *Service) Register(ctx context.Context, email, password string) (models.User, models.Session, error) {
	email = normalize(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return models.User{}, models.Session{}, fmt.Errorf("account: %w - malformed email", biddingerrors.ErrInvalidAccount)
	}
	if password == "" {
		return models.User{}, models.Session{}, fmt.Errorf("account: %w - empty password", biddingerrors.ErrInvalidAccount)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return models.User{}, models.Session{}, fmt.Errorf("account: hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, email, string(hash))
	if err != nil {
		return models.User{}, models.Session{}, fmt.Errorf("account: register %s: %w", email, err)
	}

	sess, err := s.sessions.Issue(ctx, models.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		return models.User{}, models.Session{}, fmt.Errorf("account: issue session for %d: %w", user.ID, err)
	}
	return user, sess, nil
}

// Login checks the password and issues a session. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (models.User, models.Session, error) {
	email = normalize(email)
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, biddingerrors.ErrUserNotFound) {
		return models.User{}, models.Session{}, fmt.Errorf("account: login %s: %w", email, biddingerrors.ErrInvalidCredentials)
	}
	if err != nil {
		return models.User{}, models.Session{}, fmt.Errorf("account: login %s: %w", email, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, models.Session{}, fmt.Errorf("account: login %s: %w", email, biddingerrors.ErrInvalidCredentials)
	}

	sess, err := s.sessions.Issue(ctx, models.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		return models.User{}, models.Session{}, fmt.Errorf("account: issue session for %d: %w", user.ID, err)
	}
	return user, sess, nil
}

// Logout revokes the session token
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return fmt.Errorf("account: logout: %w", err)
	}
	return nil
}
