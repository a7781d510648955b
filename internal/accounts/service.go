// Package accounts provides email/password account management.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// ErrEmailExists is returned by SignUp when the email is already
// registered.
var ErrEmailExists = errors.New("email already registered")

// UserStore defines the storage interface for accounts
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// WelcomeMailer sends the post-signup welcome email. May be nil when
// SMTP is not configured.
type WelcomeMailer interface {
	SendWelcomeEmail(to, displayName string) error
	IsConfigured() bool
}

// Service provides email/password account operations
type Service struct {
	store  UserStore
	mailer WelcomeMailer
}

// NewService creates a new accounts service
func NewService(store UserStore, mailer WelcomeMailer) *Service {
	return &Service{store: store, mailer: mailer}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates a new user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return store.User{}, errors.New("email, password, and display name are required")
	}

	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("user"),
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		go func() {
			if err := s.mailer.SendWelcomeEmail(user.Email, user.DisplayName); err != nil {
				log.Printf("welcome email to %s failed: %v", user.Email, err)
			}
		}()
	}

	return user, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user by email and password
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	return user, nil
}
