package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/auth"
	"dcabot/internal/models"
	"dcabot/internal/repository"
)

type AuthService struct {
	Repo   repository.UserRepository
	JWT    auth.JWT
	Logger *zap.Logger
}

type Session struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func (s *AuthService) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, err
	}
	user := &models.User{Email: email, Name: name, PasswordHash: hash, IsActive: true}
	if err := s.Repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("user registered", zap.Uint64("user_id", user.ID))
	}
	return s.session(user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.Repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidLogin
	}
	now := time.Now().UTC()
	if err := s.Repo.TouchUserLogin(ctx, user.ID, now); err != nil && s.Logger != nil {
		s.Logger.Warn("touch last login failed", zap.Uint64("user_id", user.ID), zap.Error(err))
	}
	user.LastLoginAt = &now
	return s.session(user)
}

func (s *AuthService) Me(ctx context.Context, userID uint64) (*models.User, error) {
	user, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func (s *AuthService) session(user *models.User) (*Session, error) {
	token, exp, err := s.JWT.Sign(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
