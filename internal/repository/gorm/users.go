package gormrepository

import (
	"context"
	"strings"
	"time"

	"dcabot/internal/models"
)

func (s *Store) CreateUser(ctx context.Context, item *models.User) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Email = strings.ToLower(strings.TrimSpace(item.Email))
	return translate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return first[models.User](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	return first[models.User](s.db.WithContext(ctx).Where("email = ?", email))
}

func (s *Store) TouchUserLogin(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_login_at", at).Error
}
