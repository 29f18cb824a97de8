package gormrepository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"dcabot/internal/repository"
)

type Store struct {
	db *gorm.DB
}

var _ repository.Repository = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func first[T any](query *gorm.DB) (*T, error) {
	var item T
	err := query.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicate
	}
	return err
}

// applyOrder only accepts columns listed in allowed; anything else falls back.
func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string, allowed ...string) *gorm.DB {
	column := fallback
	if want := strings.TrimSpace(orderBy); want != "" {
		for _, a := range allowed {
			if a == want {
				column = want
				break
			}
		}
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
