package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"dcabot/internal/engine"
	"dcabot/internal/models"
	"dcabot/internal/repository"
	"dcabot/internal/scheduler"
)

const (
	FeatureTrading      = engine.FeatureTrading
	FeatureScheduler    = scheduler.FeatureScheduler
	FeatureReconciler   = "feature.reconciler"
	FeaturePriceRefresh = "feature.price_refresh"
	FeatureDailySummary = "feature.daily_summary"
	FeatureRetention    = "feature.retention"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureTrading:      true,
		FeatureScheduler:    true,
		FeatureReconciler:   true,
		FeaturePriceRefresh: true,
		FeatureDailySummary: true,
		FeatureRetention:    true,
	}
}

type SystemSettingsService struct {
	Repo repository.SystemRepository
}

// EnsureDefaultSwitches inserts missing feature switches. Existing values are
// never overwritten so an operator's OFF survives restarts.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	raw, _ := json.Marshal(enabled)
	_, err := s.Set(ctx, key, raw, "feature switch")
	return err
}

// Set stores any JSON value under key. Feature switches only accept booleans.
func (s *SystemSettingsService) Set(ctx context.Context, key string, value json.RawMessage, description string) (*models.SystemSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrValidation)
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("%w: value must be valid JSON", ErrValidation)
	}
	if strings.HasPrefix(key, "feature.") {
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return nil, fmt.Errorf("%w: feature switch %s takes a boolean", ErrValidation, key)
		}
	}
	now := time.Now().UTC()
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(value),
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *SystemSettingsService) List(ctx context.Context, prefix string, limit, offset int) ([]models.SystemSetting, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, nil
	}
	params := repository.ListSystemSettingsParams{Limit: limit, Offset: offset, OrderBy: "key"}
	if p := strings.TrimSpace(prefix); p != "" {
		params.Prefix = &p
	}
	items, err := s.Repo.ListSystemSettings(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountSystemSettings(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
