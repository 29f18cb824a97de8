package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"dcabot/internal/models"
	"dcabot/internal/notify"
	"dcabot/internal/repository"
)

// NotificationSettingsInput replaces a user's delivery preferences.
type NotificationSettingsInput struct {
	EmailEnabled       bool   `json:"emailEnabled"`
	EmailAddress       string `json:"emailAddress"`
	LineEnabled        bool   `json:"lineEnabled"`
	LineUserID         string `json:"lineUserId"`
	TelegramEnabled    bool   `json:"telegramEnabled"`
	TelegramChatID     int64  `json:"telegramChatId"`
	SlackWebhookURL    string `json:"slackWebhookUrl"`
	DiscordWebhookURL  string `json:"discordWebhookUrl"`
	NotifySuccess      *bool  `json:"notifySuccess"`
	NotifyFailure      *bool  `json:"notifyFailure"`
	NotifyDailySummary *bool  `json:"notifyDailySummary"`
}

type NotificationService struct {
	Repo repository.NotificationRepository
}

func (s *NotificationService) List(ctx context.Context, userID uint64, unreadOnly bool, limit, offset int) ([]models.Notification, int64, int64, error) {
	params := repository.ListNotificationsParams{UserID: userID, UnreadOnly: unreadOnly, Limit: limit, Offset: offset}
	items, err := s.Repo.ListNotifications(ctx, params)
	if err != nil {
		return nil, 0, 0, err
	}
	total, err := s.Repo.CountNotifications(ctx, params)
	if err != nil {
		return nil, 0, 0, err
	}
	unread, err := s.Repo.CountNotifications(ctx, repository.ListNotificationsParams{UserID: userID, UnreadOnly: true})
	if err != nil {
		return nil, 0, 0, err
	}
	return items, total, unread, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id uint64) error {
	ok, err := s.Repo.MarkNotificationRead(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint64) (int64, error) {
	return s.Repo.MarkAllNotificationsRead(ctx, userID)
}

// Settings returns the stored preferences or the defaults when none exist.
func (s *NotificationService) Settings(ctx context.Context, userID uint64) (*models.NotificationSetting, error) {
	item, err := s.Repo.GetNotificationSetting(ctx, userID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		item = &models.NotificationSetting{UserID: userID, NotifySuccess: true, NotifyFailure: true, NotifyDailySummary: true}
	}
	return item, nil
}

func (s *NotificationService) UpdateSettings(ctx context.Context, userID uint64, in NotificationSettingsInput) (*models.NotificationSetting, error) {
	item, err := s.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(in.EmailAddress)
	if in.EmailEnabled {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: invalid email address", ErrValidation)
		}
	}
	if in.LineEnabled && strings.TrimSpace(in.LineUserID) == "" {
		return nil, fmt.Errorf("%w: line user id is required", ErrValidation)
	}
	if in.TelegramEnabled && in.TelegramChatID == 0 {
		return nil, fmt.Errorf("%w: telegram chat id is required", ErrValidation)
	}
	slack := strings.TrimSpace(in.SlackWebhookURL)
	if slack != "" && !strings.HasPrefix(slack, "https://") {
		return nil, fmt.Errorf("%w: slack webhook must be an https url", ErrValidation)
	}
	discord := strings.TrimSpace(in.DiscordWebhookURL)
	if discord != "" {
		if err := notify.ValidateDiscordWebhook(discord); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	item.EmailEnabled = in.EmailEnabled
	item.EmailAddress = email
	item.LineEnabled = in.LineEnabled
	item.LineUserID = strings.TrimSpace(in.LineUserID)
	item.TelegramEnabled = in.TelegramEnabled
	item.TelegramChatID = in.TelegramChatID
	item.SlackWebhookURL = slack
	item.DiscordWebhookURL = discord
	if in.NotifySuccess != nil {
		item.NotifySuccess = *in.NotifySuccess
	}
	if in.NotifyFailure != nil {
		item.NotifyFailure = *in.NotifyFailure
	}
	if in.NotifyDailySummary != nil {
		item.NotifyDailySummary = *in.NotifyDailySummary
	}
	if err := s.Repo.UpsertNotificationSetting(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}
