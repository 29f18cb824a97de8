// Package notify persists user notifications and delivers them to the
// external channels each user has configured.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"dcabot/internal/metrics"
	"dcabot/internal/models"
	"dcabot/internal/realtime"
	"dcabot/internal/repository"
)

var ErrNoSender = errors.New("no sender for channel")

type Event struct {
	Type    string
	Title   string
	Message string
	Data    map[string]any
}

// Delivery is one external send. It is also the queue message body.
type Delivery struct {
	NotificationID uint64 `json:"notificationId"`
	UserID         uint64 `json:"userId"`
	Type           string `json:"type"`
	Channel        string `json:"channel"`
	Target         string `json:"target"`
	Title          string `json:"title"`
	Message        string `json:"message"`
}

type Sender interface {
	Send(ctx context.Context, target, title, message string) error
}

type Publisher interface {
	Publish(ctx context.Context, d Delivery) error
}

type Dispatcher struct {
	Repo     repository.NotificationRepository
	Realtime realtime.Broadcaster
	Senders  map[string]Sender
	Queue    Publisher
	Timeout  time.Duration
	Logger   *zap.Logger

	wg sync.WaitGroup
}

// Notify stores the in-app row, pushes it to the user's open sockets, then
// hands the external deliveries to the queue or a background sender. Only the
// store write can fail the call.
func (d *Dispatcher) Notify(ctx context.Context, userID uint64, ev Event) (*models.Notification, error) {
	if d == nil || d.Repo == nil {
		return nil, nil
	}
	item := &models.Notification{
		UserID:  userID,
		Type:    ev.Type,
		Channel: models.ChannelInApp,
		Title:   ev.Title,
		Message: ev.Message,
	}
	if len(ev.Data) > 0 {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal notification data: %w", err)
		}
		item.Data = datatypes.JSON(raw)
	}
	if err := d.Repo.CreateNotification(ctx, item); err != nil {
		return nil, err
	}
	metrics.NotificationsTotal.WithLabelValues(models.ChannelInApp, "ok").Inc()
	if d.Realtime != nil {
		d.Realtime.SendToUser(userID, realtime.TypeNotification, item)
	}

	deliveries, err := d.plan(ctx, item)
	if err != nil {
		d.logger().Warn("load notification settings failed", zap.Uint64("user_id", userID), zap.Error(err))
		return item, nil
	}
	if len(deliveries) == 0 {
		return item, nil
	}

	direct := deliveries[:0:0]
	for _, dl := range deliveries {
		if d.Queue != nil {
			err := d.Queue.Publish(ctx, dl)
			if err == nil {
				continue
			}
			d.logger().Warn("notification enqueue failed, sending directly", zap.String("channel", dl.Channel), zap.Error(err))
		}
		direct = append(direct, dl)
	}
	if len(direct) == 0 {
		return item, nil
	}

	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		var errs []string
		var sentAt *time.Time
		for _, dl := range direct {
			if err := d.send(bg, dl); err != nil {
				errs = append(errs, dl.Channel+": "+err.Error())
				continue
			}
			if sentAt == nil {
				now := time.Now().UTC()
				sentAt = &now
			}
		}
		if err := d.Repo.UpdateNotificationDelivery(bg, item.ID, sentAt, strings.Join(errs, "; ")); err != nil {
			d.logger().Warn("record notification delivery failed", zap.Uint64("notification_id", item.ID), zap.Error(err))
		}
	}()
	return item, nil
}

// Deliver performs one queued delivery and records its outcome on the row.
func (d *Dispatcher) Deliver(ctx context.Context, dl Delivery) error {
	if d == nil {
		return nil
	}
	err := d.send(ctx, dl)
	if d.Repo != nil && dl.NotificationID != 0 {
		var sentAt *time.Time
		msg := ""
		if err == nil {
			now := time.Now().UTC()
			sentAt = &now
		} else {
			msg = dl.Channel + ": " + err.Error()
		}
		if uerr := d.Repo.UpdateNotificationDelivery(ctx, dl.NotificationID, sentAt, msg); uerr != nil {
			d.logger().Warn("record notification delivery failed", zap.Uint64("notification_id", dl.NotificationID), zap.Error(uerr))
		}
	}
	return err
}

// Wait blocks until background deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, dl Delivery) error {
	sender, ok := d.Senders[dl.Channel]
	if !ok || sender == nil {
		metrics.NotificationsTotal.WithLabelValues(dl.Channel, "no_sender").Inc()
		return fmt.Errorf("%w: %s", ErrNoSender, dl.Channel)
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := sender.Send(sctx, dl.Target, dl.Title, dl.Message)
	metrics.NotificationsTotal.WithLabelValues(dl.Channel, metrics.Result(err)).Inc()
	if err != nil {
		d.logger().Warn("notification delivery failed",
			zap.String("channel", dl.Channel),
			zap.Uint64("user_id", dl.UserID),
			zap.Error(err),
		)
	}
	return err
}

// plan lists the external deliveries the user's settings allow for the row.
func (d *Dispatcher) plan(ctx context.Context, item *models.Notification) ([]Delivery, error) {
	setting, err := d.Repo.GetNotificationSetting(ctx, item.UserID)
	if err != nil || setting == nil {
		return nil, err
	}
	if !externalAllowed(setting, item.Type) {
		return nil, nil
	}
	targets := map[string]string{}
	if setting.EmailEnabled && strings.TrimSpace(setting.EmailAddress) != "" {
		targets[models.ChannelEmail] = strings.TrimSpace(setting.EmailAddress)
	}
	if setting.LineEnabled && strings.TrimSpace(setting.LineUserID) != "" {
		targets[models.ChannelLine] = strings.TrimSpace(setting.LineUserID)
	}
	if setting.TelegramEnabled && setting.TelegramChatID != 0 {
		targets[models.ChannelTelegram] = strconv.FormatInt(setting.TelegramChatID, 10)
	}
	if u := strings.TrimSpace(setting.SlackWebhookURL); u != "" {
		targets[models.ChannelSlack] = u
	}
	if u := strings.TrimSpace(setting.DiscordWebhookURL); u != "" {
		targets[models.ChannelDiscord] = u
	}
	out := make([]Delivery, 0, len(targets))
	for _, ch := range []string{models.ChannelEmail, models.ChannelLine, models.ChannelTelegram, models.ChannelSlack, models.ChannelDiscord} {
		target, ok := targets[ch]
		if !ok {
			continue
		}
		if _, ok := d.Senders[ch]; !ok {
			continue
		}
		out = append(out, Delivery{
			NotificationID: item.ID,
			UserID:         item.UserID,
			Type:           item.Type,
			Channel:        ch,
			Target:         target,
			Title:          item.Title,
			Message:        item.Message,
		})
	}
	return out, nil
}

// externalAllowed applies the per-type toggles. Strategy lifecycle events stay
// in-app only.
func externalAllowed(s *models.NotificationSetting, notificationType string) bool {
	switch notificationType {
	case models.NotificationExecutionSuccess:
		return s.NotifySuccess
	case models.NotificationExecutionFailed:
		return s.NotifyFailure
	case models.NotificationDailySummary:
		return s.NotifyDailySummary
	case models.NotificationPriceAlert, models.NotificationSystem:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
