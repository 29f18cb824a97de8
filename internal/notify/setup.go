package notify

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/config"
	"dcabot/internal/models"
)

// SendersFromConfig builds the external channels that have credentials.
// Slack and Discord deliver to per-user webhooks so they are always present.
func SendersFromConfig(cfg config.NotifyConfig, logger *zap.Logger) map[string]Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	out := map[string]Sender{
		models.ChannelSlack: &SlackSender{HTTPClient: httpClient},
	}

	if token := strings.TrimSpace(cfg.Telegram.BotToken); token != "" {
		tg, err := NewTelegramSender(token)
		if err != nil {
			logger.Warn("telegram sender disabled", zap.Error(err))
		} else {
			out[models.ChannelTelegram] = tg
		}
	}
	if strings.TrimSpace(cfg.Line.ChannelToken) != "" {
		out[models.ChannelLine] = &LineSender{
			ChannelToken: cfg.Line.ChannelToken,
			PushURL:      cfg.Line.PushURL,
			HTTPClient:   httpClient,
		}
	}
	if strings.TrimSpace(cfg.SMTP.Host) != "" {
		out[models.ChannelEmail] = &EmailSender{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}
	}
	if dc, err := NewDiscordSender(); err != nil {
		logger.Warn("discord sender disabled", zap.Error(err))
	} else {
		out[models.ChannelDiscord] = dc
	}

	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	logger.Info("notification channels ready", zap.Strings("channels", names))
	return out
}
