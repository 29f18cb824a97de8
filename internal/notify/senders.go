package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/slack-go/slack"
)

// TelegramSender posts through the configured bot; target is the chat id.
type TelegramSender struct {
	Bot *telego.Bot
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := telego.NewBot(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSender{Bot: bot}, nil
}

func (s *TelegramSender) Send(ctx context.Context, target, title, message string) error {
	if s == nil || s.Bot == nil {
		return ErrNoSender
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", target, err)
	}
	_, err = s.Bot.SendMessage(ctx, tu.Message(tu.ID(chatID), formatText(title, message)))
	return err
}

const DefaultLinePushURL = "https://api.line.me/v2/bot/message/push"

// LineSender calls the Messaging API push endpoint; target is the LINE user id.
type LineSender struct {
	ChannelToken string
	PushURL      string
	HTTPClient   *http.Client
}

func (s *LineSender) Send(ctx context.Context, target, title, message string) error {
	if s == nil || strings.TrimSpace(s.ChannelToken) == "" {
		return ErrNoSender
	}
	payload := map[string]any{
		"to": target,
		"messages": []map[string]string{
			{"type": "text", "text": formatText(title, message)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := s.PushURL
	if endpoint == "" {
		endpoint = DefaultLinePushURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.ChannelToken)
	hc := s.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("line push failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("line push status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// EmailSender sends plain-text mail over SMTP with PLAIN auth when a
// username is configured.
type EmailSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s *EmailSender) Send(ctx context.Context, target, title, message string) error {
	if s == nil || strings.TrimSpace(s.Host) == "" {
		return ErrNoSender
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	to := strings.TrimSpace(target)
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return errors.New("invalid email recipient")
	}
	port := s.Port
	if port == 0 {
		port = 587
	}
	var a smtp.Auth
	if s.Username != "" {
		a = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	from := s.From
	if from == "" {
		from = s.Username
	}
	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	return send(s.Host+":"+strconv.Itoa(port), a, from, []string{to}, buildMail(from, to, title, message))
}

func buildMail(from, to, subject, body string) []byte {
	subject = strings.NewReplacer("\r", " ", "\n", " ").Replace(subject)
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// SlackSender posts to the user's incoming webhook URL (the target).
type SlackSender struct {
	HTTPClient *http.Client
}

func (s *SlackSender) Send(ctx context.Context, target, title, message string) error {
	msg := &slack.WebhookMessage{Text: formatText(title, message)}
	if s != nil && s.HTTPClient != nil {
		return slack.PostWebhookCustomHTTPContext(ctx, target, s.HTTPClient, msg)
	}
	return slack.PostWebhookContext(ctx, target, msg)
}

// DiscordSender executes the user's channel webhook (the target URL).
type DiscordSender struct {
	Session  *discordgo.Session
	Username string
}

func NewDiscordSender() (*DiscordSender, error) {
	sess, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	return &DiscordSender{Session: sess, Username: "dcabot"}, nil
}

func (s *DiscordSender) Send(ctx context.Context, target, title, message string) error {
	if s == nil || s.Session == nil {
		return ErrNoSender
	}
	id, token, err := parseDiscordWebhook(target)
	if err != nil {
		return err
	}
	_, err = s.Session.WebhookExecute(id, token, false, &discordgo.WebhookParams{
		Content:  truncate(formatText(title, message), 2000),
		Username: s.Username,
	}, discordgo.WithContext(ctx))
	return err
}

// parseDiscordWebhook extracts id and token from
// https://discord.com/api/webhooks/{id}/{token}.
func parseDiscordWebhook(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord webhook url %q has no id/token", raw)
}

// ValidateDiscordWebhook reports whether raw is a usable webhook url.
func ValidateDiscordWebhook(raw string) error {
	_, _, err := parseDiscordWebhook(raw)
	return err
}

func formatText(title, message string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return message
	}
	return title + "\n" + message
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
