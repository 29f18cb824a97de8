package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"

	"dcabot/internal/config"
	"dcabot/internal/models"
	"dcabot/internal/repository"
	memrepository "dcabot/internal/repository/memory"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	fails bool
}

func (s *recordingSender) Send(_ context.Context, target, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails {
		return errors.New("channel down")
	}
	s.sent = append(s.sent, target+"|"+title)
	return nil
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []string
}

func (b *recordingBroadcaster) SendToUser(userID uint64, msgType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msgType)
}

type recordingQueue struct {
	got []Delivery
	err error
}

func (q *recordingQueue) Publish(_ context.Context, d Delivery) error {
	if q.err != nil {
		return q.err
	}
	q.got = append(q.got, d)
	return nil
}

func TestNotifyPersistsAndDeliversToEnabledChannels(t *testing.T) {
	ctx := context.Background()
	repo := memrepository.New()
	_ = repo.UpsertNotificationSetting(ctx, &models.NotificationSetting{
		UserID:          1,
		TelegramEnabled: true,
		TelegramChatID:  99,
		LineEnabled:     false,
		LineUserID:      "U1",
		SlackWebhookURL: "https://hooks.example/x",
		NotifySuccess:   true,
	})
	tg := &recordingSender{}
	line := &recordingSender{}
	slackS := &recordingSender{fails: true}
	rt := &recordingBroadcaster{}
	d := &Dispatcher{
		Repo:     repo,
		Realtime: rt,
		Senders: map[string]Sender{
			models.ChannelTelegram: tg,
			models.ChannelLine:     line,
			models.ChannelSlack:    slackS,
		},
	}

	item, err := d.Notify(ctx, 1, Event{Type: models.NotificationExecutionSuccess, Title: "Bought", Message: "0.001 BTC", Data: map[string]any{"executionId": 5}})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	d.Wait()

	if len(tg.sent) != 1 || tg.sent[0] != "99|Bought" {
		t.Fatalf("telegram sent=%v", tg.sent)
	}
	if len(line.sent) != 0 {
		t.Fatalf("line disabled but sent=%v", line.sent)
	}
	if len(rt.msgs) != 1 || rt.msgs[0] != "notification" {
		t.Fatalf("realtime msgs=%v", rt.msgs)
	}
	items, _ := repo.ListNotifications(ctx, repository.ListNotificationsParams{UserID: 1})
	if len(items) != 1 {
		t.Fatalf("rows=%d want=1", len(items))
	}
	got := items[0]
	if got.ID != item.ID || got.SentAt == nil {
		t.Fatalf("sentAt not recorded: %+v", got)
	}
	if !strings.Contains(got.DeliveryError, "slack: channel down") {
		t.Fatalf("deliveryError=%q", got.DeliveryError)
	}
}

func TestNotifyRespectsTypeToggles(t *testing.T) {
	ctx := context.Background()
	repo := memrepository.New()
	_ = repo.UpsertNotificationSetting(ctx, &models.NotificationSetting{
		UserID: 2, TelegramEnabled: true, TelegramChatID: 1, NotifyFailure: false,
	})
	tg := &recordingSender{}
	d := &Dispatcher{Repo: repo, Senders: map[string]Sender{models.ChannelTelegram: tg}}

	if _, err := d.Notify(ctx, 2, Event{Type: models.NotificationExecutionFailed, Title: "x"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if _, err := d.Notify(ctx, 2, Event{Type: models.NotificationStrategyCreated, Title: "y"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	d.Wait()
	if len(tg.sent) != 0 {
		t.Fatalf("sent=%v want none", tg.sent)
	}
	n, _ := repo.CountNotifications(ctx, repository.ListNotificationsParams{UserID: 2})
	if n != 2 {
		t.Fatalf("rows=%d want=2", n)
	}
}

func TestNotifyUsesQueueAndFallsBack(t *testing.T) {
	ctx := context.Background()
	repo := memrepository.New()
	_ = repo.UpsertNotificationSetting(ctx, &models.NotificationSetting{
		UserID: 3, TelegramEnabled: true, TelegramChatID: 7, NotifySuccess: true,
	})
	tg := &recordingSender{}
	q := &recordingQueue{}
	d := &Dispatcher{Repo: repo, Queue: q, Senders: map[string]Sender{models.ChannelTelegram: tg}}

	_, _ = d.Notify(ctx, 3, Event{Type: models.NotificationExecutionSuccess, Title: "a"})
	d.Wait()
	if len(q.got) != 1 || len(tg.sent) != 0 {
		t.Fatalf("queued=%d direct=%d want 1/0", len(q.got), len(tg.sent))
	}
	if err := d.Deliver(ctx, q.got[0]); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(tg.sent) != 1 {
		t.Fatalf("direct after deliver=%d", len(tg.sent))
	}

	q.err = errors.New("broker down")
	_, _ = d.Notify(ctx, 3, Event{Type: models.NotificationExecutionSuccess, Title: "b"})
	d.Wait()
	if len(tg.sent) != 2 {
		t.Fatalf("fallback sends=%d want=2", len(tg.sent))
	}
}

func TestDeliverUnknownChannel(t *testing.T) {
	d := &Dispatcher{}
	if err := d.Deliver(context.Background(), Delivery{Channel: "pager"}); !errors.Is(err, ErrNoSender) {
		t.Fatalf("err=%v want=%v", err, ErrNoSender)
	}
}

func TestLineSenderPush(t *testing.T) {
	var auth, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		body = buf.String()
	}))
	defer srv.Close()

	s := &LineSender{ChannelToken: "tok", PushURL: srv.URL}
	if err := s.Send(context.Background(), "U123", "Title", "Body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer tok" {
		t.Fatalf("auth=%q", auth)
	}
	if !strings.Contains(body, `"to":"U123"`) || !strings.Contains(body, `"type":"text"`) {
		t.Fatalf("body=%s", body)
	}
}

func TestEmailSenderBuildsMessage(t *testing.T) {
	var gotAddr string
	var gotMsg []byte
	s := &EmailSender{Host: "smtp.example", Port: 2525, From: "bot@example", sendMail: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		return nil
	}}
	if err := s.Send(context.Background(), "u@example", "Hi\nthere", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example:2525" {
		t.Fatalf("addr=%s", gotAddr)
	}
	if !strings.Contains(string(gotMsg), "Subject: Hi there\r\n") {
		t.Fatalf("msg=%q", gotMsg)
	}
	if err := s.Send(context.Background(), "a@b\r\nBcc: x", "s", "b"); err == nil {
		t.Fatalf("expected header injection to be rejected")
	}
}

func TestParseDiscordWebhook(t *testing.T) {
	id, tok, err := parseDiscordWebhook("https://discord.com/api/webhooks/123/abc-DEF")
	if err != nil || id != "123" || tok != "abc-DEF" {
		t.Fatalf("id=%s tok=%s err=%v", id, tok, err)
	}
	if _, _, err := parseDiscordWebhook("https://discord.com/api/channels/1"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSendersFromConfigSkipsUnconfiguredChannels(t *testing.T) {
	senders := SendersFromConfig(config.NotifyConfig{}, nil)
	for _, name := range []string{models.ChannelSlack, models.ChannelDiscord} {
		if _, ok := senders[name]; !ok {
			t.Fatalf("channel %s missing", name)
		}
	}
	for _, name := range []string{models.ChannelEmail, models.ChannelLine, models.ChannelTelegram} {
		if _, ok := senders[name]; ok {
			t.Fatalf("channel %s built without credentials", name)
		}
	}

	senders = SendersFromConfig(config.NotifyConfig{
		Line: config.LineConfig{ChannelToken: "tok"},
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "bot@example.com"},
	}, nil)
	if _, ok := senders[models.ChannelLine].(*LineSender); !ok {
		t.Fatalf("line sender=%T", senders[models.ChannelLine])
	}
	if email, ok := senders[models.ChannelEmail].(*EmailSender); !ok || email.Port != 587 {
		t.Fatalf("email sender=%+v", senders[models.ChannelEmail])
	}
}
