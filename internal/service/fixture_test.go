package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dcabot/internal/exchange"
	"dcabot/internal/models"
	"dcabot/internal/notify"
	memrepository "dcabot/internal/repository/memory"
	"dcabot/internal/vault"
)

type stubVenue struct {
	ticker   *exchange.Ticker
	tickErr  error
	valid    bool
	balances []exchange.Balance
	calls    int
}

func (v *stubVenue) GetTicker(context.Context, string) (*exchange.Ticker, error) {
	v.calls++
	if v.tickErr != nil {
		return nil, v.tickErr
	}
	return v.ticker, nil
}

func (v *stubVenue) GetBalances(context.Context) ([]exchange.Balance, error) {
	return v.balances, nil
}

func (v *stubVenue) CreateMarketOrder(context.Context, exchange.OrderRequest) (*exchange.OrderResult, error) {
	return nil, errors.New("not used")
}

func (v *stubVenue) GetOrderStatus(context.Context, string, string) (*exchange.OrderResult, error) {
	return nil, errors.New("not used")
}

func (v *stubVenue) ValidateCredentials(context.Context) (bool, error) { return v.valid, nil }

func (v *stubVenue) GetCandles(context.Context, string, string, int) ([]exchange.Candle, error) {
	return nil, nil
}

type stubBuilder struct {
	venue *stubVenue
	creds []exchange.Credentials
}

func (b *stubBuilder) New(_ string, _ bool, creds exchange.Credentials) (exchange.Client, error) {
	b.creds = append(b.creds, creds)
	return b.venue, nil
}

func (b *stubBuilder) NewPublic(string, bool) (exchange.Client, error) {
	return b.venue, nil
}

type recordedEvent struct {
	userID uint64
	event  notify.Event
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(_ context.Context, userID uint64, ev notify.Event) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{userID: userID, event: ev})
	return &models.Notification{UserID: userID, Type: ev.Type}, nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.event.Type)
	}
	return out
}

type sentMessage struct {
	userID  uint64
	msgType string
	data    any
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (b *recordingBroadcaster) SendToUser(userID uint64, msgType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMessage{userID: userID, msgType: msgType, data: data})
}

type recordingJobs struct {
	ensured     []uint64
	deactivated []uint64
	next        *time.Time
}

func (j *recordingJobs) EnsureJob(_ context.Context, s *models.Strategy) (*models.ScheduledJob, error) {
	j.ensured = append(j.ensured, s.ID)
	return &models.ScheduledJob{StrategyID: s.ID, IsActive: true}, nil
}

func (j *recordingJobs) DeactivateJob(_ context.Context, id uint64) error {
	j.deactivated = append(j.deactivated, id)
	return nil
}

func (j *recordingJobs) NextExecution(context.Context, *models.Strategy) (*time.Time, error) {
	return j.next, nil
}

func newVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("service-test-secret", "")
	if err != nil {
		t.Fatalf("vault err=%v", err)
	}
	return v
}

// seedExchange stores a binance account for userID with sealed credentials.
func seedExchange(t *testing.T, repo *memrepository.Store, v *vault.Vault, userID uint64) *models.Exchange {
	t.Helper()
	key, _ := v.Encrypt("key")
	secret, _ := v.Encrypt("secret")
	x := &models.Exchange{UserID: userID, Name: "main", Type: models.ExchangeTypeBinance, APIKeyEnc: key, APISecretEnc: secret, IsActive: true}
	if err := repo.CreateExchange(context.Background(), x); err != nil {
		t.Fatalf("create exchange err=%v", err)
	}
	return x
}

func dailyInput(exchangeID uint64) StrategyInput {
	return StrategyInput{
		Name:       "btc weekly stack",
		ExchangeID: exchangeID,
		Pair:       "btc/usdt",
		Amount:     decimal.NewFromInt(100),
		Frequency:  "daily",
	}
}

func addExecution(t *testing.T, repo *memrepository.Store, st *models.Strategy, status string, amount, qty int64, at time.Time) {
	t.Helper()
	e := &models.Execution{
		StrategyID: st.ID,
		UserID:     st.UserID,
		Amount:     decimal.NewFromInt(amount),
		Quantity:   decimal.NewFromInt(qty),
		Status:     status,
		Type:       models.ExecutionTypeScheduled,
		Timestamp:  at,
	}
	if err := repo.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("create execution err=%v", err)
	}
}
