package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dcabot/internal/exchange"
	"dcabot/internal/models"
	"dcabot/internal/repository"
	"dcabot/internal/vault"
)

type ExchangeInput struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Testnet    bool   `json:"testnet"`
	APIKey     string `json:"apiKey"`
	APISecret  string `json:"apiSecret"`
	Passphrase string `json:"passphrase,omitempty"`
}

type ExchangePatch struct {
	Name       *string `json:"name,omitempty"`
	IsActive   *bool   `json:"isActive,omitempty"`
	APIKey     *string `json:"apiKey,omitempty"`
	APISecret  *string `json:"apiSecret,omitempty"`
	Passphrase *string `json:"passphrase,omitempty"`
}

// ExchangeService manages a user's venue accounts. Credentials are checked
// against the venue before they are sealed and stored.
type ExchangeService struct {
	Repo    repository.ExchangeRepository
	Vault   vault.Cipher
	Builder exchange.Builder
	Clients *exchange.Provider
	Logger  *zap.Logger
}

func (s *ExchangeService) List(ctx context.Context, userID uint64) ([]models.Exchange, error) {
	return s.Repo.ListExchangesByUser(ctx, userID)
}

func (s *ExchangeService) Get(ctx context.Context, userID, id uint64) (*models.Exchange, error) {
	x, err := s.Repo.GetExchange(ctx, id)
	if err != nil {
		return nil, err
	}
	if x == nil || x.UserID != userID {
		return nil, ErrNotFound
	}
	return x, nil
}

// TestConnection validates credentials without storing anything.
func (s *ExchangeService) TestConnection(ctx context.Context, in ExchangeInput) (bool, error) {
	venue, testnet, err := exchange.NormalizeType(in.Type)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if s.Builder == nil {
		return false, exchange.ErrUnsupportedExchange
	}
	client, err := s.Builder.New(venue, in.Testnet || testnet, credentialsOf(in))
	if err != nil {
		return false, err
	}
	return client.ValidateCredentials(ctx)
}

func (s *ExchangeService) Create(ctx context.Context, userID uint64, in ExchangeInput) (*models.Exchange, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(in.APIKey) == "" || strings.TrimSpace(in.APISecret) == "" {
		return nil, fmt.Errorf("%w: api key and secret are required", ErrValidation)
	}
	venue, testnet, err := exchange.NormalizeType(in.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if venue == exchange.VenueCoinbase && strings.TrimSpace(in.Passphrase) == "" {
		return nil, fmt.Errorf("%w: coinbase requires a passphrase", ErrValidation)
	}
	in.Type = venue
	in.Testnet = in.Testnet || testnet
	ok, err := s.TestConnection(ctx, in)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidExchange
	}
	item := &models.Exchange{
		UserID:   userID,
		Name:     in.Name,
		Type:     venue,
		Testnet:  in.Testnet,
		IsActive: true,
	}
	if err := s.seal(item, in.APIKey, in.APISecret, in.Passphrase); err != nil {
		return nil, err
	}
	if err := s.Repo.CreateExchange(ctx, item); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("exchange connected", zap.Uint64("user_id", userID), zap.Uint64("exchange_id", item.ID), zap.String("type", venue))
	}
	return item, nil
}

func (s *ExchangeService) Update(ctx context.Context, userID, id uint64, patch ExchangePatch) (*models.Exchange, error) {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrValidation)
		}
		item.Name = name
	}
	if patch.IsActive != nil {
		item.IsActive = *patch.IsActive
	}
	if patch.APIKey != nil || patch.APISecret != nil || patch.Passphrase != nil {
		creds, err := s.credentials(item)
		if err != nil {
			return nil, err
		}
		if patch.APIKey != nil {
			creds.APIKey = *patch.APIKey
		}
		if patch.APISecret != nil {
			creds.APISecret = *patch.APISecret
		}
		if patch.Passphrase != nil {
			creds.Passphrase = *patch.Passphrase
		}
		in := ExchangeInput{Type: item.Type, Testnet: item.Testnet, APIKey: creds.APIKey, APISecret: creds.APISecret, Passphrase: creds.Passphrase}
		ok, err := s.TestConnection(ctx, in)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidExchange
		}
		if err := s.seal(item, creds.APIKey, creds.APISecret, creds.Passphrase); err != nil {
			return nil, err
		}
	}
	if err := s.Repo.UpdateExchange(ctx, item); err != nil {
		return nil, err
	}
	s.Clients.Invalidate(item.ID)
	return item, nil
}

// Delete refuses while any active strategy trades on the account.
func (s *ExchangeService) Delete(ctx context.Context, userID, id uint64) error {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	n, err := s.Repo.CountActiveStrategiesByExchange(ctx, item.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: exchange has %d active strategies", ErrConflict, n)
	}
	if err := s.Repo.DeleteExchange(ctx, item.ID); err != nil {
		return err
	}
	s.Clients.Invalidate(item.ID)
	return nil
}

func (s *ExchangeService) Balances(ctx context.Context, userID, id uint64) ([]exchange.Balance, error) {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	client, err := s.Clients.ForExchange(item)
	if err != nil {
		return nil, err
	}
	return client.GetBalances(ctx)
}

type resealer interface {
	Reencrypt(blob string) (string, bool, error)
}

// RotateCredentials reseals every stored credential under the vault's primary
// secret. Accounts whose blobs cannot be opened are logged and left alone.
func (s *ExchangeService) RotateCredentials(ctx context.Context) (int, error) {
	r, ok := s.Vault.(resealer)
	if !ok {
		return 0, nil
	}
	items, err := s.Repo.ListExchanges(ctx)
	if err != nil {
		return 0, err
	}
	rotated := 0
	for i := range items {
		item := &items[i]
		changed := false
		failed := false
		for _, field := range []*string{&item.APIKeyEnc, &item.APISecretEnc, &item.PassphraseEnc} {
			if *field == "" {
				continue
			}
			next, ok, err := r.Reencrypt(*field)
			if err != nil {
				failed = true
				break
			}
			if ok {
				*field = next
				changed = true
			}
		}
		if failed {
			if s.Logger != nil {
				s.Logger.Warn("exchange credentials not rotated", zap.Uint64("exchange_id", item.ID))
			}
			continue
		}
		if !changed {
			continue
		}
		if err := s.Repo.UpdateExchange(ctx, item); err != nil {
			return rotated, err
		}
		s.Clients.Invalidate(item.ID)
		rotated++
	}
	return rotated, nil
}

func (s *ExchangeService) seal(item *models.Exchange, key, secret, passphrase string) error {
	if s.Vault == nil {
		return vault.ErrEmptySecret
	}
	var err error
	if item.APIKeyEnc, err = s.Vault.Encrypt(strings.TrimSpace(key)); err != nil {
		return err
	}
	if item.APISecretEnc, err = s.Vault.Encrypt(strings.TrimSpace(secret)); err != nil {
		return err
	}
	item.PassphraseEnc = ""
	if p := strings.TrimSpace(passphrase); p != "" {
		if item.PassphraseEnc, err = s.Vault.Encrypt(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExchangeService) credentials(item *models.Exchange) (exchange.Credentials, error) {
	if s.Clients != nil {
		return s.Clients.Credentials(item)
	}
	p := &exchange.Provider{Vault: s.Vault}
	return p.Credentials(item)
}

func credentialsOf(in ExchangeInput) exchange.Credentials {
	return exchange.Credentials{
		APIKey:     strings.TrimSpace(in.APIKey),
		APISecret:  strings.TrimSpace(in.APISecret),
		Passphrase: strings.TrimSpace(in.Passphrase),
	}
}
