package exchange

import (
	"fmt"
	"strings"
	"time"

	"dcabot/internal/cache"
	"dcabot/internal/models"
)

// Builder is the construction side of Factory.
type Builder interface {
	New(exchangeType string, testnet bool, creds Credentials) (Client, error)
	NewPublic(exchangeType string, testnet bool) (Client, error)
}

// Decrypter opens vault blobs.
type Decrypter interface {
	Decrypt(blob string) (string, error)
}

// Provider resolves a stored exchange account into a ready client. Credentials
// are decrypted once per cache entry; tickers go through the shared store when
// one is configured.
type Provider struct {
	Builder   Builder
	Vault     Decrypter
	Cache     *ClientCache
	Tickers   cache.Store
	TickerTTL time.Duration
}

// ForExchange returns the authenticated client for the account.
func (p *Provider) ForExchange(x *models.Exchange) (Client, error) {
	if p == nil || p.Builder == nil {
		return nil, ErrUnsupportedExchange
	}
	if x == nil {
		return nil, fmt.Errorf("exchange is nil")
	}
	build := func() (Client, error) {
		creds, err := p.Credentials(x)
		if err != nil {
			return nil, err
		}
		c, err := p.Builder.New(x.Type, x.Testnet, creds)
		if err != nil {
			return nil, err
		}
		return p.wrap(c, x.Type, x.Testnet), nil
	}
	if p.Cache == nil {
		return build()
	}
	key := CacheKey{ExchangeID: x.ID, Type: x.Type, Testnet: x.Testnet, Version: x.UpdatedAt.UnixNano()}
	return p.Cache.GetOrCreate(key, build)
}

// Public returns a credential-less client for market data.
func (p *Provider) Public(exchangeType string, testnet bool) (Client, error) {
	if p == nil || p.Builder == nil {
		return nil, ErrUnsupportedExchange
	}
	c, err := p.Builder.NewPublic(exchangeType, testnet)
	if err != nil {
		return nil, err
	}
	return p.wrap(c, exchangeType, testnet), nil
}

// Credentials decrypts the account's stored credentials.
func (p *Provider) Credentials(x *models.Exchange) (Credentials, error) {
	if p.Vault == nil {
		return Credentials{}, ErrMissingCredentials
	}
	key, err := p.Vault.Decrypt(x.APIKeyEnc)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api key: %w", err)
	}
	secret, err := p.Vault.Decrypt(x.APISecretEnc)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api secret: %w", err)
	}
	creds := Credentials{APIKey: key, APISecret: secret}
	if strings.TrimSpace(x.PassphraseEnc) != "" {
		pass, err := p.Vault.Decrypt(x.PassphraseEnc)
		if err != nil {
			return Credentials{}, fmt.Errorf("decrypt passphrase: %w", err)
		}
		creds.Passphrase = pass
	}
	return creds, nil
}

func (p *Provider) Invalidate(exchangeID uint64) {
	if p == nil || p.Cache == nil {
		return
	}
	p.Cache.Invalidate(exchangeID)
}

func (p *Provider) wrap(c Client, exchangeType string, testnet bool) Client {
	if p.Tickers == nil || p.TickerTTL <= 0 {
		return c
	}
	venue, _, err := NormalizeType(exchangeType)
	if err != nil {
		venue = exchangeType
	}
	return NewCachedTickers(c, p.Tickers, p.TickerTTL, venue, testnet)
}
