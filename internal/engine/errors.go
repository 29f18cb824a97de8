package engine

import (
	"errors"

	"dcabot/internal/exchange"
	"dcabot/internal/vault"
)

var (
	ErrPreconditionFailed    = errors.New("precondition failed")
	ErrConditionsNotMet      = errors.New("conditions not met")
	ErrAlreadyExecuting      = errors.New("strategy is already executing")
	ErrOrderRejected         = exchange.ErrOrderRejected
	ErrMarketDataUnavailable = exchange.ErrMarketDataUnavailable
	ErrDecryptionFailed      = vault.ErrDecryptionFailed
)
