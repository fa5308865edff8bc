package faucet

import (
	"errors"
	"fmt"
	"time"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
)

// Amounts are in MIST.
const (
	DefaultAmount           = 1 * ledger.MistPerSUI
	DefaultMinAmount        = ledger.MistPerSUI / 10
	DefaultMaxAmount        = 5 * ledger.MistPerSUI
	DefaultLowBalance       = 5 * ledger.MistPerSUI
	DefaultRecipientCeiling = 50 * ledger.MistPerSUI
	DefaultLedgerTimeout    = 10 * time.Second
)

// Config holds the dispenser's amounts and limits.
type Config struct {
	DefaultAmount       uint64
	MinAmount           uint64
	MaxAmount           uint64
	LowBalanceThreshold uint64

	// RecipientCeiling denies recipients whose balance is strictly above it.
	RecipientCeiling uint64

	// LedgerTimeout bounds every individual ledger call.
	LedgerTimeout time.Duration

	// RecheckBalance re-reads the faucet balance right before the transfer is submitted.
	RecheckBalance bool
}

func DefaultConfig() Config {
	return Config{
		DefaultAmount:       DefaultAmount,
		MinAmount:           DefaultMinAmount,
		MaxAmount:           DefaultMaxAmount,
		LowBalanceThreshold: DefaultLowBalance,
		RecipientCeiling:    DefaultRecipientCeiling,
		LedgerTimeout:       DefaultLedgerTimeout,
	}
}

// Validate checks the amounts are consistent.
func (c Config) Validate() error {
	var errs []error
	if c.MinAmount == 0 {
		errs = append(errs, errors.New("min amount must be > 0"))
	}
	if c.MinAmount > c.MaxAmount {
		errs = append(errs, fmt.Errorf("min amount %d exceeds max amount %d", c.MinAmount, c.MaxAmount))
	}
	if c.DefaultAmount < c.MinAmount || c.DefaultAmount > c.MaxAmount {
		errs = append(errs, fmt.Errorf("default amount %d outside [%d, %d]", c.DefaultAmount, c.MinAmount, c.MaxAmount))
	}
	if c.LedgerTimeout <= 0 {
		errs = append(errs, errors.New("ledger timeout must be > 0"))
	}
	return errors.Join(errs...)
}
