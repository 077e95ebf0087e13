package miner

import (
	"context"
	"fmt"

	"github.com/shawnbow/eidos-miner/internal/chain"
)

// LimitsQuerier reads the account's resource quota from the ledger.
type LimitsQuerier interface {
	AccountLimits(ctx context.Context, account string) (chain.Limits, error)
}

// Sampler reads the account's CPU utilization as a used/max ratio. A failed
// or unusable sample aborts only the current cycle; the caller never retries
// within a cycle.
type Sampler struct {
	ledger  LimitsQuerier
	account string
}

func NewSampler(ledger LimitsQuerier, account string) *Sampler {
	return &Sampler{ledger: ledger, account: account}
}

func (s *Sampler) Sample(ctx context.Context) (float64, error) {
	limits, err := s.ledger.AccountLimits(ctx, s.account)
	if err != nil {
		return 0, fmt.Errorf("sample utilization: %w", err)
	}
	if limits.Max <= 0 {
		return 0, fmt.Errorf("sample utilization: account has no cpu quota (max=%d)", limits.Max)
	}
	return limits.Ratio(), nil
}
