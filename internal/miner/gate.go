package miner

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/shawnbow/eidos-miner/internal/chain"
	"github.com/shawnbow/eidos-miner/internal/metrics"
)

// Submitter pushes one signed batch to the ledger.
type Submitter interface {
	SubmitBatch(ctx context.Context, batch chain.Batch, policy chain.SubmitPolicy) (*chain.Receipt, error)
}

// Reference-block look-back and expiry window applied to every submission.
const (
	referenceLookback = 3
	submitExpiry      = 300 * time.Second
)

// Gate submits batches and applies one cycle of backpressure after a
// failure: the first submission after a failed one is skipped, then normal
// operation resumes. One failure buys one full cycle of cooldown instead of
// an immediate retry.
type Gate struct {
	ledger  Submitter
	account string
	token   chain.TokenIdentity
	paused  bool
	logger  *slog.Logger
}

func NewGate(ledger Submitter, account string, token chain.TokenIdentity, logger *slog.Logger) *Gate {
	return &Gate{
		ledger:  ledger,
		account: account,
		token:   token,
		logger:  logger.With("component", "gate"),
	}
}

// Paused reports whether the next submission will be skipped.
func (g *Gate) Paused() bool { return g.paused }

// Submit sends size identical mining transfers as one atomic transaction.
// It returns (nil, nil) when the cycle is skipped by backpressure.
func (g *Gate) Submit(ctx context.Context, size int) (*chain.Receipt, error) {
	if g.paused {
		g.paused = false
		g.logger.Info("submission skipped, cooling down after failure")
		metrics.SubmissionsTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	batch := chain.MiningBatch(g.account, g.token, size)
	policy := chain.SubmitPolicy{
		ReferenceLookback: referenceLookback,
		Expiry:            submitExpiry,
		MaxCPUMillis:      maxCPUMillis(size),
	}

	receipt, err := g.ledger.SubmitBatch(ctx, batch, policy)
	if err != nil {
		g.paused = true
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		if sub, ok := chain.AsSubmissionError(err); ok {
			g.logger.Error("batch rejected by ledger",
				"code", sub.Code,
				"name", sub.Name,
				"description", sub.Description,
				"batch_size", size,
			)
		} else {
			g.logger.Error("batch submission failed", "error", err, "batch_size", size)
		}
		return nil, err
	}

	g.paused = false
	metrics.SubmissionsTotal.WithLabelValues("submitted").Inc()
	return receipt, nil
}

// maxCPUMillis is the CPU billing ceiling requested for a batch:
// ceil(size/5) + 3 milliseconds.
func maxCPUMillis(size int) uint8 {
	ms := (size+4)/5 + 3
	if ms > math.MaxUint8 {
		ms = math.MaxUint8
	}
	return uint8(ms)
}
