package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shawnbow/eidos-miner/internal/alert"
	"github.com/shawnbow/eidos-miner/internal/chain"
	"github.com/shawnbow/eidos-miner/internal/metrics"
	"github.com/shawnbow/eidos-miner/internal/tracing"
)

// Ledger is the narrow view of the chain the mining loop needs.
type Ledger interface {
	Balance(ctx context.Context, account string, token chain.TokenIdentity) (chain.Asset, error)
	AccountLimits(ctx context.Context, account string) (chain.Limits, error)
	SubmitBatch(ctx context.Context, batch chain.Batch, policy chain.SubmitPolicy) (*chain.Receipt, error)
}

// MinFunding is the smallest base-currency balance worth mining with.
const MinFunding = 0.001

const defaultFundingIdle = 60 * time.Second

// ErrInsufficientFunding means the account cannot cover mining transfers.
// Recoverable by the operator topping up, not by retrying.
var ErrInsufficientFunding = errors.New("insufficient base currency balance")

// Config drives one mining loop.
type Config struct {
	Account        string
	Token          chain.TokenIdentity
	SubmitInterval time.Duration // default 2s
	RetuneInterval time.Duration // default 30s
	FixedBatchSize int           // 0 means auto-tune
}

// Orchestrator runs the mining loop: a submission tick every couple of
// seconds and a slower re-tuning tick. Both ticks run on one goroutine, so
// the batch size, the estimators and the pause flag never see concurrent
// writes, and a submission tick always reads the batch size committed by
// the most recently completed re-tuning tick.
type Orchestrator struct {
	cfg     Config
	ledger  Ledger
	ctrl    *Controller
	gate    *Gate
	sampler *Sampler
	alerter alert.Alerter
	logger  *slog.Logger

	fundingIdle time.Duration
}

func New(cfg Config, ledger Ledger, alerter alert.Alerter, logger *slog.Logger) *Orchestrator {
	if cfg.SubmitInterval <= 0 {
		cfg.SubmitInterval = 2 * time.Second
	}
	if cfg.RetuneInterval <= 0 {
		cfg.RetuneInterval = 30 * time.Second
	}
	if alerter == nil {
		alerter = alert.Noop{}
	}
	return &Orchestrator{
		cfg:         cfg,
		ledger:      ledger,
		ctrl:        NewController(cfg.FixedBatchSize, logger),
		gate:        NewGate(ledger, cfg.Account, cfg.Token, logger),
		sampler:     NewSampler(ledger, cfg.Account),
		alerter:     alerter,
		logger:      logger.With("component", "orchestrator"),
		fundingIdle: defaultFundingIdle,
	}
}

// Run primes the estimators, then drives the two tickers until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.prime(ctx); err != nil {
		if errors.Is(err, ErrInsufficientFunding) {
			// The operator has to top up the account; idle instead of
			// hammering the chain with doomed startup attempts.
			o.logger.Error("startup halted", "error", err, "idle", o.fundingIdle)
			o.notify(ctx, alert.Event{
				Type:    alert.TypeFunding,
				Title:   "mining halted: account underfunded",
				Message: err.Error(),
				Fields:  map[string]string{"account": o.cfg.Account},
			})
			select {
			case <-time.After(o.fundingIdle):
			case <-ctx.Done():
			}
			return err
		}
		return fmt.Errorf("prime mining loop: %w", err)
	}

	o.logger.Info("miner started",
		"account", o.cfg.Account,
		"token", o.cfg.Token.String(),
		"batch_size", o.ctrl.BatchSize(),
		"pinned", o.ctrl.Pinned(),
		"submit_interval", o.cfg.SubmitInterval,
		"retune_interval", o.cfg.RetuneInterval,
	)

	submitTicker := time.NewTicker(o.cfg.SubmitInterval)
	defer submitTicker.Stop()
	retuneTicker := time.NewTicker(o.cfg.RetuneInterval)
	defer retuneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("miner stopping")
			return ctx.Err()
		case <-submitTicker.C:
			o.runTick(ctx, "submit", o.submitTick)
		case <-retuneTicker.C:
			o.runTick(ctx, "retune", o.retuneTick)
		}
	}
}

// prime reads balances and one utilization sample before the tickers start,
// so the estimators never begin from an artificial zero.
func (o *Orchestrator) prime(ctx context.Context) error {
	funding, err := o.ledger.Balance(ctx, o.cfg.Account, chain.BaseCurrency)
	if err != nil {
		return fmt.Errorf("read funding balance: %w", err)
	}
	if funding.Amount < MinFunding {
		return fmt.Errorf("%w: have %s, need at least %.4f %s",
			ErrInsufficientFunding, funding.Raw, MinFunding, chain.BaseCurrency.Symbol)
	}

	balance, err := o.ledger.Balance(ctx, o.cfg.Account, o.cfg.Token)
	if err != nil {
		return fmt.Errorf("read token balance: %w", err)
	}

	sample, err := o.sampler.Sample(ctx)
	if err != nil {
		return err
	}
	o.ctrl.Seed(sample)

	o.logger.Info("primed",
		"funding", funding.Raw,
		"balance", balance.Raw,
		"utilization", sample,
	)
	return nil
}

// runTick isolates one tick body: errors and panics become diagnostics and
// the next tick proceeds normally. Tick bodies log their own failures so
// the diagnostics carry cycle context.
func (o *Orchestrator) runTick(ctx context.Context, name string, fn func(context.Context) error) {
	metrics.TicksTotal.WithLabelValues(name).Inc()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.TickErrors.WithLabelValues(name).Inc()
			o.logger.Error("tick panicked", "tick", name, "panic", r)
		}
		metrics.TickLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	if err := fn(ctx); err != nil {
		metrics.TickErrors.WithLabelValues(name).Inc()
	}
}

// submitTick runs one mining cycle: sample, update the averages, apply the
// safety interlock, submit a batch and report any balance increase.
func (o *Orchestrator) submitTick(ctx context.Context) error {
	ctx, span := tracing.Tracer("miner").Start(ctx, "miner.submit")
	defer span.End()

	logger := o.logger.With("cycle_id", uuid.NewString())

	sample, err := o.sampler.Sample(ctx)
	if err != nil {
		span.RecordError(err)
		logger.Warn("mining cycle aborted", "error", err)
		return err
	}
	fast, slow := o.ctrl.Observe(sample)

	before, err := o.ledger.Balance(ctx, o.cfg.Account, o.cfg.Token)
	if err != nil {
		err = fmt.Errorf("read pre-submit balance: %w", err)
		span.RecordError(err)
		logger.Warn("mining cycle aborted", "error", err)
		return err
	}

	size := o.ctrl.BatchSize()
	receipt, err := o.gate.Submit(ctx, size)
	if err != nil {
		// Already reported by the gate; the next cycle is the cooldown.
		span.RecordError(err)
		o.notifySubmitFailure(ctx, err, size)
		return nil
	}
	if receipt == nil {
		return nil // skipped by backpressure
	}

	after, err := o.ledger.Balance(ctx, o.cfg.Account, o.cfg.Token)
	if err != nil {
		err = fmt.Errorf("read post-submit balance: %w", err)
		span.RecordError(err)
		logger.Warn("mining cycle aborted", "error", err)
		return err
	}

	if mined := after.Amount - before.Amount; mined > 0 {
		metrics.MinedTotal.Add(mined)
		logger.Info("mined",
			"amount", mined,
			"balance", after.Raw,
			"batch_size", size,
			"tx", receipt.TransactionID,
			"utilization", sample,
			"fast", fast,
			"slow", slow,
		)
	} else {
		logger.Info("batch submitted",
			"batch_size", size,
			"tx", receipt.TransactionID,
			"utilization", sample,
		)
	}
	return nil
}

func (o *Orchestrator) retuneTick(context.Context) error {
	d := o.ctrl.Retune()
	switch d.Action {
	case "pinned":
		o.logger.Debug("batch size pinned by operator", "batch_size", d.After)
	case "hold":
		o.logger.Debug("batch size steady", "batch_size", d.After, "fast", d.Fast, "slow", d.Slow)
	default:
		o.logger.Info("batch size retuned",
			"action", d.Action,
			"old", d.Before,
			"new", d.After,
			"fast", d.Fast,
			"slow", d.Slow,
		)
	}
	return nil
}

func (o *Orchestrator) notifySubmitFailure(ctx context.Context, err error, size int) {
	event := alert.Event{
		Type:    alert.TypeSubmissionFailed,
		Title:   "batch submission failed",
		Message: err.Error(),
		Fields: map[string]string{
			"account":    o.cfg.Account,
			"batch_size": fmt.Sprintf("%d", size),
		},
	}
	if sub, ok := chain.AsSubmissionError(err); ok {
		event.Fields["code"] = fmt.Sprintf("%d", sub.Code)
		event.Fields["name"] = sub.Name
	}
	o.notify(ctx, event)
}

func (o *Orchestrator) notify(ctx context.Context, event alert.Event) {
	if err := o.alerter.Send(ctx, event); err != nil {
		o.logger.Warn("alert send failed", "type", event.Type, "error", err)
	}
}
