package miner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawnbow/eidos-miner/internal/chain"
	"github.com/shawnbow/eidos-miner/internal/metrics"
)

type fakeLedger struct {
	mu sync.Mutex

	funding    chain.Asset
	balance    chain.Asset
	limits     chain.Limits
	limitsErr  error
	submitErr  error
	minedPer   float64
	submits    int
	lastSize   int
	balanceErr error
}

func (f *fakeLedger) Balance(_ context.Context, _ string, token chain.TokenIdentity) (chain.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return chain.Asset{}, f.balanceErr
	}
	if token == chain.BaseCurrency {
		return f.funding, nil
	}
	return f.balance, nil
}

func (f *fakeLedger) AccountLimits(context.Context, string) (chain.Limits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limits, f.limitsErr
}

func (f *fakeLedger) SubmitBatch(_ context.Context, batch chain.Batch, _ chain.SubmitPolicy) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submits++
	f.lastSize = len(batch)
	f.balance.Amount += f.minedPer
	f.balance.Raw = fmt.Sprintf("%.4f EIDOS", f.balance.Amount)
	return &chain.Receipt{TransactionID: fmt.Sprintf("tx-%d", f.submits)}, nil
}

func (f *fakeLedger) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func fundedLedger() *fakeLedger {
	return &fakeLedger{
		funding: chain.Asset{Amount: 1.5, Raw: "1.5000 EOS"},
		balance: chain.Asset{Amount: 10, Raw: "10.0000 EIDOS"},
		limits:  chain.Limits{Used: 500, Max: 1000},
	}
}

func testConfig(t *testing.T) Config {
	return Config{
		Account:        "mineracct",
		Token:          testToken(t),
		SubmitInterval: 5 * time.Millisecond,
		RetuneInterval: time.Hour, // keep re-tuning out of timing tests
	}
}

func TestOrchestrator_HaltsWhenUnderfunded(t *testing.T) {
	t.Parallel()

	ledger := fundedLedger()
	ledger.funding = chain.Asset{Amount: 0.0005, Raw: "0.0005 EOS"}

	o := New(testConfig(t), ledger, nil, testLogger())
	o.fundingIdle = time.Millisecond

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunding)
	assert.Zero(t, ledger.submitCount())
}

func TestOrchestrator_PrimeErrorPropagates(t *testing.T) {
	t.Parallel()

	ledger := fundedLedger()
	ledger.balanceErr = errors.New("endpoint down")

	o := New(testConfig(t), ledger, nil, testLogger())

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientFunding)
	assert.Zero(t, ledger.submitCount())
}

func TestOrchestrator_SubmitsOnTick(t *testing.T) {
	t.Parallel()

	ledger := fundedLedger()
	ledger.minedPer = 0.05

	o := New(testConfig(t), ledger, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := o.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	require.Greater(t, ledger.submits, 0)
	assert.Equal(t, MinBatchSize, ledger.lastSize)
	assert.Greater(t, ledger.balance.Amount, 10.0)
}

func TestOrchestrator_SampleFailureSkipsCycle(t *testing.T) {
	t.Parallel()

	ledger := fundedLedger()

	o := New(testConfig(t), ledger, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- o.Run(ctx) }()

	// Let the loop make progress, then break the limits endpoint. Cycles
	// abort at the sample stage, so no submissions happen while broken.
	time.Sleep(30 * time.Millisecond)
	ledger.mu.Lock()
	ledger.limitsErr = errors.New("timeout")
	broken := ledger.submits
	ledger.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, broken, ledger.submitCount())

	// Recovery resumes submissions without a restart.
	ledger.mu.Lock()
	ledger.limitsErr = nil
	ledger.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	assert.Greater(t, ledger.submitCount(), broken)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestOrchestrator_SubmitFailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	ledger := fundedLedger()
	ledger.submitErr = errors.New("tx_cpu_usage_exceeded")

	o := New(testConfig(t), ledger, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- o.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, ledger.submitCount())

	ledger.mu.Lock()
	ledger.submitErr = nil
	ledger.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	assert.Greater(t, ledger.submitCount(), 0)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestOrchestrator_AbortedCycleCarriesCycleID(t *testing.T) {
	t.Parallel()

	ledger := fundedLedger()
	out := &syncBuffer{}
	o := New(testConfig(t), ledger, nil, slog.New(slog.NewJSONHandler(out, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- o.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	ledger.mu.Lock()
	ledger.limitsErr = errors.New("timeout")
	ledger.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	aborted := 0
	for _, line := range strings.Split(out.String(), "\n") {
		if !strings.Contains(line, "mining cycle aborted") {
			continue
		}
		aborted++
		assert.Contains(t, line, "cycle_id")
	}
	require.Greater(t, aborted, 0)
}

func TestOrchestrator_RetuneRecordsPinnedDecision(t *testing.T) {
	cfg := testConfig(t)
	cfg.FixedBatchSize = 100
	o := New(cfg, fundedLedger(), nil, testLogger())

	before := testutil.ToFloat64(metrics.RetunesTotal.WithLabelValues("pinned"))
	require.NoError(t, o.retuneTick(context.Background()))

	assert.Equal(t, 100, o.ctrl.BatchSize())
	assert.GreaterOrEqual(t,
		testutil.ToFloat64(metrics.RetunesTotal.WithLabelValues("pinned")), before+1)
}

func TestOrchestrator_DefaultIntervals(t *testing.T) {
	t.Parallel()

	o := New(Config{Account: "mineracct", Token: testToken(t)}, fundedLedger(), nil, testLogger())

	assert.Equal(t, 2*time.Second, o.cfg.SubmitInterval)
	assert.Equal(t, 30*time.Second, o.cfg.RetuneInterval)
}
