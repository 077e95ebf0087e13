package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/shawnbow/eidos-miner/internal/chain"
	"github.com/shawnbow/eidos-miner/internal/circuitbreaker"
	"github.com/shawnbow/eidos-miner/internal/ratelimit"
)

// Endpoint is one chain API instance in the pool, guarded by a per-endpoint
// rate limiter and circuit breaker.
type Endpoint struct {
	name    string
	client  *chain.Client
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.Breaker
}

func New(name string, client *chain.Client, limiter *ratelimit.Limiter, breaker *circuitbreaker.Breaker) *Endpoint {
	return &Endpoint{name: name, client: client, limiter: limiter, breaker: breaker}
}

func (e *Endpoint) Name() string { return e.name }

// Ready reports whether the endpoint's breaker admits traffic.
func (e *Endpoint) Ready() bool { return e.breaker.Ready() }

func (e *Endpoint) Balance(ctx context.Context, account string, tok chain.TokenIdentity) (chain.Asset, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return chain.Asset{}, err
	}
	asset, err := e.client.Balance(ctx, account, tok)
	e.breaker.Report(err)
	ratelimit.RecordRPCCall(e.name, "get_currency_balance", err)
	return asset, err
}

func (e *Endpoint) AccountLimits(ctx context.Context, account string) (chain.Limits, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return chain.Limits{}, err
	}
	limits, err := e.client.AccountLimits(ctx, account)
	e.breaker.Report(err)
	ratelimit.RecordRPCCall(e.name, "get_account", err)
	return limits, err
}

func (e *Endpoint) SubmitBatch(ctx context.Context, batch chain.Batch, policy chain.SubmitPolicy) (*chain.Receipt, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	receipt, err := e.client.PushBatch(ctx, batch, policy)
	e.breaker.Report(err)
	ratelimit.RecordRPCCall(e.name, "push_transaction", err)
	return receipt, err
}

// Pool spreads load across interchangeable chain API endpoints. Every call
// picks an endpoint uniformly at random with no session affinity, so one
// slow or rate-limiting endpoint cannot stall the mining loop.
type Pool struct {
	endpoints []*Endpoint
	logger    *slog.Logger
}

func NewPool(endpoints []*Endpoint, logger *slog.Logger) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("endpoint pool requires at least one endpoint")
	}
	return &Pool{
		endpoints: endpoints,
		logger:    logger.With("component", "endpoint_pool"),
	}, nil
}

func (p *Pool) Size() int { return len(p.endpoints) }

// Select picks one endpoint uniformly at random among endpoints whose
// breaker admits traffic. The breaker's half-open admission is consumed only
// for the endpoint actually picked, so an unlucky draw never burns another
// endpoint's probe. When every breaker is open it falls back to uniform
// random over the whole pool rather than stalling.
func (p *Pool) Select() *Endpoint {
	ready := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		if e.Ready() {
			ready = append(ready, e)
		}
	}
	for len(ready) > 0 {
		i := rand.Intn(len(ready))
		e := ready[i]
		if e.breaker.Allow() {
			return e
		}
		// Lost the admission to a concurrent caller; pick among the rest.
		ready[i] = ready[len(ready)-1]
		ready = ready[:len(ready)-1]
	}
	p.logger.Warn("all endpoints cooling down, selecting blindly")
	return p.endpoints[rand.Intn(len(p.endpoints))]
}

// The pool itself satisfies the miner's ledger interface: each operation is
// routed through a freshly selected endpoint.

func (p *Pool) Balance(ctx context.Context, account string, tok chain.TokenIdentity) (chain.Asset, error) {
	return p.Select().Balance(ctx, account, tok)
}

func (p *Pool) AccountLimits(ctx context.Context, account string) (chain.Limits, error) {
	return p.Select().AccountLimits(ctx, account)
}

func (p *Pool) SubmitBatch(ctx context.Context, batch chain.Batch, policy chain.SubmitPolicy) (*chain.Receipt, error) {
	return p.Select().SubmitBatch(ctx, batch, policy)
}
