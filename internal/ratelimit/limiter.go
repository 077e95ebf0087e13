package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shawnbow/eidos-miner/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate limiter for chain API calls against a
// single endpoint.
type Limiter struct {
	limiter  *rate.Limiter
	endpoint string
}

// NewLimiter creates a rate limiter that allows rps requests per second
// with a burst capacity of burst tokens.
func NewLimiter(rps float64, burst int, endpoint string) *Limiter {
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		endpoint: endpoint,
	}
}

// Wait blocks until the limiter allows one event, or ctx is done.
// Uses Reserve() to guarantee exactly one token is consumed per call.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		metrics.RPCRateLimitWaits.WithLabelValues(l.endpoint).Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// RecordRPCCall records an RPC call metric with status classification.
func RecordRPCCall(endpoint, method string, err error) {
	metrics.RPCCallsTotal.WithLabelValues(endpoint, method, ClassifyRPCError(err)).Inc()
}

// ClassifyRPCError buckets a chain API error for metrics.
func ClassifyRPCError(err error) string {
	if err == nil {
		return "ok"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "tx_cpu_usage_exceeded") || strings.Contains(lower, "cpu usage"):
		return "cpu_quota"
	case strings.Contains(lower, "expired") || strings.Contains(lower, "tapos"):
		return "stale_transaction"
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") ||
		strings.Contains(lower, "internal server error"):
		return "server_error"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "network is unreachable") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}
