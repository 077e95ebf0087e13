package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shawnbow/eidos-miner/internal/alert"
	"github.com/shawnbow/eidos-miner/internal/chain"
	"github.com/shawnbow/eidos-miner/internal/circuitbreaker"
	"github.com/shawnbow/eidos-miner/internal/config"
	"github.com/shawnbow/eidos-miner/internal/endpoint"
	"github.com/shawnbow/eidos-miner/internal/metrics"
	"github.com/shawnbow/eidos-miner/internal/miner"
	"github.com/shawnbow/eidos-miner/internal/ratelimit"
	"github.com/shawnbow/eidos-miner/internal/tracing"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	token, err := chain.ResolveToken(cfg.Miner.Token)
	if err != nil {
		logger.Error("failed to resolve mining token", "error", err)
		os.Exit(1)
	}

	creds, err := chain.NewCredentials(cfg.Miner.PrivateKey)
	if err != nil {
		logger.Error("invalid signing credential", "error", err)
		os.Exit(1)
	}

	logger.Info("starting eidos-miner",
		"account", cfg.Miner.Account,
		"token", token.String(),
		"endpoints", len(cfg.RPC.Endpoints),
		"fixed_batch_size", cfg.Miner.FixedBatchSize,
		"public_key", creds.PublicKey().String(),
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "eidos-miner", tracingEndpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	pool, err := buildEndpointPool(cfg, creds, logger)
	if err != nil {
		logger.Error("failed to build endpoint pool", "error", err)
		os.Exit(1)
	}

	var alerter alert.Alerter = alert.Noop{}
	if cfg.Alert.WebhookURL != "" {
		alerter = alert.NewWebhook(cfg.Alert.WebhookURL, cfg.Alert.Cooldown, logger)
		logger.Info("webhook alerting enabled", "cooldown", cfg.Alert.Cooldown)
	}

	orch := miner.New(miner.Config{
		Account:        cfg.Miner.Account,
		Token:          token,
		SubmitInterval: cfg.Miner.SubmitInterval,
		RetuneInterval: cfg.Miner.RetuneInterval,
		FixedBatchSize: cfg.Miner.FixedBatchSize,
	}, pool, alerter, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, logger)
	})

	g.Go(func() error {
		return orch.Run(gCtx)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("miner exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("miner shut down gracefully")
}

func buildEndpointPool(cfg *config.Config, creds *chain.Credentials, logger *slog.Logger) (*endpoint.Pool, error) {
	endpoints := make([]*endpoint.Endpoint, 0, len(cfg.RPC.Endpoints))
	for _, rawURL := range cfg.RPC.Endpoints {
		name := endpointName(rawURL)
		breaker := circuitbreaker.New(cfg.RPC.BreakerThreshold, cfg.RPC.BreakerCooldown, func() {
			metrics.RPCBreakerTrips.WithLabelValues(name).Inc()
			logger.Warn("endpoint breaker tripped", "endpoint", name)
		})
		endpoints = append(endpoints, endpoint.New(
			name,
			chain.NewClient(rawURL, creds, logger),
			ratelimit.NewLimiter(cfg.RPC.RPS, cfg.RPC.Burst, name),
			breaker,
		))
	}
	return endpoint.NewPool(endpoints, logger)
}

// endpointName shortens an endpoint URL to its host for metric labels.
func endpointName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runHealthServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
