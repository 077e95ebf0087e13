package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Miner   MinerConfig
	RPC     RPCConfig
	Server  ServerConfig
	Alert   AlertConfig
	Tracing TracingConfig
	Log     LogConfig
}

type MinerConfig struct {
	Account        string
	PrivateKey     string
	Token          string
	FixedBatchSize int // 0 means auto-tune
	SubmitInterval time.Duration
	RetuneInterval time.Duration
}

type RPCConfig struct {
	Endpoints        []string
	RPS              float64
	Burst            int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type ServerConfig struct {
	HealthPort int
}

type AlertConfig struct {
	WebhookURL string
	Cooldown   time.Duration
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

type LogConfig struct {
	Level string
}

var defaultEndpoints = []string{
	"https://eos.greymass.com",
	"https://api.eosn.io",
	"https://mainnet.meet.one",
	"https://api.main.alohaeos.com",
	"https://eos.eoscafeblock.com",
}

func Load() (*Config, error) {
	cfg := &Config{
		Miner: MinerConfig{
			Account:        getEnv("MINER_ACCOUNT", ""),
			PrivateKey:     getEnv("MINER_PRIVATE_KEY", ""),
			Token:          getEnv("MINER_TOKEN", "EIDOS"),
			FixedBatchSize: getEnvInt("MINER_BATCH_SIZE", 0),
			SubmitInterval: time.Duration(getEnvInt("MINER_SUBMIT_INTERVAL_MS", 2000)) * time.Millisecond,
			RetuneInterval: time.Duration(getEnvInt("MINER_RETUNE_INTERVAL_MS", 30000)) * time.Millisecond,
		},
		RPC: RPCConfig{
			RPS:              getEnvFloat("MINER_RPC_RPS", 10),
			Burst:            getEnvInt("MINER_RPC_BURST", 5),
			BreakerThreshold: getEnvInt("MINER_RPC_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  time.Duration(getEnvInt("MINER_RPC_BREAKER_COOLDOWN_SEC", 30)) * time.Second,
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Alert: AlertConfig{
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:   time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:  getEnv("TRACING_ENABLED", "false") == "true",
			Endpoint: getEnv("TRACING_ENDPOINT", ""),
			Insecure: getEnv("TRACING_INSECURE", "true") == "true",
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	endpoints, err := resolveEndpoints()
	if err != nil {
		return nil, err
	}
	cfg.RPC.Endpoints = endpoints

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveEndpoints reads the endpoint list from MINER_ENDPOINTS_FILE (yaml)
// when set, then MINER_ENDPOINTS (comma-separated), then the built-in
// mainnet defaults.
func resolveEndpoints() ([]string, error) {
	if path := getEnv("MINER_ENDPOINTS_FILE", ""); path != "" {
		return loadEndpointsFile(path)
	}
	if raw := getEnv("MINER_ENDPOINTS", ""); raw != "" {
		endpoints := make([]string, 0)
		for _, url := range strings.Split(raw, ",") {
			url = strings.TrimSpace(url)
			if url != "" {
				endpoints = append(endpoints, url)
			}
		}
		return endpoints, nil
	}
	return defaultEndpoints, nil
}

func loadEndpointsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	var doc struct {
		Endpoints []string `yaml:"endpoints"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse endpoints file %s: %w", path, err)
	}
	endpoints := make([]string, 0, len(doc.Endpoints))
	for _, url := range doc.Endpoints {
		url = strings.TrimSpace(url)
		if url != "" {
			endpoints = append(endpoints, url)
		}
	}
	return endpoints, nil
}

func (c *Config) validate() error {
	if c.Miner.Account == "" {
		return fmt.Errorf("MINER_ACCOUNT is required")
	}
	if c.Miner.PrivateKey == "" {
		return fmt.Errorf("MINER_PRIVATE_KEY is required")
	}
	if c.Miner.FixedBatchSize < 0 {
		return fmt.Errorf("MINER_BATCH_SIZE must be >= 0")
	}
	if c.Miner.SubmitInterval <= 0 || c.Miner.RetuneInterval <= 0 {
		return fmt.Errorf("miner intervals must be positive")
	}
	if len(c.RPC.Endpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
