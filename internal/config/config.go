package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// HTTP
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailtriage.db"`

	// Mail gateway
	GatewayURL     string        `env:"MAIL_GATEWAY_URL,required"` // e.g., https://mail-api.example.com
	GatewayAPIKey  string        `env:"MAIL_GATEWAY_API_KEY,required"`
	GatewayTimeout time.Duration `env:"MAIL_GATEWAY_TIMEOUT" envDefault:"30s"`

	// Model service
	AIBaseURL string        `env:"AI_BASE_URL,required"`
	AIAPIKey  string        `env:"AI_API_KEY,required"`
	AIModel   string        `env:"AI_MODEL" envDefault:"gemini-2.5-flash"`
	AITimeout time.Duration `env:"AI_TIMEOUT" envDefault:"60s"`

	// Retrieval service
	RAGBaseURL string        `env:"RAG_BASE_URL,required"`
	RAGTopK    int           `env:"RAG_TOP_K" envDefault:"5"`
	RAGTimeout time.Duration `env:"RAG_TIMEOUT" envDefault:"30s"`

	// Processing
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"3m"`
	RetrySweepInterval time.Duration `env:"RETRY_SWEEP_INTERVAL" envDefault:"1m"`
	FetchLimit         int           `env:"FETCH_LIMIT" envDefault:"20"`
	InitFetchLimit     int           `env:"INIT_FETCH_LIMIT" envDefault:"100"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.PollInterval < time.Second {
		return nil, fmt.Errorf("POLL_INTERVAL must be at least 1s, got %s", cfg.PollInterval)
	}
	if cfg.RetrySweepInterval < time.Second {
		return nil, fmt.Errorf("RETRY_SWEEP_INTERVAL must be at least 1s, got %s", cfg.RetrySweepInterval)
	}
	if cfg.FetchLimit <= 0 || cfg.InitFetchLimit <= 0 {
		return nil, fmt.Errorf("fetch limits must be positive")
	}

	return cfg, nil
}
