package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceID string

	HTTPPort   int
	GRPCPort   int
	MaxDBConns int32

	DatabaseURL string
	RedisURL    string

	KafkaBrokers   []string
	DomainTopic    string
	AnalyticsTopic string
	DLQTopic       string

	TransferAPIURL  string
	TransferAPIKey  string
	TransferTimeout time.Duration

	DirectoryAPIURL string
	DirectoryAPIKey string

	WebhookSecret       string
	OperatorTokenSecret string

	PlatformFeeBps       int64
	MinInstallmentAmount int64
	MaxAttempts          int
	RetryBackoffBase     time.Duration
	RetryBackoffCap      time.Duration
	StuckAfter           time.Duration
	DedupTTL             time.Duration
	ClaimBatchSize       int
	OutboxFlushBatchSize int

	ProcessInterval   time.Duration
	ReconcileInterval time.Duration
	OutboxInterval    time.Duration
}

type configFile struct {
	Service struct {
		ID         string `yaml:"id"`
		HTTPPort   int    `yaml:"http_port"`
		GRPCPort   int    `yaml:"grpc_port"`
		MaxDBConns int32  `yaml:"max_db_conns"`
	} `yaml:"service"`
	Dependencies struct {
		DatabaseURL     string   `yaml:"database_url"`
		RedisURL        string   `yaml:"redis_url"`
		KafkaBrokers    []string `yaml:"kafka_brokers"`
		DomainTopic     string   `yaml:"topic_domain"`
		AnalyticsTopic  string   `yaml:"topic_analytics"`
		DLQTopic        string   `yaml:"topic_dlq"`
		TransferAPIURL  string   `yaml:"transfer_api_url"`
		DirectoryAPIURL string   `yaml:"directory_api_url"`
	} `yaml:"dependencies"`
	Escrow struct {
		PlatformFeeBps       int64 `yaml:"platform_fee_bps"`
		MinInstallmentAmount int64 `yaml:"min_installment_amount"`
		MaxAttempts          int   `yaml:"max_attempts"`
		RetryBackoffBaseSec  int   `yaml:"retry_backoff_base_seconds"`
		RetryBackoffCapSec   int   `yaml:"retry_backoff_cap_seconds"`
		StuckAfterSec        int   `yaml:"stuck_after_seconds"`
		DedupTTLHours        int   `yaml:"dedup_ttl_hours"`
		ClaimBatchSize       int   `yaml:"claim_batch_size"`
		OutboxFlushBatchSize int   `yaml:"outbox_flush_batch_size"`
	} `yaml:"escrow"`
	Worker struct {
		ProcessIntervalSec   int `yaml:"process_interval_seconds"`
		ReconcileIntervalSec int `yaml:"reconcile_interval_seconds"`
		OutboxIntervalSec    int `yaml:"outbox_interval_seconds"`
	} `yaml:"worker"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:            "escrow-release-engine",
		HTTPPort:             8080,
		GRPCPort:             9090,
		MaxDBConns:           20,
		DomainTopic:          "escrow.events",
		AnalyticsTopic:       "escrow.analytics",
		DLQTopic:             "escrow-release-engine.dlq",
		TransferTimeout:      30 * time.Second,
		PlatformFeeBps:       500,
		MinInstallmentAmount: 100,
		MaxAttempts:          5,
		RetryBackoffBase:     5 * time.Minute,
		RetryBackoffCap:      6 * time.Hour,
		StuckAfter:           10 * time.Minute,
		DedupTTL:             45 * 24 * time.Hour,
		ClaimBatchSize:       50,
		OutboxFlushBatchSize: 100,
		ProcessInterval:      time.Minute,
		ReconcileInterval:    5 * time.Minute,
		OutboxInterval:       2 * time.Second,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Service.MaxDBConns > 0 {
			cfg.MaxDBConns = f.Service.MaxDBConns
		}
		cfg.DatabaseURL = f.Dependencies.DatabaseURL
		cfg.RedisURL = f.Dependencies.RedisURL
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
		}
		if f.Dependencies.DomainTopic != "" {
			cfg.DomainTopic = f.Dependencies.DomainTopic
		}
		if f.Dependencies.AnalyticsTopic != "" {
			cfg.AnalyticsTopic = f.Dependencies.AnalyticsTopic
		}
		if f.Dependencies.DLQTopic != "" {
			cfg.DLQTopic = f.Dependencies.DLQTopic
		}
		cfg.TransferAPIURL = f.Dependencies.TransferAPIURL
		cfg.DirectoryAPIURL = f.Dependencies.DirectoryAPIURL
		if f.Escrow.PlatformFeeBps > 0 {
			cfg.PlatformFeeBps = f.Escrow.PlatformFeeBps
		}
		if f.Escrow.MinInstallmentAmount > 0 {
			cfg.MinInstallmentAmount = f.Escrow.MinInstallmentAmount
		}
		if f.Escrow.MaxAttempts > 0 {
			cfg.MaxAttempts = f.Escrow.MaxAttempts
		}
		if f.Escrow.RetryBackoffBaseSec > 0 {
			cfg.RetryBackoffBase = time.Duration(f.Escrow.RetryBackoffBaseSec) * time.Second
		}
		if f.Escrow.RetryBackoffCapSec > 0 {
			cfg.RetryBackoffCap = time.Duration(f.Escrow.RetryBackoffCapSec) * time.Second
		}
		if f.Escrow.StuckAfterSec > 0 {
			cfg.StuckAfter = time.Duration(f.Escrow.StuckAfterSec) * time.Second
		}
		if f.Escrow.DedupTTLHours > 0 {
			cfg.DedupTTL = time.Duration(f.Escrow.DedupTTLHours) * time.Hour
		}
		if f.Escrow.ClaimBatchSize > 0 {
			cfg.ClaimBatchSize = f.Escrow.ClaimBatchSize
		}
		if f.Escrow.OutboxFlushBatchSize > 0 {
			cfg.OutboxFlushBatchSize = f.Escrow.OutboxFlushBatchSize
		}
		if f.Worker.ProcessIntervalSec > 0 {
			cfg.ProcessInterval = time.Duration(f.Worker.ProcessIntervalSec) * time.Second
		}
		if f.Worker.ReconcileIntervalSec > 0 {
			cfg.ReconcileInterval = time.Duration(f.Worker.ReconcileIntervalSec) * time.Second
		}
		if f.Worker.OutboxIntervalSec > 0 {
			cfg.OutboxInterval = time.Duration(f.Worker.OutboxIntervalSec) * time.Second
		}
	}

	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.DomainTopic = envOrDefault("KAFKA_TOPIC_DOMAIN", cfg.DomainTopic)
	cfg.AnalyticsTopic = envOrDefault("KAFKA_TOPIC_ANALYTICS", cfg.AnalyticsTopic)
	cfg.DLQTopic = envOrDefault("KAFKA_TOPIC_DLQ", cfg.DLQTopic)
	cfg.TransferAPIURL = envOrDefault("TRANSFER_API_URL", cfg.TransferAPIURL)
	cfg.TransferAPIKey = envOrDefault("TRANSFER_API_KEY", cfg.TransferAPIKey)
	cfg.DirectoryAPIURL = envOrDefault("DIRECTORY_API_URL", cfg.DirectoryAPIURL)
	cfg.DirectoryAPIKey = envOrDefault("DIRECTORY_API_KEY", cfg.DirectoryAPIKey)
	cfg.WebhookSecret = envOrDefault("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.OperatorTokenSecret = envOrDefault("OPERATOR_TOKEN_SECRET", cfg.OperatorTokenSecret)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.TransferTimeout = time.Duration(envInt("TRANSFER_TIMEOUT_SECONDS", int(cfg.TransferTimeout.Seconds()))) * time.Second

	return cfg, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
