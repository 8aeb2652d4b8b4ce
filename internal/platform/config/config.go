// Package config builds runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAddr     = ":8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"
)

// Config is the full runtime configuration of the server.
type Config struct {
	Addr       string
	Env        string
	LogLevel   string
	AdminToken string
	// RulesPath is a YAML seed rule file. Empty means built-in defaults.
	RulesPath  string
	WatchRules bool

	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Engine   Engine
}

// RedisConfig configures the decision store. Empty URL keeps decisions in
// memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the durable audit sink. Empty URL disables it.
type PostgresConfig struct {
	URL string
}

// KafkaConfig configures the audit forwarding topic. No brokers disables it.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Engine holds the decision engine tunables.
type Engine struct {
	TrustBaseline       float64
	TrustBlend          float64
	TrustHistoryWindow  int
	RiskHistoryWindow   int
	AllowThreshold      float64
	ChallengeThreshold  float64
	DecisionTTL         time.Duration
	Deadline            time.Duration
	MaxEvaluations      int
	SweepInterval       time.Duration
	DecisionHistorySize int
	AuditBufferSize     int
	AuditRetention      int
	RecordTrustEvents   bool
}

// DefaultEngine returns the documented engine defaults.
func DefaultEngine() Engine {
	return Engine{
		TrustBaseline:       0.5,
		TrustBlend:          0.5,
		TrustHistoryWindow:  100,
		RiskHistoryWindow:   100,
		AllowThreshold:      0.7,
		ChallengeThreshold:  0.4,
		DecisionTTL:         time.Hour,
		Deadline:            100 * time.Millisecond,
		MaxEvaluations:      1000,
		SweepInterval:       time.Minute,
		DecisionHistorySize: 100,
		AuditBufferSize:     1024,
		AuditRetention:      100_000,
		RecordTrustEvents:   true,
	}
}

// FromEnv reads configuration from the environment, loading a .env file
// first when one is present.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	def := DefaultEngine()
	cfg := &Config{
		Addr:       getEnv("KINGUARD_ADDR", DefaultAddr),
		Env:        getEnv("KINGUARD_ENV", DefaultEnv),
		LogLevel:   getEnv("KINGUARD_LOG_LEVEL", DefaultLogLevel),
		AdminToken: os.Getenv("KINGUARD_ADMIN_TOKEN"),
		RulesPath:  os.Getenv("KINGUARD_RULES_PATH"),
		WatchRules: getEnvBool("KINGUARD_WATCH_RULES", true),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:    getEnv("KAFKA_AUDIT_TOPIC", "kinguard.audit"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "kinguard"),
		},
		Engine: Engine{
			TrustBaseline:       getEnvFloat("KINGUARD_TRUST_BASELINE", def.TrustBaseline),
			TrustBlend:          getEnvFloat("KINGUARD_TRUST_BLEND", def.TrustBlend),
			TrustHistoryWindow:  getEnvInt("KINGUARD_TRUST_HISTORY", def.TrustHistoryWindow),
			RiskHistoryWindow:   getEnvInt("KINGUARD_RISK_HISTORY", def.RiskHistoryWindow),
			AllowThreshold:      getEnvFloat("KINGUARD_ALLOW_THRESHOLD", def.AllowThreshold),
			ChallengeThreshold:  getEnvFloat("KINGUARD_CHALLENGE_THRESHOLD", def.ChallengeThreshold),
			DecisionTTL:         getEnvDuration("KINGUARD_DECISION_TTL", def.DecisionTTL),
			Deadline:            getEnvDuration("KINGUARD_DEADLINE", def.Deadline),
			MaxEvaluations:      getEnvInt("KINGUARD_MAX_EVALUATIONS", def.MaxEvaluations),
			SweepInterval:       getEnvDuration("KINGUARD_SWEEP_INTERVAL", def.SweepInterval),
			DecisionHistorySize: getEnvInt("KINGUARD_DECISION_HISTORY", def.DecisionHistorySize),
			AuditBufferSize:     getEnvInt("KINGUARD_AUDIT_BUFFER", def.AuditBufferSize),
			AuditRetention:      getEnvInt("KINGUARD_AUDIT_RETENTION", def.AuditRetention),
			RecordTrustEvents:   getEnvBool("KINGUARD_RECORD_TRUST_EVENTS", def.RecordTrustEvents),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects tunables the engine cannot run with.
func (c *Config) Validate() error {
	e := c.Engine
	if !unit(e.TrustBaseline) {
		return fmt.Errorf("KINGUARD_TRUST_BASELINE must be within [0,1], got %v", e.TrustBaseline)
	}
	if !unit(e.TrustBlend) {
		return fmt.Errorf("KINGUARD_TRUST_BLEND must be within [0,1], got %v", e.TrustBlend)
	}
	if !unit(e.AllowThreshold) || !unit(e.ChallengeThreshold) || e.ChallengeThreshold > e.AllowThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= challenge (%v) <= allow (%v) <= 1", e.ChallengeThreshold, e.AllowThreshold)
	}
	if e.Deadline <= 0 || e.DecisionTTL <= 0 {
		return fmt.Errorf("KINGUARD_DEADLINE and KINGUARD_DECISION_TTL must be positive")
	}
	if e.MaxEvaluations <= 0 {
		return fmt.Errorf("KINGUARD_MAX_EVALUATIONS must be positive, got %d", e.MaxEvaluations)
	}
	if c.IsProduction() && c.AdminToken == "" {
		return fmt.Errorf("KINGUARD_ADMIN_TOKEN is required in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
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

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
