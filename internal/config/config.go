package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/persona-guard/config.yaml",
}

var (
	ErrInvalidThresholds = errors.New("sanction thresholds must be positive and strictly increasing")
	ErrInvalidDuration   = errors.New("duration must be positive")
)

type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Mongo         MongoConfig         `koanf:"mongo"`
	Postgres      PostgresConfig      `koanf:"postgres"`
	Redis         RedisConfig         `koanf:"redis"`
	Moderation    ModerationConfig    `koanf:"moderation"`
	Ledger        LedgerConfig        `koanf:"ledger"`
	Sanctions     SanctionsConfig     `koanf:"sanctions"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Admin         AdminConfig         `koanf:"admin"`
	Logging       LoggingConfig       `koanf:"logging"`
}

type ServerConfig struct {
	Port           string   `koanf:"port"`
	Environment    string   `koanf:"environment"`
	AllowedOrigins []string `koanf:"allowed_origins"` // CORS origins for the chat frontend
	TrustProxy     bool     `koanf:"trust_proxy"`     // honour X-Forwarded-For when recording IPs
}

type MongoConfig struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

type PostgresConfig struct {
	URI string `koanf:"uri"`
}

type RedisConfig struct {
	URI string `koanf:"uri"`
}

type ModerationConfig struct {
	Endpoint      string        `koanf:"endpoint"`
	APIKey        string        `koanf:"api_key"`
	Model         string        `koanf:"model"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxRetries    uint64        `koanf:"max_retries"`
	BatchSize     int           `koanf:"batch_size"`
	MaxConcurrent int           `koanf:"max_concurrent"`
	// Circuit breaker around the external classifier.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
	// BlockedWords are matched before the classifier is called.
	BlockedWords []string `koanf:"blocked_words"`
}

type LedgerConfig struct {
	MaxMessageLength    int `koanf:"max_message_length"`
	DefaultHistoryLimit int `koanf:"default_history_limit"`
	MaxHistoryLimit     int `koanf:"max_history_limit"`
}

type SanctionsConfig struct {
	WarnThreshold              int           `koanf:"warn_threshold"`
	ChatSuspensionThreshold    int           `koanf:"chat_suspension_threshold"`
	AccountSuspensionThreshold int           `koanf:"account_suspension_threshold"`
	BanThreshold               int           `koanf:"ban_threshold"`
	ChatSuspensionDuration     time.Duration `koanf:"chat_suspension_duration"`
	AccountSuspensionDuration  time.Duration `koanf:"account_suspension_duration"`
	// ExactTierMatching restores exact-equality buckets for the middle tiers.
	ExactTierMatching bool `koanf:"exact_tier_matching"`
	// ResetCountOnLift makes an administrative lift restart escalation.
	ResetCountOnLift bool          `koanf:"reset_count_on_lift"`
	LockTTL          time.Duration `koanf:"lock_ttl"`
	LockWait         time.Duration `koanf:"lock_wait"`
}

type NotificationsConfig struct {
	Channel        string        `koanf:"channel"`
	WebhookURL     string        `koanf:"webhook_url"`
	DedupTTL       time.Duration `koanf:"dedup_ttl"`
	OutageInterval time.Duration `koanf:"outage_interval"`
	Timeout        time.Duration `koanf:"timeout"`
}

type AdminConfig struct {
	// KeyHash is an Argon2id hash of the admin console key.
	KeyHash string `koanf:"key_hash"`
	// StreamTicketTTL bounds how long a notification stream ticket stays
	// redeemable.
	StreamTicketTTL time.Duration `koanf:"stream_ticket_ttl"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Environment:    "development",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017/personaguard",
			Database: "personaguard",
		},
		Postgres: PostgresConfig{
			URI: "postgres://localhost:5432/personaguard?sslmode=disable",
		},
		Redis: RedisConfig{
			URI: "redis://localhost:6379/0",
		},
		Moderation: ModerationConfig{
			Endpoint:        "https://api.openai.com/v1/moderations",
			Model:           "omni-moderation-latest",
			Timeout:         5 * time.Second,
			MaxRetries:      2,
			BatchSize:       32,
			MaxConcurrent:   4,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Ledger: LedgerConfig{
			MaxMessageLength:    1000,
			DefaultHistoryLimit: 20,
			MaxHistoryLimit:     100,
		},
		Sanctions: SanctionsConfig{
			WarnThreshold:              5,
			ChatSuspensionThreshold:    6,
			AccountSuspensionThreshold: 7,
			BanThreshold:               8,
			ChatSuspensionDuration:     24 * time.Hour,
			AccountSuspensionDuration:  7 * 24 * time.Hour,
			LockTTL:                    10 * time.Second,
			LockWait:                   5 * time.Second,
		},
		Notifications: NotificationsConfig{
			Channel:        "admin:notifications",
			DedupTTL:       24 * time.Hour,
			OutageInterval: 5 * time.Minute,
			Timeout:        5 * time.Second,
		},
		Admin: AdminConfig{
			StreamTicketTTL: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load layers defaults, an optional YAML file and environment variables.
// A .env file in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings keeps the variable names the deployment already uses.
var envMappings = map[string]string{
	"port":                          "server.port",
	"env":                           "server.environment",
	"allowed_origins":               "server.allowed_origins",
	"trust_proxy":                   "server.trust_proxy",
	"mongodb_uri":                   "mongo.uri",
	"mongo_uri":                     "mongo.uri",
	"mongo_database":                "mongo.database",
	"postgres_uri":                  "postgres.uri",
	"redis_uri":                     "redis.uri",
	"moderation_endpoint":           "moderation.endpoint",
	"moderation_api_key":            "moderation.api_key",
	"moderation_model":              "moderation.model",
	"moderation_timeout":            "moderation.timeout",
	"blocked_words":                 "moderation.blocked_words",
	"ledger_max_message_length":     "ledger.max_message_length",
	"sanctions_exact_tier_match":    "sanctions.exact_tier_matching",
	"sanctions_reset_count_on_lift": "sanctions.reset_count_on_lift",
	"admin_webhook_url":             "notifications.webhook_url",
	"admin_notification_channel":    "notifications.channel",
	"admin_key_hash":                "admin.key_hash",
	"admin_stream_ticket_ttl":       "admin.stream_ticket_ttl",
	"log_level":                     "logging.level",
}

// envTransformFunc maps known variables and drops everything else, so
// unrelated process environment never leaks into the config tree.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

var listFields = []string{
	"server.allowed_origins",
	"moderation.blocked_words",
}

// splitListFields turns comma separated env values into string slices.
func splitListFields(k *koanf.Koanf) error {
	for _, path := range listFields {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate rejects configurations the state machine cannot work with.
func (c *Config) Validate() error {
	s := c.Sanctions
	if s.WarnThreshold <= 0 ||
		s.ChatSuspensionThreshold <= s.WarnThreshold ||
		s.AccountSuspensionThreshold <= s.ChatSuspensionThreshold ||
		s.BanThreshold <= s.AccountSuspensionThreshold {
		return ErrInvalidThresholds
	}
	if s.ChatSuspensionDuration <= 0 || s.AccountSuspensionDuration <= 0 {
		return fmt.Errorf("suspension: %w", ErrInvalidDuration)
	}
	if c.Moderation.Timeout <= 0 {
		return fmt.Errorf("moderation timeout: %w", ErrInvalidDuration)
	}
	if c.Admin.StreamTicketTTL <= 0 {
		return fmt.Errorf("admin stream ticket ttl: %w", ErrInvalidDuration)
	}
	if c.Ledger.MaxMessageLength <= 0 {
		return errors.New("ledger max_message_length must be positive")
	}
	return nil
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Server.Environment)) == "production"
}
