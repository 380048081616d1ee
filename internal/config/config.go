package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	InsertAppend = "append"
	InsertUpsert = "upsert"

	PatchDrop   = "drop"
	PatchBuffer = "buffer"

	MixedStatuses = "statuses"
	MixedBoth     = "both"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Webhook  WebhookConfig
	WhatsApp WhatsAppConfig
	Ledger   LedgerConfig
	LogLevel string
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
	Table       string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type WebhookConfig struct {
	VerifyToken string
	AppSecret   string
	// MixedChanges decides what happens to value.messages of a change that
	// also carries value.statuses.
	MixedChanges string
}

func (w WebhookConfig) KeepMixedMessages() bool { return w.MixedChanges == MixedBoth }

type WhatsAppConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// LedgerConfig selects how the writer treats duplicate inserts and
// status patches that arrive before their record.
type LedgerConfig struct {
	InsertPolicy   string
	PatchPolicy    string
	ReplayInterval time.Duration
}

func (l LedgerConfig) Upsert() bool    { return l.InsertPolicy == InsertUpsert }
func (l LedgerConfig) Buffering() bool { return l.PatchPolicy == PatchBuffer }

// LoadAll reads the process environment. Every problem is reported, not
// just the first one.
func LoadAll() (*Config, error) {
	var errs []error

	str := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: str("POSTGRES_URL"),
			Table:       getEnv("LEDGER_TABLE", "messages"),
		},
		Webhook: WebhookConfig{
			VerifyToken:  str("WEBHOOK_VERIFY_TOKEN"),
			AppSecret:    os.Getenv("WEBHOOK_APP_SECRET"),
			MixedChanges: strings.ToLower(getEnv("WEBHOOK_MIXED_CHANGES", MixedStatuses)),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:    strings.TrimRight(getEnv("WHATSAPP_API_URL", "https://graph.facebook.com"), "/"),
			APIVersion: getEnv("WHATSAPP_API_VERSION", "v15.0"),
			Timeout:    time.Duration(num("WHATSAPP_HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Ledger: LedgerConfig{
			InsertPolicy:   strings.ToLower(getEnv("INSERT_POLICY", InsertAppend)),
			PatchPolicy:    strings.ToLower(getEnv("PATCH_POLICY", PatchDrop)),
			ReplayInterval: time.Duration(num("REPLAY_INTERVAL_SECONDS", 60)) * time.Second,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = RedisConfig{
			Enabled:  true,
			Address:  addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       num("REDIS_DB", 0),
			TTL:      time.Duration(num("REDIS_TTL_SECONDS", 86400)) * time.Second,
		}
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error

	switch cfg.Ledger.InsertPolicy {
	case InsertAppend, InsertUpsert:
	default:
		errs = append(errs, fmt.Errorf("INSERT_POLICY must be %q or %q, got %q", InsertAppend, InsertUpsert, cfg.Ledger.InsertPolicy))
	}

	switch cfg.Ledger.PatchPolicy {
	case PatchDrop:
	case PatchBuffer:
		if !cfg.Redis.Enabled {
			errs = append(errs, errors.New("PATCH_POLICY=buffer requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("PATCH_POLICY must be %q or %q, got %q", PatchDrop, PatchBuffer, cfg.Ledger.PatchPolicy))
	}

	switch cfg.Webhook.MixedChanges {
	case MixedStatuses, MixedBoth:
	default:
		errs = append(errs, fmt.Errorf("WEBHOOK_MIXED_CHANGES must be %q or %q, got %q", MixedStatuses, MixedBoth, cfg.Webhook.MixedChanges))
	}

	if cfg.Ledger.ReplayInterval <= 0 {
		errs = append(errs, errors.New("REPLAY_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.WhatsApp.Timeout <= 0 {
		errs = append(errs, errors.New("WHATSAPP_HTTP_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
