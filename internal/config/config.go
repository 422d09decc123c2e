// Package config loads Kantei's configuration from defaults, a .env file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Recognised enumerations.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DedupMemory   = "memory"
	DedupSQL      = "sql"
	DedupDynamoDB = "dynamodb"

	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

const (
	// DefaultStateDir holds the SQLite database, the whatsmeow device store and the lock file.
	DefaultStateDir = "/var/lib/kantei"
	// DefaultDBFileName is the SQLite file created in the state directory.
	DefaultDBFileName = "kantei.db"
	// DefaultWhatsAppDBFileName holds the whatsmeow device store when the main database is SQLite.
	DefaultWhatsAppDBFileName = "whatsapp.db"
)

// Config is the typed configuration.
type Config struct {
	StateDir  string         `mapstructure:"state_dir"`
	Transport string         `mapstructure:"transport"`
	API       APIConfig      `mapstructure:"api"`
	Database  DatabaseConfig `mapstructure:"database"`
	LLM       LLMConfig      `mapstructure:"llm"`
	Gemini    GeminiConfig   `mapstructure:"gemini"`
	OpenAI    OpenAIConfig   `mapstructure:"openai"`
	TMDB      TMDBConfig     `mapstructure:"tmdb"`
	Enrich    EnrichConfig   `mapstructure:"enrich"`
	Dedup     DedupConfig    `mapstructure:"dedup"`
	AWS       AWSConfig      `mapstructure:"aws"`
	Recorder  RecorderConfig `mapstructure:"recorder"`
	Session   SessionConfig  `mapstructure:"session"`
	Dialogue  DialogueConfig `mapstructure:"dialogue"`
	Twilio    TwilioConfig   `mapstructure:"twilio"`
	WhatsApp  WhatsAppConfig `mapstructure:"whatsapp"`
	Log       LogConfig      `mapstructure:"log"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr"`
	// PublicURL is the externally visible webhook URL; enables Twilio signature checks.
	PublicURL string `mapstructure:"public_url"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LLMConfig struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	DebugDir string        `mapstructure:"debug_dir"`
}

type GeminiConfig struct {
	APIKey        string `mapstructure:"api_key"`
	PrimaryModel  string `mapstructure:"primary_model"`
	FallbackModel string `mapstructure:"fallback_model"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type TMDBConfig struct {
	Token string `mapstructure:"token"`
}

type EnrichConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type DedupConfig struct {
	Backend       string        `mapstructure:"backend"`
	EventWindow   time.Duration `mapstructure:"event_window"`
	ActionWindow  time.Duration `mapstructure:"action_window"`
	DynamoDBTable string        `mapstructure:"dynamodb_table"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type RecorderConfig struct {
	SQSQueueURL string `mapstructure:"sqs_queue_url"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type DialogueConfig struct {
	MaxRejections int `mapstructure:"max_rejections"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

type WhatsAppConfig struct {
	DBDSN       string `mapstructure:"db_dsn"`
	QROutput    string `mapstructure:"qr_output"`
	NumericCode bool   `mapstructure:"numeric_code"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults registers every key with its default on v and binds the
// environment: a key such as dedup.event_window reads DEDUP_EVENT_WINDOW.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("transport", TransportTwilio)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.public_url", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.timeout", 20*time.Second)
	v.SetDefault("llm.debug_dir", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.primary_model", "gemini-2.5-pro")
	v.SetDefault("gemini.fallback_model", "gemini-2.5-flash")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("tmdb.token", "")
	v.SetDefault("enrich.timeout", 5*time.Second)
	v.SetDefault("dedup.backend", DedupMemory)
	v.SetDefault("dedup.event_window", 2*time.Minute)
	v.SetDefault("dedup.action_window", 3*time.Second)
	v.SetDefault("dedup.dynamodb_table", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("recorder.sqs_queue_url", "")
	v.SetDefault("session.idle_timeout", 30*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("dialogue.max_rejections", 0)
	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.from_number", "")
	v.SetDefault("whatsapp.db_dsn", "")
	v.SetDefault("whatsapp.qr_output", "")
	v.SetDefault("whatsapp.numeric_code", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored; variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load decodes v into a Config, fills derived values and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize lower-cases enumerations and derives DSNs left empty.
func (c *Config) Normalize() {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Dedup.Backend = strings.ToLower(strings.TrimSpace(c.Dedup.Backend))
	if c.Database.DSN == "" && c.StateDir != "" {
		c.Database.DSN = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.WhatsApp.DBDSN == "" {
		if isPostgresDSN(c.Database.DSN) {
			c.WhatsApp.DBDSN = c.Database.DSN
		} else {
			c.WhatsApp.DBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		}
	}
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=")
}

// Validate reports the first invalid setting. Transport settings are checked
// separately by ValidateTransport since only the server needs them.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini.api_key is required when llm.provider is %q", ProviderGemini)
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required when llm.provider is %q", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}

	switch c.Dedup.Backend {
	case DedupMemory, DedupSQL:
	case DedupDynamoDB:
		if c.Dedup.DynamoDBTable == "" {
			return errors.New("dedup.dynamodb_table is required when dedup.backend is dynamodb")
		}
	default:
		return fmt.Errorf("unknown dedup.backend %q", c.Dedup.Backend)
	}

	if c.Session.IdleTimeout < 0 || c.Session.SweepInterval <= 0 {
		return errors.New("session.idle_timeout must be >= 0 and session.sweep_interval > 0")
	}
	if c.Dedup.EventWindow <= 0 || c.Dedup.ActionWindow <= 0 {
		return errors.New("dedup windows must be positive")
	}
	if c.Dialogue.MaxRejections < 0 {
		return errors.New("dialogue.max_rejections must be >= 0")
	}
	return nil
}

// ValidateTransport checks the settings of the selected chat transport.
func (c *Config) ValidateTransport() error {
	switch c.Transport {
	case TransportTwilio:
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.FromNumber == "" {
			return errors.New("twilio.account_sid, twilio.auth_token and twilio.from_number are required when transport is twilio")
		}
	case TransportWhatsmeow:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}
