package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.Set("gemini.api_key", "g-key")
	v.Set("twilio.account_sid", "AC123")
	v.Set("twilio.auth_token", "token")
	v.Set("twilio.from_number", "+15550001111")
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(validViper())
	require.NoError(t, err)

	assert.Equal(t, DefaultStateDir, cfg.StateDir)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, filepath.Join(DefaultStateDir, DefaultDBFileName), cfg.Database.DSN)
	assert.Equal(t, "file:"+filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName)+"?_foreign_keys=on", cfg.WhatsApp.DBDSN)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, 20*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "gemini-2.5-pro", cfg.Gemini.PrimaryModel)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.FallbackModel)
	assert.Equal(t, DedupMemory, cfg.Dedup.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Dedup.EventWindow)
	assert.Equal(t, 3*time.Second, cfg.Dedup.ActionWindow)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, 0, cfg.Dialogue.MaxRejections)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("STATE_DIR", "/tmp/kantei-state")
	t.Setenv("DEDUP_EVENT_WINDOW", "5m")
	t.Setenv("DIALOGUE_MAX_REJECTIONS", "3")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(validViper())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/kantei-state/kantei.db", cfg.Database.DSN)
	assert.Equal(t, 5*time.Minute, cfg.Dedup.EventWindow)
	assert.Equal(t, 3, cfg.Dialogue.MaxRejections)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
}

func TestLoad_ExplicitDSNKept(t *testing.T) {
	v := validViper()
	v.Set("database.dsn", "postgres://kantei@db/kantei")
	v.Set("whatsapp.db_dsn", "/data/wa.db")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "postgres://kantei@db/kantei", cfg.Database.DSN)
	assert.Equal(t, "/data/wa.db", cfg.WhatsApp.DBDSN)
}

func TestLoad_PostgresSharedWithWhatsApp(t *testing.T) {
	v := validViper()
	v.Set("database.dsn", "host=db dbname=kantei sslmode=disable")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, cfg.Database.DSN, cfg.WhatsApp.DBDSN)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
		want string
	}{
		{"unknown provider", map[string]any{"llm.provider": "claude"}, "unknown llm.provider"},
		{"missing gemini key", map[string]any{"gemini.api_key": ""}, "gemini.api_key"},
		{"missing openai key", map[string]any{"llm.provider": "openai"}, "openai.api_key"},
		{"unknown backend", map[string]any{"dedup.backend": "redis"}, "unknown dedup.backend"},
		{"dynamodb without table", map[string]any{"dedup.backend": "dynamodb"}, "dedup.dynamodb_table"},
		{"negative rejections", map[string]any{"dialogue.max_rejections": -1}, "max_rejections"},
		{"zero sweep interval", map[string]any{"session.sweep_interval": 0}, "sweep_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := validViper()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateTransport(t *testing.T) {
	cfg, err := Load(validViper())
	require.NoError(t, err)
	assert.NoError(t, cfg.ValidateTransport())

	cfg.Twilio.AuthToken = ""
	assert.ErrorContains(t, cfg.ValidateTransport(), "twilio.account_sid")

	cfg.Transport = TransportWhatsmeow
	assert.NoError(t, cfg.ValidateTransport())

	cfg.Transport = "telegram"
	assert.ErrorContains(t, cfg.ValidateTransport(), "unknown transport")
}

func TestLoad_TransportNotRequired(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("gemini.api_key", "g-key")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, TransportTwilio, cfg.Transport)
	assert.Error(t, cfg.ValidateTransport())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("KANTEI_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("KANTEI_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("KANTEI_TEST_DOTENV"))
}
