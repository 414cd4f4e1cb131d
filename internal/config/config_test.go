package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSecrets(t *testing.T) {
	t.Setenv("TRUST_PORTAL_SESSION_SECRET", "portal-secret")
	t.Setenv("TRUST_CERTIFICATES_SIGNING_SECRET", "signing-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "portal-secret", cfg.Portal.SessionSecret)
	assert.Equal(t, 15*time.Minute, cfg.Portal.CodeTTL)
	assert.Equal(t, 5, cfg.Portal.MaxAttempts)
	assert.Equal(t, Policy{Limit: 10, Window: 5 * time.Minute}, cfg.Limits.Verify)
	assert.Equal(t, Policy{Limit: 3, Window: time.Hour}, cfg.Limits.TransferRequest)
	assert.Equal(t, 256, cfg.Certificates.CacheSize)
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	t.Setenv("TRUST_CERTIFICATES_SIGNING_SECRET", "signing-secret")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session secret")
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trust.yaml")
	doc := `
server:
  port: 9090
database:
  driver: postgres
  dsn: postgres://trust@db/trust
portal:
  session_secret: from-file
limits:
  verify:
    limit: 20
    window: 10m
certificates:
  client_code: ACME
  signing_secret: file-signing
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("TRUST_SERVER_PORT", "7070")
	t.Setenv("TRUST_LIMITS_TRANSFER_REQUEST_LIMIT", "6")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "from-file", cfg.Portal.SessionSecret)
	assert.Equal(t, Policy{Limit: 20, Window: 10 * time.Minute}, cfg.Limits.Verify)
	assert.Equal(t, 6, cfg.Limits.TransferRequest.Limit)
	assert.Equal(t, time.Hour, cfg.Limits.TransferRequest.Window, "untouched fields keep defaults")
	assert.Equal(t, "ACME", cfg.Certificates.ClientCode)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Portal.SessionSecret = "s"
		cfg.Certificates.SigningSecret = "k"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "unsupported database driver"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis addr"},
		{"zero policy", func(c *Config) { c.Limits.Deactivate.Limit = 0 }, "deactivate"},
		{"webhook without url", func(c *Config) { c.Notify.Mode = "webhook" }, "webhook url"},
		{"bad client code", func(c *Config) { c.Certificates.ClientCode = "ab" }, "client code"},
		{"unknown algorithm", func(c *Config) { c.Certificates.Algorithm = "RSA" }, "unsupported certificate algorithm"},
		{"ed25519 without key", func(c *Config) { c.Certificates.Algorithm = "Ed25519" }, "key path"},
		{"history", func(c *Config) { c.Portal.HistoryMax = 5 }, "history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesLoggingOutput(t *testing.T) {
	cfg := Default()
	cfg.Portal.SessionSecret = "s"
	cfg.Certificates.SigningSecret = "k"
	cfg.Logging.Output = "syslog"

	require.NoError(t, cfg.validate())
	assert.Equal(t, "console", cfg.Logging.Output)
}

func TestLoadAgentSkipsPortal(t *testing.T) {
	t.Setenv("TRUST_CERTIFICATES_SIGNING_SECRET", "signing-secret")
	t.Setenv("TRUST_CERTIFICATES_CLIENT_CODE", "ACME")

	_, err := LoadAgent("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server url")

	t.Setenv("TRUST_CERTIFICATES_SERVER_URL", "https://trust.example.test")
	cfg, err := LoadAgent("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Portal.SessionSecret)
	assert.Equal(t, "ACME", cfg.Certificates.ClientCode)
}
