package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
[jwt]
secret = "s3cret"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "postbox.local", cfg.Server.Domain)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Blacklist.Timeout)
	assert.Equal(t, 40*time.Millisecond, cfg.Blacklist.IdleTimeout)
	assert.Equal(t, 4, cfg.Blacklist.Concurrency)
	assert.True(t, cfg.Blacklist.FailsOpen())
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 8080
domain = "Example.ORG"

[blacklist]
address = "bl.internal:9000"
timeout = "2s"
idle_timeout = "25ms"
concurrency = 0
fail_policy = "Closed"

[jwt]
secret = "s3cret"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "example.org", cfg.Server.Domain)
	assert.Equal(t, "bl.internal:9000", cfg.Blacklist.Address)
	assert.Equal(t, 2*time.Second, cfg.Blacklist.Timeout)
	assert.Equal(t, 25*time.Millisecond, cfg.Blacklist.IdleTimeout)
	assert.Equal(t, 1, cfg.Blacklist.Concurrency)
	assert.False(t, cfg.Blacklist.FailsOpen())
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing secret", ``},
		{"bad policy", "[blacklist]\nfail_policy = \"maybe\"\n[jwt]\nsecret = \"x\"\n"},
		{"idle not shorter than timeout", "[blacklist]\ntimeout = \"1s\"\nidle_timeout = \"2s\"\n[jwt]\nsecret = \"x\"\n"},
		{"bad port", "[server]\nport = 70000\n[jwt]\nsecret = \"x\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
