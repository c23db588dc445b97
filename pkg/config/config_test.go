package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "staging")

	c, err := Load()
	require.NoError(t, err)
	assert.True(t, c.IsStaging)
	assert.Equal(t, "5000", c.Port)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, "gorm", c.HistoryBackend)
	assert.Equal(t, 90*time.Second, c.GenerationTimeout)
	assert.Equal(t, 32000, c.MaxMessageChars)
	assert.Len(t, c.CORSOrigins, 4)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("PORT", "8080")
	t.Setenv("GENERATION_PROVIDER", "local")
	t.Setenv("GENERATION_TIMEOUT", "5s")
	t.Setenv("MAX_HISTORY_TURNS", "12")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "local", c.GenerationProvider)
	assert.Equal(t, 5*time.Second, c.GenerationTimeout)
	assert.Equal(t, 12, c.MaxHistoryTurns)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad env":            {"APP_ENV": "dev"},
		"prod without jwt":   {"APP_ENV": "production", "JWT_SECRET_KEY": ""},
		"bad driver":         {"APP_ENV": "staging", "DB_DRIVER": "oracle"},
		"pgx needs postgres": {"APP_ENV": "staging", "HISTORY_BACKEND": "pgx"},
		"bad provider":       {"APP_ENV": "staging", "GENERATION_PROVIDER": "llama"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
