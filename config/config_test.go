package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmaraujo/recepcionista/rules"
)

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("GATEWAY_BASE_URL", "http://gateway.local")
	t.Setenv("GATEWAY_API_KEY", "gk")
	t.Setenv("GATEWAY_INSTANCES", "unit-main")
	t.Setenv("DB_DRIVER", "memory")
}

func TestFromEnvDefaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "America/Sao_Paulo", cfg.Timezone.String())
	assert.Equal(t, 5.00, cfg.DailyBudgetBRL)
	assert.Equal(t, []string{"anthropic", "openai", "google"}, cfg.Providers)
	assert.Equal(t, 20*time.Second, cfg.TurnDeadline)
	assert.Equal(t, 8, cfg.MailboxDepth)
	assert.Equal(t, 250*time.Millisecond, cfg.MinMessageGap)
	assert.Equal(t, 0.85, cfg.ThresholdHigh)
	assert.Equal(t, 720*time.Hour, cfg.CheckpointRetention)
	require.Len(t, cfg.BusinessHours, 2)
	assert.Equal(t, rules.Window{StartMin: 8 * 60, EndMin: 12 * 60}, cfg.BusinessHours[0])
	assert.Equal(t, rules.Window{StartMin: 14 * 60, EndMin: 17 * 60}, cfg.BusinessHours[1])
}

func TestFromEnvParsesBusinessHours(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("BUSINESS_HOURS", "09:30-18:00")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.BusinessHours, 1)
	assert.Equal(t, rules.Window{StartMin: 9*60 + 30, EndMin: 18 * 60}, cfg.BusinessHours[0])
}

func TestFromEnvOverrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LLM_DAILY_BUDGET_BRL", "12.50")
	t.Setenv("LLM_PROVIDERS", "openai,mock")
	t.Setenv("INTENT_THRESHOLDS", "0.9,0.6,0.2")
	t.Setenv("TURN_DEADLINE", "30s")
	t.Setenv("GATEWAY_INSTANCES", "unit-main, unit-backup")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 12.50, cfg.DailyBudgetBRL)
	assert.Equal(t, []string{"openai", "mock"}, cfg.Providers)
	assert.Equal(t, 0.9, cfg.ThresholdHigh)
	assert.Equal(t, 0.6, cfg.ThresholdMedium)
	assert.Equal(t, 0.2, cfg.ThresholdLow)
	assert.Equal(t, 30*time.Second, cfg.TurnDeadline)
	assert.Equal(t, []string{"unit-main", "unit-backup"}, cfg.GatewayInstances)
}

func TestFromEnvRejectsMissingSecret(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("WEBHOOK_SECRET", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBHOOK_SECRET")
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"bad port", "HTTP_PORT", "not-a-port", "HTTP_PORT"},
		{"bad timezone", "TIMEZONE", "Mars/Olympus", "TIMEZONE"},
		{"bad provider", "LLM_PROVIDERS", "anthropic,skynet", "unknown provider"},
		{"bad thresholds shape", "INTENT_THRESHOLDS", "0.9,0.6", "three comma-separated"},
		{"inverted thresholds", "INTENT_THRESHOLDS", "0.2,0.6,0.9", "strictly decreasing"},
		{"bad deadline", "TURN_DEADLINE", "twenty seconds", "TURN_DEADLINE"},
		{"zero budget", "LLM_DAILY_BUDGET_BRL", "0", "must be positive"},
		{"bad hours shape", "BUSINESS_HOURS", "08:00..12:00", "BUSINESS_HOURS"},
		{"inverted hours", "BUSINESS_HOURS", "12:00-08:00", "end before start"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setMinimalEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateDriverNeedsDSN(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("DB_DRIVER", "sqlite")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestValidateFeatureURLs(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("RAG_ENABLED", "true")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAG_URL")
}
