package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 50, cfg.Pipeline.QualificationThreshold)
	assert.Equal(t, 35, cfg.Pipeline.ReviewTierMin)
	assert.Equal(t, 3, cfg.Pipeline.MaxStageRetries)
	assert.Equal(t, 90, cfg.Dedupe.DiscardWindowDays)
	assert.Equal(t, 30, cfg.Outreach.CooldownDays)
	assert.Equal(t, 14, cfg.Outreach.ResponseWindowDays)
	assert.Equal(t, 2, cfg.Outreach.MaxFollowUps)
	assert.Equal(t, 100, cfg.Batch.Size)
	assert.Equal(t, 5, cfg.Batch.Concurrency)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LEADGEN_PIPELINE_QUALIFICATION_THRESHOLD", "60")
	t.Setenv("LEADGEN_STORE_DRIVER", "sqlite")
	t.Setenv("LEADGEN_BATCH_SIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Pipeline.QualificationThreshold)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 25, cfg.Batch.Size)
}

func TestOutreachWindows(t *testing.T) {
	c := OutreachConfig{CooldownDays: 30, ResponseWindowDays: 14, FollowUpDelayDays: 3}

	assert.Equal(t, 30*24*time.Hour, c.CooldownWindow())
	assert.Equal(t, 14*24*time.Hour, c.ResponseWindow())
	assert.Equal(t, 3*24*time.Hour, c.FollowUpDelay())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
