package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5.0, cfg.CaptureFPS)
	assert.Equal(t, 4*time.Second, cfg.DetectInterval)
	assert.Equal(t, 2*time.Second, cfg.ReplyTimeout)
	assert.Equal(t, 1000, cfg.MaxSteps)
	assert.Equal(t, "0", cfg.Device)
	assert.Empty(t, cfg.TraceDB)
	assert.Equal(t, 200*time.Millisecond, cfg.CapturePeriod())
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"CLASSWATCH_ADDR":            ":9000",
		"CLASSWATCH_LOG_FORMAT":      "json",
		"CLASSWATCH_CAPTURE_FPS":     "10",
		"CLASSWATCH_DETECT_INTERVAL": "1s",
		"CLASSWATCH_TRACE_DB":        "/tmp/trace.db",
		"CLASSWATCH_RULES_DIR":       "rules",
		"CLASSWATCH_FRAMES_DIR":      "frames",
		"CLASSWATCH_DETECTIONS_FILE": "boxes.yaml",
		"CLASSWATCH_MAX_STEPS":       "50",
		"CLASSWATCH_DEVICE":          "1",
	})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 100*time.Millisecond, cfg.CapturePeriod())
	assert.Equal(t, time.Second, cfg.DetectInterval)
	assert.Equal(t, "/tmp/trace.db", cfg.TraceDB)
	assert.Equal(t, "rules", cfg.RulesDir)
	assert.Equal(t, "frames", cfg.FramesDir)
	assert.Equal(t, "boxes.yaml", cfg.DetectionsFile)
	assert.Equal(t, 50, cfg.MaxSteps)
	assert.Equal(t, "1", cfg.Device)
}

func TestLoadFromErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"CLASSWATCH_REPLY_TIMEOUT": "soon"}},
		{"bad int", map[string]string{"CLASSWATCH_MAX_STEPS": "many"}},
		{"fps too high", map[string]string{"CLASSWATCH_CAPTURE_FPS": "120"}},
		{"interval too short", map[string]string{"CLASSWATCH_DETECT_INTERVAL": "10ms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.env)
			require.Error(t, err)
		})
	}
}

func TestNormalizeFillsZeroFields(t *testing.T) {
	cfg := Config{CaptureFPS: -1, MaxSteps: 0}
	cfg.Normalize()
	assert.Equal(t, float64(DefaultCaptureFPS), cfg.CaptureFPS)
	assert.Equal(t, DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, DefaultReplyTimeout, cfg.ReplyTimeout)
	assert.Equal(t, float64(DefaultRateLimit), cfg.RateLimit)
}
