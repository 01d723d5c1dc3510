package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "", cfg.API.Address)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.NoError(t, NewValidator().Validate(cfg))
}

func TestLoader_Precedence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
api:
  address: ":6565"
engine:
  tick_interval: 100ms
  samples_buffer: 50
http:
  timeout: 10s
logging:
  level: debug
`), 0o644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithEnv(envMap(map[string]string{
			"LE_HTTP_TIMEOUT":         "5s",
			"LE_API_ENABLE_CORS":      "true",
			"LE_ENGINE_TICK_INTERVAL": "",
		})).
		WithCmdArgs(map[string]string{"http.timeout": "2s", "engine.samples_buffer": "10"}).
		Load()
	require.NoError(t, err)

	assert.Equal(t, ":6565", cfg.API.Address)
	assert.True(t, cfg.API.EnableCORS)
	// 空环境变量不覆盖文件值
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, 10, cfg.Engine.SamplesBuffer)
	assert.Equal(t, 2*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2*time.Second, cfg.HTTP.Transport().Timeout)
}

func TestLoader_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad env value", func(t *testing.T) {
		_, err := NewLoader().WithEnv(envMap(map[string]string{"LE_HTTP_TIMEOUT": "soon"})).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LE_HTTP_TIMEOUT")
	})

	t.Run("unknown override path", func(t *testing.T) {
		_, err := NewLoader().WithEnv(envMap(nil)).WithCmdArgs(map[string]string{"engine.nope": "1"}).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.nope")
	})

	t.Run("validation", func(t *testing.T) {
		_, err := NewLoader().WithEnv(envMap(map[string]string{
			"LE_LOG_LEVEL":   "loud",
			"LE_API_ADDRESS": "nowhere",
		})).Load()
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Len(t, verrs, 2)
	})
}

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero tick", func(c *Config) { c.Engine.TickInterval = 0 }, "engine.tick_interval"},
		{"sub-millisecond tick", func(c *Config) { c.Engine.TickInterval = time.Microsecond }, "engine.tick_interval"},
		{"zero threshold interval", func(c *Config) { c.Engine.ThresholdInterval = 0 }, "engine.threshold_interval"},
		{"negative buffer", func(c *Config) { c.Engine.SamplesBuffer = -1 }, "engine.samples_buffer"},
		{"negative timeout", func(c *Config) { c.HTTP.Timeout = -time.Second }, "http.timeout"},
		{"file output without path", func(c *Config) { c.Logging.Output = "file" }, "logging.file_path"},
		{"unknown output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"unknown format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad port", func(c *Config) { c.API.Address = ":http-alt-nope" }, "api.address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := NewValidator().Validate(cfg)
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
			assert.Contains(t, err.Error(), "configuration validation failed")
		})
	}
}

func TestIsValidAddress(t *testing.T) {
	assert.True(t, isValidAddress(":6565"))
	assert.True(t, isValidAddress("127.0.0.1:6565"))
	assert.True(t, isValidAddress("localhost:6565"))
	assert.False(t, isValidAddress("6565"))
	assert.False(t, isValidAddress("localhost:"))
}
