package logger

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestNew_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = "none"
	l := New(cfg, &buf)

	l.Sugar().Infow("vu spawned", "vu_id", 7)
	require.NoError(t, l.Sync())

	assert.Contains(t, buf.String(), `"msg":"vu spawned"`)
	assert.Contains(t, buf.String(), `"vu_id":7`)
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = "none"
	cfg.Level = "warn"
	l := New(cfg, &buf)
	defer SetLevel(zapcore.InfoLevel)

	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.False(t, IsDebugEnabled())
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = path
	l := New(cfg, nil)

	l.Info("to file")
	require.NoError(t, l.Sync())
	assert.FileExists(t, path)
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	recovered := make(chan any, 1)

	go func() {
		defer wg.Done()
		defer Recover("test", func(r any) { recovered <- r })
		panic("boom")
	}()
	wg.Wait()

	select {
	case r := <-recovered:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic was not recovered")
	}
}
