// Package logger 提供基于 zap 的结构化日志，支持 lumberjack 文件轮转。
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu    sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" env:"LE_LOG_LEVEL"`   // debug, info, warn, error
	Format     string `yaml:"format" env:"LE_LOG_FORMAT"` // json, console
	Output     string `yaml:"output" env:"LE_LOG_OUTPUT"` // stderr, file, both
	FilePath   string `yaml:"file_path" env:"LE_LOG_FILE"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// DefaultConfig returns the console logger used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

// Init 初始化全局日志，可重复调用，后一次覆盖前一次
func Init(cfg *Config) {
	l := New(cfg, nil)
	mu.Lock()
	old := log
	log = l
	sugar = l.Sugar()
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

// New 创建日志实例。extra 不为空时额外写入该 writer（测试中使用）。
func New(cfg *Config, extra io.Writer) *zap.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level.SetLevel(ParseLevel(cfg.Level))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var cores []zapcore.Core
	switch cfg.Output {
	case "", "stderr", "both":
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	case "stdout":
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), level))
	}
	if extra != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(extra), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel 运行时调整日志级别
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// IsDebugEnabled 检查是否启用调试日志
func IsDebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// L 获取日志实例
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Init(nil)
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

func s() *zap.SugaredLogger {
	mu.RLock()
	sl := sugar
	mu.RUnlock()
	if sl == nil {
		L()
		mu.RLock()
		sl = sugar
		mu.RUnlock()
	}
	return sl
}

// Named 返回带组件名的子日志，调用方直接使用，不需要跳过封装层
func Named(name string) *zap.SugaredLogger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(name).Sugar()
}

// Debug 调试日志，keysAndValues 为交替的键值对
func Debug(msg string, keysAndValues ...any) {
	s().Debugw(msg, keysAndValues...)
}

// Info 信息日志
func Info(msg string, keysAndValues ...any) {
	s().Infow(msg, keysAndValues...)
}

// Warn 警告日志
func Warn(msg string, keysAndValues ...any) {
	s().Warnw(msg, keysAndValues...)
}

// Error 错误日志
func Error(msg string, keysAndValues ...any) {
	s().Errorw(msg, keysAndValues...)
}

// Sync 同步日志
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
