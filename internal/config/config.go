package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/load-engine/internal/transport"
	"yqhp/load-engine/pkg/logger"
)

// Config represents the complete configuration of the engine.
type Config struct {
	Logging logger.Config `yaml:"logging"`
	API     APIConfig     `yaml:"api"`
	Engine  EngineConfig  `yaml:"engine"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// APIConfig holds the control surface configuration.
type APIConfig struct {
	// Address 为空表示不启动 REST 控制面
	Address    string `yaml:"address" env:"LE_API_ADDRESS"`
	EnableCORS bool   `yaml:"enable_cors" env:"LE_API_ENABLE_CORS"`
}

// EngineConfig holds scheduler and metrics pipeline tuning.
type EngineConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval" env:"LE_ENGINE_TICK_INTERVAL"`
	ThresholdInterval time.Duration `yaml:"threshold_interval" env:"LE_ENGINE_THRESHOLD_INTERVAL"`
	SamplesBuffer     int           `yaml:"samples_buffer" env:"LE_ENGINE_SAMPLES_BUFFER"`
	ExactTrendLimit   int           `yaml:"exact_trend_limit" env:"LE_ENGINE_EXACT_TREND_LIMIT"`
}

// HTTPConfig holds HTTP client configuration.
type HTTPConfig struct {
	Timeout            time.Duration `yaml:"timeout" env:"LE_HTTP_TIMEOUT"`
	MaxConnsPerHost    int           `yaml:"max_conns_per_host" env:"LE_HTTP_MAX_CONNS_PER_HOST"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"LE_HTTP_INSECURE_SKIP_VERIFY"`
}

// Transport converts the HTTP section into a transport configuration.
func (c HTTPConfig) Transport() transport.Config {
	return transport.Config{
		Timeout:            c.Timeout,
		MaxConnsPerHost:    c.MaxConnsPerHost,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Logging: *logger.DefaultConfig(),
		API:     APIConfig{},
		Engine: EngineConfig{
			TickInterval:      50 * time.Millisecond,
			ThresholdInterval: 2 * time.Second,
			SamplesBuffer:     1000,
			ExactTrendLimit:   10000,
		},
		HTTP: HTTPConfig{
			Timeout:         transport.DefaultTimeout,
			MaxConnsPerHost: 1024,
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	cmdArgs    map[string]string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		cmdArgs:   make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets key.path=value overrides, e.g. "http.timeout": "5s".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// WithEnv replaces the environment lookup, used in tests.
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}

	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile 读取 YAML 文件。显式指定的文件不存在时报错。
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue, ok := l.lookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}
	return nil
}

// setConfigValue 按 yaml 键路径设置配置值，例如 engine.tick_interval
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}
		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}
	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag == name || strings.EqualFold(t.Field(i).Name, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}
	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}
