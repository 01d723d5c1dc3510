package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigRoundTripProperty: ParseConfig(Serialize(cfg)) == cfg
func TestConfigRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	properties.Property("config round-trip preserves data", prop.ForAll(
		func(cfg *Config) bool {
			data, err := cfg.Serialize()
			if err != nil {
				return false
			}
			parsed, err := ParseConfig(data)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(cfg, parsed)
		},
		genConfig(),
	))
	properties.TestingRun(t)
}

func genDuration(maxMillis int64) gopter.Gen {
	return gen.Int64Range(1, maxMillis).Map(func(ms int64) time.Duration {
		return time.Duration(ms) * time.Millisecond
	})
}

func genConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("debug", "info", "warn", "error"),
		gen.OneConstOf("json", "console"),
		gen.OneConstOf("", ":6565", "127.0.0.1:9000"),
		gen.Bool(),
		genDuration(5000),
		genDuration(60000),
		gen.IntRange(0, 100000),
		gen.IntRange(0, 1<<20),
		genDuration(120000),
		gen.IntRange(0, 4096),
		gen.Bool(),
	).Map(func(v []interface{}) *Config {
		cfg := DefaultConfig()
		cfg.Logging.Level = v[0].(string)
		cfg.Logging.Format = v[1].(string)
		cfg.API.Address = v[2].(string)
		cfg.API.EnableCORS = v[3].(bool)
		cfg.Engine.TickInterval = v[4].(time.Duration)
		cfg.Engine.ThresholdInterval = v[5].(time.Duration)
		cfg.Engine.SamplesBuffer = v[6].(int)
		cfg.Engine.ExactTrendLimit = v[7].(int)
		cfg.HTTP.Timeout = v[8].(time.Duration)
		cfg.HTTP.MaxConnsPerHost = v[9].(int)
		cfg.HTTP.InsecureSkipVerify = v[10].(bool)
		return cfg
	})
}
