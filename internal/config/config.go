// Package config loads fhebench settings from a YAML file, FHEBENCH_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/queue"
	"github.com/luxfi/fhebench/measure"
)

// EnvPrefix prefixes every environment override, e.g. FHEBENCH_HTTP_ADDR.
const EnvPrefix = "FHEBENCH"

// Config is the complete runtime configuration.
type Config struct {
	// Source is the registry source: a .csv file or a .fhb snapshot.
	Source string `mapstructure:"source"`
	// DB is an optional SQLite database holding records.
	DB string `mapstructure:"db"`
	// SizeLimit bounds snapshot bodies in bytes; 0 disables the check.
	SizeLimit uint64 `mapstructure:"size_limit"`

	HTTP    HTTPConfig    `mapstructure:"http"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Queue   string        `mapstructure:"queue"`
	Storage StorageConfig `mapstructure:"storage"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Measure MeasureConfig `mapstructure:"measure"`
	Log     LogConfig     `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Jobs enables job submission through the Redis queue.
	Jobs bool `mapstructure:"jobs"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

type WorkerConfig struct {
	Count       int    `mapstructure:"count"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type MeasureConfig struct {
	LogN       int      `mapstructure:"log_n"`
	Q          uint64   `mapstructure:"q"`
	Iterations int      `mapstructure:"iterations"`
	BitWidths  []int    `mapstructure:"bit_widths"`
	Operations []string `mapstructure:"operations"`
	Hardware   string   `mapstructure:"hardware"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	m := measure.DefaultConfig()

	v.SetDefault("source", "benchmarks.csv")
	v.SetDefault("db", "")
	v.SetDefault("size_limit", uint64(fhebench.DefaultSizeLimit))
	v.SetDefault("http.addr", ":8449")
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.jobs", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue", "default")
	v.SetDefault("storage.dir", "/tmp/fhebench-snapshots")
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.metrics_addr", ":9090")
	v.SetDefault("measure.log_n", m.LogN)
	v.SetDefault("measure.q", m.Q)
	v.SetDefault("measure.iterations", m.Iterations)
	v.SetDefault("measure.bit_widths", m.BitWidths)
	v.SetDefault("measure.operations", []string{})
	v.SetDefault("measure.hardware", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// Load reads configuration into a Config. cfgFile may be empty, in which
// case ./fhebench.yaml is used when present. Known flags in flags override
// file and environment values when set.
func Load(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("fhebench")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		slog.Debug("using config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"source":       "source",
	"db":           "db",
	"size-limit":   "size_limit",
	"http-addr":    "http.addr",
	"jobs":         "http.jobs",
	"redis-addr":   "redis.addr",
	"redis-db":     "redis.db",
	"queue":        "queue",
	"storage":      "storage.dir",
	"workers":      "worker.count",
	"metrics-addr": "worker.metrics_addr",
	"iterations":   "measure.iterations",
	"bit-widths":   "measure.bit_widths",
	"operations":   "measure.operations",
	"hardware":     "measure.hardware",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

// Validate checks value ranges that decoding cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("config: worker.count must be positive, got %d", c.Worker.Count)
	}
	if c.Measure.Iterations <= 0 {
		return fmt.Errorf("config: measure.iterations must be positive, got %d", c.Measure.Iterations)
	}
	return nil
}

// MeasureConfig converts the measure section for measure.Run.
func (c *Config) MeasureConfig() measure.Config {
	return measure.Config{
		LogN:       c.Measure.LogN,
		Q:          c.Measure.Q,
		Iterations: c.Measure.Iterations,
		BitWidths:  c.Measure.BitWidths,
		Operations: c.Measure.Operations,
		Hardware:   c.Measure.Hardware,
	}
}

// RedisQueueConfig converts the redis section for queue.NewRedisQueue.
func (c *Config) RedisQueueConfig() queue.RedisConfig {
	return queue.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// DeserializationConfig returns snapshot read limits.
func (c *Config) DeserializationConfig() fhebench.DeserializationConfig {
	return fhebench.DeserializationConfig{SizeLimit: c.SizeLimit}
}
