package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the loaders.
const EnvPrefix = "CHAINWATCH"

// Config holds settings for the fetch and watch commands, loaded from flags,
// env, or config file.
type Config struct {
	RPCURL     string
	RPCTimeout time.Duration
	Addresses  []string
	// SchemaFiles are ABI JSON or YAML schema files; Signatures are inline
	// event signatures. Both feed the schema registry.
	SchemaFiles []string
	Signatures  []string
	// Event restricts the filter to one schema name or signature hash.
	Event        string
	FromBlock    string
	ToBlock      string
	ChunkSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	SkipUnknown  bool

	Out       string
	LogEvents bool
	SQLite    string
	PGDSN     string
	Kafka     KafkaConfig

	PollInterval  time.Duration
	Confirmations uint64
	StartCursor   string
	Checkpoint    string
	MetricsAddr   string

	LogLevel string
}

// KafkaConfig selects the Kafka publishing sink. It is disabled without brokers.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"rpc-timeout":   30 * time.Second,
		"chunk-size":    uint64(2000),
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
		"max-backoff":   30 * time.Second,
		"to":            "latest",
		"poll-interval": 2 * time.Second,
		"confirmations": uint64(0),
		"kafka-topic":   "chainwatch.events",
		"log-level":     "info",
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:       v.GetString("rpc"),
		RPCTimeout:   v.GetDuration("rpc-timeout"),
		Addresses:    getStringSlice(v, "address"),
		SchemaFiles:  getStringSlice(v, "schema"),
		Signatures:   getSignatures(v, "signature"),
		Event:        v.GetString("event"),
		FromBlock:    v.GetString("from"),
		ToBlock:      v.GetString("to"),
		ChunkSize:    v.GetUint64("chunk-size"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		MaxBackoff:   v.GetDuration("max-backoff"),
		SkipUnknown:  v.GetBool("skip-unknown"),
		Out:          v.GetString("out"),
		LogEvents:    v.GetBool("log-events"),
		SQLite:       v.GetString("sqlite"),
		PGDSN:        v.GetString("pg-dsn"),
		Kafka: KafkaConfig{
			Brokers: getStringSlice(v, "kafka-brokers"),
			Topic:   v.GetString("kafka-topic"),
		},
		PollInterval:  v.GetDuration("poll-interval"),
		Confirmations: v.GetUint64("confirmations"),
		StartCursor:   v.GetString("start-cursor"),
		Checkpoint:    v.GetString("checkpoint"),
		MetricsAddr:   v.GetString("metrics"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings shared by fetch and watch.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if len(c.Addresses) == 0 {
		return fmt.Errorf("address list is required")
	}
	if len(c.SchemaFiles) == 0 && len(c.Signatures) == 0 {
		return fmt.Errorf("at least one schema file or event signature is required")
	}
	if c.ChunkSize == 0 {
		return fmt.Errorf("chunk size must be greater than zero")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}
	return nil
}

// ValidateWatch checks the settings of the watch command.
func (c Config) ValidateWatch() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be greater than zero")
	}
	return nil
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		if err := loadDotEnv(cfgFile); err != nil {
			return nil, err
		}
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := loadDotEnv("config"); err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// loadDotEnv loads a .env file next to the config file into the process
// environment. Variables already set are kept.
func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

// getSignatures reads event signatures, which contain commas themselves,
// so string values are split on ';' instead.
func getSignatures(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}
	switch typed := v.Get(key).(type) {
	case string:
		return cleanStrings(strings.Split(typed, ";"))
	case []string:
		if len(typed) == 1 {
			return cleanStrings(strings.Split(typed[0], ";"))
		}
		return cleanStrings(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
