package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"salesbot/internal/backfill"
	"salesbot/internal/market"
)

// RedisConfig selects the Redis destinations for sales.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Stream   string
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL          string
	LogLevel        string
	ChunkSize       uint64
	PollInterval    time.Duration
	PollMaxFailures int
	ReceiptRetries  int
	ReceiptBackoff  time.Duration
	Markets         []market.Config
	Collections     []string
	Out             string
	Errors          string
	RawOut          string
	PGDSN           string
	Redis           RedisConfig
	KafkaBrokers    []string
	KafkaTopic      string
	MetricsAddr     string
	History         uint64
	Range           string
	ReplayDelay     time.Duration
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SALESBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("chunk-size", backfill.DefaultChunkSize)
	v.SetDefault("poll-interval", 4*time.Second)
	v.SetDefault("poll-max-failures", 5)
	v.SetDefault("receipt-retries", 3)
	v.SetDefault("receipt-backoff", 500*time.Millisecond)
	v.SetDefault("redis-channel", "salesbot:sales")
	v.SetDefault("kafka-topic", "salesbot.sales")
	v.SetDefault("replay-delay", 2*time.Second)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var markets []market.Config
	if v.IsSet("markets") {
		if err := v.UnmarshalKey("markets", &markets); err != nil {
			return Config{}, fmt.Errorf("decode markets: %w", err)
		}
	}
	if len(markets) == 0 {
		markets = market.DefaultConfigs()
	}

	cfg := Config{
		RPCURL:          v.GetString("rpc"),
		LogLevel:        v.GetString("log-level"),
		ChunkSize:       v.GetUint64("chunk-size"),
		PollInterval:    v.GetDuration("poll-interval"),
		PollMaxFailures: v.GetInt("poll-max-failures"),
		ReceiptRetries:  v.GetInt("receipt-retries"),
		ReceiptBackoff:  v.GetDuration("receipt-backoff"),
		Markets:         markets,
		Collections:     getStringSlice(v, "collections"),
		Out:             v.GetString("out"),
		Errors:          v.GetString("errors"),
		RawOut:          v.GetString("raw-out"),
		PGDSN:           v.GetString("pg-dsn"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			Channel:  v.GetString("redis-channel"),
			Stream:   v.GetString("redis-stream"),
		},
		KafkaBrokers: getStringSlice(v, "kafka-brokers"),
		KafkaTopic:   v.GetString("kafka-topic"),
		MetricsAddr:  v.GetString("metrics-addr"),
		History:      v.GetUint64("history"),
		Range:        v.GetString("range"),
		ReplayDelay:  v.GetDuration("replay-delay"),
	}

	return cfg, nil
}

// ReplayRange returns the configured replay window: the explicit range when
// set, otherwise the trailing history, otherwise nil.
func (c Config) ReplayRange() (*backfill.Range, error) {
	if c.Range != "" {
		r, err := backfill.ParseRange(c.Range)
		if err != nil {
			return nil, err
		}
		return &r, nil
	}
	if c.History > 0 {
		r := backfill.Trailing(c.History)
		return &r, nil
	}
	return nil, nil
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
