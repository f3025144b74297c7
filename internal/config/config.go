package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Listen         string
	UpstreamURL    string
	FetchTimeout   time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	StaleAfter     time.Duration
	StreamInterval time.Duration
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("YIELDS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8000")
	v.SetDefault("upstream-url", "https://yields.llama.fi/pools")
	v.SetDefault("fetch-timeout", 10*time.Second)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("stale-after", 30*time.Second)
	v.SetDefault("stream-interval", 15*time.Second)
	v.SetDefault("log-level", "info")

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

	cfg := Config{
		Listen:         v.GetString("listen"),
		UpstreamURL:    v.GetString("upstream-url"),
		FetchTimeout:   v.GetDuration("fetch-timeout"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		StaleAfter:     v.GetDuration("stale-after"),
		StreamInterval: v.GetDuration("stream-interval"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}
