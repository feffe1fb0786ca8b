package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// Source selects where a network's data comes from. The two modes are
// mutually exclusive per network.
const (
	SourceRPC      = "rpc"
	SourceSubgraph = "subgraph"
)

// FactoryConfig binds a factory contract to the protocol version of the
// pools it creates.
type FactoryConfig struct {
	Address string `mapstructure:"address"`
	Version string `mapstructure:"version"`
}

// NetworkConfig is one chain deployment. Zero-valued tuning fields inherit
// the global defaults at load time.
type NetworkConfig struct {
	Name            string          `mapstructure:"name"`
	ChainID         uint64          `mapstructure:"chain-id"`
	Source          string          `mapstructure:"source"`
	RPCURL          string          `mapstructure:"rpc-url"`
	SubgraphURL     string          `mapstructure:"subgraph-url"`
	StartBlock      uint64          `mapstructure:"start-block"`
	ConfirmationLag uint64          `mapstructure:"confirmation-lag"`
	MaxRangeSpan    uint64          `mapstructure:"max-range-span"`
	BatchSize       uint64          `mapstructure:"batch-size"`
	ScanInterval    time.Duration   `mapstructure:"scan-interval"`
	RollbackDepth   uint64          `mapstructure:"rollback-depth"`
	RateLimit       float64         `mapstructure:"rate-limit"`
	MaxRetries      int             `mapstructure:"max-retries"`
	RetryBackoff    time.Duration   `mapstructure:"retry-backoff"`
	Factories       []FactoryConfig `mapstructure:"factories"`
}

// CacheTTLConfig is the response cache lifetime per endpoint family.
type CacheTTLConfig struct {
	Blocks time.Duration `mapstructure:"blocks"`
	Assets time.Duration `mapstructure:"assets"`
	Pairs  time.Duration `mapstructure:"pairs"`
	Events time.Duration `mapstructure:"events"`
}

// Config holds the full adapter configuration.
type Config struct {
	ListenAddr  string          `mapstructure:"listen-addr"`
	LogLevel    string          `mapstructure:"log-level"`
	PostgresDSN string          `mapstructure:"postgres-dsn"`
	RedisAddr   string          `mapstructure:"redis-addr"`
	CacheTTL    CacheTTLConfig  `mapstructure:"cache-ttl"`
	Networks    []NetworkConfig `mapstructure:"networks"`
}

// Load merges config file, environment variables, and flags.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADAPTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen-addr", ":8080")
	v.SetDefault("log-level", "info")
	v.SetDefault("cache-ttl.blocks", 5*time.Second)
	v.SetDefault("cache-ttl.assets", 300*time.Second)
	v.SetDefault("cache-ttl.pairs", 60*time.Second)
	v.SetDefault("cache-ttl.events", 5*time.Second)

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

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	for i := range cfg.Networks {
		network := &cfg.Networks[i]
		if network.Source == "" {
			network.Source = SourceRPC
		}
		if network.ConfirmationLag == 0 {
			network.ConfirmationLag = 10
		}
		if network.MaxRangeSpan == 0 {
			network.MaxRangeSpan = 10000
		}
		if network.BatchSize == 0 {
			network.BatchSize = 2000
		}
		if network.ScanInterval == 0 {
			network.ScanInterval = 5 * time.Second
		}
		if network.RollbackDepth == 0 {
			network.RollbackDepth = 64
		}
		if network.MaxRetries == 0 {
			network.MaxRetries = 5
		}
		if network.RetryBackoff == 0 {
			network.RetryBackoff = 500 * time.Millisecond
		}
	}
}

// Validate rejects configurations the engines cannot run with.
func (c Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("no networks configured")
	}

	seen := make(map[string]struct{}, len(c.Networks))
	for _, network := range c.Networks {
		if network.Name == "" {
			return fmt.Errorf("network with empty name")
		}
		if _, dup := seen[network.Name]; dup {
			return fmt.Errorf("network %s: duplicate name", network.Name)
		}
		seen[network.Name] = struct{}{}

		switch network.Source {
		case SourceRPC:
			if network.RPCURL == "" {
				return fmt.Errorf("network %s: rpc source requires rpc-url", network.Name)
			}
			if len(network.Factories) == 0 {
				return fmt.Errorf("network %s: rpc source requires at least one factory", network.Name)
			}
		case SourceSubgraph:
			if network.SubgraphURL == "" {
				return fmt.Errorf("network %s: subgraph source requires subgraph-url", network.Name)
			}
		default:
			return fmt.Errorf("network %s: unknown source %q", network.Name, network.Source)
		}

		for _, factory := range network.Factories {
			if !common.IsHexAddress(factory.Address) {
				return fmt.Errorf("network %s: invalid factory address %q", network.Name, factory.Address)
			}
			switch factory.Version {
			case model.VersionAlgebra, model.VersionUniswapV3:
			default:
				return fmt.Errorf("network %s: factory %s: unknown version %q", network.Name, factory.Address, factory.Version)
			}
		}

		if network.BatchSize > network.MaxRangeSpan {
			return fmt.Errorf("network %s: batch-size %d exceeds max-range-span %d", network.Name, network.BatchSize, network.MaxRangeSpan)
		}
	}
	return nil
}

// NetworkNames lists the configured network identifiers.
func (c Config) NetworkNames() []string {
	names := make([]string, len(c.Networks))
	for i, network := range c.Networks {
		names[i] = network.Name
	}
	return names
}
