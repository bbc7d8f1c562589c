// config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// ChainConfig holds the consensus engine's fork-handling parameters.
type ChainConfig struct {
	NetworkID          uint64        `json:"network_id" mapstructure:"network_id" envconfig:"NETWORK_ID" default:"1"`
	GenesisFile        string        `json:"genesis_file" mapstructure:"genesis_file" envconfig:"GENESIS_FILE"`
	MaxReorgDepth      uint64        `json:"max_reorg_depth" mapstructure:"max_reorg_depth" envconfig:"MAX_REORG_DEPTH" default:"100"`
	MaxForkDistance    uint64        `json:"max_fork_distance" mapstructure:"max_fork_distance" envconfig:"MAX_FORK_DISTANCE" default:"6"`
	UtxoLookback       uint64        `json:"utxo_lookback" mapstructure:"utxo_lookback" envconfig:"UTXO_LOOKBACK" default:"1000"`
	ForkPruneAge       time.Duration `json:"fork_prune_age" mapstructure:"fork_prune_age" envconfig:"FORK_PRUNE_AGE" default:"24h"`
	ForkPruneInterval  time.Duration `json:"fork_prune_interval" mapstructure:"fork_prune_interval" envconfig:"FORK_PRUNE_INTERVAL" default:"10m"`
	MaxInvalidAttempts int           `json:"max_invalid_attempts" mapstructure:"max_invalid_attempts" envconfig:"MAX_INVALID_ATTEMPTS" default:"3"`
	CheckpointFile     string        `json:"checkpoint_file" mapstructure:"checkpoint_file" envconfig:"CHECKPOINT_FILE"`
	CheckpointPolicy   string        `json:"checkpoint_policy" mapstructure:"checkpoint_policy" envconfig:"CHECKPOINT_POLICY" default:"strict"`
}

// NodeConfig represents node-specific settings
type NodeConfig struct {
	DataDir        string `json:"data_dir" mapstructure:"data_dir" envconfig:"DATA_DIR" default:"./data"`
	LogLevel       string `json:"log_level" mapstructure:"log_level" envconfig:"LOG_LEVEL" default:"info"`
	LogFile        string `json:"log_file" mapstructure:"log_file" envconfig:"LOG_FILE"`
	LogDev         bool   `json:"log_dev" mapstructure:"log_dev" envconfig:"LOG_DEV" default:"false"`
	MetricsEnabled bool   `json:"metrics_enabled" mapstructure:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
	MetricsAddr    string `json:"metrics_addr" mapstructure:"metrics_addr" envconfig:"METRICS_ADDR" default:"localhost:9090"`
}

// RPCConfig represents the query API server settings
type RPCConfig struct {
	Enabled          bool          `json:"enabled" mapstructure:"enabled" envconfig:"RPC_ENABLED" default:"true"`
	ListenAddr       string        `json:"listen_addr" mapstructure:"listen_addr" envconfig:"RPC_LISTEN_ADDR" default:"localhost:8545"`
	ReadTimeout      time.Duration `json:"read_timeout" mapstructure:"read_timeout" envconfig:"RPC_READ_TIMEOUT" default:"30s"`
	WriteTimeout     time.Duration `json:"write_timeout" mapstructure:"write_timeout" envconfig:"RPC_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout      time.Duration `json:"idle_timeout" mapstructure:"idle_timeout" envconfig:"RPC_IDLE_TIMEOUT" default:"120s"`
	RateLimitEnabled bool          `json:"rate_limit_enabled" mapstructure:"rate_limit_enabled" envconfig:"RPC_RATE_LIMIT" default:"true"`
	RateLimitPerSec  float64       `json:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec" envconfig:"RPC_RATE_LIMIT_SEC" default:"50"`
	RateLimitBurst   int           `json:"rate_limit_burst" mapstructure:"rate_limit_burst" envconfig:"RPC_RATE_LIMIT_BURST" default:"100"`
}

// DatabaseConfig represents database settings
type DatabaseConfig struct {
	Path       string        `json:"path" mapstructure:"path" envconfig:"DB_PATH" default:"./data/chain"`
	InMemory   bool          `json:"in_memory" mapstructure:"in_memory" envconfig:"DB_IN_MEMORY" default:"false"`
	SyncWrites bool          `json:"sync_writes" mapstructure:"sync_writes" envconfig:"DB_SYNC_WRITES" default:"false"`
	CacheSize  int           `json:"cache_size" mapstructure:"cache_size" envconfig:"DB_CACHE_SIZE" default:"10000"`
	GCInterval time.Duration `json:"gc_interval" mapstructure:"gc_interval" envconfig:"DB_GC_INTERVAL" default:"10m"`
}

// Config represents the complete configuration
type Config struct {
	Chain    ChainConfig    `json:"chain" mapstructure:"chain"`
	Node     NodeConfig     `json:"node" mapstructure:"node"`
	RPC      RPCConfig      `json:"rpc" mapstructure:"rpc"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
}

// LoadConfig builds the configuration from defaults, HELIOS_-prefixed
// environment variables, and an optional JSON file. File values take
// precedence for the keys they set; everything else keeps the
// environment or default value.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}

	// Each section is processed on its own: envconfig nests struct
	// fields under the field name, which would turn the documented
	// HELIOS_MAX_REORG_DEPTH into HELIOS_CHAIN_MAX_REORG_DEPTH.
	sections := []interface{}{&cfg.Chain, &cfg.Node, &cfg.RPC, &cfg.Database}
	for _, section := range sections {
		if err := envconfig.Process("HELIOS", section); err != nil {
			return nil, fmt.Errorf("failed to process env vars: %w", err)
		}
	}

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("json")

		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.setupDirectories(); err != nil {
		return nil, fmt.Errorf("failed to setup directories: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.NetworkID == 0 {
		return fmt.Errorf("network_id must be non-zero")
	}
	if c.Chain.MaxReorgDepth == 0 {
		return fmt.Errorf("max_reorg_depth must be non-zero")
	}
	if c.Chain.MaxForkDistance == 0 {
		return fmt.Errorf("max_fork_distance must be non-zero")
	}
	if c.Chain.UtxoLookback <= c.Chain.MaxReorgDepth {
		return fmt.Errorf("utxo_lookback (%d) must exceed max_reorg_depth (%d)",
			c.Chain.UtxoLookback, c.Chain.MaxReorgDepth)
	}
	switch c.Chain.CheckpointPolicy {
	case "strict", "warn", "disabled":
	default:
		return fmt.Errorf("unsupported checkpoint_policy: %s", c.Chain.CheckpointPolicy)
	}

	if c.RPC.Enabled && c.RPC.ListenAddr == "" {
		return fmt.Errorf("rpc listen_addr must be set when rpc enabled")
	}

	if !c.Database.InMemory && c.Database.Path == "" {
		return fmt.Errorf("database path must be set")
	}

	return nil
}

// setupDirectories creates necessary directories
func (c *Config) setupDirectories() error {
	dirs := []string{
		c.Node.DataDir,
	}
	if !c.Database.InMemory {
		dirs = append(dirs, c.Database.Path)
	}
	if c.Node.LogFile != "" {
		dirs = append(dirs, filepath.Dir(c.Node.LogFile))
	}

	for _, dir := range dirs {
		if dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
