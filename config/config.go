package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultSamplingStride       = 1
	defaultMaxRequestsPerSecond = 10
	defaultRPCTimeout           = 10 * time.Second
	defaultPollInterval         = 12 * time.Second
)

// ErrInvalidConfig marks configuration that must stop the process at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port           string
	AllowedOrigins string

	// Database configuration
	DatabaseURL string

	// Optional Redis URL for publishing predictions
	RedisURL string

	// ChainsFile is the YAML file the chain configs were read from
	ChainsFile string

	ChainConfigs map[uint64]*ChainConfig
}

// ChainConfig is the per-chain configuration. It is never mutated after LoadConfig returns.
type ChainConfig struct {
	ChainID              uint64           `yaml:"chain_id"`
	Name                 string           `yaml:"name"`
	RPCURL               string           `yaml:"rpc_url"`
	ContractAddr         string           `yaml:"contract_address"`
	StartBlock           uint64           `yaml:"start_block"`
	SamplingStride       uint64           `yaml:"sampling_stride"`
	MaxRequestsPerSecond int              `yaml:"max_requests_per_second"`
	RPCTimeout           time.Duration    `yaml:"rpc_timeout"`
	PollInterval         time.Duration    `yaml:"poll_interval"`
	Prediction           PredictionConfig `yaml:"prediction"`
}

// PredictionConfig controls the gas price predictor of a chain.
type PredictionConfig struct {
	RecomputeEveryBlocks uint64   `yaml:"recompute_every_blocks"`
	LookbackBlocks       uint64   `yaml:"lookback_blocks"`
	Percentile           *float64 `yaml:"percentile"`
}

// HasBridgeContract reports whether bridge events should be ingested for the chain.
func (c *ChainConfig) HasBridgeContract() bool {
	return c.ContractAddr != ""
}

// ContractAddress returns the parsed bridge contract address.
func (c *ChainConfig) ContractAddress() common.Address {
	return common.HexToAddress(c.ContractAddr)
}

// TargetPercentile returns the configured percentile. Call Validate first.
func (c *ChainConfig) TargetPercentile() float64 {
	if c.Prediction.Percentile == nil {
		return 0
	}
	return *c.Prediction.Percentile
}

type chainsFile struct {
	Chains []*ChainConfig `yaml:"chains"`
}

// LoadConfig loads configuration from environment variables and the chains file
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		DatabaseURL:    getEnvOrDefault("DATABASE_URL", "sqlite://data/gas.db"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ChainsFile:     getEnvOrDefault("CHAINS_CONFIG", "chains.yaml"),
	}

	data, err := os.ReadFile(cfg.ChainsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read chains config %s", cfg.ChainsFile)
	}

	chains, err := ParseChains(data)
	if err != nil {
		return nil, err
	}

	cfg.ChainConfigs = chains

	return cfg, nil
}

// ParseChains decodes and validates the YAML chain list. Environment variables
// referenced as ${VAR} are expanded before decoding.
func ParseChains(data []byte) (map[uint64]*ChainConfig, error) {
	var file chainsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	if len(file.Chains) == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "no chains configured")
	}

	chains := make(map[uint64]*ChainConfig, len(file.Chains))
	for _, chain := range file.Chains {
		applyDefaults(chain)

		if err := chain.Validate(); err != nil {
			return nil, err
		}

		if _, ok := chains[chain.ChainID]; ok {
			return nil, errors.Wrapf(ErrInvalidConfig, "chain %d configured twice", chain.ChainID)
		}

		chains[chain.ChainID] = chain
	}

	return chains, nil
}

func applyDefaults(c *ChainConfig) {
	if c.Name == "" {
		if name, err := ChainName(c.ChainID); err == nil {
			c.Name = name
		}
	}
	if c.SamplingStride == 0 {
		c.SamplingStride = defaultSamplingStride
	}
	if c.MaxRequestsPerSecond == 0 {
		c.MaxRequestsPerSecond = defaultMaxRequestsPerSecond
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = defaultRPCTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
}

// Validate checks that every required field is present and well formed.
func (c *ChainConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidConfig, "chain %d: "+format, append([]any{c.ChainID}, args...)...)
	}

	switch {
	case c.ChainID == 0:
		return errors.Wrap(ErrInvalidConfig, "chain_id is required")
	case strings.TrimSpace(c.RPCURL) == "":
		return fail("rpc_url is required")
	case c.StartBlock == 0:
		return fail("start_block is required")
	case c.ContractAddr != "" && !common.IsHexAddress(c.ContractAddr):
		return fail("invalid contract_address %q", c.ContractAddr)
	case c.MaxRequestsPerSecond < 0:
		return fail("max_requests_per_second must be positive")
	case c.Prediction.RecomputeEveryBlocks == 0:
		return fail("prediction.recompute_every_blocks is required")
	case c.Prediction.LookbackBlocks == 0:
		return fail("prediction.lookback_blocks is required")
	case c.Prediction.Percentile == nil:
		return fail("prediction.percentile is required")
	case *c.Prediction.Percentile < 0 || *c.Prediction.Percentile > 1:
		return fail("prediction.percentile must be within [0,1], got %v", *c.Prediction.Percentile)
	}

	return nil
}

// ChainIDs returns the configured chain ids in ascending order.
func (c *Config) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.ChainConfigs))
	for id := range c.ChainConfigs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
