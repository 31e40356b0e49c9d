// Package config loads the MEV pipeline's configuration surface: network
// selection, venue table, token table, pair list and MEV parameters.
// Environment variables take precedence over the file, so an operator
// can override any setting without touching the checked-in config.
package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Network selects the chain RPC/WebSocket endpoints and chain id.
type Network struct {
	Name      string `mapstructure:"name"`
	RPCURL    string `mapstructure:"rpc_url"`
	WSURL     string `mapstructure:"ws_url"`
	ChainID   int64  `mapstructure:"chain_id"`
	HealthURL string `mapstructure:"health_url"`
}

// VenueConfig is the on-disk shape of a Venue before address parsing.
type VenueConfig struct {
	Name    string `mapstructure:"name"`
	Factory string `mapstructure:"factory"`
	Router  string `mapstructure:"router"`
}

// TokenConfig is the on-disk shape of a Token before address parsing.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals int    `mapstructure:"decimals"`
	Symbol   string `mapstructure:"symbol"`
}

// PairConfig names the two tokens (by symbol or address) a pair spans.
type PairConfig struct {
	TokenA string `mapstructure:"token_a"`
	TokenB string `mapstructure:"token_b"`
}

// MEVParams are the tunable thresholds governing profit gating, slippage,
// gas estimation, cache lifetime and simulation mode.
type MEVParams struct {
	MinProfitPercent     float64 `mapstructure:"min_profit_percent"`
	MaxSlippagePercent   float64 `mapstructure:"max_slippage_percent"`
	DefaultGasLimit      uint64  `mapstructure:"default_gas_limit"`
	PriorityFeeMultiplier float64 `mapstructure:"priority_fee_multiplier"`
	CacheKeyPrefix       string  `mapstructure:"cache_key_prefix"`
	MempoolTTLSeconds    int     `mapstructure:"mempool_ttl_seconds"`
	SimulationTimeoutMS  int     `mapstructure:"simulation_timeout_ms"`
	FastSimulation       bool    `mapstructure:"fast_simulation"`
	NativeWrappedSymbol  string  `mapstructure:"native_wrapped_symbol"`
}

// SandboxConfig is the on-disk shape of the simulator's forked-EVM
// subprocess: the binary to launch, the account it funds, and the gas
// parameters it starts with.
type SandboxConfig struct {
	Binary     string `mapstructure:"binary"`
	Host       string `mapstructure:"host"`
	BalanceWei string `mapstructure:"balance_wei"`
	GasLimit   uint64 `mapstructure:"gas_limit"`
	GasPrice   uint64 `mapstructure:"gas_price"`
	BaseFee    uint64 `mapstructure:"base_fee"`
	TestKeyHex string `mapstructure:"test_key_hex"`
	FundWei    string `mapstructure:"fund_wei"`
}

// Config is the fully parsed configuration surface.
type Config struct {
	Network   Network       `mapstructure:"network"`
	Venues    []VenueConfig `mapstructure:"venues"`
	Tokens    []TokenConfig `mapstructure:"tokens"`
	Pairs     []PairConfig  `mapstructure:"pairs"`
	MEV       MEVParams     `mapstructure:"mev"`
	Sandbox   SandboxConfig `mapstructure:"sandbox"`
	CacheAddr string        `mapstructure:"cache_addr"`
	AuditDB   string        `mapstructure:"audit_db"`
}

// Load reads configuration from path (YAML), with MEVBOT_-prefixed
// environment variables taking precedence over any value in the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MEVBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mev.min_profit_percent", 0.1)
	v.SetDefault("mev.max_slippage_percent", 1.0)
	v.SetDefault("mev.default_gas_limit", 300000)
	v.SetDefault("mev.priority_fee_multiplier", 1.2)
	v.SetDefault("mev.cache_key_prefix", "mev:")
	v.SetDefault("mev.mempool_ttl_seconds", 300)
	v.SetDefault("mev.simulation_timeout_ms", 150)
	v.SetDefault("mev.fast_simulation", true)
	v.SetDefault("mev.native_wrapped_symbol", "WAVAX")
	v.SetDefault("cache_addr", "127.0.0.1:6379")
	v.SetDefault("sandbox.binary", "anvil")
	v.SetDefault("sandbox.host", "127.0.0.1")
	v.SetDefault("sandbox.balance_wei", "10000000000000000000000")
	v.SetDefault("sandbox.gas_limit", uint64(30_000_000))
	v.SetDefault("sandbox.gas_price", uint64(25_000_000_000))
	v.SetDefault("sandbox.base_fee", uint64(1_000_000_000))
	v.SetDefault("sandbox.fund_wei", "10000000000000000000000")
	// Registered so MEVBOT_SANDBOX_TEST_KEY_HEX is seen by Unmarshal even
	// when the file has no such key.
	v.SetDefault("sandbox.test_key_hex", "")
}

// validate refuses to start on an unknown venue address or an
// out-of-range token decimal count, rather than let a bad config
// surface as a confusing failure deep in a running pipeline.
func (c *Config) validate() error {
	if c.Network.RPCURL == "" {
		return errors.New("network.rpc_url is required")
	}
	if len(c.Venues) == 0 {
		return errors.New("at least one venue must be configured")
	}
	seen := map[string]bool{}
	for _, ven := range c.Venues {
		if ven.Name == "" || !common.IsHexAddress(ven.Factory) || !common.IsHexAddress(ven.Router) {
			return errors.Errorf("venue %q has an invalid factory/router address", ven.Name)
		}
		seen[ven.Name] = true
	}
	for _, tok := range c.Tokens {
		if !common.IsHexAddress(tok.Address) {
			return errors.Errorf("token %q has an invalid address", tok.Symbol)
		}
		if tok.Decimals < 0 || tok.Decimals > 36 {
			return errors.Errorf("token %q decimals out of range [0,36]", tok.Symbol)
		}
	}
	return nil
}

// ResolveToken looks a token up by symbol or hex address.
func (c *Config) ResolveToken(ref string) (TokenConfig, error) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, ref) || strings.EqualFold(t.Address, ref) {
			return t, nil
		}
	}
	return TokenConfig{}, fmt.Errorf("unknown token %q", ref)
}

// VenueAddresses indexes the configured venues by name.
func (c *Config) VenueAddresses() map[string]VenueConfig {
	out := make(map[string]VenueConfig, len(c.Venues))
	for _, v := range c.Venues {
		out[v.Name] = v
	}
	return out
}
