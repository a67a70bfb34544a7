package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	tmcfg "github.com/tendermint/tendermint/config"
)

const (
	// DefaultDir is the home directory of a node, relative to $HOME.
	DefaultDir = ".slotchain"

	defaultConfigDir = "config"

	defaultConfigFileName = "config.toml"
)

// Config is the top level configuration of a node.
type Config struct {
	tmcfg.BaseConfig `mapstructure:",squash"`

	P2P     *tmcfg.P2PConfig     `mapstructure:"p2p"`
	RPC     *tmcfg.RPCConfig     `mapstructure:"rpc"`
	Mempool *tmcfg.MempoolConfig `mapstructure:"mempool"`
	Round   *RoundConfig         `mapstructure:"round"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseConfig: tmcfg.DefaultBaseConfig(),
		P2P:        tmcfg.DefaultP2PConfig(),
		RPC:        tmcfg.DefaultRPCConfig(),
		Mempool:    tmcfg.DefaultMempoolConfig(),
		Round:      DefaultRoundConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	return &Config{
		BaseConfig: tmcfg.TestBaseConfig(),
		P2P:        tmcfg.TestP2PConfig(),
		RPC:        tmcfg.TestRPCConfig(),
		Mempool:    tmcfg.TestMempoolConfig(),
		Round:      TestRoundConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.P2P.RootDir = root
	cfg.RPC.RootDir = root
	cfg.Mempool.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [p2p] section")
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [rpc] section")
	}
	if err := cfg.Mempool.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [mempool] section")
	}
	if err := cfg.Round.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [round] section")
	}
	return nil
}

// ConfigFile is the path of config.toml under root.
func ConfigFile(root string) string {
	return filepath.Join(root, defaultConfigDir, defaultConfigFileName)
}

// BlockStoreName is the database name of the chain store.
func (cfg *Config) BlockStoreName() string {
	return "blockstore"
}

//-----------------------------------------------------------------------------
// RoundConfig

// RoundConfig tunes the round coordinator and the block producer. Chain-wide
// parameters such as the block interval live in the genesis document.
type RoundConfig struct {
	// Period of the coordinator tick.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// Ticks to wait for a state response from peers before deriving the
	// round from the local chain. Zero disables pulling state.
	StateSyncTicks int `mapstructure:"state_sync_ticks"`

	// Time kept free at the end of the local slot to assemble, sign and
	// store the block.
	AssemblyReserve time.Duration `mapstructure:"assembly_reserve"`

	// Limit of pool transactions per block. Zero means no limit.
	MaxBlockTxs int `mapstructure:"max_block_txs"`

	// Size of the seen-message cache.
	MessageCacheSize int `mapstructure:"message_cache_size"`

	ProtocolVersion uint32 `mapstructure:"protocol_version"`
}

func DefaultRoundConfig() *RoundConfig {
	return &RoundConfig{
		TickInterval:     1 * time.Second,
		StateSyncTicks:   3,
		AssemblyReserve:  2 * time.Second,
		MaxBlockTxs:      5000,
		MessageCacheSize: 10000,
		ProtocolVersion:  1,
	}
}

func TestRoundConfig() *RoundConfig {
	cfg := DefaultRoundConfig()
	cfg.TickInterval = 50 * time.Millisecond
	cfg.StateSyncTicks = 0
	cfg.AssemblyReserve = 0
	cfg.MessageCacheSize = 100
	return cfg
}

func (cfg *RoundConfig) ValidateBasic() error {
	if cfg.TickInterval <= 0 {
		return errors.New("tick_interval must be positive")
	}
	if cfg.StateSyncTicks < 0 {
		return errors.New("state_sync_ticks can't be negative")
	}
	if cfg.AssemblyReserve < 0 {
		return errors.New("assembly_reserve can't be negative")
	}
	if cfg.MaxBlockTxs < 0 {
		return errors.New("max_block_txs can't be negative")
	}
	if cfg.MessageCacheSize <= 0 {
		return fmt.Errorf("message_cache_size must be positive, got %d", cfg.MessageCacheSize)
	}
	return nil
}
