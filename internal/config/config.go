// Package config loads the node's static configuration (§6, "Config
// constants"): retarget/difficulty parameters, store and peer settings, and
// the mining toggle. It generalises the teacher's bare `flag.String` CLI-only
// setup (main.go) into a TOML file plus CLI-flag-override layer, the way
// go-ethereum's own module (present in this corpus) is configured: a file is
// loaded first, then flags explicitly set on the command line win.
package config

import (
	"flag"
	"fmt"
	"math/big"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/weavenet/weave-node/internal/validate"
)

// NodeConfig bundles every config constant named in §6 plus the operational
// settings (store path, peer seeds, mining toggle) a running node needs.
type NodeConfig struct {
	RetargetBlocks           uint64   `toml:"retarget_blocks"`
	StoreBlocksBehindCurrent uint64   `toml:"store_blocks_behind_current"`
	GenesisTokens            uint64   `toml:"genesis_tokens"`
	CostPerByte              uint64   `toml:"cost_per_byte"`
	DiffCenter               uint64   `toml:"diff_center"`
	InitialDiff              uint64   `toml:"initial_diff"`
	TargetSecondsPerBlock    int64    `toml:"target_seconds_per_block"`
	NetTimeoutSeconds        int64    `toml:"net_timeout_seconds"`
	RejoinTimeoutSeconds     int64    `toml:"rejoin_timeout_seconds"`
	PollTimeSeconds          int64    `toml:"poll_time_seconds"`
	KeepLastBlocks           int      `toml:"keep_last_blocks"`
	MiningDelayMillis        int64    `toml:"mining_delay_millis"`
	RetryBudget              int      `toml:"retry_budget"`
	Automine                 bool     `toml:"automine"`
	RewardAddrHex            string   `toml:"reward_addr"`
	StorePath                string   `toml:"store_path"`
	ListenAddr               string   `toml:"listen_addr"`
	PeerSeeds                []string `toml:"peer_seeds"`
}

// Default returns the out-of-the-box configuration. STORE_BLOCKS_BEHIND_CURRENT
// honours the spec's "≥ 50" floor (§6).
func Default() NodeConfig {
	return NodeConfig{
		RetargetBlocks:           10,
		StoreBlocksBehindCurrent: 50,
		GenesisTokens:            55_000_000,
		CostPerByte:              1,
		DiffCenter:               30,
		InitialDiff:              8,
		TargetSecondsPerBlock:    120,
		NetTimeoutSeconds:        10,
		RejoinTimeoutSeconds:     5,
		PollTimeSeconds:          30,
		KeepLastBlocks:           50,
		MiningDelayMillis:        0,
		RetryBudget:              5,
		Automine:                 false,
		StorePath:                "./data",
		ListenAddr:               "localhost:1984",
	}
}

// Load reads a TOML config file over the defaults: fields absent from the
// file keep their default value, matching BurntSushi/toml's merge-by-decode
// behaviour.
func Load(path string) (NodeConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// RegisterFlags binds CLI flags that override cfg's fields, mirroring the
// teacher's main.go flag registrations (`-node`, `-peers`, `-mode`) but over
// the richer config surface this spec needs.
func RegisterFlags(fs *flag.FlagSet, cfg *NodeConfig) {
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "node listen address")
	fs.StringVar(&cfg.StorePath, "store", cfg.StorePath, "block store path")
	fs.BoolVar(&cfg.Automine, "automine", cfg.Automine, "mine continuously")
	fs.StringVar(&cfg.RewardAddrHex, "reward-addr", cfg.RewardAddrHex, "hex-encoded mining reward address")
}

// NetTimeout, RejoinTimeout, PollTime, and MiningDelay convert the config's
// second/millisecond fields to time.Duration for use by their respective
// components (§5, "Timeouts").
func (c NodeConfig) NetTimeout() time.Duration {
	return time.Duration(c.NetTimeoutSeconds) * time.Second
}

func (c NodeConfig) RejoinTimeout() time.Duration {
	return time.Duration(c.RejoinTimeoutSeconds) * time.Second
}

func (c NodeConfig) PollTime() time.Duration {
	return time.Duration(c.PollTimeSeconds) * time.Second
}

func (c NodeConfig) MiningDelay() time.Duration {
	return time.Duration(c.MiningDelayMillis) * time.Millisecond
}

// ValidateParams projects the block-validation-relevant subset of c into
// internal/validate's Params, keeping that package free of a config import.
func (c NodeConfig) ValidateParams() validate.Params {
	return validate.Params{
		DiffCenter:            c.DiffCenter,
		CostPerByte:           big.NewInt(int64(c.CostPerByte)),
		RetargetBlocks:        c.RetargetBlocks,
		TargetSecondsPerBlock: c.TargetSecondsPerBlock,
		GenesisTokens:         c.GenesisTokens,
	}
}
