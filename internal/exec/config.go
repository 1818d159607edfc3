package exec

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Preset 预设投递策略，展开为固定的 ResolvedExecutionConfig
type Preset string

const (
	PresetStandard   Preset = "standard"   // 仅默认 RPC
	PresetEconomical Preset = "economical" // RPC + 最低档 tip 的 bundle
	PresetFast       Preset = "fast"       // RPC + bundle + 并行广播
	PresetUltra      Preset = "ultra"      // 全路径 + 高额 tip + leader 直连
)

// Jito 主网 block engine 的 8 个官方 tip 账户，随机选取避免单账户热点
var defaultTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

const (
	defaultBlockEngineURL  = "https://mainnet.block-engine.jito.wtf/api/v1/bundles"
	minTipLamports         = 1_000
	defaultPollIntervalMs  = 500
	defaultBundleTimeoutMs = 30_000
	defaultLeaderFanout    = 2
	economicalTipLamports  = minTipLamports
	fastTipLamports        = 100_000
	ultraTipLamports       = 1_000_000
	ultraLeaderFanout      = 4
)

// JitoConfig bundle relay 路径的部分配置，零值字段由 Resolve 填默认
type JitoConfig struct {
	Enable         bool
	TipLamports    uint64
	BlockEngineURL string
	TipAccounts    []string // 覆盖默认 tip 账户集（base58）
	PollIntervalMs int
	TimeoutMs      int
}

// ParallelConfig 并行广播路径配置
type ParallelConfig struct {
	Enable         bool
	Endpoints      []string // 额外的 JSON-RPC 端点
	RaceDefaultRPC bool     // 是否把调用方默认 RPC 也加入竞速
}

// LeaderConfig leader 直连路径配置
type LeaderConfig struct {
	Enable bool
	Fanout int // 同时投递的 leader 数
}

// ExecutionConfig 声明式投递配置：preset 先展开为基线，显式字段再覆盖
type ExecutionConfig struct {
	Preset     Preset
	DisableRPC bool // 显式关闭默认 RPC 路径
	Jito       *JitoConfig
	Parallel   *ParallelConfig
	Leader     *LeaderConfig
}

// ResolvedJitoConfig 补全默认后的 bundle 路径配置
type ResolvedJitoConfig struct {
	Enable         bool
	TipLamports    uint64
	BlockEngineURL string
	TipAccount     solana.PublicKey // 已随机选定的 tip 账户
	PollInterval   time.Duration
	Timeout        time.Duration
}

// ResolvedParallelConfig 补全默认后的并行广播配置
type ResolvedParallelConfig struct {
	Enable         bool
	Endpoints      []string
	RaceDefaultRPC bool
}

// ResolvedLeaderConfig 补全默认后的 leader 直连配置
type ResolvedLeaderConfig struct {
	Enable bool
	Fanout int
}

// ResolvedExecutionConfig 完全展开的投递配置，提交时直接消费
type ResolvedExecutionConfig struct {
	UseRPC   bool
	Jito     ResolvedJitoConfig
	Parallel ResolvedParallelConfig
	Leader   ResolvedLeaderConfig
}

// Resolve 把 preset / 部分配置展开为完整配置并填默认值
func (c ExecutionConfig) Resolve() (*ResolvedExecutionConfig, error) {
	base := presetBaseline(c.Preset)

	// 显式字段覆盖 preset 基线
	if c.DisableRPC {
		base.UseRPC = false
	}
	if c.Jito != nil {
		base.jito = *c.Jito
	}
	if c.Parallel != nil {
		base.parallel = *c.Parallel
	}
	if c.Leader != nil {
		base.leader = *c.Leader
	}

	out := &ResolvedExecutionConfig{UseRPC: base.UseRPC}

	if base.jito.Enable {
		tipAccounts := base.jito.TipAccounts
		if len(tipAccounts) == 0 {
			tipAccounts = defaultTipAccounts
		}
		tip, err := pickTipAccount(tipAccounts)
		if err != nil {
			return nil, err
		}
		tipLamports := base.jito.TipLamports
		if tipLamports < minTipLamports {
			tipLamports = minTipLamports
		}
		url := base.jito.BlockEngineURL
		if url == "" {
			url = defaultBlockEngineURL
		}
		pollMs := base.jito.PollIntervalMs
		if pollMs <= 0 {
			pollMs = defaultPollIntervalMs
		}
		timeoutMs := base.jito.TimeoutMs
		if timeoutMs <= 0 {
			timeoutMs = defaultBundleTimeoutMs
		}
		out.Jito = ResolvedJitoConfig{
			Enable:         true,
			TipLamports:    tipLamports,
			BlockEngineURL: url,
			TipAccount:     tip,
			PollInterval:   time.Duration(pollMs) * time.Millisecond,
			Timeout:        time.Duration(timeoutMs) * time.Millisecond,
		}
	}

	if base.parallel.Enable && (len(base.parallel.Endpoints) > 0 || base.parallel.RaceDefaultRPC) {
		out.Parallel = ResolvedParallelConfig{
			Enable:         true,
			Endpoints:      base.parallel.Endpoints,
			RaceDefaultRPC: base.parallel.RaceDefaultRPC,
		}
	}

	if base.leader.Enable {
		fanout := base.leader.Fanout
		if fanout <= 0 {
			fanout = defaultLeaderFanout
		}
		out.Leader = ResolvedLeaderConfig{Enable: true, Fanout: fanout}
	}

	return out, nil
}

type baseline struct {
	UseRPC   bool
	jito     JitoConfig
	parallel ParallelConfig
	leader   LeaderConfig
}

func presetBaseline(p Preset) baseline {
	switch p {
	case PresetEconomical:
		return baseline{
			UseRPC: true,
			jito:   JitoConfig{Enable: true, TipLamports: economicalTipLamports},
		}
	case PresetFast:
		return baseline{
			UseRPC:   true,
			jito:     JitoConfig{Enable: true, TipLamports: fastTipLamports},
			parallel: ParallelConfig{Enable: true, RaceDefaultRPC: true},
		}
	case PresetUltra:
		return baseline{
			UseRPC:   true,
			jito:     JitoConfig{Enable: true, TipLamports: ultraTipLamports},
			parallel: ParallelConfig{Enable: true, RaceDefaultRPC: true},
			leader:   LeaderConfig{Enable: true, Fanout: ultraLeaderFanout},
		}
	default: // standard 或未指定
		return baseline{UseRPC: true}
	}
}

// pickTipAccount 校验并伪随机选取一个 tip 账户
func pickTipAccount(accounts []string) (solana.PublicKey, error) {
	picked := accounts[rand.Intn(len(accounts))]
	data, err := base58.Decode(picked)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid tip account %q: %w", picked, err)
	}
	if len(data) != 32 {
		return solana.PublicKey{}, fmt.Errorf("invalid tip account length: got %d, want 32, input=%q", len(data), picked)
	}
	var pk solana.PublicKey
	copy(pk[:], data)
	return pk, nil
}
