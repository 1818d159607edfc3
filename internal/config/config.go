package config

import (
	"time"

	"github.com/stevesarmiento/pipeit/internal/exec"
	"github.com/stevesarmiento/pipeit/internal/txbuilder"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// LogConfig 日志配置
type LogConfig struct {
	Format   string `yaml:"format"`   // 日志格式，支持 "console" 或 "json"
	LogDir   string `yaml:"log_dir"`  // 日志目录（可为相对路径或绝对路径）
	Level    string `yaml:"level"`    // 日志级别：debug / info / warn / error
	Compress bool   `yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// RPCConfig 默认 RPC 节点配置
type RPCConfig struct {
	Endpoint   string `yaml:"endpoint"`    // JSON-RPC 地址
	WsEndpoint string `yaml:"ws_endpoint"` // websocket 推送地址，可为空（退化为纯轮询）
	Commitment string `yaml:"commitment"`  // processed / confirmed / finalized
}

// WalletConfig 签名者配置
type WalletConfig struct {
	PrivateKey string `yaml:"private_key"` // base58 编码私钥
}

// JitoConfig bundle relay 路径配置
type JitoConfig struct {
	Enable         bool     `yaml:"enable"`
	TipLamports    uint64   `yaml:"tip_lamports"`     // tip 金额（lamports），低于最小值时抬到最小值
	BlockEngineURL string   `yaml:"block_engine_url"` // 为空时使用主网默认
	TipAccounts    []string `yaml:"tip_accounts"`     // 覆盖默认 tip 账户集
	PollIntervalMs int      `yaml:"poll_interval_ms"` // bundle 状态轮询间隔
	TimeoutMs      int      `yaml:"timeout_ms"`       // bundle 落地等待上限
}

// ParallelConfig 并行广播路径配置
type ParallelConfig struct {
	Enable         bool     `yaml:"enable"`
	Endpoints      []string `yaml:"endpoints"`        // 额外广播端点
	RaceDefaultRPC bool     `yaml:"race_default_rpc"` // 默认 RPC 是否加入竞速
}

// LeaderConfig leader 直连路径配置
type LeaderConfig struct {
	Enable bool `yaml:"enable"`
	Fanout int  `yaml:"fanout"` // 同时投递的 leader 数
}

// ExecutionConfig 投递策略配置；preset 与显式段可共存，显式段覆盖 preset
type ExecutionConfig struct {
	Preset     string          `yaml:"preset"` // standard / economical / fast / ultra
	DisableRPC bool            `yaml:"disable_rpc"`
	Jito       *JitoConfig     `yaml:"jito"`
	Parallel   *ParallelConfig `yaml:"parallel"`
	Leader     *LeaderConfig   `yaml:"leader"`
}

func (c *ExecutionConfig) ToExecutionConfig() exec.ExecutionConfig {
	out := exec.ExecutionConfig{
		Preset:     exec.Preset(c.Preset),
		DisableRPC: c.DisableRPC,
	}
	if c.Jito != nil {
		out.Jito = &exec.JitoConfig{
			Enable:         c.Jito.Enable,
			TipLamports:    c.Jito.TipLamports,
			BlockEngineURL: c.Jito.BlockEngineURL,
			TipAccounts:    c.Jito.TipAccounts,
			PollIntervalMs: c.Jito.PollIntervalMs,
			TimeoutMs:      c.Jito.TimeoutMs,
		}
	}
	if c.Parallel != nil {
		out.Parallel = &exec.ParallelConfig{
			Enable:         c.Parallel.Enable,
			Endpoints:      c.Parallel.Endpoints,
			RaceDefaultRPC: c.Parallel.RaceDefaultRPC,
		}
	}
	if c.Leader != nil {
		out.Leader = &exec.LeaderConfig{
			Enable: c.Leader.Enable,
			Fanout: c.Leader.Fanout,
		}
	}
	return out
}

// RetryConfig 构建器 submit+confirm 周期的重试配置
type RetryConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`     // 整周期最大尝试次数
	Backoff        string `yaml:"backoff"`          // linear / exponential
	BaseIntervalMs int    `yaml:"base_interval_ms"` // 退避基础间隔
}

func (c *RetryConfig) Kind() txbuilder.BackoffKind {
	if c.Backoff == string(txbuilder.BackoffLinear) {
		return txbuilder.BackoffLinear
	}
	return txbuilder.BackoffExponential
}

func (c *RetryConfig) BaseInterval() time.Duration {
	if c.BaseIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.BaseIntervalMs) * time.Millisecond
}

// ConfirmConfig 确认竞速配置
type ConfirmConfig struct {
	TimeoutSec          int `yaml:"timeout_sec"`            // 无 last-valid height 时的壁钟超时
	StatusPollIntervalS int `yaml:"status_poll_interval_s"` // 状态轮询兜底间隔
	EpochPollIntervalS  int `yaml:"epoch_poll_interval_s"`  // 过期监视的 epoch 轮询间隔
}

// EngineConfig 主配置结构体，驱动整个提交引擎
type EngineConfig struct {
	LogConf   LogConfig       `yaml:"logger"`
	RPC       RPCConfig       `yaml:"rpc"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Execution ExecutionConfig `yaml:"execution"`
	Retry     RetryConfig     `yaml:"retry"`
	Confirm   ConfirmConfig   `yaml:"confirm"`
}
