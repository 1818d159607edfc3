// Package rpccap 按操作拆分 RPC 能力接口：每个组件只声明自己真正用到的能力，
// *rpc.Client / *ws.Client 直接或经薄适配满足这些接口，测试侧用假实现替换。
package rpccap

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// BlockhashFetcher 拉取最新 blockhash + last-valid height
type BlockhashFetcher interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// TxSender 以 SDK 交易对象形式提交
type TxSender interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// RawTxSender 以已签名原始字节形式提交（并行广播路径逐端点使用）
type RawTxSender interface {
	SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Simulator 预检模拟
type Simulator interface {
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
}

// StatusFetcher 查询签名确认状态
type StatusFetcher interface {
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// EpochFetcher 查询 epoch 信息（slot / blockHeight），过期监视器使用
type EpochFetcher interface {
	GetEpochInfo(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetEpochInfoResult, error)
}

// FeeEstimator 查询近期优先费样本
type FeeEstimator interface {
	GetRecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error)
}

// SignatureSubscription 一条签名订阅的最小生命周期：收一次通知 + 释放
type SignatureSubscription interface {
	Recv(ctx context.Context) (*ws.SignatureResult, error)
	Unsubscribe()
}

// SignatureSubscriber 建立签名确认推送订阅
type SignatureSubscriber interface {
	SignatureSubscribe(sig solana.Signature, commitment rpc.CommitmentType) (SignatureSubscription, error)
}

// SlotSubscription slot 推送订阅
type SlotSubscription interface {
	Recv(ctx context.Context) (*ws.SlotResult, error)
	Unsubscribe()
}

// SlotSubscriber 建立 slot 推送订阅
type SlotSubscriber interface {
	SlotSubscribe() (SlotSubscription, error)
}

// WSAdapter 把 *ws.Client 适配成能力接口（具体返回类型 → 接口返回类型）
type WSAdapter struct {
	Client *ws.Client
}

func (a WSAdapter) SignatureSubscribe(sig solana.Signature, commitment rpc.CommitmentType) (SignatureSubscription, error) {
	return a.Client.SignatureSubscribe(sig, commitment)
}

func (a WSAdapter) SlotSubscribe() (SlotSubscription, error) {
	return a.Client.SlotSubscribe()
}
