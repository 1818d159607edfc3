package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"github.com/stevesarmiento/pipeit/internal/config"
	"github.com/stevesarmiento/pipeit/internal/confirm"
	"github.com/stevesarmiento/pipeit/internal/exec"
	"github.com/stevesarmiento/pipeit/internal/flow"
	"github.com/stevesarmiento/pipeit/internal/rpccap"
	"github.com/stevesarmiento/pipeit/internal/txbuilder"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// ServiceContext 提交引擎的共享资源：RPC / websocket 客户端、签名者、
// 投递解析器与确认竞速器。leader 直连句柄由宿主创建并按引用传入，
// 其生命周期（WaitReady / Shutdown）归宿主所有。
type ServiceContext struct {
	Config    config.EngineConfig
	RpcClient *rpc.Client
	WsClient  *ws.Client // 可为 nil，确认退化为纯轮询
	Signer    solana.PrivateKey
	Leader    exec.LeaderSender // 可为 nil
	Resolver  *exec.Resolver
	Racer     *confirm.Racer
}

// NewServiceContext 创建一个新的服务上下文
func NewServiceContext(c config.EngineConfig, leader exec.LeaderSender) (*ServiceContext, error) {
	// 1. 解析签名者
	signer, err := solana.PrivateKeyFromBase58(c.Wallet.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse wallet private key: %w", err)
	}

	// 2. 默认 RPC 客户端
	if c.RPC.Endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint not configured")
	}
	rpcClient := rpc.New(c.RPC.Endpoint)

	// 3. websocket 客户端（可选）
	var wsClient *ws.Client
	if c.RPC.WsEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		wsClient, err = ws.Connect(ctx, c.RPC.WsEndpoint)
		if err != nil {
			logger.Warnf("websocket connect failed, confirmation falls back to polling: %v", err)
			wsClient = nil
		}
	}

	// 4. 展开投递配置并构建解析器
	resolved, err := c.Execution.ToExecutionConfig().Resolve()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve execution config: %w", err)
	}
	resolver := exec.NewResolver(resolved, rpcClient, leader)

	// 5. 确认竞速器
	racer := &confirm.Racer{
		Status: rpcClient,
		Epoch:  rpcClient,
	}
	if wsClient != nil {
		adapter := rpccap.WSAdapter{Client: wsClient}
		racer.Sigs = adapter
		racer.Slots = adapter
	}
	if c.Confirm.StatusPollIntervalS > 0 {
		racer.StatusPollInterval = time.Duration(c.Confirm.StatusPollIntervalS) * time.Second
	}
	if c.Confirm.EpochPollIntervalS > 0 {
		racer.EpochPollInterval = time.Duration(c.Confirm.EpochPollIntervalS) * time.Second
	}

	sc := &ServiceContext{
		Config:    c,
		RpcClient: rpcClient,
		WsClient:  wsClient,
		Signer:    signer,
		Leader:    leader,
		Resolver:  resolver,
		Racer:     racer,
	}
	logger.Infof("service context initialized: signer=%s endpoint=%s", signer.PublicKey(), c.RPC.Endpoint)
	return sc, nil
}

// Commitment 配置的承诺级别，默认 confirmed
func (sc *ServiceContext) Commitment() rpc.CommitmentType {
	switch sc.Config.RPC.Commitment {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// NewBuilder 产出已接线的单笔交易构建器
func (sc *ServiceContext) NewBuilder() *txbuilder.Builder {
	b := txbuilder.New(txbuilder.Caps{
		Blockhash: sc.RpcClient,
		Simulator: sc.RpcClient,
		Fees:      sc.RpcClient,
	}, sc.Signer).
		SetFeePayer(sc.Signer.PublicKey()).
		SetCommitment(sc.Commitment()).
		WithSubmitter(sc.Resolver).
		WithConfirmer(sc.Racer)

	b.SetRetry(sc.Config.Retry.MaxAttempts, sc.Config.Retry.Kind(), sc.Config.Retry.BaseInterval())
	if sc.Config.Confirm.TimeoutSec > 0 {
		b.SetConfirmTimeout(time.Duration(sc.Config.Confirm.TimeoutSec) * time.Second)
	}
	return b
}

// NewFlow 产出已接线的步骤编排器
func (sc *ServiceContext) NewFlow(name string) *flow.Flow {
	executor := flow.NewBuilderExecutor(func() *txbuilder.Builder { return sc.NewBuilder() })
	return flow.New(name, executor, flow.NewStepContext(sc.Signer.PublicKey()))
}

// ExecutePlan 消费外部指令计划树
func (sc *ServiceContext) ExecutePlan(ctx context.Context, root *flow.PlanNode, strategy flow.Strategy) (map[string]*flow.StepResult, error) {
	executor := flow.NewBuilderExecutor(func() *txbuilder.Builder { return sc.NewBuilder() })
	return flow.ExecutePlan(ctx, executor, flow.NewStepContext(sc.Signer.PublicKey()), root, strategy)
}

// Close 关闭服务上下文中的资源；leader 句柄由宿主自行 Shutdown
func (sc *ServiceContext) Close() {
	if sc.WsClient != nil {
		sc.WsClient.Close()
	}
}
