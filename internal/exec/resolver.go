package exec

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/stevesarmiento/pipeit/internal/rpccap"
	"github.com/stevesarmiento/pipeit/internal/txerr"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// PathKind 投递路径标识
type PathKind string

const (
	PathRPC      PathKind = "rpc"
	PathJito     PathKind = "jito"
	PathParallel PathKind = "parallel"
	PathLeader   PathKind = "leader"
)

// Submission 一次提交的输入：已签名原始字节 + 签名，
// RebuildWithTip 由构建方提供，bundle 路径用它追加 tip 指令后重签。
type Submission struct {
	Raw       []byte
	Signature solana.Signature

	RebuildWithTip func(ctx context.Context, tipLamports uint64, tipAccount solana.PublicKey) (raw []byte, sig solana.Signature, err error)
}

// ExecutionResult 单次提交的结果，胜出路径写入 LandedVia，之后不再变更
type ExecutionResult struct {
	Signature   solana.Signature
	LandedVia   PathKind
	LatencyMs   int64
	BundleID    string // jito 路径
	Endpoint    string // parallel 路径的胜出端点
	LeaderCount int    // leader 路径
}

// Resolver 按已解析配置把一次提交分发到一条或多条投递路径并竞速
type Resolver struct {
	cfg        *ResolvedExecutionConfig
	defaultRPC rpccap.RawTxSender
	parallel   []endpointClient
	jito       *JitoClient
	leader     LeaderSender
}

// NewResolver leader 句柄可为 nil（未启用 leader 路径时）
func NewResolver(cfg *ResolvedExecutionConfig, defaultRPC rpccap.RawTxSender, leader LeaderSender) *Resolver {
	r := &Resolver{cfg: cfg, defaultRPC: defaultRPC, leader: leader}
	if cfg.Parallel.Enable {
		r.parallel = newEndpointClients(cfg.Parallel.Endpoints)
		if cfg.Parallel.RaceDefaultRPC && defaultRPC != nil {
			r.parallel = append(r.parallel, endpointClient{name: "default", sender: defaultRPC})
		}
	}
	if cfg.Jito.Enable {
		r.jito = NewJitoClient(cfg.Jito)
	}
	return r
}

type pathOutcome struct {
	path PathKind
	res  *ExecutionResult
	err  error
}

// Submit 并发竞速所有启用的路径，第一条报告落地签名的路径胜出。
// 胜出后落后路径被放弃而非取消：已广播的交易可能仍然上链。
func (r *Resolver) Submit(ctx context.Context, sub Submission) (*ExecutionResult, error) {
	type pathFn struct {
		kind PathKind
		run  func(context.Context) (*ExecutionResult, error)
	}

	var paths []pathFn
	if r.cfg.UseRPC && r.defaultRPC != nil {
		paths = append(paths, pathFn{PathRPC, func(ctx context.Context) (*ExecutionResult, error) {
			return r.submitRPC(ctx, sub)
		}})
	}
	if r.cfg.Jito.Enable && r.jito != nil {
		paths = append(paths, pathFn{PathJito, func(ctx context.Context) (*ExecutionResult, error) {
			return r.submitJito(ctx, sub)
		}})
	}
	if r.cfg.Parallel.Enable && len(r.parallel) > 0 {
		paths = append(paths, pathFn{PathParallel, func(ctx context.Context) (*ExecutionResult, error) {
			return r.submitParallel(ctx, sub)
		}})
	}
	if r.cfg.Leader.Enable && r.leader != nil {
		paths = append(paths, pathFn{PathLeader, func(ctx context.Context) (*ExecutionResult, error) {
			return r.submitLeader(ctx, sub)
		}})
	}
	if len(paths) == 0 {
		return nil, txerr.ErrNoPathEnabled
	}

	outcomes := make(chan pathOutcome, len(paths))
	for _, p := range paths {
		p := p
		go func() {
			res, err := p.run(ctx)
			outcomes <- pathOutcome{path: p.kind, res: res, err: err}
		}()
	}

	pathErrors := make(map[string]error, len(paths))
	for i := 0; i < len(paths); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case o := <-outcomes:
			if o.err == nil {
				logger.Infof("[exec] path %s landed signature %s in %dms", o.path, o.res.Signature, o.res.LatencyMs)
				return o.res, nil
			}
			logger.Warnf("[exec] path %s failed: %v", o.path, o.err)
			pathErrors[string(o.path)] = o.err
		}
	}

	return nil, &txerr.ExecutionStrategyError{PathErrors: pathErrors}
}

func (r *Resolver) submitRPC(ctx context.Context, sub Submission) (*ExecutionResult, error) {
	start := time.Now()
	sig, err := r.defaultRPC.SendRawTransactionWithOpts(ctx, sub.Raw, rpc.TransactionOpts{
		SkipPreflight: true,
	})
	if err != nil {
		return nil, &txerr.NetworkError{Op: "sendTransaction", Err: err}
	}
	return &ExecutionResult{
		Signature: sig,
		LandedVia: PathRPC,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (r *Resolver) submitJito(ctx context.Context, sub Submission) (*ExecutionResult, error) {
	if sub.RebuildWithTip == nil {
		return nil, &txerr.BundleRelayError{Status: "unsupported", Message: "submission cannot rebuild with tip instruction"}
	}
	start := time.Now()

	raw, sig, err := sub.RebuildWithTip(ctx, r.cfg.Jito.TipLamports, r.cfg.Jito.TipAccount)
	if err != nil {
		return nil, err
	}
	bundleID, err := r.jito.SendBundle(ctx, [][]byte{raw})
	if err != nil {
		return nil, err
	}
	if err := r.jito.WaitBundle(ctx, bundleID); err != nil {
		return nil, err
	}
	return &ExecutionResult{
		Signature: sig,
		LandedVia: PathJito,
		LatencyMs: time.Since(start).Milliseconds(),
		BundleID:  bundleID,
	}, nil
}

func (r *Resolver) submitParallel(ctx context.Context, sub Submission) (*ExecutionResult, error) {
	start := time.Now()
	sig, endpoint, err := raceSubmit(ctx, r.parallel, sub.Raw)
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{
		Signature: sig,
		LandedVia: PathParallel,
		LatencyMs: time.Since(start).Milliseconds(),
		Endpoint:  endpoint,
	}, nil
}

func (r *Resolver) submitLeader(ctx context.Context, sub Submission) (*ExecutionResult, error) {
	if err := r.leader.WaitReady(ctx); err != nil {
		return nil, txerr.ErrLeaderNotReady
	}
	start := time.Now()
	rep, err := r.leader.SendTransaction(ctx, sub.Raw, r.cfg.Leader.Fanout)
	if err != nil {
		return nil, &txerr.NetworkError{Op: "leader sendTransaction", Err: err}
	}
	if err := classifyLeaderReport(rep); err != nil {
		return nil, err
	}
	return &ExecutionResult{
		Signature:   sub.Signature,
		LandedVia:   PathLeader,
		LatencyMs:   time.Since(start).Milliseconds(),
		LeaderCount: rep.LeaderCount,
	}, nil
}
