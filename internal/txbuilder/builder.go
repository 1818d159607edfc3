package txbuilder

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/stevesarmiento/pipeit/internal/confirm"
	"github.com/stevesarmiento/pipeit/internal/exec"
	"github.com/stevesarmiento/pipeit/internal/rpccap"
	"github.com/stevesarmiento/pipeit/internal/txerr"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// Caps 构建器需要的 RPC 能力集合；各字段可为 nil，对应功能退化或报错
type Caps struct {
	Blockhash rpccap.BlockhashFetcher
	Simulator rpccap.Simulator
	Fees      rpccap.FeeEstimator
}

// Submitter 提交能力（由 exec.Resolver 实现）
type Submitter interface {
	Submit(ctx context.Context, sub exec.Submission) (*exec.ExecutionResult, error)
}

// Confirmer 确认能力（由 confirm.Racer 实现）
type Confirmer interface {
	Confirm(ctx context.Context, req confirm.Request) (*confirm.Result, error)
}

// BackoffKind 重试退避策略
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
)

// DurableNonce 持久 nonce 生命周期：nonce 值充当 blockhash，
// 并在指令列表最前插入 advance-nonce 指令。
type DurableNonce struct {
	Account   solana.PublicKey
	Authority solana.PublicKey
	Value     solana.Hash
}

// Builder 单笔交易的流式构建器。积累指令，配置 fee payer / lifetime /
// 计算预算 / 优先费，然后 Build / Simulate / Export / Execute。
// 非并发安全，单次交易单个实例。
type Builder struct {
	caps      Caps
	submitter Submitter
	confirmer Confirmer
	signer    solana.PrivateKey

	payer  solana.PublicKey
	instrs []solana.Instruction
	tables map[solana.PublicKey]solana.PublicKeySlice

	blockhash       solana.Hash
	lastValidHeight uint64
	lifetimeFetched bool // lifetime 来自自动拉取，重试时需要刷新
	nonce           *DurableNonce

	cuMode   ComputeUnitMode
	cuLimit  uint32
	cuBuffer float64
	priority PriorityLevel

	maxAttempts int
	backoffKind BackoffKind
	backoffBase time.Duration

	confirmTimeout time.Duration
	commitment     rpc.CommitmentType
	sizeLimit      int
}

func New(caps Caps, signer solana.PrivateKey) *Builder {
	return &Builder{
		caps:        caps,
		signer:      signer,
		cuMode:      ComputeUnitAuto,
		cuBuffer:    DefaultSimulateBuffer,
		priority:    PriorityNone,
		maxAttempts: defaultMaxAttempts,
		backoffKind: BackoffExponential,
		backoffBase: defaultBackoffBase,
		commitment:  rpc.CommitmentConfirmed,
		sizeLimit:   MaxTransactionBytes,
	}
}

func (b *Builder) WithSubmitter(s Submitter) *Builder { b.submitter = s; return b }
func (b *Builder) WithConfirmer(c Confirmer) *Builder { b.confirmer = c; return b }

func (b *Builder) SetFeePayer(p solana.PublicKey) *Builder { b.payer = p; return b }

// FeePayer 返回已绑定的 fee payer，未设置时为零值
func (b *Builder) FeePayer() solana.PublicKey { return b.payer }

func (b *Builder) AddInstruction(ixs ...solana.Instruction) *Builder {
	b.instrs = append(b.instrs, ixs...)
	return b
}

func (b *Builder) SetLookupTables(tables map[solana.PublicKey]solana.PublicKeySlice) *Builder {
	b.tables = tables
	return b
}

// SetLifetime 显式指定 blockhash + last-valid height
func (b *Builder) SetLifetime(blockhash solana.Hash, lastValidHeight uint64) *Builder {
	b.blockhash = blockhash
	b.lastValidHeight = lastValidHeight
	b.lifetimeFetched = false
	return b
}

// SetDurableNonce 使用持久 nonce 作为 lifetime（离线签名 / 长时效场景）
func (b *Builder) SetDurableNonce(n DurableNonce) *Builder {
	b.nonce = &n
	return b
}

func (b *Builder) SetComputeUnitMode(m ComputeUnitMode) *Builder { b.cuMode = m; return b }

// SetComputeUnitLimit 显式 CU 上限，隐含 fixed 模式
func (b *Builder) SetComputeUnitLimit(units uint32) *Builder {
	b.cuMode = ComputeUnitFixed
	b.cuLimit = units
	return b
}

func (b *Builder) SetComputeBuffer(f float64) *Builder       { b.cuBuffer = f; return b }
func (b *Builder) SetPriorityLevel(l PriorityLevel) *Builder { b.priority = l; return b }

func (b *Builder) SetRetry(attempts int, kind BackoffKind, base time.Duration) *Builder {
	if attempts > 0 {
		b.maxAttempts = attempts
	}
	if kind != "" {
		b.backoffKind = kind
	}
	if base > 0 {
		b.backoffBase = base
	}
	return b
}

func (b *Builder) SetConfirmTimeout(d time.Duration) *Builder  { b.confirmTimeout = d; return b }
func (b *Builder) SetCommitment(c rpc.CommitmentType) *Builder { b.commitment = c; return b }

// prepared 一次构建尝试的冻结输入：lifetime 已解析、最终指令序已确定
type prepared struct {
	base      BaseMessage
	instrs    []solana.Instruction
	lastValid uint64
	sizeLimit int
}

// prepare 解析 lifetime 并组装最终指令序：
// [advance-nonce?] + [cu limit?] + [cu price?] + 用户指令。
// ALT 表在模拟之前就生效，保证模拟的消息与实际发送一致。
func (b *Builder) prepare(ctx context.Context) (*prepared, error) {
	if b.payer.IsZero() {
		return nil, txerr.ErrMissingFeePayer
	}

	blockhash := b.blockhash
	lastValid := b.lastValidHeight
	var prefix []solana.Instruction

	if b.nonce != nil {
		blockhash = b.nonce.Value
		lastValid = 0 // nonce lifetime 不过期于高度，确认走超时策略
		prefix = append(prefix, system.NewAdvanceNonceAccountInstruction(
			b.nonce.Account,
			solana.SysVarRecentBlockHashesPubkey,
			b.nonce.Authority,
		).Build())
	} else if blockhash == (solana.Hash{}) {
		if b.caps.Blockhash == nil {
			return nil, txerr.ErrMissingLifetime
		}
		out, err := b.caps.Blockhash.GetLatestBlockhash(ctx, b.commitment)
		if err != nil {
			return nil, &txerr.NetworkError{Op: "getLatestBlockhash", Err: err}
		}
		blockhash = out.Value.Blockhash
		lastValid = out.Value.LastValidBlockHeight
		b.lifetimeFetched = true
	}

	base := BaseMessage{Payer: b.payer, Blockhash: blockhash, Tables: b.tables}

	var budgetIxs []solana.Instruction
	switch b.cuMode {
	case ComputeUnitFixed:
		budgetIxs = append(budgetIxs, newComputeUnitLimitIx(b.cuLimit))
	case ComputeUnitSimulate:
		units, err := b.simulateUnits(ctx, base, prefix)
		if err != nil {
			return nil, err
		}
		budgetIxs = append(budgetIxs, newComputeUnitLimitIx(units))
	}
	if b.priority != PriorityNone && b.priority != "" {
		rate := estimatePriorityFee(ctx, b.caps.Fees, b.priority, b.writableAccounts())
		budgetIxs = append(budgetIxs, newComputeUnitPriceIx(rate))
	}

	final := make([]solana.Instruction, 0, len(prefix)+len(budgetIxs)+len(b.instrs))
	final = append(final, prefix...)
	final = append(final, budgetIxs...)
	final = append(final, b.instrs...)

	return &prepared{base: base, instrs: final, lastValid: lastValid, sizeLimit: b.sizeLimit}, nil
}

// simulateUnits 用探针交易（顶格 CU 上限）跑一次预检模拟，取消耗量加 buffer
func (b *Builder) simulateUnits(ctx context.Context, base BaseMessage, prefix []solana.Instruction) (uint32, error) {
	if b.caps.Simulator == nil {
		return MaxComputeUnits, nil
	}
	probeIxs := make([]solana.Instruction, 0, len(prefix)+1+len(b.instrs))
	probeIxs = append(probeIxs, prefix...)
	probeIxs = append(probeIxs, newComputeUnitLimitIx(MaxComputeUnits))
	probeIxs = append(probeIxs, b.instrs...)

	probe, err := buildDraft(base, probeIxs)
	if err != nil {
		return 0, err
	}
	out, err := b.caps.Simulator.SimulateTransactionWithOpts(ctx, probe, &rpc.SimulateTransactionOpts{
		ReplaceRecentBlockhash: true,
		Commitment:             b.commitment,
	})
	if err != nil {
		return 0, &txerr.NetworkError{Op: "simulateTransaction", Err: err}
	}
	if out.Value.Err != nil {
		return 0, &txerr.SimulationError{
			RawErr: out.Value.Err,
			Logs:   out.Value.Logs,
		}
	}
	consumed := uint64(0)
	if out.Value.UnitsConsumed != nil {
		consumed = *out.Value.UnitsConsumed
	}
	if consumed == 0 {
		return MaxComputeUnits, nil
	}
	return bufferedUnits(consumed, b.cuBuffer), nil
}

// writableAccounts 收集用户指令中的可写账户，作为优先费估算的样本键
func (b *Builder) writableAccounts() []solana.PublicKey {
	seen := make(map[solana.PublicKey]bool)
	var out []solana.PublicKey
	for _, ix := range b.instrs {
		for _, meta := range ix.Accounts() {
			if meta.IsWritable && !seen[meta.PublicKey] {
				seen[meta.PublicKey] = true
				out = append(out, meta.PublicKey)
			}
		}
	}
	return out
}

// assemble 构造最终交易并做尺寸校验；extra 追加在末尾（bundle tip 等）
func (p *prepared) assemble(extra ...solana.Instruction) (*solana.Transaction, error) {
	instrs := p.instrs
	if len(extra) > 0 {
		instrs = append(append([]solana.Instruction{}, p.instrs...), extra...)
	}
	tx, err := buildDraft(p.base, instrs)
	if err != nil {
		return nil, err
	}
	size, err := WireSize(tx)
	if err != nil {
		return nil, err
	}
	if size > p.sizeLimit {
		return nil, &txerr.TooLargeError{Size: size, Limit: p.sizeLimit}
	}
	return tx, nil
}

// Build 校验并产出未签名交易，任何网络提交之前失败即报错
func (b *Builder) Build(ctx context.Context) (*solana.Transaction, error) {
	p, err := b.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return p.assemble()
}

func (b *Builder) signTx(tx *solana.Transaction) error {
	if len(b.signer) == 0 {
		return txerr.ErrSignerNotLoaded
	}
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(b.signer.PublicKey()) {
			return &b.signer
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

// SimulationReport 模拟结果：程序日志 + 消耗 CU + 链上错误（如有），不提交
type SimulationReport struct {
	Logs          []string
	UnitsConsumed uint64
	Err           interface{}
}

// Simulate 只跑预检模拟，不提交
func (b *Builder) Simulate(ctx context.Context) (*SimulationReport, error) {
	if b.caps.Simulator == nil {
		return nil, fmt.Errorf("no simulator capability configured")
	}
	tx, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	out, err := b.caps.Simulator.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		ReplaceRecentBlockhash: true,
		Commitment:             b.commitment,
	})
	if err != nil {
		return nil, &txerr.NetworkError{Op: "simulateTransaction", Err: err}
	}
	rep := &SimulationReport{Logs: out.Value.Logs, Err: out.Value.Err}
	if out.Value.UnitsConsumed != nil {
		rep.UnitsConsumed = *out.Value.UnitsConsumed
	}
	return rep, nil
}

// Export 产出已签名的线级字节，不提交（多签 / 离线流程使用）
func (b *Builder) Export(ctx context.Context) ([]byte, error) {
	tx, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.signTx(tx); err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return raw, nil
}

// ExecuteResult 一次成功执行的落地信息
type ExecuteResult struct {
	Exec     *exec.ExecutionResult
	Confirm  *confirm.Result
	Attempts int
}

// Execute 签名、提交、确认，整个 submit+confirm 周期对瞬时错误（网络抖动、
// blockhash 过期）按配置的退避策略整体重试；结构性错误立即终止。
func (b *Builder) Execute(ctx context.Context) (*ExecuteResult, error) {
	if b.submitter == nil || b.confirmer == nil {
		return nil, fmt.Errorf("builder not wired with submitter/confirmer")
	}

	var result *ExecuteResult
	attempts := 0

	op := func() error {
		attempts++
		if attempts > 1 && b.lifetimeFetched {
			// 上一轮的 blockhash 可能已失效，重试前清掉让 prepare 重新拉取
			b.blockhash = solana.Hash{}
			b.lastValidHeight = 0
		}

		p, err := b.prepare(ctx)
		if err != nil {
			return retryOrPermanent(err)
		}
		tx, err := p.assemble()
		if err != nil {
			return backoff.Permanent(err) // 尺寸/结构错误重试无意义
		}
		if err := b.signTx(tx); err != nil {
			return backoff.Permanent(err)
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to serialize transaction: %w", err))
		}

		sub := exec.Submission{
			Raw:       raw,
			Signature: tx.Signatures[0],
			RebuildWithTip: func(ctx context.Context, tip uint64, tipAccount solana.PublicKey) ([]byte, solana.Signature, error) {
				tipIx := system.NewTransferInstruction(tip, b.payer, tipAccount).Build()
				tipTx, err := p.assemble(tipIx)
				if err != nil {
					return nil, solana.Signature{}, err
				}
				if err := b.signTx(tipTx); err != nil {
					return nil, solana.Signature{}, err
				}
				tipRaw, err := tipTx.MarshalBinary()
				if err != nil {
					return nil, solana.Signature{}, err
				}
				return tipRaw, tipTx.Signatures[0], nil
			},
		}

		execRes, err := b.submitter.Submit(ctx, sub)
		if err != nil {
			return retryOrPermanent(err)
		}

		confRes, err := b.confirmer.Confirm(ctx, confirm.Request{
			Signature:       execRes.Signature,
			LastValidHeight: p.lastValid,
			Timeout:         b.confirmTimeout,
			Commitment:      b.commitment,
		})
		if err != nil {
			return retryOrPermanent(err)
		}

		switch confRes.Reason {
		case confirm.ReasonConfirmed:
			result = &ExecuteResult{Exec: execRes, Confirm: confRes, Attempts: attempts}
			return nil
		case confirm.ReasonBlockHeightExceeded:
			logger.Warnf("[txbuilder] signature %s expired, retrying with fresh blockhash", confRes.Signature)
			return confRes.Err // ExpiredError，可重试
		case confirm.ReasonTimeout:
			return &txerr.NetworkError{Op: "confirm", Err: fmt.Errorf("confirmation timed out for %s", confRes.Signature)}
		default:
			return backoff.Permanent(confRes.Err)
		}
	}

	if err := backoff.Retry(op, b.newBackoff(ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// retryOrPermanent 瞬时错误原样返回（触发重试），其余标记为永久错误
func retryOrPermanent(err error) error {
	if txerr.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

func (b *Builder) newBackoff(ctx context.Context) backoff.BackOffContext {
	var bo backoff.BackOff
	if b.backoffKind == BackoffLinear {
		bo = backoff.NewConstantBackOff(b.backoffBase)
	} else {
		e := backoff.NewExponentialBackOff()
		e.InitialInterval = b.backoffBase
		e.MaxElapsedTime = 0 // 轮次由 WithMaxRetries 控制
		bo = e
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(b.maxAttempts-1)), ctx)
}
