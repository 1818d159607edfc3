package flow

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/stevesarmiento/pipeit/internal/txbuilder"
	"github.com/stevesarmiento/pipeit/internal/txerr"
)

// builderExecutor 生产实现：每个批次用一个全新的预配置构建器走
// build → sign → submit → confirm 全流程
type builderExecutor struct {
	newBuilder func() *txbuilder.Builder
}

// NewBuilderExecutor newBuilder 必须返回已绑定 signer / fee payer /
// RPC 能力 / submitter / confirmer 的构建器
func NewBuilderExecutor(newBuilder func() *txbuilder.Builder) BatchExecutor {
	return &builderExecutor{newBuilder: newBuilder}
}

// planReserve 预留给构建器后续前置的计算预算 / 优先费指令的字节数
const planReserve = 96

// PlanBatches 提交前按序列化尺寸预切批。测量时不带 blockhash 和 ALT 表：
// blockhash 定长不影响结果，不带表的测量只会偏保守（压缩永不增大）。
func (e *builderExecutor) PlanBatches(instrs []solana.Instruction) ([][]solana.Instruction, error) {
	b := e.newBuilder()
	base := txbuilder.BaseMessage{Payer: b.FeePayer()}
	return txbuilder.PackAll(base, instrs, txbuilder.PackOptions{Reserve: planReserve})
}

func (e *builderExecutor) ExecuteBatch(ctx context.Context, instrs []solana.Instruction, opts BatchOptions) BatchOutcome {
	b := e.newBuilder()
	b.AddInstruction(instrs...)
	if opts.ComputeUnitLimit > 0 {
		b.SetComputeUnitLimit(opts.ComputeUnitLimit)
	}
	if len(opts.Tables) > 0 {
		b.SetLookupTables(opts.Tables)
	}

	res, err := b.Execute(ctx)
	if err != nil {
		if txerr.IsTooLarge(err) {
			return BatchOutcome{Status: FlushSizeExceeded, Err: err}
		}
		return BatchOutcome{Status: FlushFailed, Err: err}
	}
	return BatchOutcome{Status: FlushOK, Signature: res.Confirm.Signature}
}
