package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/stevesarmiento/pipeit/internal/txerr"
)

var flowProgram = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

func ix(tag byte) solana.Instruction {
	return solana.NewInstruction(flowProgram, solana.AccountMetaSlice{}, []byte{tag})
}

func constFactory(tag byte) InstructionFactory {
	return func(context.Context, *StepContext) (solana.Instruction, error) {
		return ix(tag), nil
	}
}

// batchAttempt 一次 ExecuteBatch 调用的快照
type batchAttempt struct {
	size int
	opts BatchOptions
}

// fakeExecutor 以指令条数模拟线级尺寸上限
type fakeExecutor struct {
	maxPerTx int   // >0 时超过该条数判尺寸超限
	failWith error // 非空时所有批次都以该错误失败
	attempts []batchAttempt
	seq      int
}

func (e *fakeExecutor) ExecuteBatch(ctx context.Context, instrs []solana.Instruction, opts BatchOptions) BatchOutcome {
	e.attempts = append(e.attempts, batchAttempt{size: len(instrs), opts: opts})
	if e.failWith != nil {
		return BatchOutcome{Status: FlushFailed, Err: e.failWith}
	}
	if e.maxPerTx > 0 && len(instrs) > e.maxPerTx {
		return BatchOutcome{
			Status: FlushSizeExceeded,
			Err:    &txerr.TooLargeError{Size: 1300, Limit: 1232},
		}
	}
	e.seq++
	return BatchOutcome{Status: FlushOK, Signature: fmt.Sprintf("sig-%d", e.seq)}
}

func newTestFlow(name string, e *fakeExecutor) *Flow {
	return New(name, e, NewStepContext(solana.PublicKey{}))
}

func TestBatchStrategyMergesAdjacentSteps(t *testing.T) {
	e := &fakeExecutor{}
	f := newTestFlow("swap", e).
		Step("transfer-1", constFactory(1)).
		Step("transfer-2", constFactory(2)).
		Step("jito-tip", constFactory(3))

	results, err := f.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, e.attempts, 1)
	require.Equal(t, 3, e.attempts[0].size)

	// 三个步骤共享同一签名，指令序号按声明顺序
	require.Len(t, results, 3)
	require.Equal(t, "sig-1", results["transfer-1"].Signature)
	require.Equal(t, "sig-1", results["transfer-2"].Signature)
	require.Equal(t, "sig-1", results["jito-tip"].Signature)
	require.Equal(t, 0, results["transfer-1"].InstructionIndex)
	require.Equal(t, 1, results["transfer-2"].InstructionIndex)
	require.Equal(t, 2, results["jito-tip"].InstructionIndex)
}

func TestSequentialStrategyOneTxPerStep(t *testing.T) {
	e := &fakeExecutor{}
	f := newTestFlow("seq", e).
		WithStrategy(StrategySequential).
		Step("a", constFactory(1)).
		Step("b", constFactory(2)).
		Step("c", constFactory(3))

	results, err := f.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, e.attempts, 3)
	for _, a := range e.attempts {
		require.Equal(t, 1, a.size)
	}
	require.Len(t, results, 3)
	require.NotEqual(t, results["a"].Signature, results["b"].Signature)
	require.Equal(t, 0, results["a"].InstructionIndex)
	require.Equal(t, 0, results["b"].InstructionIndex)
}

// plannerExecutor 具备预切批能力的执行器：按 maxPerTx 条数分块
type plannerExecutor struct {
	fakeExecutor
	planErr   error
	planCalls int
}

func (e *plannerExecutor) PlanBatches(instrs []solana.Instruction) ([][]solana.Instruction, error) {
	e.planCalls++
	if e.planErr != nil {
		return nil, e.planErr
	}
	var chunks [][]solana.Instruction
	for len(instrs) > 0 {
		n := e.maxPerTx
		if n <= 0 || n > len(instrs) {
			n = len(instrs)
		}
		chunks = append(chunks, instrs[:n])
		instrs = instrs[n:]
	}
	return chunks, nil
}

func TestBatchStrategyPreSizesWithPlanner(t *testing.T) {
	e := &plannerExecutor{fakeExecutor: fakeExecutor{maxPerTx: 2}}
	f := New("planned", e, NewStepContext(solana.PublicKey{}))
	for i := 0; i < 5; i++ {
		f.Step(fmt.Sprintf("s%d", i), constFactory(byte(i)))
	}

	results, err := f.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, e.planCalls)

	// 预切后直接按 [2,2,1] 落盘，没有任何超限再二分的尝试
	var sizes []int
	for _, a := range e.attempts {
		sizes = append(sizes, a.size)
	}
	require.Equal(t, []int{2, 2, 1}, sizes)

	require.Len(t, results, 5)
	require.Equal(t, results["s0"].Signature, results["s1"].Signature)
	require.NotEqual(t, results["s1"].Signature, results["s2"].Signature)
	require.Equal(t, 0, results["s2"].InstructionIndex)
	require.Equal(t, 1, results["s3"].InstructionIndex)
}

func TestBatchStrategyFallsBackWhenPlannerFails(t *testing.T) {
	e := &plannerExecutor{
		fakeExecutor: fakeExecutor{maxPerTx: 2},
		planErr:      errors.New("measurement unavailable"),
	}
	f := New("planned-fallback", e, NewStepContext(solana.PublicKey{}))
	for i := 0; i < 5; i++ {
		f.Step(fmt.Sprintf("s%d", i), constFactory(byte(i)))
	}

	results, err := f.Execute(context.Background())
	require.NoError(t, err)

	// 预切失败退回整批提交 + 二分兜底
	var sizes []int
	for _, a := range e.attempts {
		sizes = append(sizes, a.size)
	}
	require.Equal(t, []int{5, 2, 3, 1, 2}, sizes)
	require.Len(t, results, 5)
}

func TestBatchStrategyBisectsOnSizeLimit(t *testing.T) {
	e := &fakeExecutor{maxPerTx: 2}
	f := newTestFlow("big", e)
	for i := 0; i < 5; i++ {
		f.Step(fmt.Sprintf("s%d", i), constFactory(byte(i)))
	}

	results, err := f.Execute(context.Background())
	require.NoError(t, err)

	// 5 → (超限) → [2] + (3 超限 → [1] + [2])
	var sizes []int
	for _, a := range e.attempts {
		sizes = append(sizes, a.size)
	}
	require.Equal(t, []int{5, 2, 3, 1, 2}, sizes)

	// 完整性：每个声明的步骤名都有结果
	require.Len(t, results, 5)
	for i := 0; i < 5; i++ {
		require.Contains(t, results, fmt.Sprintf("s%d", i))
	}
	// 同批成员共享签名，跨批签名不同
	require.Equal(t, results["s0"].Signature, results["s1"].Signature)
	require.NotEqual(t, results["s1"].Signature, results["s2"].Signature)
	require.Equal(t, results["s3"].Signature, results["s4"].Signature)
	require.Equal(t, 0, results["s3"].InstructionIndex)
	require.Equal(t, 1, results["s4"].InstructionIndex)
}

func TestAutoStrategyFallsBackToSequential(t *testing.T) {
	e := &fakeExecutor{maxPerTx: 2}
	f := newTestFlow("auto", e).
		WithStrategy(StrategyAuto).
		Step("a", constFactory(1)).
		Step("b", constFactory(2)).
		Step("c", constFactory(3))

	results, err := f.Execute(context.Background())
	require.NoError(t, err)

	// 首轮整批尝试失败后不拆批，整个 Flow 按 sequential 重跑
	var sizes []int
	for _, a := range e.attempts {
		sizes = append(sizes, a.size)
	}
	require.Equal(t, []int{3, 1, 1, 1}, sizes)

	require.Len(t, results, 3)
	require.NotEqual(t, results["a"].Signature, results["b"].Signature)
	require.Equal(t, 0, results["c"].InstructionIndex)
}

func TestAutoStrategyNoFallbackWhenBatchFits(t *testing.T) {
	e := &fakeExecutor{}
	f := newTestFlow("auto-fit", e).
		WithStrategy(StrategyAuto).
		Step("a", constFactory(1)).
		Step("b", constFactory(2))

	results, err := f.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, e.attempts, 1)
	require.Equal(t, results["a"].Signature, results["b"].Signature)
}

func TestAtomicGroupSingleTransaction(t *testing.T) {
	e := &fakeExecutor{}
	f := newTestFlow("atomic", e).
		Step("before", constFactory(1)).
		Atomic("flash-loan",
			GroupMember{Name: "borrow", Factory: constFactory(2)},
			GroupMember{Name: "swap", Factory: constFactory(3)},
			GroupMember{Name: "repay", Factory: constFactory(4)},
		).
		Step("after", constFactory(5))

	results, err := f.Execute(context.Background())
	require.NoError(t, err)

	// 前置批、原子组、后置批各一笔
	require.Len(t, e.attempts, 3)
	atomicAttempt := e.attempts[1]
	require.Equal(t, 3, atomicAttempt.size)
	require.True(t, atomicAttempt.opts.Atomic)
	require.Equal(t, uint32(600_000), atomicAttempt.opts.ComputeUnitLimit)

	// 组内成员共享签名且各有独立结果
	require.Len(t, results, 5)
	require.Equal(t, results["borrow"].Signature, results["repay"].Signature)
	require.Equal(t, 0, results["borrow"].InstructionIndex)
	require.Equal(t, 1, results["swap"].InstructionIndex)
	require.Equal(t, 2, results["repay"].InstructionIndex)
	require.NotEqual(t, results["before"].Signature, results["borrow"].Signature)
}

func TestAtomicGroupTooLargeIsHardError(t *testing.T) {
	e := &fakeExecutor{maxPerTx: 2}
	f := newTestFlow("atomic-big", e).
		WithStrategy(StrategyAuto).
		Atomic("flash-loan",
			GroupMember{Name: "borrow", Factory: constFactory(1)},
			GroupMember{Name: "swap", Factory: constFactory(2)},
			GroupMember{Name: "repay", Factory: constFactory(3)},
		)

	_, err := f.Execute(context.Background())
	var ag *txerr.AtomicGroupTooLargeError
	require.ErrorAs(t, err, &ag)
	require.Equal(t, "flash-loan", ag.Name)
	require.Equal(t, 1300, ag.Size)

	// 原子组超限不触发 auto 回退：只有一次整批尝试
	require.Len(t, e.attempts, 1)
}

func TestCompletenessUnderEveryStrategy(t *testing.T) {
	for _, strategy := range []Strategy{StrategySequential, StrategyBatch, StrategyAuto} {
		t.Run(string(strategy), func(t *testing.T) {
			e := &fakeExecutor{}
			f := newTestFlow("all", e).
				WithStrategy(strategy).
				Step("a", constFactory(1)).
				Step("b", constFactory(2)).
				Atomic("group",
					GroupMember{Name: "g1", Factory: constFactory(3)},
					GroupMember{Name: "g2", Factory: constFactory(4)},
				).
				Step("c", constFactory(5))

			results, err := f.Execute(context.Background())
			require.NoError(t, err)

			// 声明的步骤名集合与结果键集合一致
			for _, name := range []string{"a", "b", "g1", "g2", "c"} {
				require.Contains(t, results, name)
			}
			require.Len(t, results, 5)
			// 原子组成员在任何策略下共享同一签名
			require.Equal(t, results["g1"].Signature, results["g2"].Signature)
		})
	}
}

func TestTransactionStepFlushesPendingFirst(t *testing.T) {
	e := &fakeExecutor{}
	f := newTestFlow("mixed", e).
		Step("a", constFactory(1)).
		Step("b", constFactory(2)).
		Transaction("custom", func(ctx context.Context, sc *StepContext) (*StepResult, error) {
			// 前置批必须已落地
			res, ok := sc.Result("a")
			require.True(t, ok)
			require.NotEmpty(t, res.Signature)
			return &StepResult{Signature: "custom-sig", InstructionIndex: -1}, nil
		}).
		Step("c", constFactory(3))

	results, err := f.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, e.attempts, 2) // [a b] 和 [c]
	require.Equal(t, "custom-sig", results["custom"].Signature)
	require.Equal(t, -1, results["custom"].InstructionIndex)
}

func TestTransactionStepNilResultNormalized(t *testing.T) {
	e := &fakeExecutor{}
	f := newTestFlow("nil-res", e).
		Transaction("noop", func(ctx context.Context, sc *StepContext) (*StepResult, error) {
			return nil, nil
		})

	results, err := f.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, -1, results["noop"].InstructionIndex)
}

func TestFactoryReadsEarlierResults(t *testing.T) {
	e := &fakeExecutor{}
	var seen string
	f := newTestFlow("chain", e).
		Transaction("init", func(ctx context.Context, sc *StepContext) (*StepResult, error) {
			return &StepResult{Signature: "init-sig", InstructionIndex: -1}, nil
		}).
		Step("use", func(ctx context.Context, sc *StepContext) (solana.Instruction, error) {
			res, ok := sc.Result("init")
			require.True(t, ok)
			seen = res.Signature
			return ix(1), nil
		})

	_, err := f.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, "init-sig", seen)
}

func TestFlowSingleUse(t *testing.T) {
	e := &fakeExecutor{}
	f := newTestFlow("once", e).Step("a", constFactory(1))

	_, err := f.Execute(context.Background())
	require.NoError(t, err)

	_, err = f.Execute(context.Background())
	require.ErrorIs(t, err, txerr.ErrFlowAlreadyRun)
}

func TestFlowEmitsLifecycleEvents(t *testing.T) {
	e := &fakeExecutor{}
	var starts, completes []string
	f := newTestFlow("events", e).
		Step("a", constFactory(1)).
		Step("b", constFactory(2)).
		OnStepStart(func(name string) { starts = append(starts, name) }).
		OnStepComplete(func(name string, res *StepResult) {
			require.NotNil(t, res)
			completes = append(completes, name)
		})

	_, err := f.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, starts)
	require.Equal(t, []string{"a", "b"}, completes)
}

func TestFlowEmitsErrorEvents(t *testing.T) {
	boom := errors.New("rpc exploded")
	e := &fakeExecutor{failWith: boom}
	var failed []string
	f := newTestFlow("events-err", e).
		Step("a", constFactory(1)).
		OnStepError(func(name string, err error) {
			require.ErrorIs(t, err, boom)
			failed = append(failed, name)
		})

	_, err := f.Execute(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"a"}, failed)
}

func TestFactoryErrorAborts(t *testing.T) {
	e := &fakeExecutor{}
	boom := errors.New("cannot derive account")
	f := newTestFlow("factory-err", e).
		Step("bad", func(ctx context.Context, sc *StepContext) (solana.Instruction, error) {
			return nil, boom
		})

	_, err := f.Execute(context.Background())
	require.ErrorIs(t, err, boom)
	require.Empty(t, e.attempts)
}

func TestFlowLookupTablesReachExecutor(t *testing.T) {
	table := solana.MustPublicKeyFromBase58("SysvarRent111111111111111111111111111111111")
	tables := map[solana.PublicKey]solana.PublicKeySlice{table: {flowProgram}}

	e := &fakeExecutor{}
	f := newTestFlow("tables", e).
		WithLookupTables(tables).
		Step("a", constFactory(1))

	_, err := f.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, e.attempts, 1)
	require.Equal(t, tables, e.attempts[0].opts.Tables)
}
