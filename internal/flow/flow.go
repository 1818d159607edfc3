package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/stevesarmiento/pipeit/internal/txerr"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// Strategy 步骤到交易的映射策略
type Strategy string

const (
	// StrategySequential 每个指令步骤独立成一笔单指令交易
	StrategySequential Strategy = "sequential"
	// StrategyBatch 相邻指令步骤合并成批；尺寸超限时按位置二分递归拆批
	StrategyBatch Strategy = "batch"
	// StrategyAuto 先走批量路径（不拆批），尺寸超限时整个 Flow 从头按
	// sequential 重跑。批量尝试已落地的交易不会回滚，可能造成重复提交，
	// 仅在指令幂等或确定超限发生在任何交易落地之前时选用。
	StrategyAuto Strategy = "auto"
)

// 原子组默认抬高的 CU 上限：多指令 DeFi 操作常规超出协议默认
const defaultAtomicComputeUnits = 600_000

// FlushStatus 一次批次落盘的判别结果，取代跨异步边界的异常身份判断
type FlushStatus int

const (
	FlushOK FlushStatus = iota
	FlushSizeExceeded
	FlushFailed
)

// BatchOptions 批次执行参数
type BatchOptions struct {
	Atomic           bool
	ComputeUnitLimit uint32                                     // 0 表示不覆盖
	Tables           map[solana.PublicKey]solana.PublicKeySlice // 可选 ALT 表
}

// BatchOutcome 批次执行的显式判别结果
type BatchOutcome struct {
	Status    FlushStatus
	Signature string
	Err       error
}

// BatchExecutor 把一批指令作为单笔交易构建、提交并确认
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, instrs []solana.Instruction, opts BatchOptions) BatchOutcome
}

// BatchPlanner 执行器的可选能力：提交前按测量的线级尺寸预切批。
// 具备该能力时 batch 策略先切批再落盘，仅在测量与链上判定不一致时才回退二分。
type BatchPlanner interface {
	PlanBatches(instrs []solana.Instruction) ([][]solana.Instruction, error)
}

// GroupMember 原子组成员：具名步骤 + 指令工厂
type GroupMember struct {
	Name    string
	Factory InstructionFactory
}

// Flow 具名步骤的编排器。声明一次、执行一次：Execute 后实例作废。
type Flow struct {
	name      string
	executor  BatchExecutor
	sctx      *StepContext
	steps     []step
	strategy  Strategy
	tables    map[solana.PublicKey]solana.PublicKeySlice
	observers []Observer
	executed  bool
}

func New(name string, executor BatchExecutor, sctx *StepContext) *Flow {
	return &Flow{
		name:     name,
		executor: executor,
		sctx:     sctx,
		strategy: StrategyBatch,
	}
}

func (f *Flow) WithStrategy(s Strategy) *Flow {
	if s != "" {
		f.strategy = s
	}
	return f
}

// WithLookupTables 为本 Flow 产出的所有交易提供 ALT 表
func (f *Flow) WithLookupTables(tables map[solana.PublicKey]solana.PublicKeySlice) *Flow {
	if f.tables == nil {
		f.tables = make(map[solana.PublicKey]solana.PublicKeySlice)
	}
	for k, v := range tables {
		f.tables[k] = v
	}
	return f
}

// Step 声明一个指令步骤
func (f *Flow) Step(name string, factory InstructionFactory) *Flow {
	f.steps = append(f.steps, step{kind: stepInstruction, name: name, factory: factory})
	return f
}

// Transaction 声明一个自定义交易步骤，自行产出结果
func (f *Flow) Transaction(name string, fn TransactionFunc) *Flow {
	f.steps = append(f.steps, step{kind: stepTransaction, name: name, txFn: fn})
	return f
}

// Atomic 声明一个原子组：所有成员必须落在同一笔交易里
func (f *Flow) Atomic(name string, members ...GroupMember) *Flow {
	st := step{kind: stepAtomic, name: name}
	for _, m := range members {
		st.group = append(st.group, m.Factory)
		st.groupNames = append(st.groupNames, m.Name)
	}
	f.steps = append(f.steps, st)
	return f
}

// Execute 按声明顺序执行全部步骤，返回 步骤名 → 结果 映射
func (f *Flow) Execute(ctx context.Context) (map[string]*StepResult, error) {
	if f.executed {
		return nil, txerr.ErrFlowAlreadyRun
	}
	f.executed = true

	strategy := f.strategy
	if strategy == StrategyAuto {
		err := f.run(ctx, StrategyAuto)
		if err != nil && isBatchFallback(err) {
			logger.Infof("[flow] %s: batched attempt exceeded size limit, re-executing sequentially", f.name)
			f.sctx.reset()
			err = f.run(ctx, StrategySequential)
		}
		return f.sctx.snapshot(), err
	}

	err := f.run(ctx, strategy)
	return f.sctx.snapshot(), err
}

// isBatchFallback 尺寸超限触发 auto 回退；原子组超限是硬错误，不回退
func isBatchFallback(err error) bool {
	var ag *txerr.AtomicGroupTooLargeError
	if errors.As(err, &ag) {
		return false
	}
	return txerr.IsTooLarge(err)
}

// run 单轮执行：sequential 逐条落盘，batch/auto 聚相邻指令步骤成批。
// batch 允许二分拆批；auto 的首轮不拆，超限直接上抛给 Execute 做整体回退。
func (f *Flow) run(ctx context.Context, strategy Strategy) error {
	allowSplit := strategy == StrategyBatch

	var pending []step
	flushPending := func() error {
		if len(pending) == 0 {
			return nil
		}
		batch := pending
		pending = nil
		units, err := f.materialize(ctx, batch)
		if err != nil {
			return err
		}
		return f.flushBatch(ctx, units, BatchOptions{}, allowSplit)
	}

	for _, st := range f.steps {
		switch st.kind {
		case stepInstruction:
			if strategy == StrategySequential {
				units, err := f.materialize(ctx, []step{st})
				if err != nil {
					return err
				}
				if err := f.flushUnits(ctx, units, BatchOptions{}, false); err != nil {
					return err
				}
			} else {
				pending = append(pending, st)
			}

		case stepTransaction:
			if err := flushPending(); err != nil {
				return err
			}
			if err := f.runTransactionStep(ctx, st); err != nil {
				return err
			}

		case stepAtomic:
			if err := flushPending(); err != nil {
				return err
			}
			if err := f.runAtomicStep(ctx, st); err != nil {
				return err
			}
		}
	}
	return flushPending()
}

// unit 已物化的批次成员：步骤名 + 产出的指令
type unit struct {
	name string
	ix   solana.Instruction
}

// flushBatch 批量路径入口：执行器具备预切批能力时先按测量尺寸分块，
// 逐块落盘；落盘阶段仍保留二分兜底。预切失败时按整批落盘处理。
func (f *Flow) flushBatch(ctx context.Context, units []unit, opts BatchOptions, allowSplit bool) error {
	planner, ok := f.executor.(BatchPlanner)
	if !ok || !allowSplit || len(units) < 2 {
		return f.flushUnits(ctx, units, opts, allowSplit)
	}

	instrs := make([]solana.Instruction, len(units))
	for i, u := range units {
		instrs[i] = u.ix
	}
	chunks, err := planner.PlanBatches(instrs)
	if err != nil || len(chunks) == 0 {
		if err != nil {
			logger.Warnf("[flow] %s: batch pre-sizing failed, submitting unsplit: %v", f.name, err)
		}
		return f.flushUnits(ctx, units, opts, allowSplit)
	}

	// 分块保持原顺序且首尾相接还原输入，按块长依次切 units
	start := 0
	for _, chunk := range chunks {
		end := start + len(chunk)
		if err := f.flushUnits(ctx, units[start:end], opts, allowSplit); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// materialize 触发 step-start 并调用各指令工厂；工厂可读取此前步骤的结果
func (f *Flow) materialize(ctx context.Context, steps []step) ([]unit, error) {
	units := make([]unit, 0, len(steps))
	for _, st := range steps {
		f.emit(Event{Kind: EventStepStart, Step: st.name})
		ix, err := st.factory(ctx, f.sctx)
		if err != nil {
			err = fmt.Errorf("step %q instruction factory failed: %w", st.name, err)
			f.emit(Event{Kind: EventStepError, Step: st.name, Err: err})
			return nil, err
		}
		units = append(units, unit{name: st.name, ix: ix})
	}
	return units, nil
}

// flushUnits 把一组已物化指令作为单笔交易落盘。
// 尺寸超限时：可拆则按位置对半递归；不可拆则作为结构信号上抛。
func (f *Flow) flushUnits(ctx context.Context, units []unit, opts BatchOptions, allowSplit bool) error {
	instrs := make([]solana.Instruction, len(units))
	for i, u := range units {
		instrs[i] = u.ix
	}

	if opts.Tables == nil {
		opts.Tables = f.tables
	}
	outcome := f.executor.ExecuteBatch(ctx, instrs, opts)
	switch outcome.Status {
	case FlushOK:
		for i, u := range units {
			res := &StepResult{Signature: outcome.Signature, InstructionIndex: i}
			f.sctx.record(u.name, res)
			f.emit(Event{Kind: EventStepComplete, Step: u.name, Result: res})
		}
		return nil

	case FlushSizeExceeded:
		if allowSplit && len(units) > 1 {
			mid := len(units) / 2
			if err := f.flushUnits(ctx, units[:mid], opts, allowSplit); err != nil {
				return err
			}
			return f.flushUnits(ctx, units[mid:], opts, allowSplit)
		}
		// 不可拆：尺寸错误按结构信号上抛（auto 据此整体回退）
		return outcome.Err

	default:
		for _, u := range units {
			f.emit(Event{Kind: EventStepError, Step: u.name, Err: outcome.Err})
		}
		return fmt.Errorf("flow %s: batch flush failed: %w", f.name, outcome.Err)
	}
}

func (f *Flow) runTransactionStep(ctx context.Context, st step) error {
	f.emit(Event{Kind: EventStepStart, Step: st.name})
	res, err := st.txFn(ctx, f.sctx)
	if err != nil {
		err = fmt.Errorf("transaction step %q failed: %w", st.name, err)
		f.emit(Event{Kind: EventStepError, Step: st.name, Err: err})
		return err
	}
	if res == nil {
		res = &StepResult{InstructionIndex: -1}
	}
	f.sctx.record(st.name, res)
	f.emit(Event{Kind: EventStepComplete, Step: st.name, Result: res})
	return nil
}

// runAtomicStep 原子组永远独立成一笔交易并抬高默认 CU 上限；
// 无论何种策略都不拆分，放不下即硬错误。
func (f *Flow) runAtomicStep(ctx context.Context, st step) error {
	members := make([]step, len(st.group))
	for i := range st.group {
		members[i] = step{name: st.groupNames[i], factory: st.group[i]}
	}
	units, err := f.materialize(ctx, members)
	if err != nil {
		return err
	}

	opts := BatchOptions{Atomic: true, ComputeUnitLimit: defaultAtomicComputeUnits}
	err = f.flushUnits(ctx, units, opts, false)
	if err == nil {
		return nil
	}
	if txerr.IsTooLarge(err) {
		agErr := &txerr.AtomicGroupTooLargeError{Name: st.name}
		var tl *txerr.TooLargeError
		if errors.As(err, &tl) {
			agErr.Size = tl.Size
			agErr.Limit = tl.Limit
		}
		for _, u := range units {
			f.emit(Event{Kind: EventStepError, Step: u.name, Err: agErr})
		}
		return agErr
	}
	return err
}
