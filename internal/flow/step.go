package flow

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// StepResult 某个具名步骤的落地结果。步骤（或其所在批次）落地时产生，
// 写入后不再变更；同批成员共享签名，仅指令序号不同。
type StepResult struct {
	Signature        string
	InstructionIndex int // 批内指令序号；不适用时为 -1
}

// StepContext 每个步骤可读的执行上下文：此前已完成步骤的结果 + 签名者身份。
// 结果按名字只增不改，生命周期为一次 Flow 执行。
type StepContext struct {
	results map[string]*StepResult
	Signer  solana.PublicKey
}

// NewStepContext 由宿主构造；results map 由 Flow 独占写入
func NewStepContext(signer solana.PublicKey) *StepContext {
	return &StepContext{results: make(map[string]*StepResult), Signer: signer}
}

// Result 读取已完成步骤的结果
func (c *StepContext) Result(name string) (*StepResult, bool) {
	r, ok := c.results[name]
	return r, ok
}

func (c *StepContext) record(name string, r *StepResult) {
	if _, exists := c.results[name]; exists {
		return // 只增不改
	}
	c.results[name] = r
}

// reset 清空结果表；仅 auto 回退重跑前使用
func (c *StepContext) reset() {
	c.results = make(map[string]*StepResult)
}

// snapshot 返回结果表的浅拷贝，Execute 结束时交还调用方
func (c *StepContext) snapshot() map[string]*StepResult {
	out := make(map[string]*StepResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// InstructionFactory 指令工厂：可读取此前步骤结果，产出一条指令
type InstructionFactory func(ctx context.Context, sc *StepContext) (solana.Instruction, error)

// TransactionFunc 自定义交易步骤：自行驱动子构建流程并产出自己的结果
type TransactionFunc func(ctx context.Context, sc *StepContext) (*StepResult, error)

type stepKind int

const (
	stepInstruction stepKind = iota
	stepTransaction
	stepAtomic
)

// step 三种步骤的 tagged union，声明后归属其 Flow 独占
type step struct {
	kind       stepKind
	name       string
	factory    InstructionFactory   // stepInstruction
	txFn       TransactionFunc      // stepTransaction
	group      []InstructionFactory // stepAtomic：必须落在同一笔交易
	groupNames []string             // stepAtomic：成员步骤名，与 group 一一对应
}
