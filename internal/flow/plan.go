package flow

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// PlanKind 指令计划树的节点类型
type PlanKind string

const (
	PlanSequential PlanKind = "sequential" // 子节点按序执行
	PlanAtomic     PlanKind = "atomic"     // 全部指令落在同一笔交易
	PlanSingle     PlanKind = "single"     // 一组指令，允许正常批量/拆分
)

// PlanNode 外部（swap 聚合器等）产出的指令计划树节点。
// 叶子携带预构建的指令列表，Sequential 节点只携带子节点。
type PlanNode struct {
	Kind         PlanKind
	Name         string
	Instructions []solana.Instruction
	Tables       map[solana.PublicKey]solana.PublicKeySlice // 可选的 ALT 表
	Children     []*PlanNode
}

// ExecutePlan 把指令计划树展开为一个 Flow 并执行。
// Single 节点的每条指令成为一个指令步骤（多条时步骤名加序号后缀），
// Atomic 节点成为原子组，Sequential 节点递归展开。
func ExecutePlan(ctx context.Context, executor BatchExecutor, sctx *StepContext, root *PlanNode, strategy Strategy) (map[string]*StepResult, error) {
	if root == nil {
		return nil, fmt.Errorf("nil plan node")
	}
	f := New("plan:"+root.Name, executor, sctx).WithStrategy(strategy)
	if err := appendPlanNode(f, root); err != nil {
		return nil, err
	}
	return f.Execute(ctx)
}

func appendPlanNode(f *Flow, node *PlanNode) error {
	if len(node.Tables) > 0 {
		f.WithLookupTables(node.Tables)
	}
	switch node.Kind {
	case PlanSequential:
		for _, child := range node.Children {
			if err := appendPlanNode(f, child); err != nil {
				return err
			}
		}
		return nil

	case PlanAtomic:
		if len(node.Instructions) == 0 {
			return fmt.Errorf("atomic plan node %q has no instructions", node.Name)
		}
		members := make([]GroupMember, len(node.Instructions))
		for i, ix := range node.Instructions {
			members[i] = GroupMember{
				Name:    planStepName(node.Name, i, len(node.Instructions)),
				Factory: fixedInstruction(ix),
			}
		}
		f.Atomic(node.Name, members...)
		return nil

	case PlanSingle:
		if len(node.Instructions) == 0 {
			return fmt.Errorf("plan node %q has no instructions", node.Name)
		}
		for i, ix := range node.Instructions {
			f.Step(planStepName(node.Name, i, len(node.Instructions)), fixedInstruction(ix))
		}
		return nil

	default:
		return fmt.Errorf("unknown plan node kind %q", node.Kind)
	}
}

func planStepName(base string, i, total int) string {
	if total == 1 {
		return base
	}
	return fmt.Sprintf("%s#%d", base, i)
}

// fixedInstruction 把预构建指令包装为常量工厂
func fixedInstruction(ix solana.Instruction) InstructionFactory {
	return func(context.Context, *StepContext) (solana.Instruction, error) {
		return ix, nil
	}
}
