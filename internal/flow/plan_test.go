package flow

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestExecutePlanExpandsTree(t *testing.T) {
	e := &fakeExecutor{}
	root := &PlanNode{
		Kind: PlanSequential,
		Name: "route",
		Children: []*PlanNode{
			{Kind: PlanSingle, Name: "setup", Instructions: []solana.Instruction{ix(1)}},
			{Kind: PlanAtomic, Name: "swap", Instructions: []solana.Instruction{ix(2), ix(3)}},
			{Kind: PlanSingle, Name: "cleanup", Instructions: []solana.Instruction{ix(4), ix(5)}},
		},
	}

	results, err := ExecutePlan(context.Background(), e, NewStepContext(solana.PublicKey{}), root, StrategyBatch)
	require.NoError(t, err)

	// 单指令节点用原名，多指令节点按序号展开
	require.Contains(t, results, "setup")
	require.Contains(t, results, "swap#0")
	require.Contains(t, results, "swap#1")
	require.Contains(t, results, "cleanup#0")
	require.Contains(t, results, "cleanup#1")

	// 原子节点独立成笔且携带原子批参数
	var atomicSeen bool
	for _, a := range e.attempts {
		if a.opts.Atomic {
			atomicSeen = true
			require.Equal(t, 2, a.size)
		}
	}
	require.True(t, atomicSeen)
	require.Equal(t, results["swap#0"].Signature, results["swap#1"].Signature)
}

func TestExecutePlanPropagatesTables(t *testing.T) {
	table := solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")
	tables := map[solana.PublicKey]solana.PublicKeySlice{table: {flowProgram}}

	e := &fakeExecutor{}
	root := &PlanNode{
		Kind:         PlanSingle,
		Name:         "leg",
		Instructions: []solana.Instruction{ix(1)},
		Tables:       tables,
	}

	_, err := ExecutePlan(context.Background(), e, NewStepContext(solana.PublicKey{}), root, StrategyBatch)
	require.NoError(t, err)
	require.Len(t, e.attempts, 1)
	require.Equal(t, tables, e.attempts[0].opts.Tables)
}

func TestExecutePlanRejectsMalformedNodes(t *testing.T) {
	e := &fakeExecutor{}
	sctx := NewStepContext(solana.PublicKey{})

	_, err := ExecutePlan(context.Background(), e, sctx, nil, StrategyBatch)
	require.Error(t, err)

	_, err = ExecutePlan(context.Background(), e, NewStepContext(solana.PublicKey{}),
		&PlanNode{Kind: PlanAtomic, Name: "empty"}, StrategyBatch)
	require.Error(t, err)

	_, err = ExecutePlan(context.Background(), e, NewStepContext(solana.PublicKey{}),
		&PlanNode{Kind: "mystery", Name: "x"}, StrategyBatch)
	require.Error(t, err)
}
