package flow

import (
	"bytes"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/stevesarmiento/pipeit/internal/txbuilder"
)

func bulkIx(tag byte, size int) solana.Instruction {
	data := make([]byte, size)
	for i := range data {
		data[i] = tag
	}
	return solana.NewInstruction(flowProgram, solana.AccountMetaSlice{}, data)
}

func TestBuilderExecutorPlanBatches(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	e := &builderExecutor{newBuilder: func() *txbuilder.Builder {
		return txbuilder.New(txbuilder.Caps{}, nil).SetFeePayer(payer)
	}}

	// 5 条大指令放不进一笔 1232 字节交易，预切必须产出多个分块
	instrs := make([]solana.Instruction, 5)
	for i := range instrs {
		instrs[i] = bulkIx(byte(i+1), 450)
	}

	chunks, err := e.PlanBatches(instrs)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// 分块首尾相接还原输入：顺序与内容逐条一致
	var flat []solana.Instruction
	for _, chunk := range chunks {
		require.NotEmpty(t, chunk)
		flat = append(flat, chunk...)
	}
	require.Len(t, flat, len(instrs))
	for i := range instrs {
		want, err := instrs[i].Data()
		require.NoError(t, err)
		got, err := flat[i].Data()
		require.NoError(t, err)
		require.True(t, bytes.Equal(want, got))
	}
}

func TestBuilderExecutorPlanBatchesSingleChunk(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	e := &builderExecutor{newBuilder: func() *txbuilder.Builder {
		return txbuilder.New(txbuilder.Caps{}, nil).SetFeePayer(payer)
	}}

	chunks, err := e.PlanBatches([]solana.Instruction{bulkIx(1, 16), bulkIx(2, 16)})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0], 2)
}
