package txbuilder

import (
	"github.com/gagliardetto/solana-go"

	"github.com/stevesarmiento/pipeit/internal/txerr"
)

// PackOptions 打包参数
type PackOptions struct {
	Limit   int // 字节上限，0 表示 MaxTransactionBytes
	Reserve int // 预留字节数（留给后续追加的 tip / 计算预算指令等）
}

func (o PackOptions) budget() int {
	limit := o.Limit
	if limit <= 0 {
		limit = MaxTransactionBytes
	}
	return limit - o.Reserve
}

// PackResult 打包结果：packed 是不超预算的最大有序前缀，overflow 是剩余后缀（保持原顺序）
type PackResult struct {
	Packed   []solana.Instruction
	Overflow []solana.Instruction
}

// PackInstructions 贪心打包：逐条把下一条指令追加进工作消息并测量序列化大小，
// 超出预算即停止。不重排、不向后看，临界情况不做优化。
// 第一条指令在空消息里就放不下时属于配置级致命错误。
func PackInstructions(base BaseMessage, instrs []solana.Instruction, opt PackOptions) (*PackResult, error) {
	budget := opt.budget()
	packed := 0

	for i := range instrs {
		draft, err := buildDraft(base, instrs[:i+1])
		if err != nil {
			return nil, err
		}
		size, err := WireSize(draft)
		if err != nil {
			return nil, err
		}
		if size > budget {
			if i == 0 {
				return &PackResult{Overflow: instrs}, &txerr.InstructionTooLargeError{
					Index: 0,
					Size:  size,
					Limit: budget,
				}
			}
			break
		}
		packed = i + 1
	}

	return &PackResult{
		Packed:   instrs[:packed],
		Overflow: instrs[packed:],
	}, nil
}

// PackAll 反复打包直到指令耗尽，返回有序的分块列表。
// 所有分块按原顺序首尾相接即还原输入列表。
func PackAll(base BaseMessage, instrs []solana.Instruction, opt PackOptions) ([][]solana.Instruction, error) {
	var chunks [][]solana.Instruction
	remaining := instrs
	for len(remaining) > 0 {
		res, err := PackInstructions(base, remaining, opt)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, res.Packed)
		remaining = res.Overflow
	}
	return chunks, nil
}
