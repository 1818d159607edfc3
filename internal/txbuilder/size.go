package txbuilder

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MaxTransactionBytes Solana 单笔交易（签名 + 消息）的线级字节上限：
// IPv6 MTU 1280 - 48 字节网络头。
const MaxTransactionBytes = 1232

// BaseMessage 打包前已经确定的消息骨架：fee payer + lifetime（+ 可选 ALT 表）。
// 打包器在此基础上逐条追加指令并测量序列化大小。
type BaseMessage struct {
	Payer     solana.PublicKey
	Blockhash solana.Hash
	Tables    map[solana.PublicKey]solana.PublicKeySlice
}

// buildDraft 基于骨架 + 指令列表构造草稿交易。
// 提供了 ALT 表时会同时构造压缩版与未压缩版，取序列化更小的那个，
// 保证压缩永不增大消息（单账户转换 -31 字节，但每张表引用 +34 字节，可能得不偿失）。
func buildDraft(base BaseMessage, instrs []solana.Instruction) (*solana.Transaction, error) {
	plain, err := solana.NewTransaction(instrs, base.Blockhash, solana.TransactionPayer(base.Payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction message: %w", err)
	}
	if len(base.Tables) == 0 {
		return plain, nil
	}

	compressed, err := solana.NewTransaction(
		instrs,
		base.Blockhash,
		solana.TransactionPayer(base.Payer),
		solana.TransactionAddressTables(base.Tables),
	)
	if err != nil {
		// 表不适用（无可转换账户等）时退回未压缩版本
		return plain, nil
	}

	cs, err := WireSize(compressed)
	if err != nil {
		return plain, nil
	}
	ps, err := WireSize(plain)
	if err != nil {
		return nil, err
	}
	if cs <= ps {
		return compressed, nil
	}
	return plain, nil
}

// WireSize 计算交易签名后的完整线级字节数：
// compact-u16 签名数 + 64 字节/签名 + 消息体。
// 未签名草稿也能测量（签名数取自消息头，而非已填充的签名数组）。
func WireSize(tx *solana.Transaction) (int, error) {
	msgData, err := tx.Message.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}
	numSigs := int(tx.Message.Header.NumRequiredSignatures)
	return compactU16Len(numSigs) + numSigs*64 + len(msgData), nil
}

// compactU16Len Solana short-vec 长度前缀的编码字节数
func compactU16Len(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n < 0x4000:
		return 2
	default:
		return 3
	}
}
