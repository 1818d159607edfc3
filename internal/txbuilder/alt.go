package txbuilder

import (
	"github.com/gagliardetto/solana-go"
)

// ALT 压缩的收益模型常量：
// 转换一个账户：账户列表少 32 字节，表内索引多 1 字节 → 净省 31；
// 每引用一张新表：表地址 32 + 可写/只读两段 compact 计数及索引开销 ≈ 34 字节。
const (
	altBytesSavedPerAccount = 31
	altBytesCostPerTable    = 34
)

// AltSavings ALT 压缩收益估算，仅作参考信息，不决定是否实际压缩
// （实际压缩由 buildDraft 的"取更小者"保证永不增大）。
type AltSavings struct {
	ConvertedAccounts int // 可转换为 (table, index) 引用的去重账户数
	TablesReferenced  int // 实际被引用到的表数量
	EstimatedDelta    int // 预估字节变化，负数表示节省
}

// EstimateAltSavings 估算对给定指令集应用 ALT 表的字节收益。
// 只有非签名者、非 program id、非 fee payer 的账户才可被转换；
// 同一地址在消息账户表中只出现一次，因此按去重地址计数。
func EstimateAltSavings(
	instrs []solana.Instruction,
	payer solana.PublicKey,
	tables map[solana.PublicKey]solana.PublicKeySlice,
) AltSavings {
	if len(tables) == 0 || len(instrs) == 0 {
		return AltSavings{}
	}

	// 地址 -> 所在表
	addrToTable := make(map[solana.PublicKey]solana.PublicKey)
	for table, addrs := range tables {
		for _, a := range addrs {
			if _, ok := addrToTable[a]; !ok {
				addrToTable[a] = table
			}
		}
	}

	// 签名者与 program id 永远留在静态账户表里
	static := map[solana.PublicKey]bool{payer: true}
	for _, ix := range instrs {
		static[ix.ProgramID()] = true
		for _, meta := range ix.Accounts() {
			if meta.IsSigner {
				static[meta.PublicKey] = true
			}
		}
	}

	converted := make(map[solana.PublicKey]bool)
	usedTables := make(map[solana.PublicKey]bool)
	for _, ix := range instrs {
		for _, meta := range ix.Accounts() {
			if static[meta.PublicKey] || converted[meta.PublicKey] {
				continue
			}
			table, ok := addrToTable[meta.PublicKey]
			if !ok {
				continue
			}
			converted[meta.PublicKey] = true
			usedTables[table] = true
		}
	}

	return AltSavings{
		ConvertedAccounts: len(converted),
		TablesReferenced:  len(usedTables),
		EstimatedDelta:    -altBytesSavedPerAccount*len(converted) + altBytesCostPerTable*len(usedTables),
	}
}
