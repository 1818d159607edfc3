package txbuilder

import (
	"context"
	"sort"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/stevesarmiento/pipeit/internal/rpccap"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// ComputeUnitMode 计算预算策略
type ComputeUnitMode int

const (
	ComputeUnitAuto     ComputeUnitMode = iota // 不添加 CU 指令，走协议默认
	ComputeUnitFixed                           // 显式指定 CU 上限
	ComputeUnitSimulate                        // 预检模拟消耗量 * buffer 系数
)

// MaxComputeUnits 协议级单笔交易 CU 上限
const MaxComputeUnits = 1_400_000

// DefaultSimulateBuffer 模拟消耗量的冗余系数
const DefaultSimulateBuffer = 1.1

// PriorityLevel 优先费档位
type PriorityLevel string

const (
	PriorityNone     PriorityLevel = "none"
	PriorityLow      PriorityLevel = "low"
	PriorityMedium   PriorityLevel = "medium"
	PriorityHigh     PriorityLevel = "high"
	PriorityVeryHigh PriorityLevel = "veryHigh"
)

// 网络估算不可用时的固定回退费率（microLamports / CU）
var fallbackFeeRates = map[PriorityLevel]uint64{
	PriorityLow:      1_000,
	PriorityMedium:   10_000,
	PriorityHigh:     100_000,
	PriorityVeryHigh: 1_000_000,
}

// 各档位对应的近期优先费分位数
var feePercentiles = map[PriorityLevel]int{
	PriorityLow:      25,
	PriorityMedium:   50,
	PriorityHigh:     75,
	PriorityVeryHigh: 95,
}

// newComputeUnitLimitIx 构造 SetComputeUnitLimit 指令
func newComputeUnitLimitIx(units uint32) solana.Instruction {
	if units > MaxComputeUnits {
		units = MaxComputeUnits
	}
	return computebudget.NewSetComputeUnitLimitInstruction(units).Build()
}

// newComputeUnitPriceIx 构造 SetComputeUnitPrice 指令
func newComputeUnitPriceIx(microLamports uint64) solana.Instruction {
	return computebudget.NewSetComputeUnitPriceInstruction(microLamports).Build()
}

// bufferedUnits 模拟消耗量乘以冗余系数并钳制到协议上限
func bufferedUnits(consumed uint64, buffer float64) uint32 {
	if buffer <= 0 {
		buffer = DefaultSimulateBuffer
	}
	units := uint64(float64(consumed) * buffer)
	if units > MaxComputeUnits {
		units = MaxComputeUnits
	}
	return uint32(units)
}

// estimatePriorityFee 按档位估算 microLamports/CU 费率：
// 优先用 getRecentPrioritizationFees 的非零样本取分位数，失败或无样本时回退固定档。
func estimatePriorityFee(
	ctx context.Context,
	est rpccap.FeeEstimator,
	level PriorityLevel,
	writable []solana.PublicKey,
) uint64 {
	fallback := fallbackFeeRates[level]
	if est == nil {
		return fallback
	}

	samples, err := est.GetRecentPrioritizationFees(ctx, writable)
	if err != nil {
		logger.Warnf("[txbuilder] priority fee estimation failed, fallback to fixed rate: %v", err)
		return fallback
	}

	fees := make([]uint64, 0, len(samples))
	for _, s := range samples {
		if s.PrioritizationFee > 0 {
			fees = append(fees, s.PrioritizationFee)
		}
	}
	if len(fees) == 0 {
		return fallback
	}

	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })
	return percentile(fees, feePercentiles[level])
}

// percentile 取已排序样本的 p 分位值（最近秩法）
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted)*p + 99) / 100
	if idx < 1 {
		idx = 1
	}
	if idx > len(sorted) {
		idx = len(sorted)
	}
	return sorted[idx-1]
}
