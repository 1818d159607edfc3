package confirm

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/stevesarmiento/pipeit/internal/rpccap"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// slot 跳变超过该阈值时认为 offset 估计失真，强制重新校准
const slotJumpThreshold = 64

// heightWatcher 跟踪 slot 与 block height 的偏移量，估算当前高度并监视过期。
// slot 推送（若可用）提供实时 slot，epoch 轮询提供 height 校准；
// 估算高度越过 last-valid 后必须用新鲜查询复核一次才宣告过期。
type heightWatcher struct {
	epoch        rpccap.EpochFetcher
	slots        rpccap.SlotSubscriber // 可为 nil，退化为纯轮询
	pollInterval time.Duration
	commitment   rpc.CommitmentType
}

// watch 阻塞监视直到过期或 ctx 取消；过期时向 expired 发送复核后的实际高度。
// 所有订阅在每条退出路径上都会释放。
func (w *heightWatcher) watch(ctx context.Context, lastValid uint64, expired chan<- uint64) {
	info, err := w.epoch.GetEpochInfo(ctx, w.commitment)
	if err != nil {
		logger.Warnf("[confirm] initial epoch info fetch failed: %v", err)
		return
	}
	offset := info.AbsoluteSlot - info.BlockHeight
	lastSlot := info.AbsoluteSlot

	slotCh := make(chan uint64, 16)
	if w.slots != nil {
		sub, err := w.slots.SlotSubscribe()
		if err != nil {
			logger.Warnf("[confirm] slot subscribe failed, falling back to polling: %v", err)
		} else {
			defer sub.Unsubscribe()
			go func() {
				for {
					res, err := sub.Recv(ctx)
					if err != nil {
						return
					}
					select {
					case slotCh <- res.Slot:
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		var slot uint64
		select {
		case <-ctx.Done():
			return
		case slot = <-slotCh:
		case <-ticker.C:
			info, err := w.epoch.GetEpochInfo(ctx, w.commitment)
			if err != nil {
				logger.Warnf("[confirm] epoch info poll failed: %v", err)
				continue
			}
			// 轮询路径直接拿到真实高度，顺带校准 offset
			offset = info.AbsoluteSlot - info.BlockHeight
			slot = info.AbsoluteSlot
		}

		// slot 大幅跳变（长时间断流、节点切换）后 offset 不可信，重新校准
		if slot > lastSlot+slotJumpThreshold {
			info, err := w.epoch.GetEpochInfo(ctx, w.commitment)
			if err == nil {
				offset = info.AbsoluteSlot - info.BlockHeight
				slot = info.AbsoluteSlot
			}
		}
		lastSlot = slot

		estimated := uint64(0)
		if slot > offset {
			estimated = slot - offset
		}
		if estimated <= lastValid {
			continue
		}

		// 估算已越界：宣告过期前用新鲜高度复核，避免 offset 偏差误杀
		info, err := w.epoch.GetEpochInfo(ctx, w.commitment)
		if err != nil {
			logger.Warnf("[confirm] expiry double-check failed: %v", err)
			continue
		}
		if info.BlockHeight > lastValid {
			select {
			case expired <- info.BlockHeight:
			case <-ctx.Done():
			}
			return
		}
		// 复核未过期，说明 offset 偏大，校准后继续
		offset = info.AbsoluteSlot - info.BlockHeight
	}
}
