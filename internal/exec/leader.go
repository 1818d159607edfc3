package exec

import (
	"context"

	"github.com/stevesarmiento/pipeit/internal/txerr"
)

// LeaderResult 单个 leader 的投递明细
type LeaderResult struct {
	Address   string // leader 验证人身份（base58）
	Success   bool
	LatencyMs int64
	Attempts  int
	ErrorCode string // 失败时的错误码，见 txerr.LeaderCode*
}

// LeaderReport 一次 leader 直连投递的整体结果
type LeaderReport struct {
	Delivered   bool
	LeaderCount int
	LatencyMs   int64
	Leaders     []LeaderResult
}

// LeaderSender 外部 leader 直连投递能力的显式资源句柄：
// 由宿主进程创建并持有，按引用传入 Resolver，生命周期为
// create → WaitReady → SendTransaction* → Shutdown，绝不从环境状态隐式重建。
type LeaderSender interface {
	SendTransaction(ctx context.Context, raw []byte, fanout int) (*LeaderReport, error)
	WaitReady(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// classifyLeaderReport 把未送达的报告归类为带重试标记的错误。
// 多个 leader 各自失败时取第一个可重试码，否则取第一个错误码。
func classifyLeaderReport(rep *LeaderReport) error {
	if rep.Delivered {
		return nil
	}
	code := txerr.LeaderCodeNoLeaders
	if len(rep.Leaders) > 0 {
		code = rep.Leaders[0].ErrorCode
		for _, l := range rep.Leaders {
			if l.ErrorCode != "" && txerr.IsRetryableLeaderCode(l.ErrorCode) {
				code = l.ErrorCode
				break
			}
		}
	}
	return &txerr.LeaderSubmitError{
		Code:      code,
		Message:   "transaction not delivered to any leader",
		Retryable: txerr.IsRetryableLeaderCode(code),
	}
}
