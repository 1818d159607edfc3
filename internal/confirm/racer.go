package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/stevesarmiento/pipeit/internal/rpccap"
	"github.com/stevesarmiento/pipeit/internal/txerr"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// Reason 确认终态原因
type Reason string

const (
	ReasonConfirmed           Reason = "confirmed"
	ReasonTimeout             Reason = "timeout"
	ReasonBlockHeightExceeded Reason = "block_height_exceeded"
	ReasonError               Reason = "error"
)

// Result 一次确认尝试的终态，产生后不再变更
type Result struct {
	Signature string
	Confirmed bool
	Reason    Reason
	Err       error // Reason == error 时的底层原因
}

// Request 确认请求；LastValidHeight > 0 时走 blockheight 策略，否则走超时策略
type Request struct {
	Signature       solana.Signature
	LastValidHeight uint64
	Timeout         time.Duration
	Commitment      rpc.CommitmentType
}

const (
	defaultStatusPollInterval = 3 * time.Second
	defaultEpochPollInterval  = 2 * time.Second
	defaultConfirmTimeout     = 60 * time.Second
)

// Racer 把签名确认（推送订阅 + 状态轮询兜底）与过期监视 / 壁钟超时竞速。
// 每次 Confirm 自建并拆除自己的订阅，跨调用不共享任何状态。
type Racer struct {
	Status rpccap.StatusFetcher
	Epoch  rpccap.EpochFetcher
	Sigs   rpccap.SignatureSubscriber // 可为 nil，退化为纯轮询
	Slots  rpccap.SlotSubscriber      // 可为 nil

	StatusPollInterval time.Duration
	EpochPollInterval  time.Duration
}

type watchResult struct {
	failed bool        // 交易上链但执行失败
	txErr  interface{} // 失败时链上返回的错误
	err    error       // 监视本身的错误
}

// Confirm 竞速直到终态。所有内部 goroutine / 订阅经由派生 ctx 在每条退出路径上释放。
func (r *Racer) Confirm(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	confirmedCh := make(chan watchResult, 1)
	go r.watchConfirmation(ctx, req, confirmedCh)

	// blockheight 策略：已知 last-valid height 时监视过期；否则退化为纯超时
	expiredCh := make(chan uint64, 1)
	useHeight := req.LastValidHeight > 0 && r.Epoch != nil
	if useHeight {
		w := &heightWatcher{
			epoch:        r.Epoch,
			slots:        r.Slots,
			pollInterval: r.epochPollInterval(),
			commitment:   req.Commitment,
		}
		go w.watch(ctx, req.LastValidHeight, expiredCh)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	sigStr := req.Signature.String()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case res := <-confirmedCh:
		if res.err != nil {
			return &Result{Signature: sigStr, Confirmed: false, Reason: ReasonError, Err: res.err}, nil
		}
		if res.failed {
			return &Result{
				Signature: sigStr,
				Confirmed: false,
				Reason:    ReasonError,
				Err:       fmt.Errorf("transaction failed on chain: %v", res.txErr),
			}, nil
		}
		return &Result{Signature: sigStr, Confirmed: true, Reason: ReasonConfirmed}, nil

	case height := <-expiredCh:
		return &Result{
			Signature: sigStr,
			Confirmed: false,
			Reason:    ReasonBlockHeightExceeded,
			Err: &txerr.ExpiredError{
				Signature:       sigStr,
				LastValidHeight: req.LastValidHeight,
				ObservedHeight:  height,
			},
		}, nil

	case <-timer.C:
		// blockheight 策略下计时器只是安全网；纯超时策略下这就是预期终态
		return &Result{Signature: sigStr, Confirmed: false, Reason: ReasonTimeout}, nil
	}
}

// watchConfirmation 推送订阅与状态轮询双通道监视同一签名，谁先到算谁
func (r *Racer) watchConfirmation(ctx context.Context, req Request, out chan<- watchResult) {
	notifCh := make(chan watchResult, 1)
	if r.Sigs != nil {
		sub, err := r.Sigs.SignatureSubscribe(req.Signature, req.Commitment)
		if err != nil {
			logger.Warnf("[confirm] signature subscribe failed, polling only: %v", err)
		} else {
			defer sub.Unsubscribe()
			go func() {
				res, err := sub.Recv(ctx)
				if err != nil {
					return // 订阅断开由轮询兜底
				}
				if res.Value.Err != nil {
					notifCh <- watchResult{failed: true, txErr: res.Value.Err}
					return
				}
				notifCh <- watchResult{}
			}()
		}
	}

	ticker := time.NewTicker(r.statusPollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-notifCh:
			deliver(ctx, out, res)
			return
		case <-ticker.C:
			res, done := r.pollStatus(ctx, req)
			if done {
				deliver(ctx, out, res)
				return
			}
		}
	}
}

// pollStatus 单次状态查询；done=false 表示尚未到达请求的承诺级别
func (r *Racer) pollStatus(ctx context.Context, req Request) (watchResult, bool) {
	out, err := r.Status.GetSignatureStatuses(ctx, false, req.Signature)
	if err != nil {
		logger.Warnf("[confirm] status poll failed: %v", err)
		return watchResult{}, false
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return watchResult{}, false
	}
	st := out.Value[0]
	if st.Err != nil {
		return watchResult{failed: true, txErr: st.Err}, true
	}
	if reachedCommitment(st.ConfirmationStatus, req.Commitment) {
		return watchResult{}, true
	}
	return watchResult{}, false
}

func reachedCommitment(status rpc.ConfirmationStatusType, commitment rpc.CommitmentType) bool {
	switch commitment {
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	case rpc.CommitmentProcessed:
		return status != ""
	default: // confirmed
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	}
}

func deliver(ctx context.Context, out chan<- watchResult, res watchResult) {
	select {
	case out <- res:
	case <-ctx.Done():
	}
}

func (r *Racer) statusPollInterval() time.Duration {
	if r.StatusPollInterval > 0 {
		return r.StatusPollInterval
	}
	return defaultStatusPollInterval
}

func (r *Racer) epochPollInterval() time.Duration {
	if r.EpochPollInterval > 0 {
		return r.EpochPollInterval
	}
	return defaultEpochPollInterval
}
