package txerr

import (
	"errors"
	"fmt"
)

// 结构性校验错误：在任何网络调用之前同步抛出
var (
	ErrMissingFeePayer  = errors.New("transaction missing fee payer")
	ErrMissingLifetime  = errors.New("transaction missing lifetime (blockhash or durable nonce)")
	ErrFlowAlreadyRun   = errors.New("flow instance already executed, create a new one")
	ErrNoPathEnabled    = errors.New("no delivery path enabled in resolved execution config")
	ErrSignerNotLoaded  = errors.New("signer private key not loaded")
	ErrLeaderNotReady   = errors.New("leader sender handle not ready")
	ErrNonceUnavailable = errors.New("durable nonce value unavailable")
)

// TooLargeError 表示整笔交易序列化后超出线级字节上限（1232）
type TooLargeError struct {
	Size  int
	Limit int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("transaction too large: %d bytes > limit %d", e.Size, e.Limit)
}

// InstructionTooLargeError 表示单条指令在空消息中也放不下，属于配置级致命错误
type InstructionTooLargeError struct {
	Index int // 指令在原始列表中的位置
	Size  int // 仅含该指令的消息大小
	Limit int
}

func (e *InstructionTooLargeError) Error() string {
	return fmt.Sprintf("instruction %d alone exceeds wire budget: %d bytes > limit %d", e.Index, e.Size, e.Limit)
}

// AtomicGroupTooLargeError 原子组必须落在同一笔交易里，放不下时不做二分，直接硬错
type AtomicGroupTooLargeError struct {
	Name  string
	Size  int
	Limit int
}

func (e *AtomicGroupTooLargeError) Error() string {
	return fmt.Sprintf("atomic group %q exceeds wire budget: %d bytes > limit %d", e.Name, e.Size, e.Limit)
}

// SimulationError 预检模拟失败，附带程序日志
type SimulationError struct {
	RawErr        interface{} // RPC 返回的原始 err 字段
	Logs          []string
	UnitsConsumed uint64
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed: %v (%d log lines)", e.RawErr, len(e.Logs))
}

// ExpiredError 交易生命周期已过期（blockhash 失效 / 超过 last-valid height）
type ExpiredError struct {
	Signature       string
	LastValidHeight uint64
	ObservedHeight  uint64
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("transaction %s expired: height %d > last valid %d",
		e.Signature, e.ObservedHeight, e.LastValidHeight)
}

// NetworkError 传输层瞬时错误，可重试
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// EndpointFailure 并行广播时单个端点的失败明细
type EndpointFailure struct {
	Endpoint string
	Err      error
}

// AggregateSubmitError 并行广播全部端点失败时抛出，逐端点携带失败原因
type AggregateSubmitError struct {
	Failures []EndpointFailure
}

func (e *AggregateSubmitError) Error() string {
	return fmt.Sprintf("all %d parallel endpoints failed to accept transaction", len(e.Failures))
}

// 直连 leader 提交的错误码固定分类表
const (
	LeaderCodeConnectionFailed  = "CONNECTION_FAILED"
	LeaderCodeStreamClosed      = "STREAM_CLOSED"
	LeaderCodeRateLimited       = "RATE_LIMITED"
	LeaderCodeTimeout           = "TIMEOUT"
	LeaderCodeNoLeaders         = "NO_LEADERS"
	LeaderCodeUnreachable       = "UNREACHABLE"
	LeaderCodeHandshakeRejected = "HANDSHAKE_REJECTED"
)

var retryableLeaderCodes = map[string]bool{
	LeaderCodeConnectionFailed:  true,
	LeaderCodeStreamClosed:      true,
	LeaderCodeRateLimited:       true,
	LeaderCodeTimeout:           true,
	LeaderCodeNoLeaders:         false,
	LeaderCodeUnreachable:       false,
	LeaderCodeHandshakeRejected: false,
}

// IsRetryableLeaderCode 未知错误码按不可重试处理
func IsRetryableLeaderCode(code string) bool {
	return retryableLeaderCodes[code]
}

// LeaderSubmitError 直连 leader 提交失败
type LeaderSubmitError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *LeaderSubmitError) Error() string {
	return fmt.Sprintf("leader submission failed [%s]: %s", e.Code, e.Message)
}

// BundleRelayError bundle relay 接口返回的终态失败
type BundleRelayError struct {
	BundleID string
	Status   string
	Message  string
}

func (e *BundleRelayError) Error() string {
	return fmt.Sprintf("bundle %s terminal status %s: %s", e.BundleID, e.Status, e.Message)
}

// ExecutionStrategyError 所有启用的投递路径都失败
type ExecutionStrategyError struct {
	PathErrors map[string]error // path 名 -> 该路径的失败原因
}

func (e *ExecutionStrategyError) Error() string {
	return fmt.Sprintf("all %d delivery paths failed", len(e.PathErrors))
}

// IsTooLarge 判断错误链上是否存在尺寸超限（整笔或原子组）
func IsTooLarge(err error) bool {
	var tl *TooLargeError
	var ag *AtomicGroupTooLargeError
	return errors.As(err, &tl) || errors.As(err, &ag)
}

// IsRetryable 判断是否属于构建器重试循环可以吞掉的瞬时错误：
// 网络抖动、blockhash 过期、可重试的 leader 错误码。
// 尺寸类 / 结构校验类错误从不重试，交由 Flow 的结构化恢复处理。
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var ee *ExpiredError
	if errors.As(err, &ee) {
		return true
	}
	var le *LeaderSubmitError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}
