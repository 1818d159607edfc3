// Package diagnose 把底层错误归类为面向人的诊断报告。
// 纯函数、无副作用，只用于展示，绝不参与控制流。
package diagnose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stevesarmiento/pipeit/internal/txerr"
)

// Category 固定的失败分类
type Category string

const (
	CategoryInsufficientFunds   Category = "insufficient_funds"
	CategoryTransactionTooLarge Category = "transaction_too_large"
	CategorySignatureRejected   Category = "signature_rejected"
	CategoryAccountNotFound     Category = "account_not_found"
	CategoryAccountInUse        Category = "account_in_use"
	CategoryInvalidProgram      Category = "invalid_program"
	CategoryBlockhashExpired    Category = "blockhash_expired"
	CategorySimulationFailed    Category = "simulation_failed"
	CategoryNetworkError        Category = "network_error"
	CategoryLeaderSubmission    Category = "leader_submission"
	CategoryParallelSubmission  Category = "parallel_submission"
	CategoryExecutionStrategy   Category = "execution_strategy"
	CategoryBundleRelay         Category = "bundle_relay"
	CategoryUnknown             Category = "unknown"
)

// Report 诊断结果
type Report struct {
	Category         Category
	Summary          string
	Details          string
	Suggestion       string
	Logs             []string // 模拟失败时的程序日志
	InstructionIndex *int     // 链上 InstructionError 指向的指令序号
	ErrorCode        *uint32  // 程序自定义错误码
}

// Classify 先按已知错误类型匹配，失败后对错误文本与程序日志做子串启发式
func Classify(err error) *Report {
	if err == nil {
		return nil
	}

	var tooLarge *txerr.TooLargeError
	if errors.As(err, &tooLarge) {
		return &Report{
			Category:   CategoryTransactionTooLarge,
			Summary:    "transaction exceeds the 1232-byte wire limit",
			Details:    err.Error(),
			Suggestion: "split instructions across transactions, or supply address lookup tables to compress account references",
		}
	}
	var ixTooLarge *txerr.InstructionTooLargeError
	if errors.As(err, &ixTooLarge) {
		return &Report{
			Category:   CategoryTransactionTooLarge,
			Summary:    "a single instruction exceeds the wire limit on its own",
			Details:    err.Error(),
			Suggestion: "reduce the instruction payload; no packing strategy can fit it",
		}
	}
	var atomicTooLarge *txerr.AtomicGroupTooLargeError
	if errors.As(err, &atomicTooLarge) {
		return &Report{
			Category:   CategoryTransactionTooLarge,
			Summary:    fmt.Sprintf("atomic group %q does not fit in one transaction", atomicTooLarge.Name),
			Details:    err.Error(),
			Suggestion: "atomic groups are never split; shrink the group or compress accounts with lookup tables",
		}
	}
	var expired *txerr.ExpiredError
	if errors.As(err, &expired) {
		return &Report{
			Category:   CategoryBlockhashExpired,
			Summary:    "transaction lifetime expired before confirmation",
			Details:    err.Error(),
			Suggestion: "rebuild with a fresh blockhash; consider a faster delivery preset or a durable nonce",
		}
	}
	var sim *txerr.SimulationError
	if errors.As(err, &sim) {
		rep := &Report{
			Category:   CategorySimulationFailed,
			Summary:    "preflight simulation failed",
			Details:    err.Error(),
			Suggestion: "inspect the program logs below for the failing instruction",
			Logs:       sim.Logs,
		}
		refineFromLogs(rep, sim.Logs)
		idx, code := parseInstructionError(sim.RawErr)
		rep.InstructionIndex = idx
		rep.ErrorCode = code
		return rep
	}
	var agg *txerr.AggregateSubmitError
	if errors.As(err, &agg) {
		return &Report{
			Category:   CategoryParallelSubmission,
			Summary:    fmt.Sprintf("all %d parallel endpoints rejected the transaction", len(agg.Failures)),
			Details:    err.Error(),
			Suggestion: "check endpoint health and quotas; a single healthy endpoint is enough to win the race",
		}
	}
	var leader *txerr.LeaderSubmitError
	if errors.As(err, &leader) {
		suggestion := "leader set may have rotated; retry shortly"
		if !leader.Retryable {
			suggestion = "non-retryable leader error; verify the leader sender deployment and network reachability"
		}
		return &Report{
			Category:   CategoryLeaderSubmission,
			Summary:    fmt.Sprintf("direct leader submission failed with code %s", leader.Code),
			Details:    err.Error(),
			Suggestion: suggestion,
		}
	}
	var bundle *txerr.BundleRelayError
	if errors.As(err, &bundle) {
		return &Report{
			Category:   CategoryBundleRelay,
			Summary:    fmt.Sprintf("bundle relay reported terminal status %q", bundle.Status),
			Details:    err.Error(),
			Suggestion: "raise the tip amount or fall back to standard RPC delivery",
		}
	}
	var strat *txerr.ExecutionStrategyError
	if errors.As(err, &strat) {
		return &Report{
			Category:   CategoryExecutionStrategy,
			Summary:    "every enabled delivery path failed",
			Details:    err.Error(),
			Suggestion: "inspect per-path errors; consider enabling additional delivery paths",
		}
	}
	var netErr *txerr.NetworkError
	if errors.As(err, &netErr) {
		return &Report{
			Category:   CategoryNetworkError,
			Summary:    "transient network failure",
			Details:    err.Error(),
			Suggestion: "usually resolves on retry; check RPC endpoint availability if it persists",
		}
	}

	// 类型匹配失败，退化为文本启发式
	rep := &Report{
		Category:   CategoryUnknown,
		Summary:    "unclassified error",
		Details:    err.Error(),
		Suggestion: "inspect the raw error details",
	}
	refineFromLogs(rep, []string{err.Error()})
	return rep
}

// refineFromLogs 对程序日志 / 错误文本做子串启发式归类
func refineFromLogs(rep *Report, logs []string) {
	for _, line := range logs {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "insufficient"):
			rep.Category = CategoryInsufficientFunds
			rep.Summary = "an account holds insufficient funds for this operation"
			rep.Suggestion = "top up the fee payer or source account and retry"
			return
		case strings.Contains(lower, "already in use"):
			rep.Category = CategoryAccountInUse
			rep.Summary = "target account address is already initialized"
			rep.Suggestion = "use a fresh account address, or skip creation if the account already exists"
			return
		case strings.Contains(lower, "invalid program"):
			rep.Category = CategoryInvalidProgram
			rep.Summary = "an instruction targets an invalid or non-executable program"
			rep.Suggestion = "verify the program id against the target cluster"
			return
		case strings.Contains(lower, "user rejected"), strings.Contains(lower, "rejected the request"):
			rep.Category = CategorySignatureRejected
			rep.Summary = "the signer declined to sign"
			rep.Suggestion = "no remediation; the user cancelled the operation"
			return
		case strings.Contains(lower, "could not find account"), strings.Contains(lower, "accountnotfound"):
			rep.Category = CategoryAccountNotFound
			rep.Summary = "a referenced account does not exist"
			rep.Suggestion = "ensure the account is created and funded before this instruction runs"
			return
		case strings.Contains(lower, "blockhash not found"):
			rep.Category = CategoryBlockhashExpired
			rep.Summary = "the recent blockhash is no longer valid"
			rep.Suggestion = "rebuild with a fresh blockhash"
			return
		}
	}
}

// parseInstructionError 解析链上 err 字段的 InstructionError 形态：
// {"InstructionError": [index, {"Custom": code} | "..."]}
func parseInstructionError(raw interface{}) (*int, *uint32) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	arr, ok := m["InstructionError"].([]interface{})
	if !ok || len(arr) != 2 {
		return nil, nil
	}

	var idx *int
	if f, ok := arr[0].(float64); ok {
		i := int(f)
		idx = &i
	}

	var code *uint32
	if inner, ok := arr[1].(map[string]interface{}); ok {
		if c, ok := inner["Custom"].(float64); ok {
			u := uint32(c)
			code = &u
		}
	}
	return idx, code
}
