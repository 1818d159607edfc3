package diagnose

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stevesarmiento/pipeit/internal/txerr"
)

func TestClassifyNil(t *testing.T) {
	require.Nil(t, Classify(nil))
}

func TestClassifySizeErrors(t *testing.T) {
	rep := Classify(&txerr.TooLargeError{Size: 1400, Limit: 1232})
	require.Equal(t, CategoryTransactionTooLarge, rep.Category)
	require.Contains(t, rep.Suggestion, "lookup tables")

	rep = Classify(&txerr.InstructionTooLargeError{Index: 2, Size: 1500, Limit: 1232})
	require.Equal(t, CategoryTransactionTooLarge, rep.Category)

	rep = Classify(&txerr.AtomicGroupTooLargeError{Name: "flash-loan", Size: 1400, Limit: 1232})
	require.Equal(t, CategoryTransactionTooLarge, rep.Category)
	require.Contains(t, rep.Summary, "flash-loan")
}

func TestClassifyWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("flow swap: batch flush failed: %w",
		&txerr.ExpiredError{LastValidHeight: 100, ObservedHeight: 105})
	rep := Classify(wrapped)
	require.Equal(t, CategoryBlockhashExpired, rep.Category)
}

func TestClassifySimulationErrorRefinesFromLogs(t *testing.T) {
	rep := Classify(&txerr.SimulationError{
		RawErr: map[string]interface{}{
			"InstructionError": []interface{}{float64(1), map[string]interface{}{"Custom": float64(6000)}},
		},
		Logs: []string{
			"Program 11111111111111111111111111111111 invoke [1]",
			"Transfer: insufficient lamports 5000, need 10000",
		},
	})
	require.Equal(t, CategoryInsufficientFunds, rep.Category)
	require.Len(t, rep.Logs, 2)
	require.NotNil(t, rep.InstructionIndex)
	require.Equal(t, 1, *rep.InstructionIndex)
	require.NotNil(t, rep.ErrorCode)
	require.Equal(t, uint32(6000), *rep.ErrorCode)
}

func TestClassifySimulationErrorWithoutHints(t *testing.T) {
	rep := Classify(&txerr.SimulationError{
		RawErr: "AccountLoadedTwice",
		Logs:   []string{"Program log: something opaque"},
	})
	require.Equal(t, CategorySimulationFailed, rep.Category)
	require.Nil(t, rep.InstructionIndex)
	require.Nil(t, rep.ErrorCode)
}

func TestClassifyDeliveryErrors(t *testing.T) {
	rep := Classify(&txerr.AggregateSubmitError{Failures: []txerr.EndpointFailure{
		{Endpoint: "rpc-1", Err: errors.New("429")},
		{Endpoint: "rpc-2", Err: errors.New("503")},
	}})
	require.Equal(t, CategoryParallelSubmission, rep.Category)
	require.Contains(t, rep.Summary, "2 parallel endpoints")

	rep = Classify(&txerr.LeaderSubmitError{Code: txerr.LeaderCodeRateLimited, Retryable: true})
	require.Equal(t, CategoryLeaderSubmission, rep.Category)
	require.Contains(t, rep.Summary, "RATE_LIMITED")
	require.Contains(t, rep.Suggestion, "retry")

	rep = Classify(&txerr.LeaderSubmitError{Code: txerr.LeaderCodeUnreachable, Retryable: false})
	require.Contains(t, rep.Suggestion, "non-retryable")

	rep = Classify(&txerr.BundleRelayError{BundleID: "b1", Status: "failed", Message: "tip too low"})
	require.Equal(t, CategoryBundleRelay, rep.Category)

	rep = Classify(&txerr.ExecutionStrategyError{PathErrors: map[string]error{"rpc": errors.New("down")}})
	require.Equal(t, CategoryExecutionStrategy, rep.Category)

	rep = Classify(&txerr.NetworkError{Op: "sendTransaction", Err: errors.New("timeout")})
	require.Equal(t, CategoryNetworkError, rep.Category)
}

func TestClassifyTextHeuristics(t *testing.T) {
	cases := []struct {
		text string
		want Category
	}{
		{"account Abc123 already in use", CategoryAccountInUse},
		{"invalid program id for instruction", CategoryInvalidProgram},
		{"User rejected the request", CategorySignatureRejected},
		{"could not find account XYZ", CategoryAccountNotFound},
		{"Blockhash not found", CategoryBlockhashExpired},
		{"insufficient funds for rent", CategoryInsufficientFunds},
		{"entirely novel failure mode", CategoryUnknown},
	}
	for _, tc := range cases {
		rep := Classify(errors.New(tc.text))
		require.Equal(t, tc.want, rep.Category, "text: %s", tc.text)
	}
}

func TestParseInstructionError(t *testing.T) {
	idx, code := parseInstructionError(map[string]interface{}{
		"InstructionError": []interface{}{float64(3), map[string]interface{}{"Custom": float64(42)}},
	})
	require.NotNil(t, idx)
	require.Equal(t, 3, *idx)
	require.NotNil(t, code)
	require.Equal(t, uint32(42), *code)

	// 非 Custom 形态只取序号
	idx, code = parseInstructionError(map[string]interface{}{
		"InstructionError": []interface{}{float64(0), "PrivilegeEscalation"},
	})
	require.NotNil(t, idx)
	require.Nil(t, code)

	idx, code = parseInstructionError("AccountInUse")
	require.Nil(t, idx)
	require.Nil(t, code)
}
