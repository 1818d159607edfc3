package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr-tron/base58"

	"github.com/stevesarmiento/pipeit/internal/txerr"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// JitoClient bundle relay 的 JSON-RPC 客户端（sendBundle / getBundleStatuses）
type JitoClient struct {
	url          string
	httpClient   *http.Client
	pollInterval time.Duration
	timeout      time.Duration
}

func NewJitoClient(cfg ResolvedJitoConfig) *JitoClient {
	return &JitoClient{
		url:          cfg.BlockEngineURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
	}
}

type jsonrpcRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonrpcError   `json:"error"`
}

type bundleStatus struct {
	BundleID           string      `json:"bundle_id"`
	Transactions       []string    `json:"transactions"`
	Slot               uint64      `json:"slot"`
	ConfirmationStatus string      `json:"confirmation_status"`
	Err                interface{} `json:"err"`
}

type bundleStatusesResult struct {
	Value []*bundleStatus `json:"value"`
}

func (c *JitoClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(jsonrpcRequest{Jsonrpc: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &txerr.NetworkError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &txerr.NetworkError{Op: method, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &txerr.NetworkError{Op: method, Err: fmt.Errorf("http %d: %s", resp.StatusCode, data)}
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return &txerr.BundleRelayError{Status: "rejected", Message: fmt.Sprintf("%s: [%d] %s", method, rpcResp.Error.Code, rpcResp.Error.Message)}
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// SendBundle 把已签名交易按 base58 编码提交为单个 bundle，返回 bundle id
func (c *JitoClient) SendBundle(ctx context.Context, rawTxs [][]byte) (string, error) {
	encoded := make([]string, len(rawTxs))
	for i, raw := range rawTxs {
		encoded[i] = base58.Encode(raw)
	}

	var bundleID string
	if err := c.call(ctx, "sendBundle", []interface{}{encoded}, &bundleID); err != nil {
		return "", err
	}
	logger.Debugf("[exec] bundle submitted: %s (%d txs)", bundleID, len(rawTxs))
	return bundleID, nil
}

// WaitBundle 轮询 bundle 状态直到终态（confirmed/finalized 成功，failed 失败）或超时
func (c *JitoClient) WaitBundle(ctx context.Context, bundleID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return &txerr.BundleRelayError{BundleID: bundleID, Status: "timeout", Message: "bundle not landed within timeout"}
			}
			return ctx.Err()
		case <-ticker.C:
			var res bundleStatusesResult
			if err := c.call(ctx, "getBundleStatuses", []interface{}{[]string{bundleID}}, &res); err != nil {
				logger.Warnf("[exec] bundle status poll failed: %v", err)
				continue
			}
			if len(res.Value) == 0 || res.Value[0] == nil {
				continue // relay 还未收录，继续等
			}
			st := res.Value[0]
			if st.Err != nil && !isOkErrField(st.Err) {
				return &txerr.BundleRelayError{BundleID: bundleID, Status: "failed", Message: fmt.Sprintf("%v", st.Err)}
			}
			switch st.ConfirmationStatus {
			case "confirmed", "finalized":
				return nil
			}
		}
	}
}

// isOkErrField relay 的 err 字段成功时形如 {"Ok": null}
func isOkErrField(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	val, exists := m["Ok"]
	return exists && val == nil
}
