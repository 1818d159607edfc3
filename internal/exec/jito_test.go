package exec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stevesarmiento/pipeit/internal/txerr"
)

// newRelayServer 模拟 block engine：sendBundle 返回固定 id，
// getBundleStatuses 按注入的状态序列逐次出队。
func newRelayServer(t *testing.T, bundleID string, statuses []*bundleStatus) *httptest.Server {
	t.Helper()
	var polls int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "sendBundle":
			resp, _ := json.Marshal(map[string]interface{}{"result": bundleID})
			w.Write(resp)
		case "getBundleStatuses":
			n := atomic.AddInt32(&polls, 1)
			idx := int(n) - 1
			if idx >= len(statuses) {
				idx = len(statuses) - 1
			}
			resp, _ := json.Marshal(map[string]interface{}{
				"result": bundleStatusesResult{Value: []*bundleStatus{statuses[idx]}},
			})
			w.Write(resp)
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}
	}))
}

func newTestJitoClient(url string) *JitoClient {
	return NewJitoClient(ResolvedJitoConfig{
		Enable:         true,
		BlockEngineURL: url,
		PollInterval:   2 * time.Millisecond,
		Timeout:        time.Second,
	})
}

func TestJitoSendAndWaitBundle(t *testing.T) {
	srv := newRelayServer(t, "bundle-abc", []*bundleStatus{
		nil, // relay 尚未收录
		{BundleID: "bundle-abc", ConfirmationStatus: "processed"},
		{BundleID: "bundle-abc", ConfirmationStatus: "confirmed", Err: map[string]interface{}{"Ok": nil}},
	})
	defer srv.Close()

	c := newTestJitoClient(srv.URL)
	id, err := c.SendBundle(context.Background(), [][]byte{{1, 2, 3}})
	require.NoError(t, err)
	require.Equal(t, "bundle-abc", id)
	require.NoError(t, c.WaitBundle(context.Background(), id))
}

func TestJitoWaitBundleFailedStatus(t *testing.T) {
	srv := newRelayServer(t, "bundle-bad", []*bundleStatus{
		{BundleID: "bundle-bad", Err: map[string]interface{}{"BundleError": "tip too low"}},
	})
	defer srv.Close()

	c := newTestJitoClient(srv.URL)
	err := c.WaitBundle(context.Background(), "bundle-bad")

	var relay *txerr.BundleRelayError
	require.ErrorAs(t, err, &relay)
	require.Equal(t, "failed", relay.Status)
	require.Equal(t, "bundle-bad", relay.BundleID)
}

func TestJitoWaitBundleTimeout(t *testing.T) {
	srv := newRelayServer(t, "bundle-slow", []*bundleStatus{
		{BundleID: "bundle-slow", ConfirmationStatus: "processed"},
	})
	defer srv.Close()

	c := NewJitoClient(ResolvedJitoConfig{
		BlockEngineURL: srv.URL,
		PollInterval:   2 * time.Millisecond,
		Timeout:        20 * time.Millisecond,
	})
	err := c.WaitBundle(context.Background(), "bundle-slow")

	var relay *txerr.BundleRelayError
	require.ErrorAs(t, err, &relay)
	require.Equal(t, "timeout", relay.Status)
}

func TestJitoSendBundleRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, _ := json.Marshal(map[string]interface{}{
			"error": map[string]interface{}{"code": -32600, "message": "bundle too big"},
		})
		w.Write(resp)
	}))
	defer srv.Close()

	c := newTestJitoClient(srv.URL)
	_, err := c.SendBundle(context.Background(), [][]byte{{1}})

	var relay *txerr.BundleRelayError
	require.ErrorAs(t, err, &relay)
	require.Equal(t, "rejected", relay.Status)
}

func TestIsOkErrField(t *testing.T) {
	require.True(t, isOkErrField(map[string]interface{}{"Ok": nil}))
	require.False(t, isOkErrField(map[string]interface{}{"BundleError": "x"}))
	require.False(t, isOkErrField("failed"))
	require.False(t, isOkErrField(nil))
}
