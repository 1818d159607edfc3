package exec

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/stevesarmiento/pipeit/internal/rpccap"
	"github.com/stevesarmiento/pipeit/internal/txerr"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

// endpointClient 并行广播中的单个投递端点
type endpointClient struct {
	name   string
	sender rpccap.RawTxSender
}

// newEndpointClients 为每个配置的端点建立独立 RPC 客户端
func newEndpointClients(endpoints []string) []endpointClient {
	clients := make([]endpointClient, 0, len(endpoints))
	for _, ep := range endpoints {
		clients = append(clients, endpointClient{name: ep, sender: rpc.New(ep)})
	}
	return clients
}

type raceOutcome struct {
	sig      solana.Signature
	endpoint string
	err      error
}

// raceSubmit 把同一份已签名交易并发投给全部端点，首个成功者胜出。
// 全部失败时返回 AggregateSubmitError，逐端点携带失败原因。
// 胜出后不取消落后者：重复广播同一签名是无害的。
func raceSubmit(ctx context.Context, clients []endpointClient, raw []byte) (solana.Signature, string, error) {
	if len(clients) == 0 {
		return solana.Signature{}, "", txerr.ErrNoPathEnabled
	}

	// 缓冲到端点数，落后者发送结果时不会阻塞泄漏
	outcomes := make(chan raceOutcome, len(clients))
	for _, c := range clients {
		c := c
		go func() {
			sig, err := c.sender.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
				SkipPreflight: true,
			})
			outcomes <- raceOutcome{sig: sig, endpoint: c.name, err: err}
		}()
	}

	var failures []txerr.EndpointFailure
	for i := 0; i < len(clients); i++ {
		select {
		case <-ctx.Done():
			return solana.Signature{}, "", ctx.Err()
		case o := <-outcomes:
			if o.err == nil {
				return o.sig, o.endpoint, nil
			}
			logger.Debugf("[exec] parallel endpoint %s rejected: %v", o.endpoint, o.err)
			failures = append(failures, txerr.EndpointFailure{Endpoint: o.endpoint, Err: o.err})
		}
	}

	return solana.Signature{}, "", &txerr.AggregateSubmitError{Failures: failures}
}
