package exec

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/stevesarmiento/pipeit/internal/txerr"
)

// fakeRawSender 可注入时延与错误的端点替身
type fakeRawSender struct {
	sig   solana.Signature
	delay time.Duration
	err   error
	calls int32
}

func (f *fakeRawSender) SendRawTransactionWithOpts(ctx context.Context, raw []byte, opts rpc.TransactionOpts) (solana.Signature, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return solana.Signature{}, ctx.Err()
		}
	}
	if f.err != nil {
		return solana.Signature{}, f.err
	}
	return f.sig, nil
}

func sigWithByte(b byte) solana.Signature {
	var s solana.Signature
	s[0] = b
	return s
}

func TestRaceSubmitFastEndpointWins(t *testing.T) {
	fast := &fakeRawSender{sig: sigWithByte(1), delay: time.Millisecond}
	slow := &fakeRawSender{sig: sigWithByte(2), delay: 200 * time.Millisecond}

	clients := []endpointClient{
		{name: "slow", sender: slow},
		{name: "fast", sender: fast},
	}
	sig, endpoint, err := raceSubmit(context.Background(), clients, []byte{1})
	require.NoError(t, err)
	require.Equal(t, "fast", endpoint)
	require.Equal(t, sigWithByte(1), sig)
}

func TestRaceSubmitFallsThroughToSlowSuccess(t *testing.T) {
	failing := &fakeRawSender{err: errors.New("connection refused")}
	slow := &fakeRawSender{sig: sigWithByte(3), delay: 10 * time.Millisecond}

	clients := []endpointClient{
		{name: "failing", sender: failing},
		{name: "slow", sender: slow},
	}
	sig, endpoint, err := raceSubmit(context.Background(), clients, []byte{1})
	require.NoError(t, err)
	require.Equal(t, "slow", endpoint)
	require.Equal(t, sigWithByte(3), sig)
}

func TestRaceSubmitAllFailAggregates(t *testing.T) {
	clients := []endpointClient{
		{name: "rpc-1", sender: &fakeRawSender{err: errors.New("boom-1")}},
		{name: "rpc-2", sender: &fakeRawSender{err: errors.New("boom-2")}},
	}
	_, _, err := raceSubmit(context.Background(), clients, []byte{1})

	var agg *txerr.AggregateSubmitError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Failures, 2)

	seen := map[string]bool{}
	for _, f := range agg.Failures {
		require.Error(t, f.Err)
		seen[f.Endpoint] = true
	}
	require.True(t, seen["rpc-1"])
	require.True(t, seen["rpc-2"])
}

func TestRaceSubmitNoEndpoints(t *testing.T) {
	_, _, err := raceSubmit(context.Background(), nil, []byte{1})
	require.ErrorIs(t, err, txerr.ErrNoPathEnabled)
}

func TestRaceSubmitContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hung := &fakeRawSender{delay: time.Minute}
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, _, err := raceSubmit(ctx, []endpointClient{{name: "hung", sender: hung}}, []byte{1})
	require.ErrorIs(t, err, context.Canceled)
}
