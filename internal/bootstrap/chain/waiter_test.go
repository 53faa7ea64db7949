package chain

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReader struct {
	mu      sync.Mutex
	empty   int
	polls   int
	err     error
	receipt *types.Receipt
}

func (r *scriptedReader) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	if r.err != nil {
		return nil, r.err
	}
	if r.receipt == nil || r.polls <= r.empty {
		return nil, ethereum.NotFound
	}
	return r.receipt, nil
}

func (r *scriptedReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls
}

func quietWaiter(reader ReceiptReader, cfg WaiterConfig) *Waiter {
	cfg.Logger = slog.New(slog.DiscardHandler)
	return NewWaiter(reader, cfg)
}

func TestNewWaiter_Defaults(t *testing.T) {
	w := NewWaiter(&scriptedReader{}, WaiterConfig{})
	assert.Equal(t, DefaultPollInterval, w.pollInterval)
	assert.Equal(t, DefaultSettleDelay, w.settleDelay)
	assert.Equal(t, DefaultConfirmationTimeout, w.timeout)

	w = NewWaiter(&scriptedReader{}, WaiterConfig{SettleDelay: -1, Timeout: -1})
	assert.Zero(t, w.settleDelay)
	assert.Negative(t, w.timeout)
}

func TestWaiter_PollsUntilReceipt(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)}

	for _, empty := range []int{0, 1, 5} {
		reader := &scriptedReader{empty: empty, receipt: receipt}
		w := quietWaiter(reader, WaiterConfig{PollInterval: time.Millisecond, SettleDelay: -1})

		got, err := w.Await(context.Background(), common.HexToHash("0x01"))
		require.NoError(t, err)
		assert.Same(t, receipt, got)
		assert.GreaterOrEqual(t, reader.count(), empty+1)
	}
}

func TestWaiter_HoldsSettleDelay(t *testing.T) {
	reader := &scriptedReader{receipt: &types.Receipt{}}
	w := quietWaiter(reader, WaiterConfig{PollInterval: time.Millisecond, SettleDelay: 30 * time.Millisecond})

	start := time.Now()
	_, err := w.Await(context.Background(), common.Hash{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaiter_Timeout(t *testing.T) {
	reader := &scriptedReader{}
	w := quietWaiter(reader, WaiterConfig{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond})

	hash := common.HexToHash("0xabc")
	_, err := w.Await(context.Background(), hash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfirmationTimeout))
	assert.Contains(t, err.Error(), hash.Hex())
	assert.Greater(t, reader.count(), 1)
}

func TestWaiter_ParentCancellation(t *testing.T) {
	reader := &scriptedReader{}
	w := quietWaiter(reader, WaiterConfig{PollInterval: time.Millisecond, Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := w.Await(ctx, common.Hash{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrConfirmationTimeout))
}

func TestWaiter_TransportErrorNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	reader := &scriptedReader{err: boom}
	w := quietWaiter(reader, WaiterConfig{PollInterval: time.Millisecond})

	_, err := w.Await(context.Background(), common.Hash{})
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, reader.count())
}
