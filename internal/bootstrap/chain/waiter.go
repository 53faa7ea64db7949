package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	// DefaultPollInterval is the delay between receipt polls.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultSettleDelay is held after a receipt appears before it is returned.
	DefaultSettleDelay = 200 * time.Millisecond
	// DefaultConfirmationTimeout bounds a single wait.
	DefaultConfirmationTimeout = 10 * time.Minute
)

// WaiterConfig configures a Waiter. Zero durations take the defaults; a negative Timeout
// disables the deadline.
type WaiterConfig struct {
	PollInterval time.Duration
	SettleDelay  time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
	Metrics      *Metrics
}

// Waiter blocks until a submitted transaction has a receipt.
type Waiter struct {
	reader       ReceiptReader
	pollInterval time.Duration
	settleDelay  time.Duration
	timeout      time.Duration
	logger       *slog.Logger
	metrics      *Metrics
}

// NewWaiter creates a waiter polling reader.
func NewWaiter(reader ReceiptReader, cfg WaiterConfig) *Waiter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfirmationTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{
		reader:       reader,
		pollInterval: cfg.PollInterval,
		settleDelay:  cfg.SettleDelay,
		timeout:      cfg.Timeout,
		logger:       logger,
		metrics:      cfg.Metrics,
	}
}

// Await polls for the receipt of hash, then holds for the settle delay. A missing receipt is
// not an error; any other RPC failure is returned without retry. When the deadline passes the
// error matches ErrConfirmationTimeout.
func (w *Waiter) Await(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		polls++
		w.metrics.observePoll()

		receipt, err := w.reader.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			w.logger.Debug("receipt observed",
				slog.String("tx_hash", hash.Hex()),
				slog.Int("polls", polls),
				slog.Uint64("status", receipt.Status),
			)
			if err := w.settle(ctx); err != nil {
				return nil, err
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if waitCtx.Err() != nil {
				return nil, w.expired(ctx, hash)
			}
			return nil, &TransportError{Op: "get receipt " + hash.Hex(), Err: err}
		}

		select {
		case <-waitCtx.Done():
			return nil, w.expired(ctx, hash)
		case <-ticker.C:
		}
	}
}

func (w *Waiter) settle(ctx context.Context) error {
	if w.settleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(w.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Waiter) expired(parent context.Context, hash common.Hash) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s not mined after %s", ErrConfirmationTimeout, hash.Hex(), w.timeout)
}
