// Package liquidity seeds Uniswap V2 style pools and records their pair addresses.
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/contracts"
	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
)

// ErrPairNotFound is returned when the factory has no pair for two tokens.
var ErrPairNotFound = errors.New("liquidity: factory has no pair")

// DefaultDeadline is added to the current time for the router deadline.
const DefaultDeadline = time.Hour

// DefaultApprovalAmount is granted to the router when a token has no allowance (1e28).
var DefaultApprovalAmount, _ = new(big.Int).SetString("10000000000000000000000000000", 10)

// minAmount is the minimum accepted for each side of an addLiquidity call.
var minAmount = big.NewInt(1)

// Pair describes a pool to create.
type Pair struct {
	Name    string
	TokenA  string
	TokenB  string
	AmountA *big.Int
	AmountB *big.Int
}

// Config configures a Bootstrapper.
type Config struct {
	Router         common.Address
	Factory        common.Address
	ApprovalAmount *big.Int
	Deadline       time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Bootstrapper approves the router, adds liquidity and records the resulting pool.
type Bootstrapper struct {
	tx  *chain.Transactor
	reg *registry.Registry
	cfg Config

	mu       sync.Mutex
	approved map[common.Address]bool
	logger   *slog.Logger
}

// New creates a bootstrapper.
func New(tx *chain.Transactor, reg *registry.Registry, cfg Config) *Bootstrapper {
	if cfg.ApprovalAmount == nil {
		cfg.ApprovalAmount = DefaultApprovalAmount
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{
		tx:       tx,
		reg:      reg,
		cfg:      cfg,
		approved: make(map[common.Address]bool),
		logger:   logger,
	}
}

// EnsurePair makes sure both tokens are approved, adds the initial liquidity, then reads the
// pair address from the factory and records it under pair.Name.
func (b *Bootstrapper) EnsurePair(ctx context.Context, pair Pair) (common.Address, error) {
	tokenA, err := b.reg.Get(pair.TokenA)
	if err != nil {
		return common.Address{}, err
	}
	tokenB, err := b.reg.Get(pair.TokenB)
	if err != nil {
		return common.Address{}, err
	}

	origin := "liquidity " + pair.Name
	if err := b.EnsureAllowance(ctx, origin, pair.TokenA, tokenA); err != nil {
		return common.Address{}, err
	}
	if err := b.EnsureAllowance(ctx, origin, pair.TokenB, tokenB); err != nil {
		return common.Address{}, err
	}

	deadline := big.NewInt(b.cfg.Now().Add(b.cfg.Deadline).Unix())
	data, err := contracts.FuncAddLiquidity.EncodeArgs(
		tokenA, tokenB,
		pair.AmountA, pair.AmountB,
		minAmount, minAmount,
		b.tx.From(),
		deadline,
	)
	if err != nil {
		return common.Address{}, fmt.Errorf("encode addLiquidity for %s: %w", pair.Name, err)
	}

	b.logger.Info("adding liquidity",
		slog.String("pair", pair.Name),
		slog.String("token_a", pair.TokenA),
		slog.String("token_b", pair.TokenB),
		slog.String("amount_a", pair.AmountA.String()),
		slog.String("amount_b", pair.AmountB.String()),
	)

	if _, err := b.tx.Transact(ctx, origin, b.cfg.Router, data, nil); err != nil {
		return common.Address{}, fmt.Errorf("add liquidity %s: %w", pair.Name, err)
	}

	return b.record(ctx, pair, tokenA, tokenB)
}

// Lookup reads an existing pair from the factory and records it without sending anything.
func (b *Bootstrapper) Lookup(ctx context.Context, pair Pair) (common.Address, error) {
	tokenA, err := b.reg.Get(pair.TokenA)
	if err != nil {
		return common.Address{}, err
	}
	tokenB, err := b.reg.Get(pair.TokenB)
	if err != nil {
		return common.Address{}, err
	}
	return b.record(ctx, pair, tokenA, tokenB)
}

func (b *Bootstrapper) record(ctx context.Context, pair Pair, tokenA, tokenB common.Address) (common.Address, error) {
	pool, err := b.getPair(ctx, tokenA, tokenB)
	if err != nil {
		return common.Address{}, fmt.Errorf("get pair %s: %w", pair.Name, err)
	}
	if err := b.reg.Put(pair.Name, pool, registry.CategoryPool); err != nil {
		return common.Address{}, err
	}
	b.logger.Info("pool recorded",
		slog.String("pair", pair.Name),
		slog.String("address", pool.Hex()),
	)
	return pool, nil
}

// EnsureAllowance approves the router for token unless it already has a non-zero allowance.
// Each token is checked at most once per Bootstrapper.
func (b *Bootstrapper) EnsureAllowance(ctx context.Context, origin, symbol string, token common.Address) error {
	b.mu.Lock()
	done := b.approved[token]
	b.mu.Unlock()
	if done {
		return nil
	}

	allowance, err := b.allowance(ctx, token)
	if err != nil {
		return fmt.Errorf("check %s allowance: %w", symbol, err)
	}

	if allowance.Sign() > 0 {
		b.logger.Debug("router already approved",
			slog.String("token", symbol),
			slog.String("allowance", allowance.String()),
		)
	} else {
		data, err := contracts.FuncApprove.EncodeArgs(b.cfg.Router, b.cfg.ApprovalAmount)
		if err != nil {
			return fmt.Errorf("encode approve: %w", err)
		}
		b.logger.Info("approving router",
			slog.String("token", symbol),
			slog.String("router", b.cfg.Router.Hex()),
		)
		if _, err := b.tx.Transact(ctx, origin+" approve "+symbol, token, data, nil); err != nil {
			return fmt.Errorf("approve %s: %w", symbol, err)
		}
	}

	b.mu.Lock()
	b.approved[token] = true
	b.mu.Unlock()
	return nil
}

func (b *Bootstrapper) allowance(ctx context.Context, token common.Address) (*big.Int, error) {
	data, err := contracts.FuncAllowance.EncodeArgs(b.tx.From(), b.cfg.Router)
	if err != nil {
		return nil, err
	}
	out, err := b.tx.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	var allowance *big.Int
	if err := contracts.FuncAllowance.DecodeReturns(out, &allowance); err != nil {
		return nil, fmt.Errorf("decode allowance: %w", err)
	}
	return allowance, nil
}

func (b *Bootstrapper) getPair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	data, err := contracts.FuncGetPair.EncodeArgs(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	out, err := b.tx.Call(ctx, b.cfg.Factory, data)
	if err != nil {
		return common.Address{}, err
	}
	var pool common.Address
	if err := contracts.FuncGetPair.DecodeReturns(out, &pool); err != nil {
		return common.Address{}, fmt.Errorf("decode getPair: %w", err)
	}
	if pool == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrPairNotFound, tokenA.Hex(), tokenB.Hex())
	}
	return pool, nil
}
