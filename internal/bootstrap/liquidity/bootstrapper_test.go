package liquidity

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protoboot/internal/bootstrap/chain/chaintest"
	"github.com/Bidon15/protoboot/internal/bootstrap/contracts"
	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
)

var (
	router  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	factory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	usdt    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bmt     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	pool    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type fixture struct {
	ledger *chaintest.Ledger
	reg    *registry.Registry
	boot   *Bootstrapper
}

func newFixture(t *testing.T, allowances map[common.Address]*big.Int, pairAddr common.Address) *fixture {
	t.Helper()
	ledger := chaintest.NewLedger()
	ledger.HandleCall(contracts.FuncAllowance.Selector, func(msg ethereum.CallMsg) ([]byte, error) {
		allowance := allowances[*msg.To]
		if allowance == nil {
			allowance = new(big.Int)
		}
		return contracts.FuncAllowance.Returns.Pack(allowance)
	})
	ledger.HandleCall(contracts.FuncGetPair.Selector, func(ethereum.CallMsg) ([]byte, error) {
		return contracts.FuncGetPair.Returns.Pack(pairAddr)
	})

	reg := registry.New()
	require.NoError(t, reg.Preseed("USDT", usdt, registry.CategoryToken))
	require.NoError(t, reg.Put("BminingToken", bmt, registry.CategoryContract))

	now := time.Unix(1_700_000_000, 0)
	boot := New(chaintest.NewTransactor(ledger), reg, Config{
		Router:  router,
		Factory: factory,
		Now:     func() time.Time { return now },
		Logger:  chaintest.Logger(),
	})
	return &fixture{ledger: ledger, reg: reg, boot: boot}
}

func bmtPair() Pair {
	return Pair{
		Name:    "BMT_USDT_LP",
		TokenA:  "BminingToken",
		TokenB:  "USDT",
		AmountA: big.NewInt(1_000_000_000_000_000_000),
		AmountB: big.NewInt(1_000_000),
	}
}

func TestEnsurePair_Approvals(t *testing.T) {
	tests := []struct {
		name          string
		allowances    map[common.Address]*big.Int
		wantApprovals []common.Address
	}{
		{
			name:          "both approved already",
			allowances:    map[common.Address]*big.Int{usdt: big.NewInt(1), bmt: big.NewInt(5)},
			wantApprovals: nil,
		},
		{
			name:          "one side has zero allowance",
			allowances:    map[common.Address]*big.Int{usdt: big.NewInt(1)},
			wantApprovals: []common.Address{bmt},
		},
		{
			name:          "neither approved",
			allowances:    map[common.Address]*big.Int{},
			wantApprovals: []common.Address{bmt, usdt},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.allowances, pool)

			got, err := f.boot.EnsurePair(context.Background(), bmtPair())
			require.NoError(t, err)
			assert.Equal(t, pool, got)

			sent := f.ledger.Sent()
			require.Len(t, sent, len(tc.wantApprovals)+1)

			for i, token := range tc.wantApprovals {
				assert.Equal(t, token, *sent[i].To())
				assert.True(t, bytes.HasPrefix(sent[i].Data(), contracts.FuncApprove.Selector[:]))
			}

			last := sent[len(sent)-1]
			assert.Equal(t, router, *last.To())
			assert.True(t, bytes.HasPrefix(last.Data(), contracts.FuncAddLiquidity.Selector[:]))

			addr, err := f.reg.Get("BMT_USDT_LP")
			require.NoError(t, err)
			assert.Equal(t, pool, addr)
		})
	}
}

func TestEnsurePair_AddLiquidityArguments(t *testing.T) {
	f := newFixture(t, map[common.Address]*big.Int{usdt: big.NewInt(1), bmt: big.NewInt(1)}, pool)

	_, err := f.boot.EnsurePair(context.Background(), bmtPair())
	require.NoError(t, err)

	calls := f.ledger.CallsWithSelector(contracts.FuncAddLiquidity.Selector)
	require.Len(t, calls, 1)

	var (
		tokenA, tokenB, to                common.Address
		amountA, amountB, minA, minB, ddl *big.Int
	)
	require.NoError(t, contracts.FuncAddLiquidity.DecodeArgs(calls[0].Data(),
		&tokenA, &tokenB, &amountA, &amountB, &minA, &minB, &to, &ddl))

	assert.Equal(t, bmt, tokenA)
	assert.Equal(t, usdt, tokenB)
	assert.Equal(t, int64(1_000_000), amountB.Int64())
	assert.Equal(t, int64(1), minA.Int64())
	assert.Equal(t, int64(1), minB.Int64())
	assert.Equal(t, f.boot.tx.From(), to)
	assert.Equal(t, int64(1_700_000_000+3600), ddl.Int64())
}

func TestEnsureAllowance_CheckedOncePerToken(t *testing.T) {
	f := newFixture(t, map[common.Address]*big.Int{}, pool)
	ctx := context.Background()

	require.NoError(t, f.boot.EnsureAllowance(ctx, "test", "USDT", usdt))
	require.NoError(t, f.boot.EnsureAllowance(ctx, "test", "USDT", usdt))

	assert.Len(t, f.ledger.CallsWithSelector(contracts.FuncApprove.Selector), 1)
}

func TestEnsurePair_Errors(t *testing.T) {
	t.Run("zero pair address", func(t *testing.T) {
		f := newFixture(t, map[common.Address]*big.Int{usdt: big.NewInt(1), bmt: big.NewInt(1)}, common.Address{})
		_, err := f.boot.EnsurePair(context.Background(), bmtPair())
		assert.ErrorIs(t, err, ErrPairNotFound)
		assert.False(t, f.reg.Has("BMT_USDT_LP"))
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t, nil, pool)
		pair := bmtPair()
		pair.TokenA = "WBTC"
		_, err := f.boot.EnsurePair(context.Background(), pair)
		assert.ErrorIs(t, err, registry.ErrMissing)
		assert.Empty(t, f.ledger.Sent())
	})
}

func TestLookup_SendsNothing(t *testing.T) {
	f := newFixture(t, nil, pool)

	got, err := f.boot.Lookup(context.Background(), bmtPair())
	require.NoError(t, err)
	assert.Equal(t, pool, got)
	assert.Empty(t, f.ledger.Sent())
	assert.True(t, f.reg.Has("BMT_USDT_LP"))
}
