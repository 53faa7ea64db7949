package distribution

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protoboot/internal/bootstrap/chain/chaintest"
	"github.com/Bidon15/protoboot/internal/bootstrap/contracts"
	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
	"github.com/Bidon15/protoboot/internal/bootstrap/repository"
)

var (
	usdt     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	wbtc     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000c1")

	recipients = []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000000b01"),
		common.HexToAddress("0x0000000000000000000000000000000000000b02"),
		common.HexToAddress("0x0000000000000000000000000000000000000b03"),
	}
)

func newLedger(balance *big.Int) *chaintest.Ledger {
	ledger := chaintest.NewLedger()
	ledger.HandleCall(contracts.FuncBalanceOf.Selector, func(ethereum.CallMsg) ([]byte, error) {
		return contracts.FuncBalanceOf.Returns.Pack(balance)
	})
	return ledger
}

func decodeTransfer(t *testing.T, data []byte) (common.Address, *big.Int) {
	t.Helper()
	var (
		to     common.Address
		amount *big.Int
	)
	require.NoError(t, contracts.FuncTransfer.DecodeArgs(data, &to, &amount))
	return to, amount
}

func TestDistribute_RecipientsThenTreasury(t *testing.T) {
	ledger := newLedger(big.NewInt(1_000_000_000_000))
	reg := registry.New()
	require.NoError(t, reg.Put("USDT", usdt, registry.CategoryToken))

	d := New(chaintest.NewTransactor(ledger), reg, Config{Logger: chaintest.Logger()})
	result, err := d.Distribute(context.Background(), []Allotment{
		{Token: "USDT", Amount: big.NewInt(5_000_000_000)},
	}, recipients, treasury)
	require.NoError(t, err)

	sent := ledger.Sent()
	require.Len(t, sent, 4, "3 recipient transfers plus 1 treasury transfer")
	wantTo := append(append([]common.Address{}, recipients...), treasury)
	for i, tx := range sent {
		assert.Equal(t, usdt, *tx.To())
		assert.Equal(t, uint64(i), tx.Nonce(), "each transfer is confirmed before the next")
		to, amount := decodeTransfer(t, tx.Data())
		assert.Equal(t, wantTo[i], to)
		assert.Equal(t, big.NewInt(5_000_000_000), amount)
		assert.Equal(t, 1, ledger.Polls(tx.Hash()))
	}
	assert.Len(t, result.TxHashes, 4)
	assert.Empty(t, d.tx.Pending())
}

func TestDistribute_SkipsPreseededTokens(t *testing.T) {
	ledger := newLedger(big.NewInt(1_000_000_000_000))
	reg := registry.New()
	require.NoError(t, reg.Preseed("USDT", usdt, registry.CategoryToken))
	require.NoError(t, reg.Put("WBTC", wbtc, registry.CategoryToken))

	d := New(chaintest.NewTransactor(ledger), reg, Config{Logger: chaintest.Logger()})
	result, err := d.Distribute(context.Background(), []Allotment{
		{Token: "USDT", Amount: big.NewInt(1)},
		{Token: "WBTC", Amount: big.NewInt(2), TreasuryAmount: big.NewInt(7)},
	}, recipients[:1], treasury)
	require.NoError(t, err)

	assert.Equal(t, []string{"USDT"}, result.SkippedTokens)
	sent := ledger.Sent()
	require.Len(t, sent, 2)
	_, amount := decodeTransfer(t, sent[1].Data())
	assert.Equal(t, big.NewInt(7), amount)
}

func TestDistribute_Errors(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		ledger := newLedger(big.NewInt(1))
		d := New(chaintest.NewTransactor(ledger), registry.New(), Config{Logger: chaintest.Logger()})
		_, err := d.Distribute(context.Background(), []Allotment{{Token: "DAI", Amount: big.NewInt(1)}}, recipients, treasury)
		assert.ErrorIs(t, err, registry.ErrMissing)
		assert.Empty(t, ledger.Sent())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		ledger := newLedger(big.NewInt(3))
		reg := registry.New()
		require.NoError(t, reg.Put("USDT", usdt, registry.CategoryToken))
		d := New(chaintest.NewTransactor(ledger), reg, Config{Logger: chaintest.Logger()})

		_, err := d.Distribute(context.Background(), []Allotment{{Token: "USDT", Amount: big.NewInt(1)}}, recipients, treasury)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Contains(t, err.Error(), "has 3, needs 4")
		assert.Empty(t, ledger.Sent())
	})
}

func TestDistribute_LedgerPreventsResend(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.NewFileRepository(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Put("USDT", usdt, registry.CategoryToken))
	allotments := []Allotment{{Token: "USDT", Amount: big.NewInt(10)}}

	first := newLedger(big.NewInt(1000))
	d := New(chaintest.NewTransactor(first), reg, Config{
		Guard:  repository.NewGuard(repo, "net", uuid.New(), nil),
		Logger: chaintest.Logger(),
	})
	_, err = d.Distribute(ctx, allotments, recipients, treasury)
	require.NoError(t, err)
	require.Len(t, first.Sent(), 4)

	second := newLedger(big.NewInt(1000))
	d = New(chaintest.NewTransactor(second), reg, Config{
		Guard:  repository.NewGuard(repo, "net", uuid.New(), nil),
		Logger: chaintest.Logger(),
	})
	result, err := d.Distribute(ctx, allotments, recipients, treasury)
	require.NoError(t, err)
	assert.True(t, result.AlreadyComplete)
	assert.Empty(t, second.Sent())

	// A different amount is a different distribution.
	result, err = d.Distribute(ctx, []Allotment{{Token: "USDT", Amount: big.NewInt(11)}}, recipients, treasury)
	require.NoError(t, err)
	assert.False(t, result.AlreadyComplete)
	assert.Len(t, second.Sent(), 4)
}
