// Package chaintest provides an in-memory ledger for tests.
package chaintest

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TestKey is a well-known development key (hardhat account #0).
const TestKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// CallHandler answers an eth_call whose calldata starts with a registered selector.
type CallHandler func(msg ethereum.CallMsg) ([]byte, error)

// Ledger is a scripted chain.Ledger. Every sent transaction is mined immediately, but its
// receipt is hidden for EmptyPolls polls.
type Ledger struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	Balance      *big.Int
	GasPrice     *big.Int
	EmptyPolls   int
	// Revert marks a transaction as failed when it returns true.
	Revert func(tx *types.Transaction) bool
	// SendErr is returned from SendTransaction when set.
	SendErr error
	// EstimateErr is returned from EstimateGas when set.
	EstimateErr error

	nonce    uint64
	sent     []*types.Transaction
	senders  []common.Address
	receipts map[common.Hash]*types.Receipt
	polls    map[common.Hash]int
	calls    map[[4]byte]CallHandler
	code     map[common.Address][]byte
	closed   bool
}

// NewLedger returns a ledger for chain ID 31337 with a funded deployer.
func NewLedger() *Ledger {
	return &Ledger{
		ChainIDValue: big.NewInt(31337),
		Balance:      new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)),
		GasPrice:     big.NewInt(1_000_000_000),
		receipts:     make(map[common.Hash]*types.Receipt),
		polls:        make(map[common.Hash]int),
		calls:        make(map[[4]byte]CallHandler),
		code:         make(map[common.Address][]byte),
	}
}

// HandleCall registers fn for calls whose data starts with selector.
func (l *Ledger) HandleCall(selector [4]byte, fn CallHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[selector] = fn
}

// SetCode marks addr as a contract.
func (l *Ledger) SetCode(addr common.Address, code []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.code[addr] = code
}

// Sent returns every transaction accepted so far, in submission order.
func (l *Ledger) Sent() []*types.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*types.Transaction(nil), l.sent...)
}

// Creations returns the contract creation transactions.
func (l *Ledger) Creations() []*types.Transaction {
	var out []*types.Transaction
	for _, tx := range l.Sent() {
		if tx.To() == nil {
			out = append(out, tx)
		}
	}
	return out
}

// CallsWithSelector returns sent transactions whose calldata starts with selector.
func (l *Ledger) CallsWithSelector(selector [4]byte) []*types.Transaction {
	var out []*types.Transaction
	for _, tx := range l.Sent() {
		if tx.To() != nil && bytes.HasPrefix(tx.Data(), selector[:]) {
			out = append(out, tx)
		}
	}
	return out
}

// Polls returns how many times the receipt of hash was requested.
func (l *Ledger) Polls(hash common.Hash) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.polls[hash]
}

// Closed reports whether Close was called.
func (l *Ledger) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Ledger) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.ChainIDValue), nil
}

func (l *Ledger) BlockNumber(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.sent)), nil
}

func (l *Ledger) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonce, nil
}

func (l *Ledger) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.GasPrice), nil
}

func (l *Ledger) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if l.EstimateErr != nil {
		return 0, l.EstimateErr
	}
	return 100_000, nil
}

func (l *Ledger) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if l.SendErr != nil {
		return l.SendErr
	}

	from, err := types.Sender(types.LatestSignerForChainID(l.ChainIDValue), tx)
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.Nonce() != l.nonce {
		return fmt.Errorf("nonce mismatch: expected %d, got %d", l.nonce, tx.Nonce())
	}
	l.nonce++
	l.sent = append(l.sent, tx)
	l.senders = append(l.senders, from)

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(len(l.sent))),
		GasUsed:     21_000,
	}
	if l.Revert != nil && l.Revert(tx) {
		receipt.Status = types.ReceiptStatusFailed
	}
	if tx.To() == nil && receipt.Status == types.ReceiptStatusSuccessful {
		receipt.ContractAddress = crypto.CreateAddress(from, tx.Nonce())
		l.code[receipt.ContractAddress] = tx.Data()
	}
	l.receipts[tx.Hash()] = receipt
	return nil
}

func (l *Ledger) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.polls[hash]++
	receipt, ok := l.receipts[hash]
	if !ok || l.polls[hash] <= l.EmptyPolls {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (l *Ledger) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("call data too short")
	}
	var selector [4]byte
	copy(selector[:], msg.Data[:4])

	l.mu.Lock()
	handler, ok := l.calls[selector]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no handler for selector %x", selector)
	}
	return handler(msg)
}

func (l *Ledger) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int).Set(l.Balance), nil
}

func (l *Ledger) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.code[addr], nil
}

func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}
