// Package chain submits transactions to an EVM ledger and waits for them to be mined.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ReceiptReader is the subset of the ledger the waiter polls.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Ledger defines the RPC operations the bootstrapper needs from a node.
type Ledger interface {
	ReceiptReader

	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dial connects to an Ethereum RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (Ledger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, &TransportError{Op: "dial " + rpcURL, Err: err}
	}
	return client, nil
}

// VerifyChainID checks that the node serves the expected chain. A zero expectation only
// returns the reported ID.
func VerifyChainID(ctx context.Context, ledger Ledger, expected uint64) (*big.Int, error) {
	chainID, err := ledger.ChainID(ctx)
	if err != nil {
		return nil, &TransportError{Op: "get chain id", Err: err}
	}
	if expected != 0 && chainID.Uint64() != expected {
		return nil, fmt.Errorf("%w: expected %d, got %s", ErrChainIDMismatch, expected, chainID)
	}
	return chainID, nil
}
