package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrConfirmationTimeout is returned when a transaction is not mined before the waiter deadline.
	ErrConfirmationTimeout = errors.New("chain: confirmation timeout")
	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("chain: transaction reverted")
	// ErrNoContractAddress is returned when a creation receipt carries no contract address.
	ErrNoContractAddress = errors.New("chain: receipt has no contract address")
	// ErrChainIDMismatch is returned when the node reports an unexpected chain ID.
	ErrChainIDMismatch = errors.New("chain: chain id mismatch")
	// ErrInvalidKey is returned when the signer key cannot be parsed.
	ErrInvalidKey = errors.New("chain: invalid private key")
)

// TransportError wraps a failure talking to the node.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RejectedError reports a transaction the ledger refused or reverted.
type RejectedError struct {
	Origin string
	TxHash common.Hash
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.TxHash == (common.Hash{}) {
		return fmt.Sprintf("%s: transaction rejected: %s", e.Origin, e.Reason)
	}
	return fmt.Sprintf("%s: transaction %s rejected: %s", e.Origin, e.TxHash.Hex(), e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// classifyNodeError separates JSON-RPC rejections (reverts, nonce or funds errors) from
// connection failures. op names the request that failed.
func classifyNodeError(op, origin string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RejectedError{Origin: origin, Reason: rpcErr.Error(), Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
