package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PendingOperation is a submitted transaction that has not been confirmed yet.
type PendingOperation struct {
	Hash        common.Hash `json:"hash" yaml:"hash"`
	Origin      string      `json:"origin" yaml:"origin"`
	Nonce       uint64      `json:"nonce" yaml:"nonce"`
	SubmittedAt time.Time   `json:"submitted_at" yaml:"submitted_at"`
}

// Submission describes one transaction to send. A nil To creates a contract.
type Submission struct {
	Origin string
	To     *common.Address
	Data   []byte
	Value  *big.Int
}

// TransactorConfig configures a Transactor.
type TransactorConfig struct {
	Fees    FeePolicy
	Logger  *slog.Logger
	Metrics *Metrics
}

// Transactor signs, submits and confirms transactions one at a time.
type Transactor struct {
	mu      sync.Mutex
	ledger  Ledger
	signer  Signer
	waiter  *Waiter
	fees    FeePolicy
	logger  *slog.Logger
	metrics *Metrics

	pendingMu sync.Mutex
	pending   map[common.Hash]PendingOperation
	submitted int
}

// NewTransactor creates a transactor that confirms through waiter.
func NewTransactor(ledger Ledger, signer Signer, waiter *Waiter, cfg TransactorConfig) *Transactor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transactor{
		ledger:  ledger,
		signer:  signer,
		waiter:  waiter,
		fees:    cfg.Fees,
		logger:  logger,
		metrics: cfg.Metrics,
		pending: make(map[common.Hash]PendingOperation),
	}
}

// From returns the submitting account.
func (t *Transactor) From() common.Address {
	return t.signer.Address()
}

// Ledger returns the underlying ledger client.
func (t *Transactor) Ledger() Ledger {
	return t.ledger
}

// Deploy submits a contract creation and returns the new contract address.
func (t *Transactor) Deploy(ctx context.Context, origin string, code []byte, value *big.Int) (common.Address, *types.Receipt, error) {
	receipt, err := t.Submit(ctx, Submission{Origin: origin, Data: code, Value: value})
	if err != nil {
		return common.Address{}, nil, err
	}
	if receipt.ContractAddress == (common.Address{}) {
		return common.Address{}, receipt, &RejectedError{
			Origin: origin,
			TxHash: receipt.TxHash,
			Reason: "no contract created",
			Err:    ErrNoContractAddress,
		}
	}
	return receipt.ContractAddress, receipt, nil
}

// Transact sends calldata to a contract and waits for it to be mined.
func (t *Transactor) Transact(ctx context.Context, origin string, to common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	return t.Submit(ctx, Submission{Origin: origin, To: &to, Data: data, Value: value})
}

// Call performs a read-only contract call against the latest block.
func (t *Transactor) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := t.ledger.CallContract(ctx, ethereum.CallMsg{
		From: t.signer.Address(),
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, &TransportError{Op: "call " + to.Hex(), Err: err}
	}
	return out, nil
}

// Submit signs and sends s, then blocks until its receipt settles. Submissions are
// serialized: a second caller waits until the first is confirmed.
func (t *Transactor) Submit(ctx context.Context, s Submission) (*types.Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.signer.Address()
	value := s.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := t.ledger.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, &TransportError{Op: "get nonce", Err: err}
	}

	gasPrice, err := t.fees.gasPrice(ctx, t.ledger)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}

	gasLimit, err := t.ledger.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       s.To,
		GasPrice: gasPrice,
		Value:    value,
		Data:     s.Data,
	})
	if err != nil {
		return nil, classifyNodeError("estimate gas", s.Origin, err)
	}
	gasLimit = t.fees.bufferGas(gasLimit)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       s.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     s.Data,
	})

	signedTx, err := t.signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := t.ledger.SendTransaction(ctx, signedTx); err != nil {
		return nil, classifyNodeError("send transaction", s.Origin, err)
	}

	hash := signedTx.Hash()
	submittedAt := time.Now()
	t.track(PendingOperation{Hash: hash, Origin: s.Origin, Nonce: nonce, SubmittedAt: submittedAt})
	t.metrics.observeSubmitted(s.Origin)

	t.logger.Info("transaction submitted, waiting for confirmation",
		slog.String("origin", s.Origin),
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
		slog.String("gas_price", gasPrice.String()),
	)

	// An operation stays listed in Pending until its receipt is observed.
	receipt, err := t.waiter.Await(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%s: wait for %s: %w", s.Origin, hash.Hex(), err)
	}
	t.untrack(hash)
	t.metrics.observeSettled()

	success := receipt.Status == types.ReceiptStatusSuccessful
	t.metrics.observeConfirmed(success, time.Since(submittedAt))
	if !success {
		return nil, &RejectedError{Origin: s.Origin, TxHash: hash, Reason: "execution reverted", Err: ErrReverted}
	}

	attrs := []any{
		slog.String("origin", s.Origin),
		slog.String("tx_hash", hash.Hex()),
	}
	if receipt.BlockNumber != nil {
		attrs = append(attrs, slog.Uint64("block_number", receipt.BlockNumber.Uint64()))
	}
	t.logger.Info("transaction confirmed", attrs...)

	return receipt, nil
}

// Pending returns the operations currently awaiting confirmation, oldest first.
func (t *Transactor) Pending() []PendingOperation {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	out := make([]PendingOperation, 0, len(t.pending))
	for _, op := range t.pending {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out
}

// Submitted returns how many transactions were sent through this transactor.
func (t *Transactor) Submitted() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return t.submitted
}

func (t *Transactor) track(op PendingOperation) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	t.pending[op.Hash] = op
	t.submitted++
}

func (t *Transactor) untrack(hash common.Hash) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	delete(t.pending, hash)
}
