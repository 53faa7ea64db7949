// Package distribution hands test balances to recipients and the treasury.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/contracts"
	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
	"github.com/Bidon15/protoboot/internal/bootstrap/repository"
)

// StageName is the ledger key of the distribution.
const StageName = "distribution"

// ErrInsufficientBalance is returned when the deployer cannot cover a token's transfers.
var ErrInsufficientBalance = errors.New("distribution: insufficient token balance")

// Allotment is what each recipient, and then the treasury, receives of one token.
type Allotment struct {
	Token          string
	Amount         *big.Int
	TreasuryAmount *big.Int
}

// Transfer is one planned token transfer.
type Transfer struct {
	Token   string
	Address common.Address
	To      common.Address
	Amount  *big.Int
}

// Result summarizes a distribution.
type Result struct {
	Transfers []Transfer
	// SkippedTokens were pre-seeded and are not ours to hand out.
	SkippedTokens []string
	// AlreadyComplete is set when the ledger recorded the same distribution earlier.
	AlreadyComplete bool
	TxHashes        []common.Hash
}

// Config configures a Distributor.
type Config struct {
	Guard  *repository.Guard
	Logger *slog.Logger
}

// Distributor submits token transfers one at a time.
type Distributor struct {
	tx     *chain.Transactor
	reg    *registry.Registry
	guard  *repository.Guard
	logger *slog.Logger
}

// New creates a distributor.
func New(tx *chain.Transactor, reg *registry.Registry, cfg Config) *Distributor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{tx: tx, reg: reg, guard: cfg.Guard, logger: logger}
}

// Plan resolves the transfers of a distribution without sending anything. Per token, every
// recipient comes first, in order, followed by the treasury.
func (d *Distributor) Plan(allotments []Allotment, recipients []common.Address, treasury common.Address) ([]Transfer, []string, error) {
	var (
		transfers []Transfer
		skipped   []string
	)
	for _, a := range allotments {
		entry, ok := d.reg.Lookup(a.Token)
		if !ok {
			return nil, nil, &registry.MissingError{Name: a.Token}
		}
		if entry.Preseeded {
			skipped = append(skipped, a.Token)
			continue
		}
		if a.Amount == nil {
			return nil, nil, fmt.Errorf("token %s has no amount", a.Token)
		}
		for _, to := range recipients {
			transfers = append(transfers, Transfer{Token: a.Token, Address: entry.Address, To: to, Amount: a.Amount})
		}
		treasuryAmount := a.TreasuryAmount
		if treasuryAmount == nil {
			treasuryAmount = a.Amount
		}
		transfers = append(transfers, Transfer{Token: a.Token, Address: entry.Address, To: treasury, Amount: treasuryAmount})
	}
	return transfers, skipped, nil
}

// Distribute transfers each allotment to every recipient and then to the treasury, awaiting
// each transfer before the next.
func (d *Distributor) Distribute(ctx context.Context, allotments []Allotment, recipients []common.Address, treasury common.Address) (*Result, error) {
	transfers, skipped, err := d.Plan(allotments, recipients, treasury)
	if err != nil {
		return nil, err
	}
	result := &Result{Transfers: transfers, SkippedTokens: skipped}
	for _, token := range skipped {
		d.logger.Info("skipping pre-seeded token", slog.String("token", token))
	}

	calldata := make([][]byte, len(transfers))
	parts := [][]byte{[]byte(StageName)}
	for i, t := range transfers {
		data, err := contracts.FuncTransfer.EncodeArgs(t.To, t.Amount)
		if err != nil {
			return nil, fmt.Errorf("encode transfer: %w", err)
		}
		calldata[i] = data
		parts = append(parts, t.Address.Bytes(), data)
	}

	fingerprint := repository.Fingerprint(parts...)
	done, err := d.guard.Done(ctx, StageName, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("check ledger: %w", err)
	}
	if done {
		d.logger.Info("skipping distribution stage (already complete)")
		result.AlreadyComplete = true
		return result, nil
	}

	if err := d.checkBalances(ctx, transfers); err != nil {
		return result, err
	}

	for i, t := range transfers {
		d.logger.Info("transferring",
			slog.String("token", t.Token),
			slog.String("to", t.To.Hex()),
			slog.String("amount", t.Amount.String()),
		)
		receipt, err := d.tx.Transact(ctx, "distribution transfer "+t.Token, t.Address, calldata[i], nil)
		if err != nil {
			return result, fmt.Errorf("transfer %s to %s: %w", t.Token, t.To.Hex(), err)
		}
		result.TxHashes = append(result.TxHashes, receipt.TxHash)
	}

	if err := d.guard.Complete(ctx, StageName, fingerprint, result.TxHashes); err != nil {
		return result, fmt.Errorf("record completion: %w", err)
	}
	return result, nil
}

// checkBalances makes sure the deployer holds enough of every token before the first
// transfer is sent.
func (d *Distributor) checkBalances(ctx context.Context, transfers []Transfer) error {
	need := map[common.Address]*big.Int{}
	var order []Transfer
	for _, t := range transfers {
		sum, ok := need[t.Address]
		if !ok {
			sum = new(big.Int)
			need[t.Address] = sum
			order = append(order, t)
		}
		sum.Add(sum, t.Amount)
	}

	for _, t := range order {
		data, err := contracts.FuncBalanceOf.EncodeArgs(d.tx.From())
		if err != nil {
			return fmt.Errorf("encode balanceOf: %w", err)
		}
		out, err := d.tx.Call(ctx, t.Address, data)
		if err != nil {
			return fmt.Errorf("check %s balance: %w", t.Token, err)
		}
		var balance *big.Int
		if err := contracts.FuncBalanceOf.DecodeReturns(out, &balance); err != nil {
			return fmt.Errorf("decode %s balance: %w", t.Token, err)
		}
		if balance.Cmp(need[t.Address]) < 0 {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, t.Token, balance, need[t.Address])
		}
	}
	return nil
}
