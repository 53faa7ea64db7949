package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// FeeMode selects how the gas price is chosen.
type FeeMode string

const (
	// FeeModeFixed uses the configured gas price for every transaction.
	FeeModeFixed FeeMode = "fixed"
	// FeeModeSuggest boosts the node's suggested price.
	FeeModeSuggest FeeMode = "suggest"
)

const (
	// DefaultGasPriceGwei matches the deployment default of 10 gwei.
	DefaultGasPriceGwei = 10
)

// FeePolicy decides gas price and gas limit for submitted transactions.
type FeePolicy struct {
	Mode FeeMode
	// GasPrice is the fixed price in wei.
	GasPrice *big.Int
	// MinGasPrice floors the suggested price.
	MinGasPrice *big.Int
	// BoostPercent scales the suggested price (150 = +50%).
	BoostPercent int64
	// GasBufferPercent scales estimated gas (120 = +20%).
	GasBufferPercent uint64
}

// GweiToWei converts a gwei amount to wei.
func GweiToWei(gwei *big.Float) *big.Int {
	wei := new(big.Float).Mul(gwei, big.NewFloat(params.GWei))
	out, _ := wei.Int(nil)
	return out
}

// DefaultFeePolicy returns a fixed 10 gwei policy.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		Mode:             FeeModeFixed,
		GasPrice:         new(big.Int).Mul(big.NewInt(DefaultGasPriceGwei), big.NewInt(params.GWei)),
		MinGasPrice:      big.NewInt(2 * params.GWei),
		BoostPercent:     150,
		GasBufferPercent: 120,
	}
}

func (p FeePolicy) gasPrice(ctx context.Context, ledger Ledger) (*big.Int, error) {
	if p.Mode != FeeModeSuggest {
		if p.GasPrice == nil || p.GasPrice.Sign() <= 0 {
			return nil, fmt.Errorf("fixed fee mode requires a positive gas price")
		}
		return new(big.Int).Set(p.GasPrice), nil
	}

	suggested, err := ledger.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TransportError{Op: "suggest gas price", Err: err}
	}

	boost := p.BoostPercent
	if boost <= 0 {
		boost = 100
	}
	boosted := new(big.Int).Mul(suggested, big.NewInt(boost))
	boosted.Div(boosted, big.NewInt(100))

	if p.MinGasPrice != nil && boosted.Cmp(p.MinGasPrice) < 0 {
		boosted = new(big.Int).Set(p.MinGasPrice)
	}
	return boosted, nil
}

func (p FeePolicy) bufferGas(estimate uint64) uint64 {
	if p.GasBufferPercent == 0 {
		return estimate
	}
	return estimate * p.GasBufferPercent / 100
}
