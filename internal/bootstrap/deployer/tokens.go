package deployer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
)

// DefaultTokenArtifact is the mock ERC20 every test token is built from.
const DefaultTokenArtifact = "MockERC20"

// tokenDecimals overrides the 18-decimal default for well-known symbols.
var tokenDecimals = map[string]uint8{
	"USDT": 6,
	"WBTC": 8,
}

// TokenDecimals returns the decimals a token symbol is deployed with.
func TokenDecimals(symbol string) uint8 {
	if d, ok := tokenDecimals[symbol]; ok {
		return d
	}
	return 18
}

// Token describes a mock token to deploy.
type Token struct {
	Symbol   string
	Artifact string
	Supply   *big.Int
}

// DeployTokens deploys each token as MockERC20(symbol, symbol, decimals, supply), in order.
func (d *Deployer) DeployTokens(ctx context.Context, tokens []Token) error {
	for _, tok := range tokens {
		tok := tok
		artifact := tok.Artifact
		if artifact == "" {
			artifact = DefaultTokenArtifact
		}
		supply := tok.Supply
		if supply == nil {
			supply = DefaultSupply
		}

		_, err := d.Deploy(ctx, Request{
			Name:     tok.Symbol,
			Artifact: artifact,
			Category: registry.CategoryToken,
			Args: func(inputs abi.Arguments) ([]interface{}, error) {
				return tokenArgs(inputs, tok.Symbol, TokenDecimals(tok.Symbol), new(big.Int).Set(supply))
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
