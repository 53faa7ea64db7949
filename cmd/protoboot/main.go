// protoboot bootstraps a mining and staking protocol on an EVM network.
//
// It deploys the protocol's tokens and contracts, runs the ordered initialization stages,
// seeds liquidity and test balances, and exports the contract interfaces.
package main

import "github.com/Bidon15/protoboot/cmd/protoboot/cmd"

func main() {
	cmd.Execute()
}
