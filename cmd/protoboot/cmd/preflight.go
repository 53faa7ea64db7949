package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Bidon15/protoboot/internal/bootstrap/preflight"
	"github.com/Bidon15/protoboot/internal/config"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check the node, the deployer balance and the DEX before a run",
	Long: `Run pre-flight checks against the configured network:

  - the RPC endpoint answers
  - the chain ID matches network.chain_id
  - the deployer holds enough native currency
  - the router and factory are deployed and agree
  - every pre-seeded address holds code

Examples:
  protoboot preflight
  protoboot preflight --json`,
	RunE: runPreflight,
}

func init() {
	rootCmd.AddCommand(preflightCmd)
}

func runPreflight(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(config.ModePreflight)
	if err != nil {
		return err
	}
	if _, err := newLogger(c); err != nil {
		return err
	}

	resp, err := checkPreflight(cmd.Context(), c)
	if err != nil {
		return err
	}
	if jsonOut {
		if err := printJSON(resp); err != nil {
			return err
		}
	} else {
		printChecks(resp)
	}
	if !resp.OK {
		return fmt.Errorf("%d pre-flight check(s) failed", len(resp.Failed()))
	}
	return nil
}

// checkPreflight runs the checks for c.
func checkPreflight(ctx context.Context, c *config.Config) (*preflight.Response, error) {
	signer, err := newSigner(c, c.Network.ChainID)
	if err != nil {
		return nil, err
	}

	req := &preflight.Request{
		RPCURL:    c.Network.RPCURL,
		ChainID:   c.Network.ChainID,
		Deployer:  signer.Address(),
		Preseeded: map[string]common.Address{},
	}
	if c.DEX.Router != "" {
		req.Router = common.HexToAddress(c.DEX.Router)
	}
	if c.DEX.Factory != "" {
		req.Factory = common.HexToAddress(c.DEX.Factory)
	}
	preseed := c.PreseedAddresses()
	for name, addr := range preseed.Tokens {
		req.Preseeded[name] = addr
	}
	for name, addr := range preseed.Contracts {
		req.Preseeded[name] = addr
	}
	if req.ChainID == 0 {
		// Without an expectation the check compares the node against itself.
		chainID, err := chainIDOf(ctx, c.Network.RPCURL)
		if err != nil {
			return nil, err
		}
		req.ChainID = chainID
	}

	return preflight.NewChecker().RunChecks(ctx, req)
}

func printChecks(resp *preflight.Response) {
	fmt.Printf("Network:  %s\n", resp.Network)
	fmt.Printf("Deployer: %s\n", resp.DeployerAddress)
	fmt.Printf("Balance:  %s ETH (need %s ETH)\n\n", resp.CurrentBalanceETH, resp.RequiredFundingETH)

	w := newTable()
	printTableHeader(w, "CHECK", "RESULT", "MESSAGE")
	for _, check := range resp.Checks {
		result := colorGreen("pass")
		if !check.Passed {
			result = colorRed("FAIL")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", check.Name, result, check.Message)
	}
	_ = w.Flush()
}
