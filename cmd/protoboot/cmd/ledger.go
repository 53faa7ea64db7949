package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bidon15/protoboot/internal/bootstrap/repository"
	"github.com/Bidon15/protoboot/internal/config"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the completion ledger",
	Long: `The completion ledger records stages that finished with every transaction
confirmed. A later run against the same network and deployer skips a recorded stage when its
calldata is unchanged.

Examples:
  protoboot ledger list
  protoboot ledger list --network 31337:0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266`,
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed stages",
	RunE:  runLedgerList,
}

func init() {
	ledgerListCmd.Flags().String("network", "", "only show records of this network key (chain_id:deployer)")

	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(config.ModeOffline)
	if err != nil {
		return err
	}
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	network, _ := cmd.Flags().GetString("network")

	rcfg := c.RepositoryConfig()
	rcfg.Logger = logger
	repo, err := repository.Open(cmd.Context(), rcfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.ListCompletions(cmd.Context(), strings.ToLower(network))
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"completions": records,
			"count":       len(records),
		})
	}

	if len(records) == 0 {
		fmt.Println("No completed stages recorded")
		return nil
	}

	w := newTable()
	printTableHeader(w, "COMPLETED", "NETWORK", "STAGE", "TXS", "FINGERPRINT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.CompletedAt.Format("2006-01-02 15:04:05"),
			r.Network,
			r.Stage,
			len(r.TxHashes),
			truncate(r.Fingerprint, 18),
		)
	}
	return w.Flush()
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
