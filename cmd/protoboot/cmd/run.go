package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Bidon15/protoboot/internal/bootstrap/artifacts"
	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/orchestrator"
	"github.com/Bidon15/protoboot/internal/bootstrap/repository"
	"github.com/Bidon15/protoboot/internal/config"
	"github.com/Bidon15/protoboot/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Deploy, initialize, distribute and export",
	Long: `Run the full bootstrap against the configured network:

  1. deploy every token, then every contract (pre-seeded names are bound, not deployed)
  2. run the initialization stages in order, seeding liquidity where declared
  3. transfer test balances to the recipients and the treasury
  4. write the contract interfaces to the export sinks

Stages recorded in the completion ledger with the same calldata are skipped.

Examples:
  protoboot run
  protoboot run --export-only
  protoboot run --report build/run.yaml`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("export-only", false, "only write the interface document")
	runCmd.Flags().Bool("skip-preflight", false, "do not run pre-flight checks")
	runCmd.Flags().String("report", "", "write the run report as YAML (overrides report.path)")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	exportOnly, _ := cmd.Flags().GetBool("export-only")
	skipPreflight, _ := cmd.Flags().GetBool("skip-preflight")
	reportPath, _ := cmd.Flags().GetString("report")

	mode := config.ModeRun
	if exportOnly {
		mode = config.ModeExport
	}
	c, err := loadConfig(mode)
	if err != nil {
		return err
	}
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	if reportPath == "" {
		reportPath = c.Report.Path
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	def, err := loadDefinition(c)
	if err != nil {
		return err
	}
	logger.Info("loaded protocol variant", slog.String("variant", describeVariant(c)))

	sinks, err := exportSinks(c)
	if err != nil {
		return err
	}

	if exportOnly {
		catalog, err := artifacts.Load(c.Artifacts.Source, artifacts.InterfaceArtifacts(def.Interfaces))
		if err != nil {
			return err
		}
		o := orchestrator.New(nil, def, catalog, orchestrator.Config{Sinks: sinks, Logger: logger})
		data, err := o.ExportOnly(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d interfaces (%d bytes) to %s\n", len(def.Interfaces), len(data), c.Export.Path)
		return nil
	}

	catalog, err := artifacts.Load(c.Artifacts.Source, def.ArtifactNames())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := chain.NewMetrics(reg)
	tracker := telemetry.NewTracker(reg)
	if c.Metrics.Enabled {
		telemetry.NewServer(c.Metrics.Addr, reg, tracker, logger).Start(ctx)
	}

	if !skipPreflight {
		resp, err := checkPreflight(ctx, c)
		if err != nil {
			return err
		}
		if !resp.OK {
			printChecks(resp)
			return fmt.Errorf("%d pre-flight check(s) failed", len(resp.Failed()))
		}
		logger.Info("pre-flight checks passed", slog.Int("checks", len(resp.Checks)))
	}

	rcfg := c.RepositoryConfig()
	rcfg.Logger = logger
	repo, err := repository.Open(ctx, rcfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	tx, err := newTransactor(ctx, c, logger, metrics)
	if err != nil {
		return err
	}
	defer tx.Ledger().Close()

	approval, err := c.ApprovalAmount()
	if err != nil {
		return err
	}

	o := orchestrator.New(tx, def, catalog, orchestrator.Config{
		ChainID:        c.Network.ChainID,
		Preseed:        c.PreseedAddresses(),
		Recipients:     c.RecipientAddresses(),
		Router:         common.HexToAddress(c.DEX.Router),
		Factory:        common.HexToAddress(c.DEX.Factory),
		ApprovalAmount: approval,
		Deadline:       c.DEX.Deadline,
		Sinks:          sinks,
		Repository:     repo,
		Logger:         logger,
		OnProgress:     tracker.Update,
	})

	report, runErr := o.Run(ctx)
	if report != nil {
		if err := writeReport(report, reportPath); err != nil {
			logger.Error("failed to write report", slog.String("error", err.Error()))
		}
		if runErr != nil {
			printPending(os.Stderr, report.Pending)
		}
		if jsonOut {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			if err := report.WriteTable(os.Stdout); err != nil {
				return err
			}
		}
	}
	return runErr
}

// writeReport writes report as YAML when path is set.
func writeReport(report *orchestrator.Report, path string) error {
	if path == "" {
		return nil
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// printPending lists transactions submitted but never confirmed by a failed run.
func printPending(w io.Writer, pending []chain.PendingOperation) {
	if len(pending) == 0 {
		return
	}
	fmt.Fprintln(w, colorYellow("Unconfirmed transactions:"))
	for _, op := range pending {
		fmt.Fprintf(w, "  %s nonce=%d origin=%s\n", op.Hash.Hex(), op.Nonce, op.Origin)
	}
}
