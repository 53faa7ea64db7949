package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Bidon15/protoboot/internal/config"
	"github.com/Bidon15/protoboot/internal/telemetry"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Global flags
	cfgFile  string
	logLevel string
	jsonOut  bool

	cfg     *config.Config
	loadErr error
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "protoboot",
	Short: "Bootstrap the mining and staking protocol on an EVM network",
	Long: `protoboot deploys the protocol's tokens and contracts, wires them together through
ordered initialization stages, seeds liquidity pools and test balances, and exports the
contract interfaces.

Configuration (in order of priority):
  1. Command-line flags (--log-level)
  2. Environment variables (PROTOBOOT_NETWORK_RPC_URL, PROTOBOOT_SIGNER_PRIVATE_KEY, ...)
  3. Config file (./protoboot.yaml or --config)

Get started:
  $ protoboot plan                 # Show the stage order
  $ protoboot preflight            # Check node, balance and DEX
  $ protoboot run                  # Deploy, initialize, distribute, export
  $ protoboot run --export-only    # Only write the interface document`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("protoboot version %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./protoboot.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")

	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads the configuration. Errors surface when a command needs it.
func initConfig() {
	cfg, loadErr = config.Load(cfgFile)
	if loadErr == nil && logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

// loadConfig returns the configuration validated for mode.
func loadConfig(mode config.Mode) (*config.Config, error) {
	if loadErr != nil {
		return nil, loadErr
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the run logger from the log section and installs it as the default.
func newLogger(c *config.Config) (*slog.Logger, error) {
	logger, err := telemetry.NewLogger(os.Stderr, c.Log.Level, c.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// Output helpers

// printJSON outputs data as formatted JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError prints an error message.
func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colorRed("Error:"), err.Error())
}

// newTable creates a new tabwriter for formatted output.
func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// printTableHeader prints a bold header row.
func printTableHeader(w *tabwriter.Writer, columns ...string) {
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, colorBold(col))
	}
	fmt.Fprintln(w)
}

// Terminal colors

func colorRed(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[31m" + s + "\033[0m"
}

func colorGreen(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func colorYellow(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func colorBold(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
