package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/Bidon15/protoboot/internal/bootstrap/artifacts"
	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/pipeline"
	"github.com/Bidon15/protoboot/internal/config"
	"github.com/Bidon15/protoboot/pipelines"
)

// loadDefinition parses pipeline.file, or the bundled variant when no file is set.
func loadDefinition(c *config.Config) (*pipeline.Definition, error) {
	if c.Pipeline.File != "" {
		return pipeline.LoadFile(c.Pipeline.File)
	}
	name, src, err := pipelines.Open(c.Pipeline.Variant)
	if err != nil {
		return nil, err
	}
	return pipeline.Parse(name, src)
}

// exportSinks returns the local file sink plus the bucket when enabled.
func exportSinks(c *config.Config) ([]artifacts.Sink, error) {
	var sinks []artifacts.Sink
	if c.Export.Path != "" {
		sinks = append(sinks, artifacts.FileSink{Path: c.Export.Path})
	}
	if c.Export.S3.Enabled {
		sink, err := artifacts.NewObjectSink(c.ObjectStore())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// newSigner parses the deployer key. The address does not depend on the chain.
func newSigner(c *config.Config, chainID uint64) (*chain.KeySigner, error) {
	return chain.NewKeySigner(c.Signer.PrivateKey, new(big.Int).SetUint64(chainID))
}

// newTransactor dials the node, checks the chain and builds the submission pipeline.
func newTransactor(ctx context.Context, c *config.Config, logger *slog.Logger, metrics *chain.Metrics) (*chain.Transactor, error) {
	ledger, err := chain.Dial(ctx, c.Network.RPCURL)
	if err != nil {
		return nil, err
	}
	chainID, err := chain.VerifyChainID(ctx, ledger, c.Network.ChainID)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	signer, err := newSigner(c, chainID.Uint64())
	if err != nil {
		ledger.Close()
		return nil, err
	}

	wcfg := c.WaiterConfig()
	wcfg.Logger = logger
	wcfg.Metrics = metrics
	waiter := chain.NewWaiter(ledger, wcfg)

	logger.Info("connected to node",
		slog.String("rpc_url", c.Network.RPCURL),
		slog.Uint64("chain_id", chainID.Uint64()),
		slog.String("deployer", signer.Address().Hex()),
	)
	return chain.NewTransactor(ledger, signer, waiter, chain.TransactorConfig{
		Fees:    c.FeePolicy(),
		Logger:  logger,
		Metrics: metrics,
	}), nil
}

func describeVariant(c *config.Config) string {
	if c.Pipeline.File != "" {
		return c.Pipeline.File
	}
	return fmt.Sprintf("%s (bundled)", c.Pipeline.Variant)
}

// chainIDOf asks the node for its chain ID.
func chainIDOf(ctx context.Context, rpcURL string) (uint64, error) {
	ledger, err := chain.Dial(ctx, rpcURL)
	if err != nil {
		return 0, err
	}
	defer ledger.Close()
	chainID, err := chain.VerifyChainID(ctx, ledger, 0)
	if err != nil {
		return 0, err
	}
	return chainID.Uint64(), nil
}
