// Package deployer creates the protocol's tokens and contracts, skipping pre-seeded names.
package deployer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/protoboot/internal/bootstrap/artifacts"
	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
)

// ArgResolver produces constructor arguments for the given inputs.
type ArgResolver func(inputs abi.Arguments) ([]interface{}, error)

// Request describes one deployment.
type Request struct {
	Name     string
	Artifact string
	Category registry.Category
	Args     ArgResolver
}

// Preseed holds addresses that already exist on chain.
type Preseed struct {
	Tokens    map[string]common.Address
	Contracts map[string]common.Address
}

func (p Preseed) lookup(category registry.Category, name string) (common.Address, bool) {
	var m map[string]common.Address
	switch category {
	case registry.CategoryToken:
		m = p.Tokens
	case registry.CategoryContract:
		m = p.Contracts
	}
	if addr, ok := m[name]; ok {
		return addr, true
	}
	for key, addr := range m {
		if strings.EqualFold(key, name) {
			return addr, true
		}
	}
	return common.Address{}, false
}

// Config configures a Deployer.
type Config struct {
	Preseed Preseed
	Logger  *slog.Logger
	// OnDeployed is called after each binding, pre-seeded or confirmed.
	OnDeployed func(name string, addr common.Address, preseeded bool)
}

// Deployer deploys artifacts and records their addresses.
type Deployer struct {
	tx       *chain.Transactor
	catalog  *artifacts.Catalog
	reg      *registry.Registry
	preseed  Preseed
	logger   *slog.Logger
	onDeploy func(name string, addr common.Address, preseeded bool)
}

// New creates a deployer writing into reg.
func New(tx *chain.Transactor, catalog *artifacts.Catalog, reg *registry.Registry, cfg Config) *Deployer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		tx:       tx,
		catalog:  catalog,
		reg:      reg,
		preseed:  cfg.Preseed,
		logger:   logger,
		onDeploy: cfg.OnDeployed,
	}
}

// Deploy binds req.Name to its pre-seeded address, or deploys the artifact and binds the
// confirmed contract address.
func (d *Deployer) Deploy(ctx context.Context, req Request) (common.Address, error) {
	if addr, ok := d.preseed.lookup(req.Category, req.Name); ok {
		if err := d.reg.Preseed(req.Name, addr, req.Category); err != nil {
			return common.Address{}, err
		}
		d.logger.Info("using pre-seeded address",
			slog.String("name", req.Name),
			slog.String("category", string(req.Category)),
			slog.String("address", addr.Hex()),
		)
		d.notify(req.Name, addr, true)
		return addr, nil
	}

	artifactName := req.Artifact
	if artifactName == "" {
		artifactName = req.Name
	}
	artifact, err := d.catalog.Get(artifactName)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy %s: %w", req.Name, err)
	}

	var args []interface{}
	if req.Args != nil {
		contract, err := artifact.Contract()
		if err != nil {
			return common.Address{}, fmt.Errorf("deploy %s: %w", req.Name, err)
		}
		args, err = req.Args(contract.Constructor.Inputs)
		if err != nil {
			return common.Address{}, fmt.Errorf("deploy %s: resolve constructor args: %w", req.Name, err)
		}
	}

	data, err := artifact.DeployData(args...)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy %s: %w", req.Name, err)
	}

	d.logger.Info("deploying",
		slog.String("name", req.Name),
		slog.String("artifact", artifactName),
		slog.String("category", string(req.Category)),
	)

	addr, _, err := d.tx.Deploy(ctx, string(req.Category)+" "+req.Name, data, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy %s: %w", req.Name, err)
	}
	if err := d.reg.Put(req.Name, addr, req.Category); err != nil {
		return common.Address{}, err
	}

	d.logger.Info("deployed",
		slog.String("name", req.Name),
		slog.String("address", addr.Hex()),
	)
	d.notify(req.Name, addr, false)
	return addr, nil
}

func (d *Deployer) notify(name string, addr common.Address, preseeded bool) {
	if d.onDeploy != nil {
		d.onDeploy(name, addr, preseeded)
	}
}

// DeployContracts deploys contracts in order and stops at the first failure.
func (d *Deployer) DeployContracts(ctx context.Context, reqs []Request) error {
	for _, req := range reqs {
		req.Category = registry.CategoryContract
		if _, err := d.Deploy(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// DefaultSupply is minted to the deployer by each mock token.
var DefaultSupply = big.NewInt(1_000_000_000_000_000_000)
