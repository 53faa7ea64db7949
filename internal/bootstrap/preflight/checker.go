// Package preflight provides pre-bootstrap validation checks.
package preflight

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/contracts"
)

// DefaultTimeout is the default timeout for RPC calls.
const DefaultTimeout = 10 * time.Second

// CheckName identifies a specific pre-flight check.
type CheckName string

const (
	// CheckRPCReachable verifies the RPC endpoint is reachable.
	CheckRPCReachable CheckName = "rpc_reachable"
	// CheckChainIDMatch verifies the chain ID matches the expected value.
	CheckChainIDMatch CheckName = "chain_id_match"
	// CheckDeployerBalance verifies the deployer has sufficient funds.
	CheckDeployerBalance CheckName = "deployer_balance"
	// CheckRouterCode verifies a contract is deployed at the router address.
	CheckRouterCode CheckName = "router_code"
	// CheckFactoryCode verifies a contract is deployed at the factory address.
	CheckFactoryCode CheckName = "factory_code"
	// CheckRouterFactory verifies the router points at the configured factory.
	CheckRouterFactory CheckName = "router_factory_match"
	// CheckPreseededCode verifies every pre-seeded address holds code.
	CheckPreseededCode CheckName = "preseeded_code"
)

// CheckResult represents the result of a single pre-flight check.
type CheckResult struct {
	Name    CheckName              `json:"name" yaml:"name"`
	Passed  bool                   `json:"passed" yaml:"passed"`
	Message string                 `json:"message" yaml:"message"`
	Details map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// Request contains the parameters for pre-flight checks.
type Request struct {
	RPCURL   string
	ChainID  uint64
	Deployer common.Address
	// Router and Factory are skipped when zero (export-only runs never need them).
	Router  common.Address
	Factory common.Address
	// Preseeded maps names to addresses that must already hold code.
	Preseeded map[string]common.Address
	// MinBalance overrides the per-network funding requirement.
	MinBalance *big.Int
}

// Response contains the results of all pre-flight checks.
type Response struct {
	OK                 bool          `json:"ok" yaml:"ok"`
	Network            string        `json:"network" yaml:"network"`
	Checks             []CheckResult `json:"checks" yaml:"checks"`
	DeployerAddress    string        `json:"deployer_address" yaml:"deployer_address"`
	RequiredFundingETH string        `json:"required_funding_eth" yaml:"required_funding_eth"`
	CurrentBalanceETH  string        `json:"current_balance_eth,omitempty" yaml:"current_balance_eth,omitempty"`
}

// Dialer opens a ledger connection.
type Dialer func(ctx context.Context, rpcURL string) (chain.Ledger, error)

// Checker performs pre-flight validation checks.
type Checker struct {
	timeout time.Duration
	dial    Dialer
}

// NewChecker creates a new pre-flight checker.
func NewChecker() *Checker {
	return &Checker{
		timeout: DefaultTimeout,
		dial:    chain.Dial,
	}
}

// WithTimeout sets a custom timeout for RPC calls.
func (c *Checker) WithTimeout(timeout time.Duration) *Checker {
	c.timeout = timeout
	return c
}

// WithDialer replaces the function used to connect to the RPC endpoint.
func (c *Checker) WithDialer(dial Dialer) *Checker {
	c.dial = dial
	return c
}

// RunChecks performs all pre-flight checks and returns the results.
func (c *Checker) RunChecks(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response := &Response{
		OK:              true,
		Network:         GetNetworkName(req.ChainID),
		Checks:          make([]CheckResult, 0, 7),
		DeployerAddress: req.Deployer.Hex(),
	}

	requiredWei := req.MinBalance
	if requiredWei == nil {
		requiredWei = c.getRequiredFunding(req.ChainID)
	}
	response.RequiredFundingETH = weiToETHString(requiredWei)

	ledger, reachable := c.checkRPCReachable(rpcCtx, req.RPCURL)
	response.add(reachable)
	if !reachable.Passed {
		return response, nil // Can't continue without connection
	}
	defer ledger.Close()

	response.add(c.checkChainIDMatch(rpcCtx, ledger, req.ChainID))

	balance := c.checkDeployerBalance(rpcCtx, ledger, req.Deployer, requiredWei)
	response.add(balance)
	if haveETH, ok := balance.Details["have_eth"].(string); ok {
		response.CurrentBalanceETH = haveETH
	}

	if req.Router != (common.Address{}) {
		response.add(c.checkCode(rpcCtx, ledger, CheckRouterCode, "router", req.Router))
	}
	if req.Factory != (common.Address{}) {
		response.add(c.checkCode(rpcCtx, ledger, CheckFactoryCode, "factory", req.Factory))
	}
	if req.Router != (common.Address{}) && req.Factory != (common.Address{}) {
		response.add(c.checkRouterFactory(rpcCtx, ledger, req.Router, req.Factory))
	}
	if len(req.Preseeded) > 0 {
		response.add(c.checkPreseeded(rpcCtx, ledger, req.Preseeded))
	}

	return response, nil
}

func (r *Response) add(result CheckResult) {
	r.Checks = append(r.Checks, result)
	if !result.Passed {
		r.OK = false
	}
}

// Failed returns the checks that did not pass.
func (r *Response) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// validateRequest validates the pre-flight request parameters.
func (c *Checker) validateRequest(req *Request) error {
	if req.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if req.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if req.Deployer == (common.Address{}) {
		return fmt.Errorf("deployer address is required")
	}
	return nil
}

// checkRPCReachable verifies the RPC endpoint is reachable.
func (c *Checker) checkRPCReachable(ctx context.Context, rpcURL string) (chain.Ledger, CheckResult) {
	result := CheckResult{
		Name: CheckRPCReachable,
	}

	ledger, err := c.dial(ctx, rpcURL)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to connect to RPC: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return nil, result
	}

	// Verify connection works by making a simple call
	block, err := ledger.BlockNumber(ctx)
	if err != nil {
		ledger.Close()
		result.Message = fmt.Sprintf("RPC connection failed: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return nil, result
	}

	result.Passed = true
	result.Message = "Connected to RPC successfully"
	result.Details = map[string]interface{}{
		"block_number": block,
	}
	return ledger, result
}

// checkChainIDMatch verifies the chain ID matches the expected value.
func (c *Checker) checkChainIDMatch(ctx context.Context, ledger chain.Ledger, expectedChainID uint64) CheckResult {
	result := CheckResult{
		Name: CheckChainIDMatch,
	}

	actualChainID, err := ledger.ChainID(ctx)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to get chain ID: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return result
	}

	expected := new(big.Int).SetUint64(expectedChainID)
	if actualChainID.Cmp(expected) != 0 {
		result.Message = fmt.Sprintf("Chain ID mismatch: expected %d, got %d", expectedChainID, actualChainID.Uint64())
		result.Details = map[string]interface{}{
			"expected": expectedChainID,
			"actual":   actualChainID.Uint64(),
		}
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Chain ID %d confirmed", expectedChainID)
	result.Details = map[string]interface{}{
		"chain_id": expectedChainID,
	}
	return result
}

// checkDeployerBalance verifies the deployer has sufficient funds.
func (c *Checker) checkDeployerBalance(ctx context.Context, ledger chain.Ledger, deployer common.Address, requiredWei *big.Int) CheckResult {
	result := CheckResult{
		Name: CheckDeployerBalance,
	}

	balance, err := ledger.BalanceAt(ctx, deployer, nil)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to get deployer balance: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return result
	}

	haveETH := weiToETHString(balance)
	needETH := weiToETHString(requiredWei)

	result.Details = map[string]interface{}{
		"have_wei": balance.String(),
		"need_wei": requiredWei.String(),
		"have_eth": haveETH,
		"need_eth": needETH,
	}

	if balance.Cmp(requiredWei) < 0 {
		result.Message = fmt.Sprintf("Insufficient deployer balance: have %s ETH, need %s ETH", haveETH, needETH)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Deployer has sufficient balance: %s ETH", haveETH)
	return result
}

// checkCode verifies a contract is deployed at addr.
func (c *Checker) checkCode(ctx context.Context, ledger chain.Ledger, name CheckName, label string, addr common.Address) CheckResult {
	result := CheckResult{
		Name: name,
		Details: map[string]interface{}{
			"address": addr.Hex(),
		},
	}

	code, err := ledger.CodeAt(ctx, addr, nil)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to read %s code: %v", label, err)
		result.Details["error"] = err.Error()
		return result
	}
	if len(code) == 0 {
		result.Message = fmt.Sprintf("No contract deployed at %s address %s", label, addr.Hex())
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Found %s contract (%d bytes)", label, len(code))
	return result
}

// checkRouterFactory verifies router.factory() returns the configured factory.
func (c *Checker) checkRouterFactory(ctx context.Context, ledger chain.Ledger, router, factory common.Address) CheckResult {
	result := CheckResult{
		Name: CheckRouterFactory,
	}

	data, err := contracts.FuncFactory.EncodeArgs()
	if err != nil {
		result.Message = fmt.Sprintf("Failed to encode factory(): %v", err)
		return result
	}
	out, err := ledger.CallContract(ctx, ethereumCall(router, data), nil)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to query router factory: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return result
	}
	var actual common.Address
	if err := contracts.FuncFactory.DecodeReturns(out, &actual); err != nil {
		result.Message = fmt.Sprintf("Failed to decode router factory: %v", err)
		return result
	}

	result.Details = map[string]interface{}{
		"expected": factory.Hex(),
		"actual":   actual.Hex(),
	}
	if actual != factory {
		result.Message = fmt.Sprintf("Router uses factory %s, configured %s", actual.Hex(), factory.Hex())
		return result
	}

	result.Passed = true
	result.Message = "Router and factory match"
	return result
}

// checkPreseeded verifies every pre-seeded address holds code.
func (c *Checker) checkPreseeded(ctx context.Context, ledger chain.Ledger, preseeded map[string]common.Address) CheckResult {
	result := CheckResult{
		Name: CheckPreseededCode,
	}

	names := make([]string, 0, len(preseeded))
	for name := range preseeded {
		names = append(names, name)
	}
	sort.Strings(names)

	var missing []string
	for _, name := range names {
		code, err := ledger.CodeAt(ctx, preseeded[name], nil)
		if err != nil {
			result.Message = fmt.Sprintf("Failed to read code of %s: %v", name, err)
			result.Details = map[string]interface{}{
				"error": err.Error(),
			}
			return result
		}
		if len(code) == 0 {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		result.Message = fmt.Sprintf("%d pre-seeded address(es) have no code", len(missing))
		result.Details = map[string]interface{}{
			"missing": missing,
		}
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("All %d pre-seeded addresses hold code", len(names))
	return result
}

// getRequiredFunding returns the required funding in wei based on the network.
func (c *Checker) getRequiredFunding(chainID uint64) *big.Int {
	switch chainID {
	case 1: // Ethereum Mainnet
		// 5 ETH
		return new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18))
	case 1337, 31337: // Local dev chains
		return big.NewInt(1e17)
	default:
		// Testnets: 1 ETH
		return big.NewInt(1e18)
	}
}

// weiToETHString converts wei to a human-readable ETH string.
func weiToETHString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	weiFloat := new(big.Float).SetInt(wei)
	ethFloat := new(big.Float).Quo(weiFloat, big.NewFloat(1e18))

	// Format with up to 4 decimal places
	return ethFloat.Text('f', 4)
}

// GetNetworkName returns a human-readable name for a chain ID.
func GetNetworkName(chainID uint64) string {
	switch chainID {
	case 1:
		return "Ethereum Mainnet"
	case 11155111:
		return "Sepolia"
	case 17000:
		return "Holesky"
	case 56:
		return "BNB Smart Chain"
	case 97:
		return "BNB Smart Chain Testnet"
	case 1337, 31337:
		return "Local devnet"
	default:
		return fmt.Sprintf("Chain %d", chainID)
	}
}

func ethereumCall(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}
