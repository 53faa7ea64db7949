package preflight

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/chain/chaintest"
	"github.com/Bidon15/protoboot/internal/bootstrap/contracts"
)

var (
	deployer = common.HexToAddress("0x1234567890123456789012345678901234567890")
	router   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	factory  = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	usdt     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func checkerFor(ledger *chaintest.Ledger) *Checker {
	return NewChecker().WithDialer(func(context.Context, string) (chain.Ledger, error) {
		return ledger, nil
	})
}

func checkByName(t *testing.T, resp *Response, name CheckName) CheckResult {
	t.Helper()
	for _, c := range resp.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %s not run", name)
	return CheckResult{}
}

func TestValidateRequest(t *testing.T) {
	checker := NewChecker()

	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid request",
			req: &Request{
				RPCURL:   "https://sepolia.infura.io/v3/xxx",
				ChainID:  11155111,
				Deployer: deployer,
			},
			wantErr: false,
		},
		{
			name: "missing RPC URL",
			req: &Request{
				ChainID:  11155111,
				Deployer: deployer,
			},
			wantErr: true,
			errMsg:  "rpc_url is required",
		},
		{
			name: "missing chain ID",
			req: &Request{
				RPCURL:   "https://sepolia.infura.io/v3/xxx",
				Deployer: deployer,
			},
			wantErr: true,
			errMsg:  "chain_id is required",
		},
		{
			name: "missing deployer",
			req: &Request{
				RPCURL:  "https://sepolia.infura.io/v3/xxx",
				ChainID: 11155111,
			},
			wantErr: true,
			errMsg:  "deployer address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checker.validateRequest(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetRequiredFunding(t *testing.T) {
	checker := NewChecker()

	tests := []struct {
		name        string
		chainID     uint64
		expectedETH string
	}{
		{"mainnet", 1, "5.0000"},
		{"sepolia", 11155111, "1.0000"},
		{"hardhat", 31337, "0.1000"},
		{"unknown", 999999, "1.0000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedETH, weiToETHString(checker.getRequiredFunding(tt.chainID)))
		})
	}
}

func TestWeiToETHString(t *testing.T) {
	tests := []struct {
		name     string
		wei      *big.Int
		expected string
	}{
		{"nil", nil, "0"},
		{"zero", big.NewInt(0), "0.0000"},
		{"1 ETH", big.NewInt(1e18), "1.0000"},
		{"0.5 ETH", big.NewInt(5e17), "0.5000"},
		{"5 ETH", new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18)), "5.0000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, weiToETHString(tt.wei))
		})
	}
}

func TestGetNetworkName(t *testing.T) {
	tests := []struct {
		chainID  uint64
		expected string
	}{
		{1, "Ethereum Mainnet"},
		{11155111, "Sepolia"},
		{17000, "Holesky"},
		{56, "BNB Smart Chain"},
		{31337, "Local devnet"},
		{12345, "Chain 12345"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetNetworkName(tt.chainID))
		})
	}
}

func TestNewChecker(t *testing.T) {
	checker := NewChecker()
	assert.Equal(t, DefaultTimeout, checker.timeout)

	checker = checker.WithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, checker.timeout)
}

func TestRunChecks_InvalidRPC(t *testing.T) {
	checker := NewChecker().WithTimeout(2 * time.Second)

	resp, err := checker.RunChecks(context.Background(), &Request{
		RPCURL:   "http://localhost:99999", // Invalid port
		ChainID:  11155111,
		Deployer: deployer,
	})

	require.NoError(t, err)
	assert.False(t, resp.OK)
	require.Len(t, resp.Checks, 1) // Only RPC check should run
	assert.Equal(t, CheckRPCReachable, resp.Checks[0].Name)
	assert.False(t, resp.Checks[0].Passed)
}

func TestRunChecks_InvalidRequest(t *testing.T) {
	_, err := NewChecker().RunChecks(context.Background(), &Request{})
	assert.ErrorContains(t, err, "invalid request")
}

func TestRunChecks_DialError(t *testing.T) {
	checker := NewChecker().WithDialer(func(context.Context, string) (chain.Ledger, error) {
		return nil, errors.New("connection refused")
	})

	resp, err := checker.RunChecks(context.Background(), &Request{RPCURL: "x", ChainID: 1, Deployer: deployer})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "connection refused", resp.Checks[0].Details["error"])
}

func TestRunChecks_AllPass(t *testing.T) {
	ledger := chaintest.NewLedger()
	ledger.SetCode(router, []byte{0x60})
	ledger.SetCode(factory, []byte{0x60, 0x80})
	ledger.SetCode(usdt, []byte{0x60})
	ledger.HandleCall(contracts.FuncFactory.Selector, func(ethereum.CallMsg) ([]byte, error) {
		return contracts.FuncFactory.Returns.Pack(factory)
	})

	resp, err := checkerFor(ledger).RunChecks(context.Background(), &Request{
		RPCURL:    "http://devnet",
		ChainID:   31337,
		Deployer:  deployer,
		Router:    router,
		Factory:   factory,
		Preseeded: map[string]common.Address{"USDT": usdt},
	})
	require.NoError(t, err)

	assert.True(t, resp.OK, "failed: %v", resp.Failed())
	assert.Len(t, resp.Checks, 7)
	assert.Equal(t, "Local devnet", resp.Network)
	assert.Equal(t, "1000.0000", resp.CurrentBalanceETH)
	assert.Equal(t, "0.1000", resp.RequiredFundingETH)
	assert.Equal(t, deployer.Hex(), resp.DeployerAddress)
	assert.True(t, ledger.Closed())
}

func TestRunChecks_Failures(t *testing.T) {
	ledger := chaintest.NewLedger()
	ledger.ChainIDValue = big.NewInt(1)
	ledger.Balance = big.NewInt(1)
	ledger.SetCode(router, []byte{0x60})
	other := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	ledger.HandleCall(contracts.FuncFactory.Selector, func(ethereum.CallMsg) ([]byte, error) {
		return contracts.FuncFactory.Returns.Pack(other)
	})

	resp, err := checkerFor(ledger).RunChecks(context.Background(), &Request{
		RPCURL:    "http://devnet",
		ChainID:   31337,
		Deployer:  deployer,
		Router:    router,
		Factory:   factory,
		Preseeded: map[string]common.Address{"USDT": usdt, "WBTC": router},
	})
	require.NoError(t, err)
	assert.False(t, resp.OK)

	tests := []struct {
		name   CheckName
		passed bool
		msg    string
	}{
		{CheckRPCReachable, true, "Connected"},
		{CheckChainIDMatch, false, "expected 31337, got 1"},
		{CheckDeployerBalance, false, "Insufficient deployer balance"},
		{CheckRouterCode, true, "Found router contract"},
		{CheckFactoryCode, false, "No contract deployed at factory"},
		{CheckRouterFactory, false, "Router uses factory " + other.Hex()},
		{CheckPreseededCode, false, "1 pre-seeded address(es) have no code"},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			c := checkByName(t, resp, tt.name)
			assert.Equal(t, tt.passed, c.Passed)
			assert.Contains(t, c.Message, tt.msg)
		})
	}
	assert.Equal(t, []string{"USDT"}, checkByName(t, resp, CheckPreseededCode).Details["missing"])
	assert.Len(t, resp.Failed(), 5)
}

func TestRunChecks_MinBalanceOverride(t *testing.T) {
	ledger := chaintest.NewLedger()

	resp, err := checkerFor(ledger).RunChecks(context.Background(), &Request{
		RPCURL:     "http://devnet",
		ChainID:    31337,
		Deployer:   deployer,
		MinBalance: new(big.Int).Mul(big.NewInt(2000), big.NewInt(1e18)),
	})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	require.Len(t, resp.Checks, 3, "router checks are skipped without addresses")
	assert.Equal(t, "2000.0000", resp.RequiredFundingETH)
	assert.False(t, checkByName(t, resp, CheckDeployerBalance).Passed)
}
