package deployer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protoboot/internal/bootstrap/artifacts"
	"github.com/Bidon15/protoboot/internal/bootstrap/artifacts/artifactstest"
	"github.com/Bidon15/protoboot/internal/bootstrap/chain/chaintest"
	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
)

func newTestDeployer(t *testing.T, preseed Preseed) (*Deployer, *chaintest.Ledger, *registry.Registry, *artifacts.Catalog) {
	t.Helper()
	ledger := chaintest.NewLedger()
	catalog := artifactstest.Catalog(map[string]string{
		DefaultTokenArtifact: artifactstest.ERC20ABI,
		"POWToken":           artifactstest.ProtocolABI,
		"TokenTreasury":      artifactstest.ProtocolABI,
	})
	reg := registry.New()
	d := New(chaintest.NewTransactor(ledger), catalog, reg, Config{Preseed: preseed, Logger: chaintest.Logger()})
	return d, ledger, reg, catalog
}

func TestTokenDecimals(t *testing.T) {
	tests := []struct {
		symbol string
		want   uint8
	}{
		{"USDT", 6},
		{"WBTC", 8},
		{"WETH", 18},
		{"BMT", 18},
		{"usdt", 18},
	}
	for _, tc := range tests {
		t.Run(tc.symbol, func(t *testing.T) {
			assert.Equal(t, tc.want, TokenDecimals(tc.symbol))
		})
	}
}

func TestDeployTokens_FreshRun(t *testing.T) {
	d, ledger, reg, catalog := newTestDeployer(t, Preseed{})
	ctx := context.Background()

	require.NoError(t, d.DeployTokens(ctx, []Token{{Symbol: "USDT"}, {Symbol: "WBTC"}}))
	require.NoError(t, d.DeployContracts(ctx, []Request{{Name: "POWToken"}}))

	creations := ledger.Creations()
	require.Len(t, creations, 3)

	erc20, err := catalog.Get(DefaultTokenArtifact)
	require.NoError(t, err)
	contract, err := erc20.Contract()
	require.NoError(t, err)
	code, err := erc20.Code()
	require.NoError(t, err)

	for i, want := range []struct {
		symbol   string
		decimals uint8
	}{{"USDT", 6}, {"WBTC", 8}} {
		args, err := contract.Constructor.Inputs.Unpack(creations[i].Data()[len(code):])
		require.NoError(t, err)
		assert.Equal(t, want.symbol, args[0])
		assert.Equal(t, want.decimals, args[2])
		assert.Equal(t, 0, DefaultSupply.Cmp(args[3].(*big.Int)))
	}

	usdt, err := reg.Get("USDT")
	require.NoError(t, err)
	pow, err := reg.Get("POWToken")
	require.NoError(t, err)
	assert.NotEqual(t, usdt, pow)
	assert.Equal(t, []string{"USDT", "WBTC", "POWToken"}, entryNames(reg.Entries()))
}

func TestDeployTokens_ConstructorShapes(t *testing.T) {
	const wideDecimals = `[{"type":"constructor","inputs":[
    {"name":"name","type":"string"},
    {"name":"symbol","type":"string"},
    {"name":"decimals","type":"uint256"},
    {"name":"supply","type":"uint256"}]}]`

	ledger := chaintest.NewLedger()
	catalog := artifactstest.Catalog(map[string]string{"WideToken": wideDecimals})
	d := New(chaintest.NewTransactor(ledger), catalog, registry.New(), Config{Logger: chaintest.Logger()})

	require.NoError(t, d.DeployTokens(context.Background(), []Token{{Symbol: "USDT", Artifact: "WideToken"}}))

	creations := ledger.Creations()
	require.Len(t, creations, 1)
	token, err := catalog.Get("WideToken")
	require.NoError(t, err)
	contract, err := token.Contract()
	require.NoError(t, err)
	code, err := token.Code()
	require.NoError(t, err)
	args, err := contract.Constructor.Inputs.Unpack(creations[0].Data()[len(code):])
	require.NoError(t, err)
	assert.Equal(t, 0, big.NewInt(6).Cmp(args[2].(*big.Int)))
}

func TestTokenArgs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		abi     string
		wantErr string
	}{
		{
			name:    "wrong arity",
			abi:     `[{"type":"constructor","inputs":[{"name":"name","type":"string"}]}]`,
			wantErr: "takes 1 arguments",
		},
		{
			name: "supply overflows",
			abi: `[{"type":"constructor","inputs":[
    {"name":"name","type":"string"},{"name":"symbol","type":"string"},
    {"name":"decimals","type":"uint8"},{"name":"supply","type":"uint8"}]}]`,
			wantErr: "argument supply",
		},
		{
			name: "symbol is not a string",
			abi: `[{"type":"constructor","inputs":[
    {"name":"name","type":"string"},{"name":"symbol","type":"bytes32"},
    {"name":"decimals","type":"uint8"},{"name":"supply","type":"uint256"}]}]`,
			wantErr: "expected string",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			contract, err := artifactstest.New("Token", tc.abi).Contract()
			require.NoError(t, err)
			_, err = tokenArgs(contract.Constructor.Inputs, "USDT", 6, DefaultSupply)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDeploy_Preseeded(t *testing.T) {
	seeded := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	treasury := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	var notified []string
	d, ledger, reg, _ := newTestDeployer(t, Preseed{
		Tokens:    map[string]common.Address{"USDT": seeded},
		Contracts: map[string]common.Address{"TokenTreasury": treasury},
	})
	d.onDeploy = func(name string, _ common.Address, preseeded bool) {
		if preseeded {
			notified = append(notified, name)
		}
	}
	ctx := context.Background()

	require.NoError(t, d.DeployTokens(ctx, []Token{{Symbol: "USDT"}, {Symbol: "WBTC"}}))
	require.NoError(t, d.DeployContracts(ctx, []Request{{Name: "TokenTreasury"}}))

	assert.Len(t, ledger.Creations(), 1, "only WBTC is deployed")

	e, ok := reg.Lookup("USDT")
	require.True(t, ok)
	assert.Equal(t, seeded, e.Address)
	assert.True(t, e.Preseeded)

	addr, err := reg.Get("TokenTreasury")
	require.NoError(t, err)
	assert.Equal(t, treasury, addr)
	assert.Equal(t, []string{"USDT", "TokenTreasury"}, notified)
}

func TestDeploy_PreseedIsCategoryScoped(t *testing.T) {
	d, ledger, reg, _ := newTestDeployer(t, Preseed{
		Tokens: map[string]common.Address{"POWToken": common.HexToAddress("0x01")},
	})

	_, err := d.Deploy(context.Background(), Request{Name: "POWToken", Category: registry.CategoryContract})
	require.NoError(t, err)
	assert.Len(t, ledger.Creations(), 1)

	e, _ := reg.Lookup("POWToken")
	assert.False(t, e.Preseeded)
}

func TestDeploy_PreseedKeysIgnoreCase(t *testing.T) {
	seeded := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	d, ledger, reg, _ := newTestDeployer(t, Preseed{
		Tokens: map[string]common.Address{"usdt": seeded},
	})

	require.NoError(t, d.DeployTokens(context.Background(), []Token{{Symbol: "USDT"}}))
	assert.Empty(t, ledger.Creations())

	e, ok := reg.Lookup("USDT")
	require.True(t, ok)
	assert.Equal(t, seeded, e.Address)
}

func TestDeploy_Errors(t *testing.T) {
	t.Run("unknown artifact", func(t *testing.T) {
		d, ledger, _, _ := newTestDeployer(t, Preseed{})
		_, err := d.Deploy(context.Background(), Request{Name: "Query", Category: registry.CategoryContract})
		assert.ErrorIs(t, err, artifacts.ErrArtifactNotFound)
		assert.Empty(t, ledger.Sent())
	})

	t.Run("argument resolution fails before submission", func(t *testing.T) {
		d, ledger, _, _ := newTestDeployer(t, Preseed{})
		_, err := d.Deploy(context.Background(), Request{
			Name:     "POWToken",
			Category: registry.CategoryContract,
			Args: func(abi.Arguments) ([]interface{}, error) {
				return nil, &registry.MissingError{Name: "TokenTreasury"}
			},
		})
		assert.ErrorIs(t, err, registry.ErrMissing)
		assert.Empty(t, ledger.Sent())
	})
}

func entryNames(entries []registry.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}
