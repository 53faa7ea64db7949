package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protoboot/pipelines"
)

type stageState struct {
	Name    string
	Enabled bool
}

func states(plan *Plan) []stageState {
	out := make([]stageState, 0, len(plan.Stages))
	for _, ps := range plan.Stages {
		out = append(out, stageState{Name: ps.Stage.Name, Enabled: ps.Enabled})
	}
	return out
}

func TestNewPlan_BundledVariants(t *testing.T) {
	for _, variant := range pipelines.Variants() {
		t.Run(variant, func(t *testing.T) {
			name, src, err := pipelines.Open(variant)
			require.NoError(t, err)
			def, err := Parse(name, src)
			require.NoError(t, err)

			plan, err := NewPlan(def)
			require.NoError(t, err)
			assert.True(t, plan.DistributionEnabled)
			assert.NotEmpty(t, plan.EnabledStages())
		})
	}
}

func TestNewPlan_Extended(t *testing.T) {
	name, src, err := pipelines.Open("extended")
	require.NoError(t, err)
	def, err := Parse(name, src)
	require.NoError(t, err)

	plan, err := NewPlan(def)
	require.NoError(t, err)

	want := []stageState{
		{"bminingInit", true},
		{"btcParamInit", false},
		{"powTokenInit", true},
		{"powTokenETHInit", true},
		{"powStakingInit", true},
		{"powStakingETHInit", true},
		{"exchangeInit", true},
		{"exchangeETHInit", true},
		{"liquidity", true},
		{"mineParamInit", true},
		{"mineParamETHInit", false},
		{"mineParamSetterInit", true},
		{"lpStakingInit", true},
		{"lpStakingETHInit", true},
		{"stakingParams", true},
		{"stakingParamsETH", true},
		{"setMineParam", false},
		{"setMineParamETH", false},
		{"treasuryInit", true},
	}
	if diff := cmp.Diff(want, states(plan)); diff != "" {
		t.Errorf("stage states mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{
		"stage mineParamETHInit disabled: reads pool.WETH_USDT_LP produced by disabled pair WETH_USDT_LP",
	}, plan.Warnings)
	assert.False(t, plan.EnabledPairs["WETH_USDT_LP"])
	assert.True(t, plan.EnabledPairs["bETH30_USDT_LP"])
}

func TestNewPlan_OrderErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name: "pool read before its stage",
			src: `
token "A" {}
token "B" {}
contract "S" {}
pair "AB" {
  token_a  = token.A
  token_b  = token.B
  amount_a = "1"
  amount_b = "1"
}
stage "init" {
  call "initialize" {
    target = contract.S
    args   = [pool.AB]
  }
}
stage "liquidity" {
  pairs = ["AB"]
}`,
			wantErr: "stage init reads pool.AB before stage liquidity produces it",
		},
		{
			name: "never produced",
			src: `
contract "S" {}
stage "init" {
  call "initialize" {
    target = contract.S
    args   = [contract.Missing]
  }
}`,
			wantErr: "stage init reads contract.Missing, which nothing produces",
		},
		{
			name: "constructor reads later contract",
			src: `
contract "A" {
  args = [contract.B]
}
contract "B" {}`,
			wantErr: "contract A reads contract.B before it is deployed",
		},
		{
			name: "category mismatch",
			src: `
token "A" {}
contract "S" {}
stage "init" {
  call "initialize" {
    target = contract.A
  }
}`,
			wantErr: "but A is a token",
		},
		{
			name: "duplicate names",
			src: `
token "A" {}
contract "A" {}`,
			wantErr: "A is declared twice",
		},
		{
			name: "distribution of unknown token",
			src: `
contract "T" {}
distribution {
  treasury = contract.T
  token "DAI" {
    amount = "1"
  }
}`,
			wantErr: "distribution reads DAI, which nothing produces",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := mustParse(t, tt.src)
			_, err := NewPlan(def)
			require.ErrorIs(t, err, ErrInvalidOrder)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewPlan_Cascade(t *testing.T) {
	def := mustParse(t, `
token "A" {}
token "B" {}
contract "S" {}
contract "T" {}
pair "AB" {
  token_a  = token.A
  token_b  = token.B
  amount_a = "1"
  amount_b = "1"
}
pair "OFF" {
  token_a = token.A
  token_b = token.B
  mode    = "lookup"
  enabled = false
}
stage "liquidity" {
  enabled = false
  pairs   = ["AB"]
}
stage "liquidity2" {
  pairs = ["OFF"]
}
stage "readsAB" {
  call "initialize" {
    target = contract.S
    args   = [pool.AB]
  }
}
stage "readsOFF" {
  call "initialize" {
    target = contract.T
    args   = [pool.OFF]
  }
}
stage "independent" {
  call "initialize" {
    target = contract.T
    args   = [token.A]
  }
}
`)

	plan, err := NewPlan(def)
	require.NoError(t, err)

	want := []stageState{
		{"liquidity", false},
		{"liquidity2", true},
		{"readsAB", false},
		{"readsOFF", false},
		{"independent", true},
	}
	if diff := cmp.Diff(want, states(plan)); diff != "" {
		t.Errorf("stage states mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "reads pool.AB produced by disabled stage liquidity", plan.Stages[2].DisabledReason)
	assert.Len(t, plan.Warnings, 2)
	assert.Empty(t, plan.EnabledPairs)
	assert.False(t, plan.DistributionEnabled, "no distribution declared")
}
