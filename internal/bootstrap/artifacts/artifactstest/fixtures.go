// Package artifactstest provides artifact fixtures for tests.
package artifactstest

import (
	"github.com/Bidon15/protoboot/internal/bootstrap/artifacts"
)

// Code is placeholder creation bytecode.
const Code = "0x6080604052348015600f57600080fd5b50"

// ERC20ABI is the mock token interface: constructor(name, symbol, decimals, supply).
const ERC20ABI = `[
  {"type":"constructor","inputs":[
    {"name":"name","type":"string"},
    {"name":"symbol","type":"string"},
    {"name":"decimals","type":"uint8"},
    {"name":"supply","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

// ProtocolABI covers the calls exercised by pipeline tests.
const ProtocolABI = `[
  {"type":"function","name":"initialize","stateMutability":"nonpayable",
   "inputs":[{"name":"token","type":"address"}],"outputs":[]},
  {"type":"function","name":"setRate","stateMutability":"nonpayable",
   "inputs":[{"name":"a","type":"uint256"},{"name":"b","type":"uint16"},{"name":"c","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"setWhiteLists","stateMutability":"nonpayable",
   "inputs":[{"name":"targets","type":"address[]"},{"name":"flags","type":"bool[]"}],"outputs":[]},
  {"type":"function","name":"depositeETH","stateMutability":"payable","inputs":[],"outputs":[]},
  {"type":"function","name":"setName","stateMutability":"nonpayable",
   "inputs":[{"name":"name","type":"string"},{"name":"tag","type":"bytes4"}],"outputs":[]}
]`

// New builds an artifact with placeholder bytecode.
func New(name, abiJSON string) *artifacts.Artifact {
	a, err := artifacts.Parse(name, []byte(`{"abi":`+abiJSON+`,"bytecode":"`+Code+`"}`))
	if err != nil {
		panic(err)
	}
	return a
}

// Catalog builds a catalog from name to ABI JSON.
func Catalog(abis map[string]string) *artifacts.Catalog {
	c := artifacts.NewCatalog("memory")
	for name, abiJSON := range abis {
		c.Add(New(name, abiJSON))
	}
	return c
}
