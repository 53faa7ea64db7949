// Package contracts holds calldata descriptors for the external contracts the bootstrap
// talks to: ERC20 tokens and the Uniswap V2 router and factory.
package contracts

import (
	"github.com/lmittmann/w3"
)

// ERC20.
var (
	FuncAllowance = w3.MustNewFunc("allowance(address owner, address spender)", "uint256")
	FuncApprove   = w3.MustNewFunc("approve(address spender, uint256 amount)", "bool")
	FuncTransfer  = w3.MustNewFunc("transfer(address to, uint256 amount)", "bool")
	FuncBalanceOf = w3.MustNewFunc("balanceOf(address account)", "uint256")
)

// Uniswap V2 router and factory.
var (
	FuncAddLiquidity = w3.MustNewFunc(
		"addLiquidity(address tokenA, address tokenB, uint256 amountADesired, uint256 amountBDesired, uint256 amountAMin, uint256 amountBMin, address to, uint256 deadline)",
		"uint256 amountA, uint256 amountB, uint256 liquidity",
	)
	FuncGetPair = w3.MustNewFunc("getPair(address tokenA, address tokenB)", "address pair")
	FuncFactory = w3.MustNewFunc("factory()", "address")
)
