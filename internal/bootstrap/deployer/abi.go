package deployer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// FitInteger returns n as the Go type go-ethereum expects for t, checking range.
func FitInteger(t abi.Type, n *big.Int) (interface{}, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return nil, fmt.Errorf("%s is negative", n)
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s overflows uint%d", n, t.Size)
		}
		switch t.Size {
		case 8:
			return uint8(n.Uint64()), nil
		case 16:
			return uint16(n.Uint64()), nil
		case 32:
			return uint32(n.Uint64()), nil
		case 64:
			return n.Uint64(), nil
		}
		return n, nil
	}

	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
		return nil, fmt.Errorf("%s overflows int%d", n, t.Size)
	}
	switch t.Size {
	case 8:
		return int8(n.Int64()), nil
	case 16:
		return int16(n.Int64()), nil
	case 32:
		return int32(n.Int64()), nil
	case 64:
		return n.Int64(), nil
	}
	return n, nil
}

// tokenArgs shapes (name, symbol, decimals, supply) to the token constructor inputs.
func tokenArgs(inputs abi.Arguments, symbol string, decimals uint8, supply *big.Int) ([]interface{}, error) {
	if len(inputs) != 4 {
		return nil, fmt.Errorf("token constructor takes %d arguments, expected (name, symbol, decimals, supply)", len(inputs))
	}
	values := []interface{}{symbol, symbol, new(big.Int).SetUint64(uint64(decimals)), supply}

	out := make([]interface{}, len(inputs))
	for i, in := range inputs {
		switch v := values[i].(type) {
		case string:
			if in.Type.T != abi.StringTy {
				return nil, fmt.Errorf("argument %s: expected string, constructor declares %s", in.Name, in.Type.String())
			}
			out[i] = v
		case *big.Int:
			if in.Type.T != abi.UintTy && in.Type.T != abi.IntTy {
				return nil, fmt.Errorf("argument %s: expected an integer, constructor declares %s", in.Name, in.Type.String())
			}
			n, err := FitInteger(in.Type, v)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %w", in.Name, err)
			}
			out[i] = n
		}
	}
	return out, nil
}
