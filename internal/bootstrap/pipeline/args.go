package pipeline

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/zclconf/go-cty/cty"

	"github.com/Bidon15/protoboot/internal/bootstrap/deployer"
)

// ToABIArgs converts a list value into Go values matching inputs. A null value stands for
// no arguments.
func ToABIArgs(inputs abi.Arguments, v cty.Value) ([]interface{}, error) {
	if v.IsNull() {
		if len(inputs) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("expected %d arguments, got none", len(inputs))
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("arguments are not known")
	}
	ty := v.Type()
	if !ty.IsTupleType() && !ty.IsListType() {
		return nil, fmt.Errorf("args must be a list, got %s", ty.FriendlyName())
	}

	elems := v.AsValueSlice()
	if len(elems) != len(inputs) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(inputs), len(elems))
	}

	out := make([]interface{}, len(elems))
	for i, el := range elems {
		conv, err := toABIValue(inputs[i].Type, el)
		if err != nil {
			name := inputs[i].Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, inputs[i].Type.String(), err)
		}
		out[i] = conv
	}
	return out, nil
}

// ToBigInt converts a number or an integer string (decimal or 0x hex) to a big.Int.
func ToBigInt(v cty.Value) (*big.Int, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, fmt.Errorf("value is not set")
	}
	switch v.Type() {
	case cty.Number:
		bf := v.AsBigFloat()
		if !bf.IsInt() {
			return nil, fmt.Errorf("%s is not an integer", bf.Text('f', -1))
		}
		n, _ := bf.Int(nil)
		return n, nil
	case cty.String:
		s := strings.TrimSpace(v.AsString())
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return n, nil
	}
	return nil, fmt.Errorf("expected a number, got %s", v.Type().FriendlyName())
}

func toABIValue(t abi.Type, v cty.Value) (interface{}, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, fmt.Errorf("value is not set")
	}

	switch t.T {
	case abi.AddressTy:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil

	case abi.BoolTy:
		if v.Type() != cty.Bool {
			return nil, fmt.Errorf("expected bool, got %s", v.Type().FriendlyName())
		}
		return v.True(), nil

	case abi.StringTy:
		return asString(v)

	case abi.UintTy, abi.IntTy:
		n, err := ToBigInt(v)
		if err != nil {
			return nil, err
		}
		return deployer.FitInteger(t, n)

	case abi.BytesTy:
		return asBytes(v)

	case abi.FixedBytesTy:
		b, err := asBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil

	case abi.SliceTy, abi.ArrayTy:
		ty := v.Type()
		if !ty.IsTupleType() && !ty.IsListType() && !ty.IsSetType() {
			return nil, fmt.Errorf("expected a list, got %s", ty.FriendlyName())
		}
		elems := v.AsValueSlice()

		var container reflect.Value
		if t.T == abi.SliceTy {
			container = reflect.MakeSlice(t.GetType(), len(elems), len(elems))
		} else {
			if len(elems) != t.Size {
				return nil, fmt.Errorf("expected %d elements, got %d", t.Size, len(elems))
			}
			container = reflect.New(t.GetType()).Elem()
		}
		for i, el := range elems {
			conv, err := toABIValue(*t.Elem, el)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			container.Index(i).Set(reflect.ValueOf(conv))
		}
		return container.Interface(), nil
	}
	return nil, fmt.Errorf("unsupported abi type %s", t.String())
}

func asString(v cty.Value) (string, error) {
	if v.Type() != cty.String {
		return "", fmt.Errorf("expected string, got %s", v.Type().FriendlyName())
	}
	return v.AsString(), nil
}

func asBytes(v cty.Value) ([]byte, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
