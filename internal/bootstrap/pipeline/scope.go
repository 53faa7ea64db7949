package pipeline

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
)

// Scope evaluates expressions against the registry of a run.
type Scope struct {
	Registry *registry.Registry
	Deployer common.Address
}

// Evaluate resolves every reference in expr and returns its value. A reference to a name not
// in the registry yields a *registry.MissingError.
func (s Scope) Evaluate(expr hcl.Expression) (cty.Value, error) {
	if expr == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	ctx, err := s.evalContext(expr)
	if err != nil {
		return cty.NilVal, err
	}
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("evaluate expression: %s", diags.Error())
	}
	return val, nil
}

// Address resolves ref to its bound address.
func (s Scope) Address(ref Ref) (common.Address, error) {
	e, ok := s.Registry.Lookup(ref.Name)
	if !ok {
		return common.Address{}, &registry.MissingError{Name: ref.Name}
	}
	if ref.Category != "" && e.Category != ref.Category {
		return common.Address{}, fmt.Errorf("%s is a %s, not a %s", ref.Name, e.Category, ref.Category)
	}
	return e.Address, nil
}

func (s Scope) evalContext(expr hcl.Expression) (*hcl.EvalContext, error) {
	refs, diags := refsOf(expr)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s", diags.Error())
	}

	objects := map[registry.Category]map[string]cty.Value{}
	for _, c := range registry.Categories {
		objects[c] = map[string]cty.Value{}
	}
	for _, ref := range refs {
		addr, err := s.Address(ref)
		if err != nil {
			return nil, err
		}
		objects[ref.Category][ref.Name] = cty.StringVal(addr.Hex())
	}

	vars := map[string]cty.Value{
		varDeployer:    cty.StringVal(s.Deployer.Hex()),
		varZeroAddress: cty.StringVal(common.Address{}.Hex()),
	}
	for c, attrs := range objects {
		vars[string(c)] = cty.ObjectVal(attrs)
	}
	return &hcl.EvalContext{Variables: vars}, nil
}
