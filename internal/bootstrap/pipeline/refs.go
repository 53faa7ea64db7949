package pipeline

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
)

// Variables available to expressions besides the registry categories.
const (
	varDeployer    = "deployer"
	varZeroAddress = "zero_address"
)

// refsOf returns the registry entries an expression reads.
func refsOf(expr hcl.Expression) ([]Ref, hcl.Diagnostics) {
	if expr == nil {
		return nil, nil
	}

	var refs []Ref
	var diags hcl.Diagnostics
	for _, traversal := range expr.Variables() {
		ref, isRef, err := parseTraversal(traversal)
		if err != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid reference",
				Detail:   err.Error(),
				Subject:  traversal.SourceRange().Ptr(),
			})
			continue
		}
		if isRef {
			refs = append(refs, ref)
		}
	}
	return dedupeRefs(refs), diags
}

// targetRef requires expr to be a bare reference such as contract.POWToken.
func targetRef(expr hcl.Expression) (Ref, error) {
	traversal, diags := hcl.AbsTraversalForExpr(expr)
	if diags.HasErrors() {
		return Ref{}, fmt.Errorf("expected a reference like contract.NAME: %s", diags.Error())
	}
	ref, isRef, err := parseTraversal(traversal)
	if err != nil {
		return Ref{}, err
	}
	if !isRef {
		return Ref{}, fmt.Errorf("%s is not a registry entry", traversal.RootName())
	}
	return ref, nil
}

func parseTraversal(traversal hcl.Traversal) (Ref, bool, error) {
	root := traversal.RootName()
	switch root {
	case varDeployer, varZeroAddress:
		if len(traversal) > 1 {
			return Ref{}, false, fmt.Errorf("%s has no attributes", root)
		}
		return Ref{}, false, nil
	}

	category := registry.Category(root)
	if !category.Valid() {
		return Ref{}, false, fmt.Errorf("unknown variable %q: use token, contract, pool, deployer or zero_address", root)
	}
	if len(traversal) < 2 {
		return Ref{}, false, fmt.Errorf("%s must name an entry, like %s.NAME", root, root)
	}

	switch step := traversal[1].(type) {
	case hcl.TraverseAttr:
		return Ref{Category: category, Name: step.Name}, true, nil
	case hcl.TraverseIndex:
		if step.Key.Type() == cty.String && step.Key.IsKnown() && !step.Key.IsNull() {
			return Ref{Category: category, Name: step.Key.AsString()}, true, nil
		}
	}
	return Ref{}, false, fmt.Errorf("%s must be followed by an entry name", root)
}

func dedupeRefs(refs []Ref) []Ref {
	seen := make(map[Ref]struct{}, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
