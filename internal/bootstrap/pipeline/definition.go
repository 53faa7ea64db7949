// Package pipeline loads a declared protocol variant and runs its initialization stages in
// dependency order.
package pipeline

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/Bidon15/protoboot/internal/bootstrap/deployer"
	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
)

// PairMode selects how a pair produces its pool entry.
type PairMode string

const (
	// PairModeAdd approves, adds liquidity, then reads the pair from the factory.
	PairModeAdd PairMode = "add"
	// PairModeLookup only reads an existing pair from the factory.
	PairModeLookup PairMode = "lookup"
)

// Ref names a registry entry an expression reads. An empty Category accepts any category.
type Ref struct {
	Category registry.Category
	Name     string
}

func (r Ref) String() string {
	if r.Category == "" {
		return r.Name
	}
	return string(r.Category) + "." + r.Name
}

// TokenDecl declares a mock token.
type TokenDecl struct {
	Name     string
	Artifact string
	Supply   *big.Int
}

// ContractDecl declares a protocol contract. Every contract is deployed before any stage runs.
type ContractDecl struct {
	Name     string
	Artifact string
	Args     hcl.Expression
	Requires []Ref
}

// PairDecl declares a liquidity pool.
type PairDecl struct {
	Name    string
	TokenA  Ref
	TokenB  Ref
	AmountA *big.Int
	AmountB *big.Int
	Mode    PairMode
	Enabled bool
}

// Call is one contract method invocation inside a stage.
type Call struct {
	Method   string
	Target   Ref
	Artifact string
	Args     hcl.Expression
	Value    hcl.Expression
	Range    hcl.Range
}

// Stage is a named, ordered unit of initialization. A stage either makes calls or bootstraps
// the listed pairs.
type Stage struct {
	Name        string
	Description string
	Enabled     bool
	Calls       []Call
	Pairs       []string
	Requires    []Ref
	Produces    []string
}

// Allotment is the per-token amount handed to each recipient and to the treasury.
type Allotment struct {
	Token          string
	Amount         *big.Int
	TreasuryAmount *big.Int
}

// DistributionDecl declares the test balance distribution.
type DistributionDecl struct {
	Treasury   Ref
	Allotments []Allotment
}

// Definition is a decoded protocol variant.
type Definition struct {
	Source       string
	Tokens       []TokenDecl
	Contracts    []ContractDecl
	Pairs        []PairDecl
	Stages       []*Stage
	Distribution *DistributionDecl
	Interfaces   map[string]string
}

type fileSchema struct {
	Tokens       []*tokenBlock      `hcl:"token,block"`
	Contracts    []*contractBlock   `hcl:"contract,block"`
	Pairs        []*pairBlock       `hcl:"pair,block"`
	Stages       []*stageBlock      `hcl:"stage,block"`
	Distribution *distributionBlock `hcl:"distribution,block"`
	Export       *exportBlock       `hcl:"export,block"`
}

type tokenBlock struct {
	Name     string  `hcl:"name,label"`
	Artifact *string `hcl:"artifact,optional"`
	Supply   *string `hcl:"supply,optional"`
}

type contractBlock struct {
	Name     string         `hcl:"name,label"`
	Artifact *string        `hcl:"artifact,optional"`
	Args     hcl.Expression `hcl:"args,optional"`
}

type pairBlock struct {
	Name    string         `hcl:"name,label"`
	TokenA  hcl.Expression `hcl:"token_a"`
	TokenB  hcl.Expression `hcl:"token_b"`
	AmountA *string        `hcl:"amount_a,optional"`
	AmountB *string        `hcl:"amount_b,optional"`
	Mode    *string        `hcl:"mode,optional"`
	Enabled *bool          `hcl:"enabled,optional"`
}

type stageBlock struct {
	Name        string       `hcl:"name,label"`
	Description *string      `hcl:"description,optional"`
	Enabled     *bool        `hcl:"enabled,optional"`
	Pairs       []string     `hcl:"pairs,optional"`
	Calls       []*callBlock `hcl:"call,block"`
}

type callBlock struct {
	Method   string         `hcl:"method,label"`
	Target   hcl.Expression `hcl:"target"`
	Artifact *string        `hcl:"artifact,optional"`
	Args     hcl.Expression `hcl:"args,optional"`
	Value    hcl.Expression `hcl:"value,optional"`
}

type distributionBlock struct {
	Treasury hcl.Expression    `hcl:"treasury"`
	Tokens   []*allotmentBlock `hcl:"token,block"`
}

type allotmentBlock struct {
	Name           string  `hcl:"name,label"`
	Amount         string  `hcl:"amount"`
	TreasuryAmount *string `hcl:"treasury_amount,optional"`
}

type exportBlock struct {
	Interfaces map[string]string `hcl:"interfaces"`
}

// LoadFile parses and decodes a variant file.
func LoadFile(path string) (*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %s", path, diags.Error())
	}
	return decode(path, file)
}

// Parse decodes variant source held in memory.
func Parse(filename string, src []byte) (*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %s", filename, diags.Error())
	}
	return decode(filename, file)
}

func decode(filename string, file *hcl.File) (*Definition, error) {
	var schema fileSchema
	if diags := gohcl.DecodeBody(file.Body, nil, &schema); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %s", filename, diags.Error())
	}

	def := &Definition{Source: filename, Interfaces: map[string]string{}}
	var diags hcl.Diagnostics

	for _, b := range schema.Tokens {
		tok := TokenDecl{Name: b.Name, Artifact: stringOr(b.Artifact, deployer.DefaultTokenArtifact)}
		if b.Supply != nil {
			supply, err := parseAmount(*b.Supply)
			if err != nil {
				return nil, fmt.Errorf("%s: token %s supply: %w", filename, b.Name, err)
			}
			tok.Supply = supply
		}
		def.Tokens = append(def.Tokens, tok)
	}

	for _, b := range schema.Contracts {
		refs, d := refsOf(b.Args)
		diags = append(diags, d...)
		def.Contracts = append(def.Contracts, ContractDecl{
			Name:     b.Name,
			Artifact: stringOr(b.Artifact, b.Name),
			Args:     b.Args,
			Requires: refs,
		})
	}

	for _, b := range schema.Pairs {
		pair, err := decodePair(b)
		if err != nil {
			return nil, fmt.Errorf("%s: pair %s: %w", filename, b.Name, err)
		}
		def.Pairs = append(def.Pairs, pair)
	}

	for _, b := range schema.Stages {
		st, d := decodeStage(b, def)
		diags = append(diags, d...)
		def.Stages = append(def.Stages, st)
	}

	if schema.Distribution != nil {
		dist, err := decodeDistribution(schema.Distribution)
		if err != nil {
			return nil, fmt.Errorf("%s: distribution: %w", filename, err)
		}
		def.Distribution = dist
	}

	if schema.Export != nil {
		def.Interfaces = schema.Export.Interfaces
	}

	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %s", filename, diags.Error())
	}
	return def, nil
}

func decodePair(b *pairBlock) (PairDecl, error) {
	pair := PairDecl{Name: b.Name, Mode: PairMode(stringOr(b.Mode, string(PairModeAdd))), Enabled: boolOr(b.Enabled, true)}

	var err error
	if pair.TokenA, err = targetRef(b.TokenA); err != nil {
		return pair, fmt.Errorf("token_a: %w", err)
	}
	if pair.TokenB, err = targetRef(b.TokenB); err != nil {
		return pair, fmt.Errorf("token_b: %w", err)
	}

	switch pair.Mode {
	case PairModeLookup:
	case PairModeAdd:
		if b.AmountA == nil || b.AmountB == nil {
			return pair, fmt.Errorf("amount_a and amount_b are required in add mode")
		}
		if pair.AmountA, err = parseAmount(*b.AmountA); err != nil {
			return pair, fmt.Errorf("amount_a: %w", err)
		}
		if pair.AmountB, err = parseAmount(*b.AmountB); err != nil {
			return pair, fmt.Errorf("amount_b: %w", err)
		}
	default:
		return pair, fmt.Errorf("unknown mode %q", pair.Mode)
	}
	return pair, nil
}

func decodeStage(b *stageBlock, def *Definition) (*Stage, hcl.Diagnostics) {
	st := &Stage{
		Name:        b.Name,
		Description: stringOr(b.Description, ""),
		Enabled:     boolOr(b.Enabled, true),
		Pairs:       b.Pairs,
	}
	var diags hcl.Diagnostics

	if len(b.Calls) > 0 && len(b.Pairs) > 0 {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Mixed stage",
			Detail:   fmt.Sprintf("stage %q declares both calls and pairs", b.Name),
		})
	}

	for _, c := range b.Calls {
		target, err := targetRef(c.Target)
		if err != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid call target",
				Detail:   fmt.Sprintf("stage %q call %q: %v", b.Name, c.Method, err),
				Subject:  c.Target.Range().Ptr(),
			})
			continue
		}
		call := Call{
			Method:   c.Method,
			Target:   target,
			Artifact: stringOr(c.Artifact, ""),
			Args:     c.Args,
			Value:    c.Value,
			Range:    c.Target.Range(),
		}
		st.Requires = append(st.Requires, target)
		for _, expr := range []hcl.Expression{c.Args, c.Value} {
			refs, d := refsOf(expr)
			diags = append(diags, d...)
			st.Requires = append(st.Requires, refs...)
		}
		st.Calls = append(st.Calls, call)
	}

	for _, name := range b.Pairs {
		pair, ok := def.pair(name)
		if !ok {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown pair",
				Detail:   fmt.Sprintf("stage %q lists undeclared pair %q", b.Name, name),
			})
			continue
		}
		st.Requires = append(st.Requires, pair.TokenA, pair.TokenB)
		st.Produces = append(st.Produces, name)
	}

	st.Requires = dedupeRefs(st.Requires)
	return st, diags
}

func decodeDistribution(b *distributionBlock) (*DistributionDecl, error) {
	treasury, err := targetRef(b.Treasury)
	if err != nil {
		return nil, fmt.Errorf("treasury: %w", err)
	}
	dist := &DistributionDecl{Treasury: treasury}
	for _, t := range b.Tokens {
		amount, err := parseAmount(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("token %s amount: %w", t.Name, err)
		}
		treasuryAmount := amount
		if t.TreasuryAmount != nil {
			if treasuryAmount, err = parseAmount(*t.TreasuryAmount); err != nil {
				return nil, fmt.Errorf("token %s treasury_amount: %w", t.Name, err)
			}
		}
		dist.Allotments = append(dist.Allotments, Allotment{Token: t.Name, Amount: amount, TreasuryAmount: treasuryAmount})
	}
	return dist, nil
}

func (d *Definition) pair(name string) (PairDecl, bool) {
	for _, p := range d.Pairs {
		if p.Name == name {
			return p, true
		}
	}
	return PairDecl{}, false
}

func (d *Definition) token(name string) (TokenDecl, bool) {
	for _, t := range d.Tokens {
		if t.Name == name {
			return t, true
		}
	}
	return TokenDecl{}, false
}

func (d *Definition) contract(name string) (ContractDecl, bool) {
	for _, c := range d.Contracts {
		if c.Name == name {
			return c, true
		}
	}
	return ContractDecl{}, false
}

// Stage returns the named stage.
func (d *Definition) Stage(name string) (*Stage, bool) {
	for _, s := range d.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Pair returns the named pair.
func (d *Definition) Pair(name string) (PairDecl, bool) {
	return d.pair(name)
}

// ArtifactFor returns the artifact whose ABI encodes call.
func (d *Definition) ArtifactFor(call Call) (string, error) {
	if call.Artifact != "" {
		return call.Artifact, nil
	}
	switch call.Target.Category {
	case registry.CategoryContract:
		if c, ok := d.contract(call.Target.Name); ok {
			return c.Artifact, nil
		}
	case registry.CategoryToken:
		if t, ok := d.token(call.Target.Name); ok {
			return t.Artifact, nil
		}
		return deployer.DefaultTokenArtifact, nil
	}
	return "", fmt.Errorf("call %s on %s needs an explicit artifact", call.Method, call.Target)
}

// ArtifactNames lists every artifact the variant needs, sorted.
func (d *Definition) ArtifactNames() []string {
	seen := map[string]struct{}{}
	add := func(name string) {
		if name != "" {
			seen[name] = struct{}{}
		}
	}
	for _, t := range d.Tokens {
		add(t.Artifact)
	}
	for _, c := range d.Contracts {
		add(c.Artifact)
	}
	for _, s := range d.Stages {
		for _, c := range s.Calls {
			name, _ := d.ArtifactFor(c)
			add(name)
		}
	}
	if d.Distribution != nil {
		add(deployer.DefaultTokenArtifact)
	}
	for _, a := range d.Interfaces {
		add(a)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeployTokens converts the token declarations for the deployer.
func (d *Definition) DeployTokens() []deployer.Token {
	out := make([]deployer.Token, 0, len(d.Tokens))
	for _, t := range d.Tokens {
		out = append(out, deployer.Token{Symbol: t.Name, Artifact: t.Artifact, Supply: t.Supply})
	}
	return out
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return n, nil
}
