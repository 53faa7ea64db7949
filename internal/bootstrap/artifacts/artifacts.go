// Package artifacts loads compiled contract artifacts and exports their interfaces.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrArtifactNotFound is returned when a catalog has no artifact for a name.
	ErrArtifactNotFound = errors.New("artifacts: artifact not found")
	// ErrNoBytecode is returned when deploying an artifact without creation code.
	ErrNoBytecode = errors.New("artifacts: artifact has no bytecode")
	// ErrInvalidBytecode is returned when creation code is not complete hex.
	ErrInvalidBytecode = errors.New("artifacts: invalid bytecode")
)

// Artifact is a compiled contract: its ABI and creation bytecode.
type Artifact struct {
	Name     string          `json:"-"`
	ABI      json.RawMessage `json:"abi"`
	Bytecode Bytecode        `json:"bytecode"`

	once     sync.Once
	parsed   abi.ABI
	parseErr error
}

// Bytecode accepts both the plain string form and the {"object": "0x..."} form.
type Bytecode struct {
	Object string `json:"object"`
}

// UnmarshalJSON decodes either bytecode representation.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &b.Object)
	}
	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode bytecode: %w", err)
	}
	b.Object = obj.Object
	return nil
}

// Parse decodes an artifact document.
func Parse(name string, data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", name, err)
	}
	if len(a.ABI) == 0 {
		return nil, fmt.Errorf("parse artifact %s: missing abi", name)
	}
	a.Name = name
	return &a, nil
}

// Contract returns the parsed ABI.
func (a *Artifact) Contract() (*abi.ABI, error) {
	a.once.Do(func() {
		a.parsed, a.parseErr = abi.JSON(bytes.NewReader(a.ABI))
		if a.parseErr != nil {
			a.parseErr = fmt.Errorf("parse %s abi: %w", a.Name, a.parseErr)
		}
	})
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return &a.parsed, nil
}

// Code returns the creation bytecode. Unlinked library placeholders and malformed hex are
// errors, never a truncated payload.
func (a *Artifact) Code() ([]byte, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(a.Bytecode.Object), "0x")
	if hex == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoBytecode, a.Name)
	}
	if strings.Contains(hex, "__") {
		return nil, fmt.Errorf("%w: %s has unlinked library placeholders", ErrInvalidBytecode, a.Name)
	}
	code, err := hexutil.Decode("0x" + hex)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBytecode, a.Name, err)
	}
	return code, nil
}

// DeployData returns creation bytecode followed by the packed constructor arguments.
func (a *Artifact) DeployData(args ...interface{}) ([]byte, error) {
	code, err := a.Code()
	if err != nil {
		return nil, err
	}
	contract, err := a.Contract()
	if err != nil {
		return nil, err
	}
	packed, err := contract.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s constructor: %w", a.Name, err)
	}
	return append(code, packed...), nil
}

// Catalog holds artifacts by name.
type Catalog struct {
	Source    string
	artifacts map[string]*Artifact
}

// NewCatalog returns an empty catalog.
func NewCatalog(source string) *Catalog {
	return &Catalog{Source: source, artifacts: make(map[string]*Artifact)}
}

// Add stores a under its name.
func (c *Catalog) Add(a *Artifact) {
	c.artifacts[a.Name] = a
}

// Get returns the artifact called name.
func (c *Catalog) Get(name string) (*Artifact, error) {
	a, ok := c.artifacts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (source %s)", ErrArtifactNotFound, name, c.Source)
	}
	return a, nil
}

// Names returns the artifact names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.artifacts))
	for name := range c.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads the named artifacts from a directory or a .tar.zst bundle.
func Load(source string, names []string) (*Catalog, error) {
	if IsBundle(source) {
		return LoadBundle(source, names)
	}
	return LoadDirectory(source, names)
}

// LoadDirectory reads <dir>/<name>.json for each name. Every missing or malformed artifact
// is reported in a single error.
func LoadDirectory(dir string, names []string) (*Catalog, error) {
	catalog := NewCatalog(dir)
	var missing []string

	for _, name := range uniqueSorted(names) {
		data, err := os.ReadFile(filepath.Join(dir, name+".json"))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				missing = append(missing, name)
				continue
			}
			return nil, fmt.Errorf("read artifact %s: %w", name, err)
		}
		a, err := Parse(name, data)
		if err != nil {
			return nil, err
		}
		catalog.Add(a)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w in %s: %s", ErrArtifactNotFound, dir, strings.Join(missing, ", "))
	}
	return catalog, nil
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
