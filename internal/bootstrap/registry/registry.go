// Package registry records the on-chain addresses a bootstrap run has produced.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Category classifies a registry entry.
type Category string

const (
	CategoryToken    Category = "token"
	CategoryContract Category = "contract"
	CategoryPool     Category = "pool"
)

// Categories lists every category in report order.
var Categories = []Category{CategoryToken, CategoryContract, CategoryPool}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryToken, CategoryContract, CategoryPool:
		return true
	}
	return false
}

var (
	// ErrMissing is matched by every MissingError.
	ErrMissing = errors.New("registry: name not found")
	// ErrConflict is returned when a name is rebound to a different address or category.
	ErrConflict = errors.New("registry: conflicting binding")
)

// MissingError reports a lookup of a name nothing has produced.
type MissingError struct {
	Name string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("registry: %q has not been deployed or pre-seeded", e.Name)
}

func (e *MissingError) Is(target error) bool {
	return target == ErrMissing
}

// Entry is one resolved resource.
type Entry struct {
	Name      string         `json:"name" yaml:"name"`
	Address   common.Address `json:"address" yaml:"address"`
	Category  Category       `json:"category" yaml:"category"`
	Preseeded bool           `json:"preseeded,omitempty" yaml:"preseeded,omitempty"`
	Seq       int            `json:"-" yaml:"-"`
}

// Registry maps resource names to addresses for the lifetime of one run.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Put records a confirmed address.
func (r *Registry) Put(name string, addr common.Address, category Category) error {
	return r.bind(Entry{Name: name, Address: addr, Category: category})
}

// Preseed records an externally supplied address.
func (r *Registry) Preseed(name string, addr common.Address, category Category) error {
	return r.bind(Entry{Name: name, Address: addr, Category: category, Preseeded: true})
}

func (r *Registry) bind(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("registry: empty name")
	}
	if !e.Category.Valid() {
		return fmt.Errorf("registry: unknown category %q for %s", e.Category, e.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[e.Name]; ok {
		if existing.Address == e.Address && existing.Category == e.Category {
			return nil
		}
		return fmt.Errorf("%w: %s is %s %s, cannot rebind to %s %s", ErrConflict,
			e.Name, existing.Category, existing.Address.Hex(), e.Category, e.Address.Hex())
	}

	e.Seq = len(r.order)
	r.entries[e.Name] = e
	r.order = append(r.order, e.Name)
	return nil
}

// Get returns the address bound to name or a *MissingError.
func (r *Registry) Get(name string) (common.Address, error) {
	e, ok := r.Lookup(name)
	if !ok {
		return common.Address{}, &MissingError{Name: name}
	}
	return e.Address, nil
}

// Lookup returns the entry bound to name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Has reports whether name is bound.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Entries returns all entries in insertion order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// ByCategory returns the entries of one category in insertion order.
func (r *Registry) ByCategory(c Category) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of bound names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
