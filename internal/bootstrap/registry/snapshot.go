package registry

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Snapshot groups addresses by category, keyed by name. Its YAML form matches the pre-seed
// section of the configuration file so a report can be fed back into a later run.
type Snapshot struct {
	Tokens    map[string]string `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Contracts map[string]string `json:"contracts,omitempty" yaml:"contracts,omitempty"`
	Pools     map[string]string `json:"pools,omitempty" yaml:"pools,omitempty"`
}

// Snapshot returns the current bindings.
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Tokens:    map[string]string{},
		Contracts: map[string]string{},
		Pools:     map[string]string{},
	}
	for _, e := range r.Entries() {
		switch e.Category {
		case CategoryToken:
			s.Tokens[e.Name] = e.Address.Hex()
		case CategoryContract:
			s.Contracts[e.Name] = e.Address.Hex()
		case CategoryPool:
			s.Pools[e.Name] = e.Address.Hex()
		}
	}
	return s
}

// WriteTable prints the bindings grouped by category.
func (r *Registry) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range Categories {
		entries := r.ByCategory(c)
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(tw, "=====%ss=====\n", c)
		for _, e := range entries {
			marker := ""
			if e.Preseeded {
				marker = "(pre-seeded)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Address.Hex(), marker)
		}
	}
	return tw.Flush()
}
