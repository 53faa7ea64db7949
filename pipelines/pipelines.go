// Package pipelines embeds the bundled protocol variants.
package pipelines

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed *.hcl
var files embed.FS

// DefaultVariant is used when no variant is configured.
const DefaultVariant = "extended"

// Open returns the source of a bundled variant and the file name it was read from.
func Open(variant string) (string, []byte, error) {
	name := variant + ".hcl"
	data, err := files.ReadFile(name)
	if err != nil {
		return "", nil, fmt.Errorf("unknown pipeline variant %q (available: %s)", variant, strings.Join(Variants(), ", "))
	}
	return name, data, nil
}

// Variants lists the bundled variant names.
func Variants() []string {
	entries, _ := files.ReadDir(".")
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(out)
	return out
}
