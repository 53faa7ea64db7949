package artifacts

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// maxArtifactSize bounds a single bundle entry.
const maxArtifactSize = 64 << 20

// IsBundle reports whether source names a zstd-compressed tarball.
func IsBundle(source string) bool {
	return strings.HasSuffix(source, ".tar.zst") || strings.HasSuffix(source, ".tzst")
}

// LoadBundle reads the named artifacts from a .tar.zst archive. Entries are matched by base
// name, so build/Foo.json and Foo.json both provide artifact Foo.
func LoadBundle(bundlePath string, names []string) (*Catalog, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	catalog, err := readBundle(bundlePath, f, names)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", bundlePath, err)
	}
	return catalog, nil
}

func readBundle(source string, r io.Reader, names []string) (*Catalog, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	catalog := NewCatalog(source)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		base := path.Base(hdr.Name)
		name := strings.TrimSuffix(base, ".json")
		if name == base || !wanted[name] {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(tr, maxArtifactSize))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		a, err := Parse(name, data)
		if err != nil {
			return nil, err
		}
		catalog.Add(a)
	}

	var missing []string
	for _, n := range uniqueSorted(names) {
		if _, ok := catalog.artifacts[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, strings.Join(missing, ", "))
	}
	return catalog, nil
}
