package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// DefaultExportPath is where the interface document is written when no path is configured.
const DefaultExportPath = "build/abis.json"

// Sink receives the rendered interface document.
type Sink interface {
	Name() string
	Write(ctx context.Context, data []byte) error
}

// Exporter renders a keyed ABI document from a catalog.
type Exporter struct {
	catalog    *Catalog
	interfaces map[string]string
	sinks      []Sink
	logger     *slog.Logger
}

// NewExporter creates an exporter. interfaces maps the exported key to the artifact name
// that provides its ABI.
func NewExporter(catalog *Catalog, interfaces map[string]string, sinks []Sink, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		catalog:    catalog,
		interfaces: interfaces,
		sinks:      sinks,
		logger:     logger,
	}
}

// InterfaceArtifacts returns the artifact names an export needs.
func InterfaceArtifacts(interfaces map[string]string) []string {
	names := make([]string, 0, len(interfaces))
	for _, artifact := range interfaces {
		names = append(names, artifact)
	}
	return uniqueSorted(names)
}

// Render builds the document. Keys are sorted and the output is indented by two spaces, so
// equal inputs always produce equal bytes.
func (e *Exporter) Render() ([]byte, error) {
	keys := make([]string, 0, len(e.interfaces))
	for key := range e.interfaces {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	doc := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		a, err := e.catalog.Get(e.interfaces[key])
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", key, err)
		}
		doc[key] = a.ABI
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal interfaces: %w", err)
	}
	return append(data, '\n'), nil
}

// Export renders the document and writes it to every sink, replacing earlier output.
func (e *Exporter) Export(ctx context.Context) ([]byte, error) {
	data, err := e.Render()
	if err != nil {
		return nil, err
	}

	for _, sink := range e.sinks {
		if err := sink.Write(ctx, data); err != nil {
			return nil, fmt.Errorf("write %s: %w", sink.Name(), err)
		}
		e.logger.Info("exported contract interfaces",
			slog.String("sink", sink.Name()),
			slog.Int("interfaces", len(e.interfaces)),
			slog.Int("bytes", len(data)),
		)
	}
	return data, nil
}

// FileSink writes the document to a local path.
type FileSink struct {
	Path string
}

// Name identifies the sink in logs.
func (s FileSink) Name() string {
	return "file:" + s.Path
}

// Write replaces the file atomically.
func (s FileSink) Write(_ context.Context, data []byte) error {
	path := s.Path
	if path == "" {
		path = DefaultExportPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".abis-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod export: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
