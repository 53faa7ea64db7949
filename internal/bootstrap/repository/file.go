package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultFilePath is where the file backend keeps its records.
const DefaultFilePath = ".protoboot/ledger.json"

type fileRepo struct {
	mu   sync.Mutex
	path string
}

// NewFileRepository stores records as JSON in a local file.
func NewFileRepository(path string) (Repository, error) {
	if path == "" {
		path = DefaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &fileRepo{path: path}, nil
}

func (r *fileRepo) IsComplete(_ context.Context, network, stage, fingerprint string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return false, err
	}
	for _, c := range records {
		if c.Network == network && c.Stage == stage && c.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (r *fileRepo) MarkComplete(_ context.Context, c *Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, existing := range records {
		if existing.Network == c.Network && existing.Stage == c.Stage && existing.Fingerprint == c.Fingerprint {
			continue
		}
		kept = append(kept, existing)
	}
	return r.save(append(kept, c))
}

func (r *fileRepo) ListCompletions(_ context.Context, network string) ([]*Completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return nil, err
	}
	var out []*Completion
	for _, c := range records {
		if network == "" || c.Network == network {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

func (r *fileRepo) Close() error { return nil }

func (r *fileRepo) load() ([]*Completion, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	var records []*Completion
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", r.path, err)
	}
	return records, nil
}

func (r *fileRepo) save(records []*Completion) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return os.Rename(tmp, r.path)
}
