package repository

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Fingerprint hashes the parts that make a stage's transactions, so a stage whose targets or
// calldata change is no longer considered complete.
func Fingerprint(parts ...[]byte) string {
	buf := make([]byte, 0, 256)
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		buf = append(buf, n[:]...)
		buf = append(buf, p...)
	}
	return crypto.Keccak256Hash(buf).Hex()
}

// Guard scopes a repository to one network and run. A nil Guard treats every stage as
// incomplete and records nothing.
type Guard struct {
	repo    Repository
	network string
	runID   uuid.UUID
	logger  *slog.Logger
}

// NewGuard returns a guard for network.
func NewGuard(repo Repository, network string, runID uuid.UUID, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{repo: repo, network: network, runID: runID, logger: logger}
}

// Network returns the scope key of the guard.
func (g *Guard) Network() string {
	if g == nil {
		return ""
	}
	return g.network
}

// Done reports whether stage completed earlier with fingerprint.
func (g *Guard) Done(ctx context.Context, stage, fingerprint string) (bool, error) {
	if g == nil || g.repo == nil {
		return false, nil
	}
	return g.repo.IsComplete(ctx, g.network, stage, fingerprint)
}

// Complete records stage as finished with the given transactions.
func (g *Guard) Complete(ctx context.Context, stage, fingerprint string, hashes []common.Hash) error {
	if g == nil || g.repo == nil {
		return nil
	}
	txs := make([]string, len(hashes))
	for i, h := range hashes {
		txs[i] = h.Hex()
	}
	c := NewCompletion(g.network, stage, fingerprint, g.runID, txs)
	if err := g.repo.MarkComplete(ctx, c); err != nil {
		return err
	}
	g.logger.Debug("stage recorded in ledger", slog.String("stage", stage), slog.String("id", c.ID))
	return nil
}
