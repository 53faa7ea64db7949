// Package repositorytest provides a mock completion ledger.
package repositorytest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Bidon15/protoboot/internal/bootstrap/repository"
)

// MockRepository is a mock implementation of repository.Repository for testing.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) IsComplete(ctx context.Context, network, stage, fingerprint string) (bool, error) {
	args := m.Called(ctx, network, stage, fingerprint)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) MarkComplete(ctx context.Context, c *repository.Completion) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) ListCompletions(ctx context.Context, network string) ([]*repository.Completion, error) {
	args := m.Called(ctx, network)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Completion), args.Error(1)
}

func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Verify MockRepository implements Repository
var _ repository.Repository = (*MockRepository)(nil)
