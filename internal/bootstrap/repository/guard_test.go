package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protoboot/internal/bootstrap/repository"
	"github.com/Bidon15/protoboot/internal/bootstrap/repository/repositorytest"
)

func TestGuard_Done(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(repositorytest.MockRepository)
	mockRepo.On("IsComplete", ctx, "net", "stakingInit", "0x01").Return(true, nil)

	g := repository.NewGuard(mockRepo, "net", uuid.New(), nil)
	done, err := g.Done(ctx, "stakingInit", "0x01")
	require.NoError(t, err)
	assert.True(t, done)
	mockRepo.AssertExpectations(t)
}

func TestGuard_Complete(t *testing.T) {
	ctx := context.Background()
	runID := uuid.New()
	hashes := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}

	mockRepo := new(repositorytest.MockRepository)
	mockRepo.On("MarkComplete", ctx, mock.MatchedBy(func(c *repository.Completion) bool {
		return c.Network == "net" &&
			c.Stage == "treasuryInit" &&
			c.Fingerprint == "0xff" &&
			c.RunID == runID &&
			len(c.TxHashes) == 2 &&
			c.TxHashes[0] == hashes[0].Hex() &&
			c.ID != ""
	})).Return(nil)

	g := repository.NewGuard(mockRepo, "net", runID, nil)
	require.NoError(t, g.Complete(ctx, "treasuryInit", "0xff", hashes))
	mockRepo.AssertExpectations(t)
}

func TestGuard_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")

	mockRepo := new(repositorytest.MockRepository)
	mockRepo.On("IsComplete", ctx, "net", "a", "0x01").Return(false, boom)
	mockRepo.On("MarkComplete", ctx, mock.Anything).Return(boom)

	g := repository.NewGuard(mockRepo, "net", uuid.New(), nil)
	_, err := g.Done(ctx, "a", "0x01")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, g.Complete(ctx, "a", "0x01", nil), boom)
}

func TestGuard_Nil(t *testing.T) {
	var g *repository.Guard
	done, err := g.Done(context.Background(), "a", "0x01")
	require.NoError(t, err)
	assert.False(t, done)
	assert.NoError(t, g.Complete(context.Background(), "a", "0x01", nil))
	assert.Empty(t, g.Network())
}
