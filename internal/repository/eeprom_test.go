package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-bank/internal/errors"
)

func TestEEPROMRepository(t *testing.T) {
	repo := NewEEPROMRepository(SetupTestDB(t))
	ctx := context.Background()

	_, err := repo.Load(ctx, "main")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, repo.Save(ctx, "main", []byte{1, 2, 3}))
	require.NoError(t, repo.Save(ctx, "main", []byte{4, 5, 6}))

	image, err := repo.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6}, image.Data)
	assert.Equal(t, uint64(2), image.Commits)
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 500)
	assert.Equal(t, 200, p.PageSize)
	assert.Equal(t, 400, p.Offset())
}
