package graph

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping repository tests")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestRepository_SaveBumpsVersion(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	g := SampleBookingGraph()
	g.ID = "test-" + t.Name()
	t.Cleanup(func() { _ = repo.Delete(ctx, g.ID) })

	require.NoError(t, repo.Save(ctx, g))
	assert.Equal(t, 1, g.Version)

	g.Name = "renamed"
	require.NoError(t, repo.Save(ctx, g))
	assert.Equal(t, 2, g.Version)

	latest, err := repo.Get(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "renamed", latest.Name)
	assert.Equal(t, 2, latest.Version)

	v1, err := repo.GetVersion(ctx, g.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, v1)
	assert.Equal(t, "Appointment Booking", v1.Name)
}

func TestRepository_GetMissing(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	g, err := repo.Get(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestRepository_Seed_Idempotent(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	require.NoError(t, repo.Seed(ctx))
	require.NoError(t, repo.Seed(ctx))

	graphs, err := repo.ListByTenant(ctx, "demo-tenant")
	require.NoError(t, err)
	require.NotEmpty(t, graphs)
}
