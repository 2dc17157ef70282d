//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrgRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewOrgRepository(pool)

	org := &domain.Organization{
		ID:        uuid.NewString(),
		Name:      "ACME製薬",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Create(ctx, org))

	byID, err := repo.GetByID(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, org.Name, byID.Name)
	assert.Zero(t, byID.UsageCount)

	byName, err := repo.GetByName(ctx, org.Name)
	require.NoError(t, err)
	assert.Equal(t, org.ID, byName.ID)
}

func TestOrgRepository_IncrementUsage(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewOrgRepository(pool)

	org := &domain.Organization{
		ID:        uuid.NewString(),
		Name:      "Usage Org",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Create(ctx, org))

	require.NoError(t, repo.IncrementUsage(ctx, org.ID))
	require.NoError(t, repo.IncrementUsage(ctx, org.ID))

	retrieved, err := repo.GetByID(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), retrieved.UsageCount)

	err = repo.IncrementUsage(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)
}

func TestUserRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	org, user := setupOrgAndUser(ctx, t, pool)
	userRepo := NewUserRepository(pool)

	admin := &domain.User{
		ID:        uuid.NewString(),
		OrgID:     org.ID,
		Role:      domain.UserRoleAdmin,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, userRepo.Create(ctx, admin))

	retrieved, err := userRepo.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserRoleAdmin, retrieved.Role)

	users, err := userRepo.ListByOrg(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	_ = user

	_, err = userRepo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestTokenRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	_, user := setupOrgAndUser(ctx, t, pool)
	tokenRepo := NewTokenRepository(pool)

	token := &domain.AccessToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Name:      "ci",
		TokenHash: uuid.NewString(),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, tokenRepo.Create(ctx, token))

	byHash, err := tokenRepo.GetByHash(ctx, token.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, token.ID, byHash.ID)
	assert.False(t, byHash.IsRevoked())

	require.NoError(t, tokenRepo.Revoke(ctx, token.ID))

	revoked, err := tokenRepo.GetByHash(ctx, token.TokenHash)
	require.NoError(t, err)
	assert.True(t, revoked.IsRevoked())

	// Revoking again, or an unknown id, fails.
	assert.ErrorIs(t, tokenRepo.Revoke(ctx, token.ID), domain.ErrInvalidToken)
	assert.ErrorIs(t, tokenRepo.Revoke(ctx, uuid.NewString()), domain.ErrInvalidToken)

	tokens, err := tokenRepo.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	_, err = tokenRepo.GetByHash(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}
