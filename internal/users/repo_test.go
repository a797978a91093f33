package users

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickbuyer/quickbuyer-backend/pkg/auth"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/dbtest"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

func TestUpsertProfileCreatesAndRefreshes(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	id := uuid.New()

	created, err := repo.UpsertProfile(ctx, auth.Identity{UserID: id, Email: "Buyer@Example.com", Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", created.Email)
	require.NotNil(t, created.Name)
	assert.Equal(t, "Ada", *created.Name)
	assert.Equal(t, enums.UserRoleUser, created.Role)

	updated, err := repo.UpsertProfile(ctx, auth.Identity{UserID: id, Email: "buyer@example.com", Name: "Ada L", AvatarURL: "https://img/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "Ada L", *updated.Name)
	require.NotNil(t, updated.AvatarURL)
	assert.Equal(t, "https://img/a.png", *updated.AvatarURL)
}

func TestUpsertProfileKeepsRole(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, conn.Create(&models.User{ID: id, Email: "ops@example.com", Role: enums.UserRoleAdmin}).Error)

	_, err := repo.UpsertProfile(ctx, auth.Identity{UserID: id, Email: "ops@example.com"})
	require.NoError(t, err)

	role, err := repo.RoleByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleAdmin, role)
}

func TestFindByEmailIsCaseInsensitive(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	id := uuid.New()
	require.NoError(t, conn.Create(&models.User{ID: id, Email: "mixed@example.com"}).Error)

	user, err := repo.FindByEmail(context.Background(), "  MIXED@example.COM ")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)

	_, err = repo.FindByEmail(context.Background(), "nobody@example.com")
	require.Error(t, err)

	_, err = repo.RoleByID(context.Background(), uuid.New())
	require.Error(t, err)
}
