package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickbuyer/quickbuyer-backend/api/middleware"
	"github.com/quickbuyer/quickbuyer-backend/internal/admin"
	"github.com/quickbuyer/quickbuyer-backend/internal/users"
	"github.com/quickbuyer/quickbuyer-backend/pkg/auth"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/dbtest"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
)

func TestMeSyncsProfileAndReportsAdmin(t *testing.T) {
	conn := dbtest.Open(t)
	repo := users.NewRepository(conn)
	handler := Me(repo, admin.NewPolicy([]string{"Boss@Example.com"}, repo, nil), nil)

	call := func(identity auth.Identity) users.UserDTO {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req = req.WithContext(middleware.WithIdentity(req.Context(), identity))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body struct {
			Data users.UserDTO `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Data
	}

	bossID := uuid.New()
	boss := call(auth.Identity{UserID: bossID, Email: "boss@example.com", Name: "Boss"})
	assert.True(t, boss.IsAdmin)
	assert.Equal(t, bossID, boss.ID)
	require.NotNil(t, boss.Name)
	assert.Equal(t, "Boss", *boss.Name)

	buyer := call(auth.Identity{UserID: uuid.New(), Email: "Buyer@Example.com"})
	assert.False(t, buyer.IsAdmin)
	assert.Equal(t, "buyer@example.com", buyer.Email)

	var count int64
	require.NoError(t, conn.Model(&models.User{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestMeRequiresCaller(t *testing.T) {
	conn := dbtest.Open(t)
	repo := users.NewRepository(conn)
	rec := httptest.NewRecorder()

	Me(repo, admin.NewPolicy(nil, repo, nil), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
