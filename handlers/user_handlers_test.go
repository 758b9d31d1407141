package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"deskledger/database"
	"deskledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCreateUser(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodPost, "/users", nil, CreateUserRequest{
		Username: "newuser",
		Email:    "newuser@acme.test",
		Password: "password",
		ClientID: &env.client.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "User created successfully")

	var user models.User
	require.NoError(t, database.DB.Where("username = ?", "newuser").First(&user).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("password")))
	assert.NotContains(t, w.Body.String(), user.PasswordHash)
}

func TestCreateUserConflicts(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodPost, "/users", nil, CreateUserRequest{
		Username: "acme", Email: "other@acme.test", Password: "password", ClientID: &env.client.ID,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/users", nil, CreateUserRequest{
		Username: "both", Email: "both@acme.test", Password: "password", ClientID: &env.client.ID, IsStaff: true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	missing := uint(999)
	w = env.do(t, http.MethodPost, "/users", nil, CreateUserRequest{
		Username: "ghost", Email: "ghost@acme.test", Password: "password", ClientID: &missing,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/users", nil, CreateUserRequest{Username: "short", Email: "s@acme.test", Password: "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUserSubscriptions(t *testing.T) {
	env := setupTestEnv(t)
	plan := models.Plan{Name: "Basic", IncludedHours: 10, Status: models.PlanActive}
	require.NoError(t, database.DB.Create(&plan).Error)
	w := env.do(t, http.MethodPost, "/subscriptions", &env.staff, SubscribeRequest{
		ClientID: env.client.ID, DomainID: env.domain.ID, PlanID: plan.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/users/%d/subscriptions", env.portal.ID), &env.portal, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var subs []models.Subscription
	decode(t, w, &subs)
	require.Len(t, subs, 1)
	assert.Equal(t, "Basic", subs[0].Plan.Name)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/users/%d/subscriptions", env.staff.ID), &env.portal, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
