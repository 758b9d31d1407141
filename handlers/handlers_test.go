package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"deskledger/billing"
	"deskledger/database"
	"deskledger/models"
	"deskledger/notify"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	router *gin.Engine
	sink   *notify.Recorder
	staff  models.User
	portal models.User
	client models.Client
	domain models.Domain
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	database.DB = db

	env := &testEnv{sink: &notify.Recorder{}}
	SetBilling(billing.NewService(db, billing.Options{
		FallbackRate:   decimal.RequireFromString("150"),
		Location:       time.UTC,
		InvoiceDueDays: 10,
		Sink:           env.sink,
	}))

	env.client = models.Client{Name: "Acme", BillingEmail: "billing@acme.test"}
	require.NoError(t, db.Create(&env.client).Error)
	env.domain = models.Domain{ClientID: env.client.ID, Host: "acme.test"}
	require.NoError(t, db.Create(&env.domain).Error)

	env.staff = models.User{Username: "staff", Email: "staff@desk.test", PasswordHash: "hash", IsStaff: true}
	require.NoError(t, db.Create(&env.staff).Error)
	env.portal = models.User{Username: "acme", Email: "it@acme.test", PasswordHash: "hash", ClientID: &env.client.ID}
	require.NoError(t, db.Create(&env.portal).Error)

	env.router = gin.New()
	RegisterRoutes(env.router)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, caller *models.User, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	if caller != nil {
		sep := "?"
		if bytes.ContainsRune([]byte(path), '?') {
			sep = "&"
		}
		path = fmt.Sprintf("%s%scaller_user_id=%d", path, sep, caller.ID)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodGet, "/plans?caller_user_id=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/plans?caller_user_id=999", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/plans", &env.portal, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/plans", &env.portal, gin.H{"name": "Sneaky", "price": "1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "staff only")
}

func TestPing(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(t, http.MethodGet, "/ping", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}
