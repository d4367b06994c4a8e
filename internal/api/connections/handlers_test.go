package connections

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/middleware"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// stubService records the last call and returns canned results
type stubService struct {
	createIn  relay.CreateConnectionInput
	renewTTL  time.Duration
	patch     models.PermissionsPatch
	calledFor string

	issued *relay.IssuedConnection
	conn   *models.Connection
	conns  []*models.Connection
	err    error
}

func (s *stubService) Create(_ context.Context, in relay.CreateConnectionInput) (*relay.IssuedConnection, error) {
	s.createIn = in
	return s.issued, s.err
}

func (s *stubService) Get(_ context.Context, id, userID string) (*models.Connection, error) {
	s.calledFor = id + "/" + userID
	return s.conn, s.err
}

func (s *stubService) List(_ context.Context, userID string) ([]*models.Connection, error) {
	s.calledFor = userID
	return s.conns, s.err
}

func (s *stubService) Renew(_ context.Context, id, userID string, ttl time.Duration) (*relay.IssuedConnection, error) {
	s.calledFor = id + "/" + userID
	s.renewTTL = ttl
	return s.issued, s.err
}

func (s *stubService) Revoke(_ context.Context, id, userID string) (*models.Connection, error) {
	s.calledFor = id + "/" + userID
	return s.conn, s.err
}

func (s *stubService) UpdatePermissions(_ context.Context, id, userID string, patch models.PermissionsPatch) (*models.Connection, error) {
	s.calledFor = id + "/" + userID
	s.patch = patch
	return s.conn, s.err
}

func sampleConn() *models.Connection {
	return &models.Connection{
		ID:            "conn-1",
		ConnectionKey: "ck_abc",
		UserID:        "user-1",
		DApp:          models.DAppInfo{Name: "Swap", Domain: "swap.example.com"},
		Status:        models.ConnectionStatusActive,
		Session:       models.ConnectionSession{Nonce: "nonce", ExpiresAt: time.Now().Add(time.Hour)},
	}
}

func newRouter(svc Service, userID string) *gin.Engine {
	h := NewHandlers(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	})
	r.POST("/connections", h.CreateHandler())
	r.GET("/connections", h.ListHandler())
	r.GET("/connections/:id", h.GetHandler())
	r.POST("/connections/:id/renew", h.RenewHandler())
	r.PATCH("/connections/:id/permissions", h.UpdatePermissionsHandler())
	r.DELETE("/connections/:id", h.RevokeHandler())
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// CreateHandler
// ---------------------------------------------------------------------------

func TestCreateHandler_NewConnection(t *testing.T) {
	svc := &stubService{issued: &relay.IssuedConnection{
		Connection: sampleConn(), AccessToken: "at", RefreshToken: "rt", IsNew: true,
	}}
	body := `{"nestIdId":"nest-1","walletId":"wallet-1","dapp":{"name":"Swap","domain":"swap.example.com"},
		"permissions":{"readNestId":true,"autoSignMaxAmount":1.5},"expiresIn":3600000}`

	w := do(newRouter(svc, "user-1"), http.MethodPost, "/connections", body)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "user-1", svc.createIn.UserID)
	assert.Equal(t, "swap.example.com", svc.createIn.DApp.Domain)
	assert.Equal(t, time.Hour, svc.createIn.TTL)
	require.NotNil(t, svc.createIn.Permissions.ReadNestID)
	assert.True(t, *svc.createIn.Permissions.ReadNestID)
	require.NotNil(t, svc.createIn.Permissions.AutoSignMaxAmount)
	assert.Equal(t, models.Amount("1.5"), *svc.createIn.Permissions.AutoSignMaxAmount)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "at", resp["accessToken"])
	assert.Equal(t, "rt", resp["refreshToken"])
	assert.Equal(t, true, resp["isNew"])
}

func TestCreateHandler_ExistingConnectionRenewed(t *testing.T) {
	svc := &stubService{issued: &relay.IssuedConnection{Connection: sampleConn(), AccessToken: "at", RefreshToken: "rt"}}
	body := `{"nestIdId":"nest-1","walletId":"wallet-1","dapp":{"name":"Swap","domain":"swap.example.com"}}`

	w := do(newRouter(svc, "user-1"), http.MethodPost, "/connections", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, svc.createIn.TTL)
}

func TestCreateHandler_MissingFields(t *testing.T) {
	svc := &stubService{}
	w := do(newRouter(svc, "user-1"), http.MethodPost, "/connections", `{"nestIdId":"nest-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

func TestCreateHandler_Unauthenticated(t *testing.T) {
	w := do(newRouter(&stubService{}, ""), http.MethodPost, "/connections", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateHandler_OwnershipError(t *testing.T) {
	svc := &stubService{err: &relay.Error{Kind: relay.KindAuthorization, Message: "wallet does not belong to user"}}
	body := `{"nestIdId":"nest-1","walletId":"wallet-2","dapp":{"name":"Swap","domain":"swap.example.com"}}`

	w := do(newRouter(svc, "user-1"), http.MethodPost, "/connections", body)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "wallet does not belong to user")
}

// ---------------------------------------------------------------------------
// ListHandler / GetHandler
// ---------------------------------------------------------------------------

func TestListHandler(t *testing.T) {
	svc := &stubService{conns: []*models.Connection{sampleConn()}}
	w := do(newRouter(svc, "user-1"), http.MethodGet, "/connections", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", svc.calledFor)

	var resp struct {
		Connections []map[string]interface{} `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Connections, 1)
	assert.Equal(t, "ck_abc", resp.Connections[0]["connectionKey"])
	assert.NotContains(t, w.Body.String(), "nonce")
}

func TestListHandler_EmptyIsArray(t *testing.T) {
	w := do(newRouter(&stubService{}, "user-1"), http.MethodGet, "/connections", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"connections":[]}`, w.Body.String())
}

func TestGetHandler_NotFound(t *testing.T) {
	svc := &stubService{err: &relay.Error{Kind: relay.KindNotFound, Message: "connection not found"}}
	w := do(newRouter(svc, "user-1"), http.MethodGet, "/connections/conn-9", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "conn-9/user-1", svc.calledFor)
}

// ---------------------------------------------------------------------------
// RenewHandler
// ---------------------------------------------------------------------------

func TestRenewHandler_WithoutBody(t *testing.T) {
	svc := &stubService{issued: &relay.IssuedConnection{Connection: sampleConn(), AccessToken: "at2", RefreshToken: "rt2"}}
	w := do(newRouter(svc, "user-1"), http.MethodPost, "/connections/conn-1/renew", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Zero(t, svc.renewTTL)
	assert.Contains(t, w.Body.String(), "at2")
}

func TestRenewHandler_WithWindow(t *testing.T) {
	svc := &stubService{issued: &relay.IssuedConnection{Connection: sampleConn()}}
	w := do(newRouter(svc, "user-1"), http.MethodPost, "/connections/conn-1/renew", `{"expiresIn":60000}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Minute, svc.renewTTL)
}

func TestRenewHandler_Revoked(t *testing.T) {
	svc := &stubService{err: &relay.Error{Kind: relay.KindStateConflict, Message: "cannot renew: current status is revoked"}}
	w := do(newRouter(svc, "user-1"), http.MethodPost, "/connections/conn-1/renew", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "state_conflict")
}

// ---------------------------------------------------------------------------
// UpdatePermissionsHandler / RevokeHandler
// ---------------------------------------------------------------------------

func TestUpdatePermissionsHandler(t *testing.T) {
	conn := sampleConn()
	conn.Permissions.AutoSign = true
	svc := &stubService{conn: conn}

	w := do(newRouter(svc, "user-1"), http.MethodPatch, "/connections/conn-1/permissions", `{"autoSign":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.patch.AutoSign)
	assert.True(t, *svc.patch.AutoSign)
	assert.Nil(t, svc.patch.ReadNestID)
	assert.Contains(t, w.Body.String(), `"autoSign":true`)
}

func TestUpdatePermissionsHandler_InvalidBody(t *testing.T) {
	w := do(newRouter(&stubService{}, "user-1"), http.MethodPatch, "/connections/conn-1/permissions", `{"autoSign":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevokeHandler(t *testing.T) {
	conn := sampleConn()
	conn.Status = models.ConnectionStatusRevoked
	svc := &stubService{conn: conn}

	w := do(newRouter(svc, "user-1"), http.MethodDelete, "/connections/conn-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "conn-1/user-1", svc.calledFor)
	assert.Contains(t, w.Body.String(), `"status":"revoked"`)
}
