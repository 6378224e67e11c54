package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/utils"
)

func setupRouter(t *testing.T) (*gin.Engine, *utils.JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	manager := utils.NewJWTManager("secret", time.Hour, "coin-bank")
	auth := NewAuthMiddleware(manager)

	r := gin.New()
	handler := func(c *gin.Context) {
		op, _ := GetOperator(c)
		c.JSON(http.StatusOK, gin.H{"operator": op})
	}
	r.GET("/read", auth.RequireAuth(), handler)
	r.POST("/write", auth.RequireRole(utils.RoleOperator), handler)
	return r, manager
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errors.ErrorCode {
	t.Helper()
	var body struct {
		Error struct {
			Code errors.ErrorCode `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRequireAuth(t *testing.T) {
	r, manager := setupRouter(t)
	token, err := manager.GenerateToken("alice", utils.RoleViewer)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		value  string
		query  string
		status int
	}{
		{"缺少令牌", "", "", "", http.StatusUnauthorized},
		{"Bearer", "Authorization", "Bearer " + token, "", http.StatusOK},
		{"小写bearer", "Authorization", "bearer " + token, "", http.StatusOK},
		{"X-Access-Token", "X-Access-Token", token, "", http.StatusOK},
		{"查询参数", "", "", "?token=" + token, http.StatusOK},
		{"无效令牌", "Authorization", "Bearer garbage", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/read"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRequireAuthSetsOperator(t *testing.T) {
	r, manager := setupRouter(t)
	token, err := manager.GenerateToken("alice", utils.RoleViewer)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"operator":"alice"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	r, manager := setupRouter(t)
	viewer, err := manager.GenerateToken("bob", utils.RoleViewer)
	require.NoError(t, err)
	operator, err := manager.GenerateToken("alice", utils.RoleOperator)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/write", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errors.ErrAuthorization, decodeError(t, w))

	req = httptest.NewRequest(http.MethodPost, "/write", nil)
	req.Header.Set("Authorization", "Bearer "+operator)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMissingTokenCode(t *testing.T) {
	r, _ := setupRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/read", nil))
	assert.Equal(t, errors.ErrAuthentication, decodeError(t, w))
}
