package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type staticAuth map[string]string

func (a staticAuth) Authenticate(token string) (string, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return "", errors.New("bad token")
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), JWTAuth(staticAuth{"good": "alice"}))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserIDKey))
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	r := newAuthRouter()
	tests := []struct {
		name   string
		setup  func(*http.Request)
		wantID string
	}{
		{name: "bearer header", setup: func(req *http.Request) { req.Header.Set("Authorization", "Bearer good") }, wantID: "alice"},
		{name: "cookie", setup: func(req *http.Request) { req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: "good"}) }, wantID: "alice"},
		{name: "missing", setup: func(req *http.Request) {}},
		{name: "bad scheme", setup: func(req *http.Request) { req.Header.Set("Authorization", "Basic good") }},
		{name: "bad token", setup: func(req *http.Request) { req.Header.Set("Authorization", "Bearer nope") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
			if tc.wantID == "" {
				require.NotEqual(t, "alice", rec.Body.String())
				return
			}
			require.Equal(t, tc.wantID, rec.Body.String())
		})
	}
}

func TestCORSAllowlist(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://chat.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
