package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sec "TProject/tools/security"

	"github.com/gin-gonic/gin"
)

func testRouter(secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", Middleware(DefaultOptions(secret)), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	secret := []byte("test-secret")
	token, _, _, err := sec.Generate(sec.DefaultOptions(secret), "u1", nil)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	testRouter(secret).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "u1" {
		t.Fatalf("user id = %q, want u1", w.Body.String())
	}
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	secret := []byte("test-secret")
	r := testRouter(secret)

	// 缺头
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", w.Code)
	}

	// 别的密钥签的
	other, _, _, err := sec.Generate(sec.DefaultOptions([]byte("wrong-secret")), "u1", nil)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: status = %d", w.Code)
	}
}
