package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"BookAI/pkg/config"
	tokenstore "BookAI/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(config.JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestParseUserToken(t *testing.T) {
	config.JWTSecret = "test-secret"

	jti := uuid.NewString()
	s := signedToken(t, jwt.MapClaims{
		"sub": "42",
		"jti": jti,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	userID, gotJTI, err := ParseUserToken(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if userID != "42" || gotJTI != jti {
		t.Fatalf("unexpected claims: userID=%q jti=%q", userID, gotJTI)
	}
}

func TestParseUserTokenNumericSubject(t *testing.T) {
	config.JWTSecret = "test-secret"

	s := signedToken(t, jwt.MapClaims{
		"sub": 42,
		"jti": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	userID, _, err := ParseUserToken(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if userID != "42" {
		t.Fatalf("expected numeric sub normalized to string, got %q", userID)
	}
}

func TestParseUserTokenRejectsBadSignature(t *testing.T) {
	config.JWTSecret = "test-secret"

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42", "exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte("some-other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, _, err := ParseUserToken(s); err == nil {
		t.Fatalf("expected error for wrong signing key")
	}
}

func TestParseUserTokenRejectsExpired(t *testing.T) {
	config.JWTSecret = "test-secret"

	s := signedToken(t, jwt.MapClaims{
		"sub": "42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, _, err := ParseUserToken(s); err == nil {
		t.Fatalf("expected error for expired token")
	}
}

func TestParseUserTokenRejectsRevoked(t *testing.T) {
	config.JWTSecret = "test-secret"

	jti := uuid.NewString()
	s := signedToken(t, jwt.MapClaims{
		"sub": "42",
		"jti": jti,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenstore.RevokeUntil(jti, time.Now().Add(time.Hour))
	if _, _, err := ParseUserToken(s); err == nil {
		t.Fatalf("expected error for revoked token")
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config.JWTSecret = "test-secret"

	r := gin.New()
	r.GET("/protected", AuthMiddleware(), func(c *gin.Context) {
		uid, _ := c.Get(ContextUserIDKey)
		c.JSON(http.StatusOK, gin.H{"user_id": uid})
	})

	// no header
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", w.Code)
	}

	// valid token
	s := signedToken(t, jwt.MapClaims{
		"sub": "42",
		"jti": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+s)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", w.Code, w.Body.String())
	}
}
