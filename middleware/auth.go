package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"BookAI/pkg/config"
	tokenstore "BookAI/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextUserIDKey = "current_user_id"
	ContextJTIKey    = "current_jti"
)

// AuthMiddleware verifies bearer tokens issued by the external auth service.
// Token issuance is not this service's job; it only checks signature,
// revocation and subject.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing authorization header"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid authorization header"})
			return
		}

		userID, jti, err := ParseUserToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": err.Error()})
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextJTIKey, jti)
		c.Next()
	}
}

// ParseUserToken validates a JWT and returns (user id, jti). Shared with the
// websocket handler, which authenticates via query parameter.
func ParseUserToken(tokenStr string) (string, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		// only accept HMAC signing
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", "", errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errInvalidToken
	}

	jtiVal, _ := claims["jti"].(string)
	if tokenstore.IsRevoked(jtiVal) {
		return "", "", errRevokedToken
	}

	var userIDStr string
	if sub, ok := claims["sub"].(string); ok {
		userIDStr = sub
	} else if subf, ok := claims["sub"].(float64); ok {
		// jwt lib may parse numeric as float64
		userIDStr = strconv.Itoa(int(subf))
	}
	if userIDStr == "" {
		return "", "", errInvalidToken
	}
	return userIDStr, jtiVal, nil
}

type authError string

func (e authError) Error() string { return string(e) }

const (
	errInvalidToken authError = "invalid token"
	errRevokedToken authError = "token has been revoked"
)
