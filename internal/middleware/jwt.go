package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
	// ContextKeyToken is the Gin context key for the raw bearer token,
	// forwarded to the admissions API.
	ContextKeyToken = "token"
)

// RequireJWT validates the bearer token from the Authorization header.
func RequireJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, authService, bearerToken(c))
	}
}

// RequireWSAuth validates the token from the query param ?token=...
// Used for WebSocket upgrade requests, which cannot carry headers from a browser.
func RequireWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, authService, c.Query("token"))
	}
}

func authenticate(c *gin.Context, authService *service.AuthService, tokenStr string) {
	if tokenStr == "" {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	claims, err := authService.ValidateToken(tokenStr)
	if err != nil {
		code := response.ErrTokenInvalid
		if errors.Is(err, service.ErrTokenExpired) {
			code = response.ErrTokenExpired
		}
		response.AbortFail(c, http.StatusUnauthorized, code)
		return
	}

	c.Set(ContextKeyClaims, claims)
	c.Set(ContextKeyToken, tokenStr)
	c.Next()
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetToken retrieves the raw bearer token from the Gin context.
func GetToken(c *gin.Context) string {
	return c.GetString(ContextKeyToken)
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
