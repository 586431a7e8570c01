package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common auth errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Role is the account role carried in the access token.
type Role string

const (
	RoleApplicant  Role = "applicant"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Claims are the access token claims issued by the admissions API.
type Claims struct {
	jwt.RegisteredClaims
	UserID int  `json:"user_id"`
	Role   Role `json:"role"`
}

// AuthService reads access tokens issued by the admissions API. The gateway
// never issues tokens; it forwards them upstream unchanged.
type AuthService struct {
	secret []byte
	now    func() time.Time
}

// ErrNoSigningKey is returned by NewAuthService without a secret.
var ErrNoSigningKey = errors.New("jwt secret is required")

// NewAuthService creates a new AuthService. Tokens are always verified with
// secret, so an empty secret is rejected.
func NewAuthService(secret string) (*AuthService, error) {
	if secret == "" {
		return nil, ErrNoSigningKey
	}
	return &AuthService{secret: []byte(secret), now: time.Now}, nil
}

// ValidateToken parses and verifies an HS256 JWT and returns its claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user_id", ErrTokenInvalid)
	}
	return claims, nil
}
