// Package auth verifies HS256 access tokens. Token issuance lives with the
// account service; GenerateToken is kept for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const accessTokenType = "access"

// Claims carries the registered claims plus the user id and token type
// ("access" or "refresh") written by the account service.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Type   string `json:"type,omitempty"`
}

// GenerateToken signs an access token for userID.
func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
		Type:   accessTokenType,
	})

	return token.SignedString(secretKey)
}

// GetUserIDFromToken validates tokenString and returns the user id it carries.
// Every failure is reported as common.ErrInvalidToken (wrapping the cause).
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", common.ErrInvalidToken
	}
	if claims.Type != "" && claims.Type != accessTokenType {
		return "", fmt.Errorf("%w: unexpected token type %q", common.ErrInvalidToken, claims.Type)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: no user id", common.ErrInvalidToken)
	}

	return claims.UserID, nil
}

// Verifier is what the transports depend on.
type Verifier interface {
	Verify(token string) (string, error)
}

// HMACVerifier verifies tokens against a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(token string) (string, error) {
	return GetUserIDFromToken(token, v.secret)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid auth header format")
	}
	return strings.TrimSpace(token), nil
}
