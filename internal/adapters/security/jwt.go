// Package security holds the crypto-facing adapters so the application layer
// stays library agnostic: operator token verification and webhook signatures.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims identifies the staff member behind an admin call.
type OperatorClaims struct {
	SubjectID string
	Role      string
}

type operatorJWTClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 operator tokens issued by the internal
// identity service.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("operator token secret is required")
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

func (v *TokenVerifier) Verify(raw string) (OperatorClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &operatorJWTClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return OperatorClaims{}, err
	}
	claims, ok := parsed.Claims.(*operatorJWTClaims)
	if !ok || !parsed.Valid {
		return OperatorClaims{}, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return OperatorClaims{}, errors.New("token missing subject")
	}
	return OperatorClaims{
		SubjectID: claims.Subject,
		Role:      strings.ToLower(claims.Role),
	}, nil
}

// WebhookVerifier checks the HMAC-SHA256 signature the payment collaborator
// stamps on webhook deliveries.
type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook secret is required")
	}
	return &WebhookVerifier{secret: []byte(secret)}, nil
}

// Verify checks signature against the raw request body. The header carries a
// hex digest, optionally prefixed with "sha256=".
func (v *WebhookVerifier) Verify(body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
