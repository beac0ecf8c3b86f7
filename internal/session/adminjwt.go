// Admin console authentication: a separate ES256 JWT path from the
// player reconnect tokens in session.go, following internal/relay/jwt.go's
// IssueWingJWT/ValidateWingJWT shape, reused here to authenticate the
// driver's admin console rather than a wing connection.
package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims are the JWT claims for an admin console session.
type AdminClaims struct {
	jwt.RegisteredClaims
	PlayerName string `json:"player,omitempty"`
	Level      int    `json:"level"`
}

// GenerateAdminKey creates a new P-256 private key and returns it along
// with its base64-DER encoding, suitable for persisting in the driver's
// config.
func GenerateAdminKey() (*ecdsa.PrivateKey, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("session: generate admin key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, "", fmt.Errorf("session: marshal admin key: %w", err)
	}
	return key, base64.StdEncoding.EncodeToString(der), nil
}

// ParseAdminKey parses a P-256 private key from PEM or base64-encoded DER.
func ParseAdminKey(data string) (*ecdsa.PrivateKey, error) {
	if data == "" {
		return nil, fmt.Errorf("session: admin signing key is required")
	}
	if block, _ := pem.Decode([]byte(data)); block != nil {
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("session: parse pem admin key: %w", err)
		}
		return key, nil
	}
	der, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("session: decode base64 admin key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("session: parse der admin key: %w", err)
	}
	return key, nil
}

// IssueAdminJWT creates an ES256-signed JWT for an administrator's console
// session.
func IssueAdminJWT(key *ecdsa.PrivateKey, playerName string, level int, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerName,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		PlayerName: playerName,
		Level:      level,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign admin jwt: %w", err)
	}
	return signed, exp, nil
}

// ValidateAdminJWT verifies an ES256 admin JWT and returns its claims.
func ValidateAdminJWT(pubKey *ecdsa.PublicKey, tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pubKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: parse admin jwt: %w", err)
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("session: invalid admin jwt claims")
	}
	return claims, nil
}
