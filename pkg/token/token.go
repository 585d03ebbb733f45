package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims access token claims issued by the identity service
type Claims struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Verifier checks access token signatures, RS256 when a public key is set, HS256 otherwise
type Verifier struct {
	publicKey *rsa.PublicKey
	secret    []byte
}

// ErrNoKey neither a public key nor a secret was configured
var ErrNoKey = errors.New("token: no verification key configured")

// NewVerifier build a Verifier, publicKeyPath wins over secret
func NewVerifier(publicKeyPath, secret string) (*Verifier, error) {
	if publicKeyPath != "" {
		pem, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		return &Verifier{publicKey: key}, nil
	}
	if secret == "" {
		return nil, ErrNoKey
	}
	return NewHMACVerifier([]byte(secret)), nil
}

// NewHMACVerifier build a Verifier for HS256 tokens
func NewHMACVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// NewRSAVerifier build a Verifier for RS256 tokens
func NewRSAVerifier(key *rsa.PublicKey) *Verifier {
	return &Verifier{publicKey: key}
}

// Parse verify signature and expiry and return the claims
func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, v.keyFunc, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id")
	}
	return claims, nil
}

func (v *Verifier) keyFunc(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodRSA:
		if v.publicKey == nil {
			return nil, errors.New("unexpected signing method")
		}
		return v.publicKey, nil
	case *jwt.SigningMethodHMAC:
		if v.secret == nil {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}
	return nil, errors.New("unexpected signing method")
}

// GenerateHMAC sign an HS256 token, used by local tooling and tests
func GenerateHMAC(secret []byte, userID, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// GenerateRSA sign an RS256 token
func GenerateRSA(key *rsa.PrivateKey, userID, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}
