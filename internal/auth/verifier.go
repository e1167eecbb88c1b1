package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned by VerifyToken.
var (
	ErrEmptyToken   = errors.New("token cannot be empty")
	ErrInvalidToken = errors.New("invalid token")
)

// VerifierConfig holds the keys accepted by the verifier. At least one must
// be set; when both are, HS256 and RS256 tokens are both accepted.
type VerifierConfig struct {
	// HMACSecret verifies HS256 tokens.
	HMACSecret string

	// PublicKeyPEM verifies RS256 tokens.
	PublicKeyPEM string
}

// Verifier checks bearer tokens presented by kiosk clients.
type Verifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
}

// NewVerifier creates a verifier from cfg.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{}
	if cfg.HMACSecret != "" {
		v.secret = []byte(cfg.HMACSecret)
	}
	if cfg.PublicKeyPEM != "" {
		key, err := parsePublicKeyPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.publicKey = key
	}
	if v.secret == nil && v.publicKey == nil {
		return nil, fmt.Errorf("verifier needs an HMAC secret or an RSA public key")
	}
	return v, nil
}

// VerifyToken verifies a token and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrEmptyToken
	}

	mc := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, mc, v.keyFor,
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claimsFromMap(mc)
}

func (v *Verifier) keyFor(token *jwt.Token) (interface{}, error) {
	switch token.Method.Alg() {
	case "HS256":
		if v.secret == nil {
			return nil, fmt.Errorf("HS256 tokens are not accepted")
		}
		return v.secret, nil
	case "RS256":
		if v.publicKey == nil {
			return nil, fmt.Errorf("RS256 tokens are not accepted")
		}
		return v.publicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

func claimsFromMap(mc jwt.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing or invalid 'sub' claim", ErrInvalidToken)
	}

	claims := &Claims{Subject: sub}
	if raw, ok := mc["roles"]; ok {
		roles, err := stringSlice(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: roles: %v", ErrInvalidToken, err)
		}
		claims.Roles = roles
	}
	if kiosk, ok := mc["kioskId"]; ok {
		claims.KioskID = fmt.Sprint(kiosk)
	}
	return claims, nil
}

func stringSlice(value interface{}) ([]string, error) {
	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		out := make([]string, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("not a string array")
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a string array")
	}
}

func parsePublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}
