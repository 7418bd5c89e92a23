package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/workflo/cmsauth/store"
)

type (
	// Claims carried by a session token. The registered ID holds the
	// session id so two logins within the same second never share a token.
	Claims struct {
		UserID   string     `json:"uid"`
		Username string     `json:"username"`
		Role     store.Role `json:"role"`
		jwt.RegisteredClaims
	}

	TokenIssuer struct {
		secret []byte
	}
)

const MinSecretLength = 32

var (
	// ErrTokenSignature is returned by Decode for tokens that are malformed,
	// signed with another key or with another algorithm.
	ErrTokenSignature = errors.New("auth: token signature is not valid")

	errShortSecret = fmt.Errorf("auth: signing secret must have at least %v bytes", MinSecretLength)
)

// Expired checks the expiry embedded in the token. A token without
// expiry is considered expired.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !now.Before(c.ExpiresAt.Time)
}

func NewTokenIssuer(secret []byte) (*TokenIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, errShortSecret
	}
	return &TokenIssuer{secret: append([]byte(nil), secret...)}, nil
}

// Issue signs claims with HS256
func (t *TokenIssuer) Issue(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("unable to sign session token, cause %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and algorithm of token and returns its
// claims. Expiry is checked separately with Claims.Expired.
func (t *TokenIssuer) Decode(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrTokenSignature
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenSignature
	}
	return claims, nil
}
