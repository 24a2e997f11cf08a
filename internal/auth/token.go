// Package auth issues and verifies the signed access/refresh credential pair.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/inkpost/apiserver/types"
)

const (
	DefaultAccessTTL = 15 * time.Minute
	RefreshTTL       = 7 * 24 * time.Hour
)

// TokenType tells an access token apart from a refresh token.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed claim set carried by both tokens of a pair.
type Claims struct {
	jwt.RegisteredClaims
	Type  TokenType  `json:"typ"`
	Email string     `json:"email"`
	Role  types.Role `json:"role"`
}

// TokenPair is a short-lived access token plus a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Issuer signs and verifies tokens with a shared HMAC secret.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret string, accessTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	return &Issuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: RefreshTTL,
		now:        time.Now,
	}
}

// IssuePair signs the user's identity twice with the access and refresh
// expiry windows.
func (i *Issuer) IssuePair(user types.User) (TokenPair, error) {
	access, err := i.sign(user, TokenAccess, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(user, TokenRefresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (i *Issuer) sign(user types.User, typ TokenType, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:  typ,
		Email: user.Email,
		Role:  user.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parse verifies signature and expiry and returns the claims.
func (i *Issuer) Parse(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, errors.Join(ErrInvalidToken, errors.New("missing subject"))
	}
	return claims, nil
}

// ParseAccess is Parse restricted to access tokens.
func (i *Issuer) ParseAccess(tokenString string) (Claims, error) {
	return i.parseTyped(tokenString, TokenAccess)
}

// ParseRefresh is Parse restricted to refresh tokens.
func (i *Issuer) ParseRefresh(tokenString string) (Claims, error) {
	return i.parseTyped(tokenString, TokenRefresh)
}

func (i *Issuer) parseTyped(tokenString string, want TokenType) (Claims, error) {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != want {
		return Claims{}, errors.Join(ErrInvalidToken, fmt.Errorf("expected %s token, got %q", want, claims.Type))
	}
	return claims, nil
}
