// Package auth verifies the bearer tokens issued by the account service. Accounts and
// credentials live elsewhere; this service only needs the account id a token carries.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenTTL = 15 * time.Minute

var ErrTokenInvalid = errors.New("token invalid")

type Service struct {
	secret []byte
}

type Claims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// IssueToken signs an access token for accountID. It is used by tooling and tests; the
// account service issues the tokens clients normally present.
func (s *Service) IssueToken(accountID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = accessTokenTTL
	}
	now := time.Now()
	claims := Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateAccessToken returns the account id carried by a valid token.
func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := parseToken(token, s.secret)
	if err != nil {
		return "", err
	}
	return claims.AccountID, nil
}

func parseToken(token string, secret []byte) (*Claims, error) {
	parsed, err := parseClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.AccountID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

var parseClaimsFn = jwt.ParseWithClaims
