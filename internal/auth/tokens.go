// Package auth issues and checks the credentials agents and operators present.
package auth

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "kitchenprint"

var ErrInvalidToken = errors.New("invalid agent token")

type AgentClaims struct {
	jwt.RegisteredClaims
}

// AgentTokens signs HS256 tokens whose subject is the agent ID.
type AgentTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAgentTokens(secret string, ttl time.Duration) (*AgentTokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("agent token secret must be at least 16 characters")
	}
	return &AgentTokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (a *AgentTokens) Issue(agentID string) (string, error) {
	if agentID == "" {
		return "", errors.New("agent id is required")
	}
	now := a.now()
	claims := &AgentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  agentID,
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign agent token")
	}
	return signed, nil
}

// ValidateAgentToken returns the agent ID the token was issued to.
func (a *AgentTokens) ValidateAgentToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.Wrap(ErrInvalidToken, "empty token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &AgentClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "parse agent token"), ErrInvalidToken)
	}

	claims, ok := token.Claims.(*AgentClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// HashKey produces the bcrypt hash stored in config for the admin API key.
func HashKey(key string) (string, error) {
	if len(key) < 12 {
		return "", errors.New("admin key must be at least 12 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash admin key")
	}
	return string(hash), nil
}
