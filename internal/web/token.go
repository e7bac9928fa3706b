package web

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuerName = "clawconsole"
	defaultTokenTTL = time.Hour
)

// tokenIssuer signs and checks HS256 bearer tokens for the console API.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	if secret == "" {
		secret = rand.Text()
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &tokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (t *tokenIssuer) issue(user string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   user,
		Issuer:    tokenIssuerName,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (t *tokenIssuer) validate(tokenStr string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(tokenIssuerName), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// handleIssueToken exchanges Basic credentials for a bearer token.
func (s *Server) handleIssueToken(rw http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(rw, http.StatusBadRequest, "web auth is disabled")
		return
	}
	user, _, _ := r.BasicAuth()
	token, expires, err := s.tokens.issue(user)
	if err != nil {
		s.logger.Error("token issue failed", "err", err)
		writeError(rw, http.StatusInternalServerError, "could not issue token")
		return
	}
	s.logger.Info("api token issued", "user", user, "expires", expires.Format(time.RFC3339))
	writeJSON(rw, http.StatusOK, map[string]any{
		"token":     token,
		"tokenType": "Bearer",
		"expiresAt": expires.Format(time.RFC3339),
	})
}
