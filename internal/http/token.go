package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("invalid bearer token")

// TokenVerifier checks HS256 bearer tokens issued by the candidate backend.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewTokenVerifier returns nil when secret is empty, which disables bearer
// authentication.
func NewTokenVerifier(secret string, now func() time.Time) *TokenVerifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &TokenVerifier{secret: []byte(secret), now: now}
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
	Role   string `json:"role"`
}

// Verify parses a signed token and returns the identity it carries. The user
// id comes from the "id" claim, falling back to "sub".
func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, errInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, errInvalidToken
	}
	return Identity{UserID: userID, Role: strings.ToLower(strings.TrimSpace(claims.Role))}, nil
}

// SignToken issues a token for id that expires after ttl.
func SignToken(secret string, id Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: id.UserID,
		Role:   id.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(h http.Header) string {
	v := h.Get("Authorization")
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(v[7:])
}
