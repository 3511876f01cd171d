package sim

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kevyamon/yely-go/internal/models"
)

var errUnauthorized = errors.New("missing or invalid token")

// Claims is what the simulator embeds in a session token.
type Claims struct {
	Name string      `json:"name,omitempty"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken mints an HS256 token for local development and tests.
func IssueToken(secret []byte, userID, name string, role models.Role, ttl time.Duration) (string, error) {
	claims := Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(secret []byte, raw string) (*models.Session, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, errUnauthorized
	}
	return &models.Session{UserID: claims.Subject, Name: claims.Name, Role: claims.Role, Token: raw}, nil
}

// sessionFromRequest authenticates a request via Authorization bearer header
// or, for websocket clients that cannot set headers, a token query param.
func (s *Server) sessionFromRequest(r *http.Request) (*models.Session, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		raw = q
	}
	if raw == "" {
		return nil, errUnauthorized
	}
	return parseToken(s.secret, raw)
}
