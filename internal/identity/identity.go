// Package identity resolves the signed-in user from a bearer token. The
// messaging core performs no authentication itself; it only needs the
// caller's user id and display name.
package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edulink/messaging/internal/apperr"
)

type Identity struct {
	UserID      string
	DisplayName string
}

type Resolver struct {
	secret []byte
}

func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret)}
}

// Resolve validates an HS256 token and extracts the subject and name claims.
func (r *Resolver) Resolve(token string) (Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, apperr.ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, apperr.ErrUnauthorized
	}
	name, _ := claims["name"].(string)
	return Identity{UserID: sub, DisplayName: name}, nil
}
