package api

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// expirySkew treats a token as expired slightly early so a request does not
// race the deadline.
const expirySkew = 30 * time.Second

// claims holds what the client reads from its own bearer token. The
// signature is not checked; the server does that.
type claims struct {
	Subject   string
	ExpiresAt time.Time
}

func parseClaims(token string) (claims, error) {
	if strings.Count(token, ".") != 2 {
		return claims{}, errors.New("token is not a JWT")
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return claims{}, err
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return claims{}, errors.New("invalid claims")
	}
	var out claims
	if sub, ok := mc["sub"].(string); ok {
		out.Subject = sub
	}
	if exp, ok := mc["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return out, nil
}

func (c claims) expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Add(expirySkew).Before(c.ExpiresAt)
}
