package gateway

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var nowFunc = time.Now

var errNoBearer = errors.New("gateway: missing bearer token")

// jwtAuthorizer is the requestContext.authorizer.jwt block.
type jwtAuthorizer struct {
	Claims jwt.MapClaims `json:"claims"`
	Scopes []string      `json:"scopes"`
}

// bearerClaims decodes the claims of a bearer token. Signatures are not
// verified; the emulator only forwards what the token says.
func bearerClaims(header string) (*jwtAuthorizer, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return nil, errNoBearer
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil, err
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(nowFunc()) {
		return nil, jwt.ErrTokenExpired
	}
	a := &jwtAuthorizer{Claims: claims}
	if s, ok := claims["scope"].(string); ok && s != "" {
		a.Scopes = strings.Fields(s)
	}
	return a, nil
}
