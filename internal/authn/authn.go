// Package authn verifies the bearer token presented in a session's first
// frame and yields the Principal the relay attaches to audit records.
package authn

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid means the token was missing, malformed, or failed signature
// verification. Enforced mode yields this for any such token.
var ErrInvalid = errors.New("authn: invalid token")

// Principal is an opaque identifier derived from a verified token. The
// relay only cares about its presence, never its internal structure.
type Principal string

// Verifier validates a bearer token and yields a Principal.
type Verifier interface {
	Verify(token string) (Principal, error)
}

// disabled always succeeds with a synthetic principal, regardless of the
// token presented. Used when USE_AUTH=false.
type disabled struct{}

func (disabled) Verify(string) (Principal, error) {
	return Principal("anonymous"), nil
}

// enforced validates HMAC-signed JWTs against a fixed secret.
type enforced struct {
	secret []byte
}

func (e enforced) Verify(token string) (Principal, error) {
	if token == "" {
		return "", ErrInvalid
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalid
		}
		return e.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalid
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalid
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return Principal(sub), nil
	}
	return Principal(token), nil
}

// New returns a Verifier whose mode is fixed for the process lifetime:
// useAuth=false yields the Disabled verifier; otherwise tokens are verified
// as JWTs signed with secret. Per spec.md §4.2, enforcement mode never
// changes per-session once the supervisor has started.
func New(useAuth bool, secret string) Verifier {
	if !useAuth {
		return disabled{}
	}
	return enforced{secret: []byte(secret)}
}
