package mcp

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator reports whether a bearer token grants access. The HTTP,
// WebSocket and SSE transports consult it before any JSON-RPC processing;
// a nil validator disables authentication.
type TokenValidator func(token string) bool

// NewStaticTokenValidator returns a validator accepting exactly the given
// token.
func NewStaticTokenValidator(token string) TokenValidator {
	return func(t string) bool {
		return t != "" && t == token
	}
}

// NewJWTValidator returns a validator accepting HMAC-signed JWTs verifiable
// with the given secret.
func NewJWTValidator(secret []byte) TokenValidator {
	return func(t string) bool {
		token, err := jwt.Parse(t, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err != nil {
			return false
		}
		return token.Valid
	}
}

// bearerToken extracts the token from an Authorization: Bearer header,
// returning an empty string when the header is absent or malformed.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

// authGate applies a TokenValidator to inbound HTTP requests. Rejections are
// transport-level: a 401 with an optional configured body, never a JSON-RPC
// error. OPTIONS requests always pass so CORS preflights work unauthenticated.
type authGate struct {
	validator        TokenValidator
	unauthorizedBody string
}

// allow reports whether the request may proceed, writing the 401 response
// itself when it may not.
func (g authGate) allow(w http.ResponseWriter, r *http.Request) bool {
	if g.validator == nil || r.Method == http.MethodOptions {
		return true
	}

	if g.validator(bearerToken(r)) {
		return true
	}

	w.WriteHeader(http.StatusUnauthorized)
	body := g.unauthorizedBody
	if body == "" {
		body = "unauthorized"
	}
	_, _ = w.Write([]byte(body))
	return false
}

func writeCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, X-Session-ID")
}
