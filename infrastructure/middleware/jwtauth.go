package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	svcerrors "github.com/varaprasadreddy9676/integration-control-plane/infrastructure/errors"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/httputil"
)

// JWTAuthMiddleware verifies the HS256 bearer token on requests to the
// control API's mutating/administrative routes (inbound auth, spec §4.7).
type JWTAuthMiddleware struct {
	signingKey []byte
}

// NewJWTAuthMiddleware creates a JWT auth middleware. An empty signingKey
// disables verification, which is only acceptable outside production.
func NewJWTAuthMiddleware(signingKey string) *JWTAuthMiddleware {
	return &JWTAuthMiddleware{signingKey: []byte(signingKey)}
}

// Handler rejects requests without a valid "Authorization: Bearer <token>"
// header signed with the configured key.
func (m *JWTAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.signingKey) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeUnauthorized(w, r, "missing bearer token")
			return
		}

		_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.signingKey, nil
		})
		if err != nil {
			writeUnauthorized(w, r, "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	serviceErr := svcerrors.Unauthorized(reason)
	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}
