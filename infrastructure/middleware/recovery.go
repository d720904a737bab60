package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	svcerrors "github.com/varaprasadreddy9676/integration-control-plane/infrastructure/errors"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/httputil"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
)

// RecoveryMiddleware recovers from panics so one bad request/delivery never
// takes down the worker process, and logs them with a stack trace.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

// NewRecoveryMiddleware creates a recovery middleware.
func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

// Handler returns the recovery middleware handler.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":      fmt.Sprintf("%v", err),
					"stack":      string(stack),
					"path":       r.URL.Path,
					"method":     r.Method,
					"remoteAddr": r.RemoteAddr,
				}).Error("panic recovered")

				serviceErr := svcerrors.Internal("internal server error", fmt.Errorf("%v", err))
				httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
