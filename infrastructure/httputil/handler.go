package httputil

import (
	"context"
	"net/http"

	svcerrors "github.com/varaprasadreddy9676/integration-control-plane/infrastructure/errors"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
)

// handleError logs the failure and writes the HTTP status carried by the
// error, falling back to 500 for anything that isn't a *errors.ServiceError.
func handleError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if logger != nil {
		logger.WithContext(r.Context()).WithError(err).Error("handler failed")
	}

	if se := svcerrors.GetServiceError(err); se != nil {
		WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
		return
	}
	InternalError(w, "internal server error")
}

// HandleJSON decodes a JSON request body into Req, calls fn, and writes the
// result as JSON, wrapping the decode -> execute -> respond sequence in one
// helper. The httpapi handlers do not use it.
func HandleJSON[Req any, Resp any](
	logger *logging.Logger,
	fn func(ctx context.Context, req *Req) (Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if !DecodeJSON(w, r, &req) {
			return
		}
		resp, err := fn(r.Context(), &req)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleNoBody handles requests with no JSON body (GET/DELETE).
func HandleNoBody[Resp any](
	logger *logging.Logger,
	fn func(ctx context.Context) (Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := fn(r.Context())
		if err != nil {
			handleError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// RespondCreated writes a 201 Created response.
func RespondCreated(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusCreated, data)
}

// RespondNoContent writes a 204 No Content response.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// DecodeAndValidate decodes JSON and runs a validation function, writing a
// 400 if either fails.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}, validate func() error) bool {
	if !DecodeJSON(w, r, req) {
		return false
	}
	if err := validate(); err != nil {
		BadRequest(w, err.Error())
		return false
	}
	return true
}
