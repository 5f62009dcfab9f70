package apis

import (
	"errors"
	"net/http"

	"github.com/alwitt/fundstream/common"
	"github.com/alwitt/fundstream/session"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// ErrorResponse body of every failed REST call
type ErrorResponse struct {
	// Error is the error message
	Error string `json:"error"`
	// RequestID is the ID of the failed request
	RequestID string `json:"request_id,omitempty"`
}

// SuccessResponse body of a successful REST call without other output
type SuccessResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
}

// errorStatus map an operation error to the HTTP status and the message shown to
// the client. Internal details are never shown.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized, session.ErrInvalidCredentials.Error()
	case errors.Is(err, session.ErrUnauthenticated):
		return http.StatusUnauthorized, session.ErrUnauthenticated.Error()
	case errors.Is(err, session.ErrRefreshRateLimited):
		return http.StatusTooManyRequests, session.ErrRefreshRateLimited.Error()
	case errors.Is(err, session.ErrConfiguration):
		return http.StatusInternalServerError, "server misconfigured"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// ========================================================================================
// MethodHandlers DICT of method-endpoint handler
type MethodHandlers map[string]http.HandlerFunc

// RegisterPathPrefix Register new method handler for an end-point
func RegisterPathPrefix(
	parentRouter *mux.Router, pathPrefix string, methodHandlers MethodHandlers,
) *mux.Router {
	router := parentRouter.PathPrefix(pathPrefix).Subrouter()
	for method, handler := range methodHandlers {
		router.Methods(method).Path("").HandlerFunc(handler)
	}
	return router
}

// ========================================================================================

// APIRestHandler base REST handler
type APIRestHandler struct {
	goutils.RestAPIHandler
}

// getAPIRestHandler define the base REST handler of one API group
func getAPIRestHandler(logTags log.Fields, httpConfig *common.HTTPConfig) APIRestHandler {
	return APIRestHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[http.CanonicalHeaderKey(v)] = true
				}
				return result
			}(),
		},
	}
}

// reply helper function for writing responses
func (h APIRestHandler) reply(
	w http.ResponseWriter, respCode int, resp interface{}, restCall string,
) {
	if err := h.WriteRESTResponse(w, respCode, resp, nil); err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Failed to write REST response for %s", restCall,
		)
	}
}

// errorBody define the error response of a request
func (h APIRestHandler) errorBody(r *http.Request, msg string) ErrorResponse {
	return ErrorResponse{Error: msg, RequestID: h.ReadRequestIDFromContext(r.Context())}
}

// successBody define the plain success response of a request
func (h APIRestHandler) successBody(r *http.Request) SuccessResponse {
	return SuccessResponse{Success: true, RequestID: h.ReadRequestIDFromContext(r.Context())}
}

// TrackRequest router middleware attaching the request ID and logging each request
func (h APIRestHandler) TrackRequest(next http.Handler) http.Handler {
	return h.LoggingMiddleware(next.ServeHTTP)
}
