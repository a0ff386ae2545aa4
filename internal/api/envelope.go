package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avream/avreamd/internal/errors"
)

// envelope is the wire shape of every control API response.
type envelope struct {
	OK        bool       `json:"ok"`
	Data      any        `json:"data"`
	Error     *errorBody `json:"error"`
	RequestID string     `json:"request_id"`
	TS        string     `json:"ts"`
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Retryable bool           `json:"retryable"`
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

// ok wraps data in a success envelope.
func (s *Server) ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{
		OK:        true,
		Data:      data,
		RequestID: requestID(c),
		TS:        time.Now().UTC().Format(time.RFC3339),
	})
}

// statusForKind maps the error taxonomy onto HTTP status codes.
func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindInvalidTransition, errors.KindConflict, errors.KindBusyDevice:
		return http.StatusConflict
	case errors.KindPermissionDenied:
		return http.StatusForbidden
	case errors.KindDependencyMissing:
		return http.StatusPreconditionFailed
	case errors.KindBackendFailed:
		return http.StatusBadGateway
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.KindValidation, errors.KindUnsupported:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// httpErrorHandler renders every failure as an error envelope. Domain
// errors carry their own code, details and retryability; anything else
// becomes an opaque E_INTERNAL so internals never leak to clients.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := errorBody{Code: "E_INTERNAL", Message: "Internal server error", Details: map[string]any{}}

	if appErr := errors.AsAppError(err); appErr != nil {
		status = statusForKind(appErr.Kind)
		body = errorBody{
			Code:      appErr.Code(),
			Message:   appErr.Message(),
			Details:   appErr.DetailMap(),
			Retryable: appErr.Retryable,
		}
	} else if httpErr, isHTTP := err.(*echo.HTTPError); isHTTP {
		status = httpErr.Code
		if msg, isString := httpErr.Message.(string); isString {
			body.Message = msg
		}
		if status == http.StatusNotFound {
			body.Code = "E_NOT_FOUND"
		}
	} else {
		s.logger.Error("unhandled request error",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err)
	}

	_ = c.JSON(status, envelope{
		Error:     &body,
		RequestID: requestID(c),
		TS:        time.Now().UTC().Format(time.RFC3339),
	})
}

func validationError(message string) error {
	return errors.Newf("%s", message).
		Kind(errors.KindValidation).
		Component("api").
		Build()
}
