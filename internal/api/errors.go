package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code,omitempty"`
	Collaborator string `json:"collaborator,omitempty"`
}

// statusFor maps an error to its HTTP status and body. Collaborator
// failures are checked before RAGError categories because they usually
// wrap a network error.
func statusFor(err error) (int, ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, ErrorResponse{Error: msg}
	}

	if f, ok := ragerrors.AsCollaboratorFailure(err); ok {
		return http.StatusBadGateway, ErrorResponse{
			Error:        f.Error(),
			Code:         f.Code(),
			Collaborator: string(f.Collaborator),
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out"}
	}

	var re *ragerrors.RAGError
	if errors.As(err, &re) {
		body := ErrorResponse{Error: re.Message, Code: re.Code}
		switch re.Category {
		case ragerrors.CategoryValidation:
			return http.StatusBadRequest, body
		case ragerrors.CategoryNetwork:
			return http.StatusBadGateway, body
		default:
			return http.StatusInternalServerError, body
		}
	}

	return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
}

// errorHandler renders handler errors as ErrorResponse JSON.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("http_request_failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", status,
			"error", err.Error())
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
