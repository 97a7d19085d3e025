package presenter

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/totegamma/attendance-tracker/internal/domain"
)

var logger = log.New("rest")

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func Accepted(c echo.Context, payload any) error {
	return c.JSON(http.StatusAccepted, payload)
}

func BadRequest(c echo.Context, err error) error {
	logger.Debugf("bad request: %v", err)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Reason: domain.Reason(err)})
}

func BadRequestMessage(c echo.Context, msg string) error {
	logger.Debugf("bad request: %s", msg)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func Unavailable(c echo.Context, msg string) error {
	return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: msg})
}

// Error maps err onto a status by its kind.
func Error(c echo.Context, err error) error {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, errorResponse{Error: err.Error(), Reason: domain.Reason(err)})
}

func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRemoteRead), errors.Is(err, domain.ErrRemoteWrite):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
