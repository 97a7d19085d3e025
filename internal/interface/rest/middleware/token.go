package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("operator")

// OperatorToken guards endpoints that act with the wallet's keys. An empty
// token disables the check.
type OperatorToken struct {
	token string
}

func NewOperatorToken(token string) *OperatorToken {
	return &OperatorToken{token: token}
}

func (m *OperatorToken) Require(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.token == "" {
			return next(c)
		}

		_, span := tracer.Start(c.Request().Context(), "Operator.Middleware.Require")
		defer span.End()

		authHeader := c.Request().Header.Get("authorization")
		authType, token, ok := strings.Cut(authHeader, " ")
		if !ok || authType != "Bearer" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "bearer token required"})
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		return next(c)
	}
}
