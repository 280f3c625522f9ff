package httpx

import (
	"github.com/labstack/echo/v4"
)

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// Error builds an echo.HTTPError whose body is an ErrorBody.
func Error(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, ErrorBody{Code: code, Message: message})
}

// Code extracts the stable error code from err, or "" if err was not built by Error.
func Code(err error) string {
	he, ok := err.(*echo.HTTPError)
	if !ok {
		return ""
	}
	if body, ok := he.Message.(ErrorBody); ok {
		return body.Code
	}
	return ""
}
