package apperr

import (
	"github.com/labstack/echo/v4"
)

// ErrorBody is the JSON error payload returned by handlers.
type ErrorBody struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// HTTPError converts err into an echo error carrying its kind's status.
func HTTPError(err error) *echo.HTTPError {
	he := echo.NewHTTPError(HTTPStatus(err), ErrorBody{Error: err.Error(), Hint: Hint(err)})
	he.Internal = err
	return he
}
