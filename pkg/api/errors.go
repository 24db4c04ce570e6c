package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/gravitational/trace"
)

// mapServiceError maps a coordinator/store error to an HTTP error response
// using gravitational/trace's typed predicates.
func mapServiceError(err error) *echo.HTTPError {
	switch {
	case trace.IsBadParameter(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case trace.IsAccessDenied(err):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case trace.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case trace.IsAlreadyExists(err), trace.IsCompareFailed(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
