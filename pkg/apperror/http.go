package apperror

import (
	"errors"

	"github.com/labstack/echo/v4"
)

// JSON writes err as {"error": ..., "fields": ...} with the status matching
// its taxonomy.
func JSON(c echo.Context, err error) error {
	body := echo.Map{"error": err.Error()}
	var ve *ValidationError
	if errors.As(err, &ve) && len(ve.Fields) > 0 {
		body["fields"] = ve.Fields
	}
	return c.JSON(HTTPStatus(err), body)
}
