package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	CookieUID  = "FARMDASH_UID"
	HeaderUID  = "X-Farmdash-Uid"
	DefaultUID = "U_DEV_DEFAULT"
)

// DevLogin resolves the caller's uid from the X-Farmdash-Uid header, the
// FARMDASH_UID cookie or ?uid=, falling back to DefaultUID. Development only.
func DevLogin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid := c.Request().Header.Get(HeaderUID)
			if uid == "" {
				if ck, err := c.Cookie(CookieUID); err == nil {
					uid = ck.Value
				}
			}
			if uid == "" {
				uid = c.QueryParam("uid")
				if uid == "" {
					uid = DefaultUID
				}
				c.SetCookie(&http.Cookie{Name: CookieUID, Value: uid, Path: "/", HttpOnly: true})
			}
			c.Set("uid", uid)
			return next(c)
		}
	}
}

// RequireUID rejects requests that reach a handler without a uid. It is the
// production counterpart of DevLogin, trusting a uid set by the fronting
// proxy in X-Farmdash-Uid.
func RequireUID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid := c.Request().Header.Get(HeaderUID)
			if uid == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing uid"})
			}
			c.Set("uid", uid)
			return next(c)
		}
	}
}
