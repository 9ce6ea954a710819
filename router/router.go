package router

import (
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	authCtrl "farmdash/pkg/auth/controller"
	dashCtrl "farmdash/pkg/dashboard/controller"
	fieldCtrl "farmdash/pkg/field/controller"
	healthCtrl "farmdash/pkg/health/controller"
	ledgerCtrl "farmdash/pkg/ledger/controller"
	"farmdash/pkg/logger"
	"farmdash/pkg/middleware"
	readingCtrl "farmdash/pkg/telemetry/controller"
)

type Controllers struct {
	Auth      authCtrl.AuthController
	Field     fieldCtrl.FieldController
	Ledger    ledgerCtrl.LedgerController
	Reading   readingCtrl.ReadingController
	Dashboard dashCtrl.DashboardController
	Health    healthCtrl.HealthController
}

type Options struct {
	DevLogin bool
	Log      *zap.Logger
}

func New(e *echo.Echo, ctl Controllers, opts Options) *echo.Echo {
	log := logger.OrNop(opts.Log)
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	}))

	e.GET("/health", ctl.Health.Health)

	api := e.Group("")
	if opts.DevLogin {
		api.Use(middleware.DevLogin())
		api.GET("/devlogin", ctl.Auth.DevLogin)
	} else {
		api.Use(middleware.RequireUID())
	}
	api.GET("/whoami", ctl.Auth.WhoAmI)

	api.POST("/fields", ctl.Field.Create)
	api.GET("/fields", ctl.Field.List)
	api.GET("/fields/:id", ctl.Field.Get)

	api.POST("/fields/:id/expenses", ctl.Ledger.Append)
	api.GET("/fields/:id/expenses", ctl.Ledger.List)
	api.GET("/fields/:id/expenses/export", ctl.Ledger.Export)

	api.POST("/fields/:id/readings", ctl.Reading.Create)
	api.GET("/fields/:id/readings", ctl.Reading.List)

	api.GET("/fields/:id/dashboard", ctl.Dashboard.Get)
	api.GET("/fields/:id/dashboard/stream", ctl.Dashboard.Stream)
	return e
}
