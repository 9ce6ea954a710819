package controllerImp

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"farmdash/pkg/store/repository"
)

var appStart = time.Now()

type HealthCtrl struct {
	store  repository.Store
	db     *gorm.DB    // nil when running on the memory store
	broker func() bool // nil when MQTT ingest is disabled
}

func NewHealthCtrl(store repository.Store, db *gorm.DB, broker func() bool) *HealthCtrl {
	return &HealthCtrl{store: store, db: db, broker: broker}
}

type sub struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

func (h *HealthCtrl) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 800*time.Millisecond)
	defer cancel()

	checks := map[string]sub{"store": h.checkStore(ctx)}
	if h.db != nil {
		checks["database"] = h.checkDB(ctx)
	}
	if h.broker != nil {
		s := sub{OK: h.broker()}
		if !s.OK {
			s.Err = "broker disconnected"
		}
		checks["mqtt"] = s
	}

	allOK := true
	for _, s := range checks {
		allOK = allOK && s.OK
	}
	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":     map[string]any{"ok": allOK},
		"uptime_sec": int(time.Since(appStart).Seconds()),
		"checks":     checks,
		"time":       time.Now().Format(time.RFC3339),
	}
	if w, ok := h.store.(interface{ ActiveWatchers() int }); ok {
		resp["live_queries"] = w.ActiveWatchers()
	}
	return c.JSON(status, resp)
}

func (h *HealthCtrl) checkStore(ctx context.Context) sub {
	if h.store == nil {
		return sub{Err: "store is nil"}
	}
	if _, err := h.store.Run(ctx, repository.Query{Collection: repository.CollectionFields, Limit: 1}); err != nil {
		return sub{Err: "query: " + err.Error()}
	}
	return sub{OK: true}
}

func (h *HealthCtrl) checkDB(ctx context.Context) sub {
	sqlDB, err := h.db.DB()
	if err != nil {
		return sub{Err: "db.DB(): " + err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return sub{Err: "ping: " + err.Error()}
	}
	return sub{OK: true}
}
