package controllerImp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"farmdash/pkg/apperror"
	"farmdash/pkg/logger"
	readingCtrl "farmdash/pkg/telemetry/controllerImp"
	"farmdash/pkg/viewmodel"
)

const (
	settleTimeout = 5 * time.Second
	keepAlive     = 15 * time.Second
)

// AggregatorFactory opens a fresh aggregator for one screen instance.
type AggregatorFactory func(uid string) *viewmodel.Aggregator

type DashboardCtrl struct {
	newAgg AggregatorFactory
	loc    *time.Location
	log    *zap.Logger
}

func New(newAgg AggregatorFactory, loc *time.Location, log *zap.Logger) *DashboardCtrl {
	if loc == nil {
		loc = time.UTC
	}
	return &DashboardCtrl{newAgg: newAgg, loc: loc, log: logger.OrNop(log)}
}

// view is the presentation form of a snapshot: the snapshot itself plus
// clock labels in the server zone and the breakdown in display order.
type view struct {
	viewmodel.Snapshot
	Chart         []readingCtrl.ChartPoint  `json:"chart"`
	LatestTime    string                    `json:"latest_time,omitempty"`
	BreakdownRows []viewmodel.CategoryTotal `json:"breakdown_rows"`
}

func (h *DashboardCtrl) render(s viewmodel.Snapshot) view {
	v := view{
		Snapshot:      s,
		Chart:         readingCtrl.Series(s.Window, h.loc),
		BreakdownRows: viewmodel.SortedBreakdown(s.Breakdown),
	}
	if s.Latest.Reading != nil {
		v.LatestTime = s.Latest.Reading.Timestamp.In(h.loc).Format(readingCtrl.ClockLayout)
	}
	return v
}

func (h *DashboardCtrl) Get(c echo.Context) error {
	uid := c.Get("uid").(string)
	agg := h.newAgg(uid)
	defer agg.Close()

	if err := agg.Open(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.JSON(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), settleTimeout)
	defer cancel()
	s, err := agg.Settled(ctx)
	if err != nil {
		h.log.Warn("dashboard not settled", zap.String("field_id", c.Param("id")), zap.Error(err))
	}
	return c.JSON(http.StatusOK, h.render(s))
}

// Stream pushes a server-sent event for every snapshot. Snapshots produced
// faster than the client reads are coalesced to the newest one.
func (h *DashboardCtrl) Stream(c echo.Context) error {
	uid := c.Get("uid").(string)
	fieldID := c.Param("id")
	agg := h.newAgg(uid)
	defer agg.Close()

	updates := make(chan viewmodel.Snapshot, 1)
	stop := agg.Listen(func(s viewmodel.Snapshot) {
		select {
		case <-updates:
		default:
		}
		updates <- s
	})
	defer stop()

	ctx := c.Request().Context()
	if err := agg.Open(ctx, fieldID); err != nil {
		return apperror.JSON(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	h.log.Debug("dashboard stream opened", zap.String("uid", uid), zap.String("field_id", fieldID))
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("dashboard stream closed", zap.String("field_id", fieldID))
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case s := <-updates:
			data, err := json.Marshal(h.render(s))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(res, "id: %d\nevent: snapshot\ndata: %s\n\n", s.Seq, data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
