package controllerImp

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"farmdash/pkg/apperror"
	"farmdash/pkg/telemetry"
	"farmdash/pkg/telemetry/service"
)

// ClockLayout renders chart labels as 2-digit hour and minute.
const ClockLayout = "03:04 PM"

type ReadingCtrl struct {
	svc service.ReadingService
	loc *time.Location
}

func New(svc service.ReadingService, loc *time.Location) *ReadingCtrl {
	if loc == nil {
		loc = time.UTC
	}
	return &ReadingCtrl{svc: svc, loc: loc}
}

type readingReq struct {
	SensorID  string   `json:"sensor_id"`
	Value     *float64 `json:"value"`
	Timestamp string   `json:"timestamp"` // RFC 3339, defaults to now
}

func (h *ReadingCtrl) Create(c echo.Context) error {
	uid := c.Get("uid").(string)
	var req readingReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad json"})
	}
	if req.Value == nil {
		return apperror.JSON(c, &apperror.ValidationError{Fields: map[string]string{"value": "is required"}})
	}
	ts := time.Now()
	if req.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return apperror.JSON(c, &apperror.ValidationError{Fields: map[string]string{"timestamp": "must be RFC 3339"}, Err: err})
		}
		ts = t
	}

	r, err := h.svc.Record(c.Request().Context(), uid, service.ReadingInput{
		FieldID:   c.Param("id"),
		SensorID:  req.SensorID,
		Value:     *req.Value,
		Timestamp: ts,
	})
	if err != nil {
		return apperror.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// ChartPoint is a window point with its display label.
type ChartPoint struct {
	telemetry.Point
	Time string `json:"time"`
}

type windowResp struct {
	State  telemetry.State `json:"state"`
	Size   int             `json:"size"`
	Points []ChartPoint    `json:"points"`
}

func (h *ReadingCtrl) List(c echo.Context) error {
	uid := c.Get("uid").(string)
	w, err := h.svc.Window(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return apperror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, windowResp{State: w.State, Size: w.Size, Points: Series(w, h.loc)})
}

// Series labels every point of w with its clock time in loc.
func Series(w telemetry.Window, loc *time.Location) []ChartPoint {
	out := make([]ChartPoint, len(w.Points))
	for i, p := range w.Points {
		out[i] = ChartPoint{Point: p, Time: p.Timestamp.In(loc).Format(ClockLayout)}
	}
	return out
}
