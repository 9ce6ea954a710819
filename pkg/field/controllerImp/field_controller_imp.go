package controllerImp

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"farmdash/pkg/apperror"
	"farmdash/pkg/field/service"
)

type FieldCtrl struct {
	svc service.FieldService
	loc *time.Location
}

func New(svc service.FieldService, loc *time.Location) *FieldCtrl {
	if loc == nil {
		loc = time.UTC
	}
	return &FieldCtrl{svc: svc, loc: loc}
}

type createReq struct {
	FieldName  string  `json:"field_name"`
	CropType   string  `json:"crop_type"`
	Acreage    float64 `json:"acreage"`
	SowingDate string  `json:"sowing_date"` // YYYY-MM-DD
}

func (h *FieldCtrl) Create(c echo.Context) error {
	uid := c.Get("uid").(string)
	var req createReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad json"})
	}
	in := service.FieldInput{FieldName: req.FieldName, CropType: req.CropType, Acreage: req.Acreage}
	if req.SowingDate != "" {
		sd, err := time.ParseInLocation("2006-01-02", req.SowingDate, h.loc)
		if err != nil {
			return apperror.JSON(c, &apperror.ValidationError{Fields: map[string]string{"sowing_date": "must be YYYY-MM-DD"}, Err: err})
		}
		in.SowingDate = sd
	}
	f, err := h.svc.CreateField(c.Request().Context(), uid, in)
	if err != nil {
		return apperror.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *FieldCtrl) Get(c echo.Context) error {
	uid := c.Get("uid").(string)
	f, err := h.svc.GetField(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return apperror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *FieldCtrl) List(c echo.Context) error {
	uid := c.Get("uid").(string)
	out, err := h.svc.ListFields(c.Request().Context(), uid)
	if err != nil {
		return apperror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
