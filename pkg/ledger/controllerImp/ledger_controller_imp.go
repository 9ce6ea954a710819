package controllerImp

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"farmdash/entities"
	"farmdash/pkg/apperror"
	"farmdash/pkg/ledger/export"
	"farmdash/pkg/ledger/service"
	"farmdash/pkg/viewmodel"
)

type LedgerCtrl struct {
	svc service.LedgerService
	loc *time.Location
}

func New(svc service.LedgerService, loc *time.Location) *LedgerCtrl {
	if loc == nil {
		loc = time.UTC
	}
	return &LedgerCtrl{svc: svc, loc: loc}
}

type appendReq struct {
	Description string   `json:"description"`
	Amount      *float64 `json:"amount"`
	Category    string   `json:"category"`
	Date        string   `json:"date"` // YYYY-MM-DD in the server zone, defaults to now
}

func (h *LedgerCtrl) Append(c echo.Context) error {
	uid := c.Get("uid").(string)
	var req appendReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad json"})
	}
	in := service.ExpenseInput{Description: req.Description, Category: entities.ExpenseCategory(req.Category)}
	if req.Amount != nil {
		in.Amount = *req.Amount
	}
	if req.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", req.Date, h.loc)
		if err != nil {
			return apperror.JSON(c, &apperror.ValidationError{Fields: map[string]string{"date": "must be YYYY-MM-DD"}, Err: err})
		}
		in.Date = d
	}

	e, err := h.svc.AppendExpense(c.Request().Context(), uid, c.Param("id"), in)
	if err != nil {
		return apperror.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

type listResp struct {
	FieldID      string                    `json:"field_id"`
	TotalExpense string                    `json:"total_expense"`
	Expenses     []entities.Expense        `json:"expenses"`
	Breakdown    []viewmodel.CategoryTotal `json:"breakdown"`
}

func (h *LedgerCtrl) List(c echo.Context) error {
	uid := c.Get("uid").(string)
	f, expenses, err := h.svc.ListExpenses(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return apperror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, listResp{
		FieldID:      f.FieldID,
		TotalExpense: f.TotalExpense.String(),
		Expenses:     expenses,
		Breakdown:    viewmodel.SortedBreakdown(viewmodel.Breakdown(expenses)),
	})
}

func (h *LedgerCtrl) Export(c echo.Context) error {
	uid := c.Get("uid").(string)
	f, expenses, err := h.svc.ListExpenses(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return apperror.JSON(c, err)
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, f, expenses, h.loc); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	name := fmt.Sprintf("ledger-%s-%s.xlsx", f.FieldID, time.Now().In(h.loc).Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, export.ContentType, buf.Bytes())
}
