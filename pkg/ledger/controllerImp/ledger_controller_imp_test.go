package controllerImp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmdash/entities"
	"farmdash/pkg/ledger/export"
	"farmdash/pkg/ledger/serviceImp"
	"farmdash/pkg/store/repositoryImp"
)

func newTestCtrl(t *testing.T) (*LedgerCtrl, string) {
	t.Helper()
	st := repositoryImp.NewMemory()
	f := &entities.Field{UserID: "u1", FieldName: "Orchard", CropType: "pomegranate", Acreage: 4}
	require.NoError(t, st.CreateField(context.Background(), f))
	return New(serviceImp.NewLedgerService(st, nil), nil), f.FieldID
}

func serve(h echo.HandlerFunc, method, fid, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, "/fields/"+fid+"/expenses", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fid)
	c.Set("uid", "u1")
	_ = h(c)
	return rec
}

func TestAppendThenList(t *testing.T) {
	h, fid := newTestCtrl(t)

	rec := serve(h.Append, http.MethodPost, fid, `{"amount":42.5,"category":"Fertilizer","date":"2025-06-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = serve(h.Append, http.MethodPost, fid, `{"amount":7.5,"category":"Labor"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(h.List, http.MethodGet, fid, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		TotalExpense string            `json:"total_expense"`
		Expenses     []json.RawMessage `json:"expenses"`
		Breakdown    []struct {
			Category string `json:"category"`
			Total    string `json:"total"`
		} `json:"breakdown"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "50", resp.TotalExpense)
	assert.Len(t, resp.Expenses, 2)
	require.Len(t, resp.Breakdown, 2)
	assert.Equal(t, "Fertilizer", resp.Breakdown[0].Category)
	assert.Equal(t, "42.5", resp.Breakdown[0].Total)
}

func TestAppend_ErrorStatuses(t *testing.T) {
	h, fid := newTestCtrl(t)

	rec := serve(h.Append, http.MethodPost, fid, `{"category":"Seeds"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount":"is required"`)

	assert.Equal(t, http.StatusBadRequest, serve(h.Append, http.MethodPost, fid, `{"amount":5,"category":"Fuel"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h.Append, http.MethodPost, fid, `{"amount":5,"category":"Seeds","date":"01/06/2025"}`).Code)
	assert.Equal(t, http.StatusNotFound, serve(h.Append, http.MethodPost, "nope", `{"amount":5,"category":"Seeds"}`).Code)
}

func TestExport(t *testing.T) {
	h, fid := newTestCtrl(t)
	require.Equal(t, http.StatusCreated, serve(h.Append, http.MethodPost, fid, `{"amount":10,"category":"Seeds"}`).Code)

	rec := serve(h.Export, http.MethodGet, fid, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "ledger-"+fid)
	assert.NotZero(t, rec.Body.Len())
}
