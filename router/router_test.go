package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authImp "farmdash/pkg/auth/controllerImp"
	dashImp "farmdash/pkg/dashboard/controllerImp"
	fieldImp "farmdash/pkg/field/controllerImp"
	fieldSvc "farmdash/pkg/field/serviceImp"
	healthImp "farmdash/pkg/health/controllerImp"
	ledgerImp "farmdash/pkg/ledger/controllerImp"
	ledgerSvc "farmdash/pkg/ledger/serviceImp"
	"farmdash/pkg/middleware"
	"farmdash/pkg/store/repositoryImp"
	"farmdash/pkg/subscription"
	readingImp "farmdash/pkg/telemetry/controllerImp"
	readingSvc "farmdash/pkg/telemetry/serviceImp"
	"farmdash/pkg/viewmodel"
)

func newServer(devLogin bool) *echo.Echo {
	st := repositoryImp.NewMemory()
	return New(echo.New(), Controllers{
		Auth:    authImp.NewAuthController(),
		Field:   fieldImp.New(fieldSvc.NewFieldService(st, nil), nil),
		Ledger:  ledgerImp.New(ledgerSvc.NewLedgerService(st, nil), nil),
		Reading: readingImp.New(readingSvc.NewReadingService(st, subscription.Options{}, nil), nil),
		Dashboard: dashImp.New(func(uid string) *viewmodel.Aggregator {
			return viewmodel.New(st, uid, viewmodel.Options{}, nil)
		}, nil, nil),
		Health: healthImp.NewHealthCtrl(st, nil, nil),
	}, Options{DevLogin: devLogin})
}

func do(e *echo.Echo, method, path, uid, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if uid != "" {
		req.Header.Set(middleware.HeaderUID, uid)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_FieldToDashboard(t *testing.T) {
	e := newServer(true)

	rec := do(e, http.MethodPost, "/fields", "u1", `{"field_name":"East","crop_type":"Wheat","acreage":2.5,"sowing_date":"2025-06-15"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var f struct {
		FieldID string `json:"field_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))

	rec = do(e, http.MethodPost, "/fields/"+f.FieldID+"/expenses", "u1", `{"amount":120,"category":"Seeds"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(e, http.MethodPost, "/fields/"+f.FieldID+"/readings", "u1", `{"value":48.5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(e, http.MethodGet, "/fields/"+f.FieldID+"/dashboard", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap struct {
		TotalExpense string `json:"total_expense"`
		Moisture     struct {
			Level string `json:"level"`
		} `json:"moisture"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "120", snap.TotalExpense)
	assert.Equal(t, "ok", snap.Moisture.Level)

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/fields/"+f.FieldID+"/dashboard", "u2", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/health", "", "").Code)
}

func TestRoutes_ProductionRequiresUID(t *testing.T) {
	e := newServer(false)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/fields", "", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/fields", "u1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/devlogin", "u1", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/health", "", "").Code)
}
