package viewmodel

import (
	"github.com/shopspring/decimal"

	"farmdash/entities"
	"farmdash/pkg/telemetry"
)

type Source string

const (
	SourceField    Source = "field"
	SourceExpenses Source = "expenses"
	SourceLatest   Source = "latestReading"
	SourceWindow   Source = "telemetryWindow"
)

// Loading flags a source that has not delivered a value yet.
type Loading struct {
	Field    bool `json:"field"`
	Expenses bool `json:"expenses"`
	Latest   bool `json:"latest_reading"`
	Window   bool `json:"telemetry_window"`
}

func (l Loading) Any() bool { return l.Field || l.Expenses || l.Latest || l.Window }

// Moisture classifies the latest reading against the crop's band.
type Moisture struct {
	Band  telemetry.Band  `json:"band"`
	Level telemetry.Level `json:"level,omitempty"`
}

// Snapshot is the complete dashboard state for one field. It is recomputed
// from scratch on every source update and must be treated as read-only.
type Snapshot struct {
	Seq     uint64 `json:"seq"`
	FieldID string `json:"field_id"`

	Field        *entities.Field                              `json:"field"`
	TotalExpense decimal.Decimal                              `json:"total_expense"`
	Expenses     []entities.Expense                           `json:"expenses"`
	Breakdown    map[entities.ExpenseCategory]decimal.Decimal `json:"breakdown"`
	Latest       telemetry.Latest                             `json:"latest_reading"`
	Window       telemetry.Window                             `json:"telemetry_window"`
	Moisture     Moisture                                     `json:"moisture"`

	Loading Loading           `json:"loading"`
	Errors  map[Source]string `json:"errors,omitempty"`
}

// slots holds the latest value delivered by every source.
type slots struct {
	field    *entities.Field
	expenses []entities.Expense // nil until the first delivery
	latest   telemetry.Latest
	window   telemetry.Window
	errs     map[Source]string
}

func newSlots(windowSize int) slots {
	return slots{
		latest: telemetry.LoadingLatest(),
		window: telemetry.LoadingWindow(windowSize),
		errs:   map[Source]string{},
	}
}

// compute is a pure function of the slots.
func (s slots) compute(fieldID string, bands *telemetry.Bands) Snapshot {
	snap := Snapshot{
		FieldID: fieldID,
		Field:   s.field,
		Latest:  s.latest,
		Window:  s.window,
		Loading: Loading{
			Field:    s.field == nil,
			Expenses: s.expenses == nil,
			Latest:   s.latest.State == telemetry.StateLoading,
			Window:   s.window.State == telemetry.StateLoading,
		},
	}
	if s.field != nil {
		snap.TotalExpense = s.field.TotalExpense
		snap.Moisture.Band = bands.For(s.field.CropType)
	} else {
		snap.Moisture.Band = bands.For("")
	}
	if s.expenses != nil {
		snap.Expenses = s.expenses
		snap.Breakdown = Breakdown(s.expenses)
	}
	if v, ok := s.latest.Value(); ok {
		snap.Moisture.Level = snap.Moisture.Band.Classify(v)
	}
	if len(s.errs) > 0 {
		snap.Errors = make(map[Source]string, len(s.errs))
		for k, v := range s.errs {
			snap.Errors[k] = v
		}
	}
	return snap
}
