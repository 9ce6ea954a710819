// Package export renders a field's ledger as an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"farmdash/entities"
	"farmdash/pkg/viewmodel"
)

const (
	SheetExpenses  = "Expenses"
	SheetBreakdown = "Breakdown"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Workbook builds the ledger workbook. Dates are rendered in loc. The caller
// closes the returned file.
func Workbook(f *entities.Field, expenses []entities.Expense, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}
	x := excelize.NewFile()
	if err := x.SetSheetName(x.GetSheetName(0), SheetExpenses); err != nil {
		x.Close()
		return nil, err
	}
	if _, err := x.NewSheet(SheetBreakdown); err != nil {
		x.Close()
		return nil, err
	}

	if err := writeExpenses(x, expenses, loc); err != nil {
		x.Close()
		return nil, fmt.Errorf("expenses sheet: %w", err)
	}
	if err := writeBreakdown(x, f, expenses); err != nil {
		x.Close()
		return nil, fmt.Errorf("breakdown sheet: %w", err)
	}
	return x, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, f *entities.Field, expenses []entities.Expense, loc *time.Location) error {
	x, err := Workbook(f, expenses, loc)
	if err != nil {
		return err
	}
	defer x.Close()
	return x.Write(w)
}

func writeExpenses(x *excelize.File, expenses []entities.Expense, loc *time.Location) error {
	if err := x.SetSheetRow(SheetExpenses, "A1", &[]any{"Date", "Category", "Description", "Amount"}); err != nil {
		return err
	}
	for i, e := range expenses {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		amount, _ := e.Amount.Float64()
		row := []any{e.Date.In(loc).Format("2006-01-02"), string(e.Category), e.Description, amount}
		if err := x.SetSheetRow(SheetExpenses, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeBreakdown(x *excelize.File, f *entities.Field, expenses []entities.Expense) error {
	if err := x.SetSheetRow(SheetBreakdown, "A1", &[]any{"Category", "Total"}); err != nil {
		return err
	}
	rows := viewmodel.SortedBreakdown(viewmodel.Breakdown(expenses))
	for i, r := range rows {
		total, _ := r.Total.Float64()
		if err := x.SetSheetRow(SheetBreakdown, fmt.Sprintf("A%d", i+2), &[]any{string(r.Category), total}); err != nil {
			return err
		}
	}
	grand := viewmodel.Sum(expenses)
	if f != nil {
		grand = f.TotalExpense
	}
	g, _ := grand.Float64()
	return x.SetSheetRow(SheetBreakdown, fmt.Sprintf("A%d", len(rows)+3), &[]any{"Total", g})
}
