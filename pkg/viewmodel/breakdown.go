package viewmodel

import (
	"sort"

	"github.com/shopspring/decimal"

	"farmdash/entities"
)

// Breakdown sums expense amounts per category. Expenses without a category
// count as Other. An empty list yields an empty, non-nil map.
func Breakdown(expenses []entities.Expense) map[entities.ExpenseCategory]decimal.Decimal {
	out := make(map[entities.ExpenseCategory]decimal.Decimal)
	for _, e := range expenses {
		c := e.Category
		if c == "" {
			c = entities.CategoryOther
		}
		out[c] = out[c].Add(e.Amount)
	}
	return out
}

// CategoryTotal is one row of a breakdown in display order.
type CategoryTotal struct {
	Category entities.ExpenseCategory `json:"category"`
	Total    decimal.Decimal          `json:"total"`
}

// SortedBreakdown lists the non-empty categories of b in the canonical
// category order; categories outside the enumeration follow alphabetically.
func SortedBreakdown(b map[entities.ExpenseCategory]decimal.Decimal) []CategoryTotal {
	out := make([]CategoryTotal, 0, len(b))
	seen := make(map[entities.ExpenseCategory]bool, len(b))
	for _, c := range entities.ExpenseCategories {
		if t, ok := b[c]; ok {
			out = append(out, CategoryTotal{Category: c, Total: t})
			seen[c] = true
		}
	}
	var rest []CategoryTotal
	for c, t := range b {
		if !seen[c] {
			rest = append(rest, CategoryTotal{Category: c, Total: t})
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Category < rest[j].Category })
	return append(out, rest...)
}

// Sum is the exact total of all expense amounts.
func Sum(expenses []entities.Expense) decimal.Decimal {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}
