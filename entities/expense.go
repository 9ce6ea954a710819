package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExpenseCategory string

const (
	CategorySeeds      ExpenseCategory = "Seeds"
	CategoryFertilizer ExpenseCategory = "Fertilizer"
	CategoryPesticides ExpenseCategory = "Pesticides"
	CategoryLabor      ExpenseCategory = "Labor"
	CategoryIrrigation ExpenseCategory = "Irrigation"
	CategoryMachinery  ExpenseCategory = "Machinery"
	CategoryOther      ExpenseCategory = "Other"
)

// ExpenseCategories lists the accepted categories in display order.
var ExpenseCategories = []ExpenseCategory{
	CategorySeeds,
	CategoryFertilizer,
	CategoryPesticides,
	CategoryLabor,
	CategoryIrrigation,
	CategoryMachinery,
	CategoryOther,
}

func (c ExpenseCategory) Valid() bool {
	for _, v := range ExpenseCategories {
		if c == v {
			return true
		}
	}
	return false
}

type Expense struct {
	ExpenseID   string          `gorm:"primaryKey" json:"expense_id"`
	FieldID     string          `json:"field_id" gorm:"index"`
	UserID      string          `json:"user_id" gorm:"index"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:text;not null"`
	Category    ExpenseCategory `json:"category"`
	Date        time.Time       `json:"date" gorm:"index"` // chosen by the user
	CreatedAt   time.Time       `json:"created_at"`        // assigned by the store at commit
}
