package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type Field struct {
	FieldID      string          `gorm:"primaryKey" json:"field_id"`
	UserID       string          `json:"user_id" gorm:"index"`
	FieldName    string          `json:"field_name"`
	CropType     string          `json:"crop_type"` // wheat|rice|pomegranate|...
	Acreage      float64         `json:"acreage"`
	SowingDate   time.Time       `json:"sowing_date"`
	TotalExpense decimal.Decimal `json:"total_expense" gorm:"type:text;not null;default:'0'"`

	// Version is bumped on every committed write and checked by the
	// transaction commit; it never leaves the storage layer's control.
	Version int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
