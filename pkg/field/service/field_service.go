package service

import (
	"context"
	"time"

	"farmdash/entities"
)

// FieldInput is a new field as submitted by the create form.
type FieldInput struct {
	FieldName  string    `json:"field_name" validate:"required,max=120"`
	CropType   string    `json:"crop_type" validate:"required"`
	Acreage    float64   `json:"acreage" validate:"required,finite,gt=0"`
	SowingDate time.Time `json:"sowing_date" validate:"required"`
}

type FieldService interface {
	CreateField(ctx context.Context, uid string, in FieldInput) (*entities.Field, error)
	GetField(ctx context.Context, uid, fieldID string) (*entities.Field, error)
	// ListFields returns the user's fields, newest first.
	ListFields(ctx context.Context, uid string) ([]entities.Field, error)
}
