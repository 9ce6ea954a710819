package service

import (
	"context"
	"time"

	"farmdash/entities"
	"farmdash/pkg/telemetry"
)

// ReadingInput is one sensor sample as submitted by a producer.
type ReadingInput struct {
	FieldID   string    `json:"field_id" validate:"required"`
	SensorID  string    `json:"sensor_id"`
	Value     float64   `json:"value" validate:"finite,gte=0,lte=100"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

type ReadingService interface {
	// Record stores a reading. A non-empty uid restricts it to fields that
	// user owns; producers without a user identity pass "".
	Record(ctx context.Context, uid string, in ReadingInput) (*entities.SensorReading, error)
	Window(ctx context.Context, uid, fieldID string) (telemetry.Window, error)
	Latest(ctx context.Context, uid, fieldID string) (telemetry.Latest, error)
}
