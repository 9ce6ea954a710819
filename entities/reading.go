package entities

import "time"

type SensorReading struct {
	ReadingID string    `gorm:"primaryKey" json:"reading_id"`
	FieldID   string    `json:"field_id" gorm:"index"`
	SensorID  string    `json:"sensor_id" gorm:"index"`
	Value     float64   `json:"value"` // soil moisture %, 0..100
	Timestamp time.Time `json:"timestamp" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}
